package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/metadata"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type PipelineSuite struct{}

var _ = Suite(&PipelineSuite{})

// faultyStore fails reads of chosen keys and counts calls.
type faultyStore struct {
	storage.Store

	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: storage.NewMemoryStore("faulty"), fail: map[string]error{}}
}

func (s *faultyStore) GetRange(ctx context.Context, key string, r storage.ByteRange) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	err := s.fail[key]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.GetRange(ctx, key, r)
}

func (s *faultyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Store.Put(ctx, key, value)
}

func newArray(c *C, store storage.Store, opts metadata.Options, popts Options) *Pipeline {
	meta, err := metadata.New(opts)
	c.Assert(err, IsNil)
	p, err := Create(context.Background(), store, "arr", meta, popts)
	c.Assert(err, IsNil)
	return p
}

func uint16Array(c *C, store storage.Store, shape, chunks zpipe.Point, popts Options) *Pipeline {
	return newArray(c, store, metadata.Options{
		Shape:      shape,
		ChunkShape: chunks,
		DataType:   "uint16",
		Codecs:     []codec.Spec{{Name: "gzip"}},
	}, popts)
}

// ramp returns n uint16 elements counting from start.
func ramp(n int64, start uint16) []byte {
	buf := make([]byte, 2*n)
	for i := int64(0); i < n; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], start+uint16(i))
	}
	return buf
}

func u16(buf []byte, i int64) uint16 {
	return binary.LittleEndian.Uint16(buf[2*i:])
}

func (s *PipelineSuite) TestExamplePlan(c *C) {
	p := uint16Array(c, storage.NewMemoryStore("plan"), zpipe.Point{10, 10}, zpipe.Point{5, 5}, Options{})
	sel := indexing.Selection{indexing.Range(2, 8), indexing.Index(3)}
	t, err := p.Plan(sel, indexing.ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(t.Shape, DeepEquals, zpipe.Point{6})
	c.Assert(t.Ops, HasLen, 2)
	c.Assert(t.Ops[0].Coord, DeepEquals, zpipe.ChunkPoint{0, 0})
	c.Assert(t.Ops[0].ChunkSel.String(), Equals, "[2:5,3]")
	c.Assert(t.Ops[0].OutSel.String(), Equals, "[0:3]")
	c.Assert(t.Ops[1].Coord, DeepEquals, zpipe.ChunkPoint{1, 0})
	c.Assert(t.Ops[1].ChunkSel.String(), Equals, "[0:3,3]")
	c.Assert(t.Ops[1].OutSel.String(), Equals, "[3:6]")
	c.Assert(p.Key(t.Ops[1].Coord), Equals, "arr/c/1/0")
}

func (s *PipelineSuite) TestBalance(c *C) {
	none := codec.Concurrency{Max: 1}
	c.Assert(Balance(1, none, false, Options{ThreadBudget: 16}), Equals, ConcurrencyPlan{4, 4})
	c.Assert(Balance(100, none, false, Options{ThreadBudget: 16}), Equals, ConcurrencyPlan{16, 1})
	c.Assert(Balance(8, none, false, Options{ThreadBudget: 2}), Equals, ConcurrencyPlan{2, 1})
	c.Assert(Balance(0, none, false, Options{ThreadBudget: 3, ChunkConcurrentMinimum: 2}), Equals, ConcurrencyPlan{2, 1})

	// A lone shard may use the rest of the budget for its inner chunks.
	plan := Balance(1, codec.Concurrency{Max: 64}, true, Options{ThreadBudget: 16})
	c.Assert(plan, Equals, ConcurrencyPlan{4, 16})
	plan = Balance(2, codec.Concurrency{Max: 6}, true, Options{ThreadBudget: 16})
	c.Assert(plan, Equals, ConcurrencyPlan{4, 6})

	for n := 0; n < 40; n++ {
		for m := 1; m < 10; m++ {
			prev := 0
			for t := 1; t < 40; t++ {
				for _, sharded := range []bool{false, true} {
					plan := Balance(n, codec.Concurrency{Max: 8}, sharded, Options{ThreadBudget: t, ChunkConcurrentMinimum: m})
					if plan.ChunkConcurrency < min(n, m, t) || plan.ChunkConcurrency < min(m, t) {
						c.Fatalf("n %d m %d t %d: chunk concurrency %d below floor", n, m, t, plan.ChunkConcurrency)
					}
					if plan.CodecThreads < 1 {
						c.Fatalf("n %d m %d t %d: no codec threads", n, m, t)
					}
					if plan.ChunkConcurrency < prev {
						c.Fatalf("n %d m %d t %d: chunk concurrency decreased with larger budget", n, m, t)
					}
					prev = plan.ChunkConcurrency
				}
			}
		}
	}
}

func randomSlice(rng *rand.Rand, extent int64) (indexing.Slice, int64) {
	start := rng.Int63n(extent)
	stop := start + 1 + rng.Int63n(extent-start)
	step := 1 + rng.Int63n(3)
	n := (stop - start + step - 1) / step
	return indexing.StridedRange(start, stop, step), n
}

func (s *PipelineSuite) TestRandomRoundTrips(c *C) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	for _, threads := range []int{1, 3, 8} {
		p := uint16Array(c, storage.NewMemoryStore("rt"), zpipe.Point{23, 17, 9}, zpipe.Point{5, 4, 3}, Options{ThreadBudget: threads})
		for trial := 0; trial < 20; trial++ {
			var sel indexing.Selection
			n := int64(1)
			for _, extent := range []int64{23, 17, 9} {
				if rng.Intn(4) == 0 {
					sel = append(sel, indexing.Index(rng.Int63n(extent)))
					continue
				}
				sl, k := randomSlice(rng, extent)
				sel = append(sel, sl)
				n *= k
			}
			data := ramp(n, uint16(trial*1000))
			_, err := p.Store(ctx, Request{Selection: sel, Buffer: data})
			c.Assert(err, IsNil)
			got, _, err := p.Read(ctx, sel)
			c.Assert(err, IsNil)
			if !bytes.Equal(got, data) {
				c.Fatalf("trial %d with selection %v did not round trip", trial, sel)
			}
		}
	}
}

func (s *PipelineSuite) TestMissingChunksReadFill(c *C) {
	ctx := context.Background()
	p := newArray(c, storage.NewMemoryStore("fill"), metadata.Options{
		Shape:      zpipe.Point{8, 8},
		ChunkShape: zpipe.Point{4, 4},
		DataType:   "uint16",
		FillValue:  []byte("9"),
	}, Options{})
	_, err := p.Store(ctx, Request{Selection: indexing.Selection{indexing.Range(0, 4), indexing.Range(0, 4)}, Buffer: ramp(16, 100)})
	c.Assert(err, IsNil)

	got, shape, err := p.Read(ctx, indexing.Selection{indexing.Range(2, 6), indexing.Index(1)})
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{4})
	c.Assert(u16(got, 0), Equals, uint16(100+2*4+1))
	c.Assert(u16(got, 1), Equals, uint16(100+3*4+1))
	c.Assert(u16(got, 2), Equals, uint16(9))
	c.Assert(u16(got, 3), Equals, uint16(9))
}

func (s *PipelineSuite) TestFailureIsolation(c *C) {
	ctx := context.Background()
	store := newFaultyStore()
	p := uint16Array(c, store, zpipe.Point{10, 10}, zpipe.Point{5, 5}, Options{ThreadBudget: 2})
	all := indexing.Selection{indexing.All(), indexing.All()}
	data := ramp(100, 1)
	_, err := p.Store(ctx, Request{Selection: all, Buffer: data})
	c.Assert(err, IsNil)

	broken := errors.New("disk on fire")
	store.fail["arr/c/1/0"] = broken

	buf := make([]byte, 200)
	_, err = p.Retrieve(ctx, Request{Selection: all, Buffer: buf})
	var chunkErrs *ChunkErrors
	c.Assert(errors.As(err, &chunkErrs), Equals, true)
	c.Assert(chunkErrs.Coords(), DeepEquals, []zpipe.ChunkPoint{{1, 0}})
	c.Assert(chunkErrs.Total, Equals, 4)
	c.Assert(errors.Is(err, broken), Equals, true)
	c.Assert(err, ErrorMatches, `1 of 4 chunks failed to read: chunk \(1,0\) \(arr/c/1/0\): disk on fire`)
	for y := int64(0); y < 10; y++ {
		for x := int64(0); x < 10; x++ {
			i := y*10 + x
			if y >= 5 && x < 5 {
				c.Assert(u16(buf, i), Equals, uint16(0))
			} else {
				c.Assert(u16(buf, i), Equals, u16(data, i))
			}
		}
	}

	// Failed regions can be marked.
	_, err = p.Retrieve(ctx, Request{Selection: all, Buffer: buf, InvalidValue: []byte{0xff, 0xff}})
	c.Assert(err, NotNil)
	c.Assert(u16(buf, 52), Equals, uint16(0xffff))
	c.Assert(u16(buf, 5), Equals, u16(data, 5))

	// Partial results succeed with the failures reported.
	report, err := p.Retrieve(ctx, Request{Selection: all, Buffer: buf, AllowPartial: true})
	c.Assert(err, IsNil)
	c.Assert(report.Failures, HasLen, 1)
	c.Assert(report.Ops, Equals, 4)
	c.Assert(u16(buf, 52), Equals, uint16(0))
}

func (s *PipelineSuite) TestCorruptChunk(c *C) {
	ctx := context.Background()
	store := storage.NewMemoryStore("corrupt")
	p := newArray(c, store, metadata.Options{
		Shape:      zpipe.Point{4, 4},
		ChunkShape: zpipe.Point{2, 4},
		DataType:   "uint8",
		Codecs:     []codec.Spec{{Name: "crc32c"}},
	}, Options{ValidateChecksums: true})
	all := indexing.Selection{indexing.All(), indexing.All()}
	_, err := p.Store(ctx, Request{Selection: all, Buffer: []byte("abcdefghijklmnop")})
	c.Assert(err, IsNil)

	raw, err := storage.Get(ctx, store, "arr/c/1/0")
	c.Assert(err, IsNil)
	raw[0] ^= 1
	c.Assert(store.Put(ctx, "arr/c/1/0", raw), IsNil)

	buf := make([]byte, 16)
	_, err = p.Retrieve(ctx, Request{Selection: all, Buffer: buf})
	var csErr *codec.ChecksumError
	c.Assert(errors.As(err, &csErr), Equals, true)
	c.Assert(string(buf[:8]), Equals, "abcdefgh")

	// Without validation the corrupt bytes are returned.
	p = New(p.Metadata(), store, "arr", Options{})
	got, _, err := p.Read(ctx, all)
	c.Assert(err, IsNil)
	c.Assert(got[8], Equals, byte('i'^1))
}

func (s *PipelineSuite) TestEmptyChunks(c *C) {
	ctx := context.Background()
	for _, storeEmpty := range []bool{false, true} {
		store := storage.NewMemoryStore("empty")
		p := uint16Array(c, store, zpipe.Point{8}, zpipe.Point{4}, Options{StoreEmptyChunks: storeEmpty})
		_, err := p.Store(ctx, Request{Selection: indexing.Selection{indexing.All()}, Buffer: ramp(8, 1)})
		c.Assert(err, IsNil)

		// Zero the second chunk through a partial and a full write.
		_, err = p.Store(ctx, Request{Selection: indexing.Selection{indexing.Range(4, 6)}, Buffer: []byte{0, 0, 0, 0}})
		c.Assert(err, IsNil)
		_, err = p.Store(ctx, Request{Selection: indexing.Selection{indexing.Range(6, 8)}, Buffer: []byte{0, 0}})
		c.Assert(err, IsNil)

		keys, err := store.List(ctx, "arr/c/")
		c.Assert(err, IsNil)
		if storeEmpty {
			c.Assert(keys, DeepEquals, []string{"arr/c/0", "arr/c/1"})
		} else {
			c.Assert(keys, DeepEquals, []string{"arr/c/0"})
		}
		got, _, err := p.Read(ctx, indexing.Selection{indexing.All()})
		c.Assert(err, IsNil)
		c.Assert(got, DeepEquals, append(ramp(4, 1), make([]byte, 8)...))
	}
}

func (s *PipelineSuite) TestBroadcastAndShapes(c *C) {
	ctx := context.Background()
	p := uint16Array(c, storage.NewMemoryStore("bcast"), zpipe.Point{6, 6}, zpipe.Point{4, 4}, Options{})
	_, err := p.Store(ctx, Request{Selection: indexing.Selection{indexing.Range(1, 5), indexing.Range(2, 6)}, Buffer: []byte{3, 0}})
	c.Assert(err, IsNil)

	// Read into a buffer with an extra unit axis.
	buf := make([]byte, 2*4)
	report, err := p.Retrieve(ctx, Request{
		Selection: indexing.Selection{indexing.Index(2), indexing.Range(1, 5)},
		Buffer:    buf,
		Shape:     zpipe.Point{1, 4},
	})
	c.Assert(err, IsNil)
	c.Assert(report.Shape, DeepEquals, zpipe.Point{4})
	c.Assert(buf, DeepEquals, []byte{0, 0, 3, 0, 3, 0, 3, 0})

	_, err = p.Retrieve(ctx, Request{Selection: indexing.Selection{indexing.Index(2), indexing.Range(1, 5)}, Buffer: buf[:6]})
	c.Assert(err, ErrorMatches, "buffer has 6 bytes, expected 8.*")
}

func (s *PipelineSuite) TestIntArraySelections(c *C) {
	ctx := context.Background()
	p := uint16Array(c, storage.NewMemoryStore("ints"), zpipe.Point{12, 12}, zpipe.Point{4, 4}, Options{})
	_, err := p.Store(ctx, Request{Selection: indexing.Selection{indexing.All(), indexing.All()}, Buffer: ramp(144, 0)})
	c.Assert(err, IsNil)

	got, shape, err := p.Read(ctx, indexing.Selection{indexing.IntArray{1, 5, 6}, indexing.IntArray{11, 0}})
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{3, 2})
	want := []uint16{23, 12, 71, 60, 83, 72}
	for i, v := range want {
		c.Assert(u16(got, int64(i)), Equals, v)
	}

	mask := make(indexing.BoolMask, 12)
	mask[4], mask[5], mask[6] = true, true, true
	_, err = p.Store(ctx, Request{Selection: indexing.Selection{mask, indexing.Index(0)}, Buffer: ramp(3, 500)})
	c.Assert(err, IsNil)
	got, _, err = p.Read(ctx, indexing.Selection{indexing.Range(3, 8), indexing.Index(0)})
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, append(append(ramp(1, 36), ramp(3, 500)...), ramp(1, 84)...))
}

func (s *PipelineSuite) TestSelectionErrorsBeforeIO(c *C) {
	ctx := context.Background()
	store := newFaultyStore()
	p := uint16Array(c, store, zpipe.Point{8, 8, 8}, zpipe.Point{4, 4, 4}, Options{})
	store.calls = 0

	arrays := indexing.Selection{indexing.IntArray{0, 1}, indexing.IntArray{0, 1}, indexing.IntArray{0, 1}}
	_, _, err := p.Read(ctx, arrays)
	c.Assert(err, FitsTypeOf, &indexing.DiscontiguousSelectionError{})

	_, err = p.Store(ctx, Request{Selection: indexing.Selection{indexing.IntArray{0, 5, 1}, indexing.All(), indexing.All()}, Buffer: ramp(3*64, 0)})
	c.Assert(err, FitsTypeOf, &indexing.DiscontiguousSelectionError{})

	_, _, err = p.Read(ctx, indexing.Selection{indexing.Index(8)})
	c.Assert(err, FitsTypeOf, &indexing.IndexOutOfBoundsError{})
	c.Assert(indexing.IsIndexingError(err), Equals, true)
	c.Assert(store.calls, Equals, 0)
}

func (s *PipelineSuite) TestCancellation(c *C) {
	store := newFaultyStore()
	p := uint16Array(c, store, zpipe.Point{16}, zpipe.Point{2}, Options{ThreadBudget: 1, ChunkConcurrentMinimum: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf := make([]byte, 32)
	_, err := p.Retrieve(ctx, Request{Selection: indexing.Selection{indexing.All()}, Buffer: buf})
	var chunkErrs *ChunkErrors
	c.Assert(errors.As(err, &chunkErrs), Equals, true)
	c.Assert(chunkErrs.Failures, HasLen, 8)
	c.Assert(errors.Is(err, context.Canceled), Equals, true)
}

func (s *PipelineSuite) TestShardedArray(c *C) {
	ctx := context.Background()
	store := storage.NewMonitoredStore(storage.NewMemoryStore("shards"))
	defer store.Close()
	p := newArray(c, store, metadata.Options{
		Shape:      zpipe.Point{30, 20},
		ChunkShape: zpipe.Point{4, 5},
		ShardShape: zpipe.Point{16, 20},
		DataType:   "uint16",
		Codecs:     []codec.Spec{{Name: "zstd"}},
	}, Options{ThreadBudget: 4, ValidateChecksums: true})

	all := indexing.Selection{indexing.All(), indexing.All()}
	data := ramp(600, 7)
	report, err := p.Store(ctx, Request{Selection: all, Buffer: data})
	c.Assert(err, IsNil)
	c.Assert(report.Ops, Equals, 2)
	got, _, err := p.Read(ctx, all)
	c.Assert(err, IsNil)
	c.Assert(bytes.Equal(got, data), Equals, true)

	// A small read inside one inner chunk fetches the shard index and one
	// inner chunk.
	before := store.Stats().Gets
	got, _, err = p.Read(ctx, indexing.Selection{indexing.Range(17, 19), indexing.Range(6, 9)})
	c.Assert(err, IsNil)
	c.Assert(store.Stats().Gets-before, Equals, int64(2))
	for i, v := range []uint16{7 + 17*20 + 6, 7 + 17*20 + 7, 7 + 17*20 + 8, 7 + 18*20 + 6, 7 + 18*20 + 7, 7 + 18*20 + 8} {
		c.Assert(u16(got, int64(i)), Equals, v)
	}

	// Partial writes update the cached index.
	_, err = p.Store(ctx, Request{Selection: indexing.Selection{indexing.Index(18), indexing.Index(7)}, Buffer: []byte{1, 0}})
	c.Assert(err, IsNil)
	got, _, err = p.Read(ctx, indexing.Selection{indexing.Range(17, 19), indexing.Range(6, 9)})
	c.Assert(err, IsNil)
	c.Assert(u16(got, 4), Equals, uint16(1))

	// The last shard is clipped at the array edge.
	got, _, err = p.Read(ctx, indexing.Selection{indexing.Index(29), indexing.Range(0, 2)})
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, ramp(2, 7+29*20))
	c.Assert(fmt.Sprint(report.Concurrency), Equals, "4 chunks x 2 codec threads")
}

func (s *PipelineSuite) TestCorruptShardIndex(c *C) {
	ctx := context.Background()
	store := storage.NewMemoryStore("bad shard")
	p := newArray(c, store, metadata.Options{
		Shape:      zpipe.Point{8, 8},
		ChunkShape: zpipe.Point{2, 2},
		ShardShape: zpipe.Point{4, 4},
		DataType:   "uint16",
	}, Options{ThreadBudget: 4})
	all := indexing.Selection{indexing.All(), indexing.All()}
	data := ramp(64, 1)
	_, err := p.Store(ctx, Request{Selection: all, Buffer: data})
	c.Assert(err, IsNil)

	// Point the first inner chunk of shard (1,0) past any valid offset.  The
	// index of four inner chunks sits in the last 68 bytes.
	raw, err := storage.Get(ctx, store, "arr/c/1/0")
	c.Assert(err, IsNil)
	binary.LittleEndian.PutUint64(raw[len(raw)-68:], math.MaxUint64)
	c.Assert(store.Put(ctx, "arr/c/1/0", raw), IsNil)

	buf := make([]byte, len(data))
	report, err := p.Retrieve(ctx, Request{Selection: all, Buffer: buf, InvalidValue: []byte{0xff, 0xff}})
	var chunkErrs *ChunkErrors
	c.Assert(errors.As(err, &chunkErrs), Equals, true)
	c.Assert(chunkErrs.Coords(), DeepEquals, []zpipe.ChunkPoint{{1, 0}})
	var codecErr *codec.Error
	c.Assert(errors.As(err, &codecErr), Equals, true)
	c.Assert(report.Failures, HasLen, 1)
	for y := int64(0); y < 8; y++ {
		for x := int64(0); x < 8; x++ {
			i := y*8 + x
			if y >= 4 && x < 4 {
				c.Assert(u16(buf, i), Equals, uint16(0xffff))
			} else {
				c.Assert(u16(buf, i), Equals, u16(data, i))
			}
		}
	}

	// Partial reads through the shard index fail the same way, while the
	// neighboring shard still reads.
	_, _, err = p.Read(ctx, indexing.Selection{indexing.Range(4, 6), indexing.Range(0, 2)})
	c.Assert(errors.As(err, &chunkErrs), Equals, true)
	c.Assert(chunkErrs.Coords(), DeepEquals, []zpipe.ChunkPoint{{1, 0}})
	got, _, err := p.Read(ctx, indexing.Selection{indexing.Range(4, 6), indexing.Range(4, 6)})
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, append(ramp(2, 1+4*8+4), ramp(2, 1+5*8+4)...))
}
