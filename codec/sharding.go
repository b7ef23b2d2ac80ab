package codec

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// emptyChunk marks an absent inner chunk in a shard index.
const emptyChunk = math.MaxUint64

// Number of shard indexes kept per sharding codec.
const indexCacheEntries = 1024

var uint64Type, _ = zpipe.ParseDataType("uint64")

func init() {
	Register("sharding_indexed", newSharding)
}

// Sharding stores a block of inner chunks as one object followed (or
// preceded) by an index of (offset, nbytes) pairs, one per inner chunk in
// C order.  Inner chunks equal to the fill value are not stored.
type Sharding struct {
	ChunkShape   zpipe.Point
	Inner        *Chain
	Index        *Chain
	IndexAtStart bool

	mu      sync.Mutex
	indexes *lru.Cache
}

func newSharding(config zpipe.Config, dt zpipe.DataType) (Codec, error) {
	raw, found := config["chunk_shape"]
	if !found {
		return nil, configError("sharding_indexed", "chunk_shape must be specified")
	}
	chunkShape, err := toPoint(raw)
	if err != nil {
		return nil, configError("sharding_indexed", "bad chunk_shape: %v", err)
	}
	innerSpecs, err := ToSpecs(config["codecs"])
	if err != nil {
		return nil, configError("sharding_indexed", "bad codecs: %v", err)
	}
	inner, err := NewChain(innerSpecs, dt)
	if err != nil {
		return nil, err
	}
	indexSpecs, err := ToSpecs(config["index_codecs"])
	if err != nil {
		return nil, configError("sharding_indexed", "bad index_codecs: %v", err)
	}
	if len(indexSpecs) == 0 {
		indexSpecs = []Spec{{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}}, {Name: "crc32c"}}
	}
	for _, spec := range indexSpecs {
		if spec.Name != "bytes" && spec.Name != "crc32c" {
			return nil, configError("sharding_indexed", "index codec %q does not have a fixed size", spec.Name)
		}
	}
	index, err := NewChain(indexSpecs, uint64Type)
	if err != nil {
		return nil, err
	}
	location, _, err := config.GetString("index_location")
	if err != nil {
		return nil, configError("sharding_indexed", "%v", err)
	}
	if location != "" && location != "start" && location != "end" {
		return nil, configError("sharding_indexed", "index_location must be start or end, not %q", location)
	}
	return NewSharding(chunkShape, inner, index, location == "start"), nil
}

// NewSharding returns a sharding codec.  A nil index chain uses
// little-endian bytes with a CRC-32C checksum.
func NewSharding(chunkShape zpipe.Point, inner, index *Chain, indexAtStart bool) *Sharding {
	if index == nil {
		index = &Chain{arrayToBytes: &Bytes{Endian: "little"}, bytesToBytes: []Codec{CRC32C{}}}
	}
	return &Sharding{
		ChunkShape:   chunkShape,
		Inner:        inner,
		Index:        index,
		IndexAtStart: indexAtStart,
		indexes:      lru.New(indexCacheEntries),
	}
}

func (s *Sharding) Name() string { return "sharding_indexed" }
func (s *Sharding) Kind() Kind   { return ArrayToBytes }

func (s *Sharding) Configuration() map[string]interface{} {
	location := "end"
	if s.IndexAtStart {
		location = "start"
	}
	return map[string]interface{}{
		"chunk_shape":    []int64(s.ChunkShape),
		"codecs":         s.Inner.Specs(),
		"index_codecs":   s.Index.Specs(),
		"index_location": location,
	}
}

// RecommendedConcurrency is the number of inner chunks in a shard.
func (s *Sharding) RecommendedConcurrency(rep ChunkRep) Concurrency {
	grid, err := s.innerGrid(rep)
	if err != nil {
		return Concurrency{Max: 1}
	}
	return Concurrency{Max: int(grid.NumChunks())}
}

func (s *Sharding) innerGrid(rep ChunkRep) (*zpipe.ChunkGrid, error) {
	return zpipe.NewChunkGrid(rep.Shape, s.ChunkShape, nil)
}

func (s *Sharding) innerRep(rep ChunkRep) ChunkRep {
	return ChunkRep{Shape: s.ChunkShape, DataType: rep.DataType, Fill: rep.Fill}
}

// indexSize returns the encoded size of the index for n inner chunks.
func (s *Sharding) indexSize(n int64) int64 {
	size := n * 16
	for range s.Index.bytesToBytes {
		size += 4
	}
	return size
}

func (s *Sharding) encodeIndex(index []uint64, opts Options) ([]byte, error) {
	buf := make([]byte, len(index)*8)
	for i, v := range index {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	rep := ChunkRep{Shape: zpipe.Point{int64(len(index) / 2), 2}, DataType: uint64Type}
	return s.Index.Encode(rep, buf, opts)
}

func (s *Sharding) decodeIndex(raw []byte, n int64, opts Options) ([]uint64, error) {
	rep := ChunkRep{Shape: zpipe.Point{n, 2}, DataType: uint64Type}
	buf, err := s.Index.Decode(rep, raw, opts)
	if err != nil {
		return nil, fmt.Errorf("shard index: %w", err)
	}
	index := make([]uint64, 2*n)
	for i := range index {
		index[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return index, nil
}

// checkIndex rejects index entries whose inner chunk does not lie within
// bytes [lo, hi) of the shard.  An absent inner chunk must have both its
// offset and length set to emptyChunk.
func (s *Sharding) checkIndex(index []uint64, lo, hi uint64) error {
	for k := 0; k < len(index)/2; k++ {
		offset, nbytes := index[2*k], index[2*k+1]
		if offset == emptyChunk && nbytes == emptyChunk {
			continue
		}
		if offset < lo || offset > hi || nbytes > hi-offset {
			return &Error{Codec: s.Name(), Op: "decode",
				Err: fmt.Errorf("inner chunk %d at %d+%d lies outside shard bytes [%d, %d)", k, offset, nbytes, lo, hi)}
		}
	}
	return nil
}

// innerRegion returns the region of a shard covered by the inner chunk at coord.
func innerRegion(grid *zpipe.ChunkGrid, coord zpipe.ChunkPoint) indexing.Region {
	begin, end := grid.ChunkBounds(coord)
	r := make(indexing.Region, len(coord))
	for d := range coord {
		r[d] = indexing.SliceSel{Start: begin[d], Stop: end[d], Step: 1}
	}
	return r
}

func coordOf(flat int64, gridShape zpipe.Point) zpipe.ChunkPoint {
	coord := make(zpipe.ChunkPoint, len(gridShape))
	for d := len(gridShape) - 1; d >= 0; d-- {
		coord[d] = flat % gridShape[d]
		flat /= gridShape[d]
	}
	return coord
}

func flatOf(coord zpipe.ChunkPoint, gridShape zpipe.Point) int64 {
	var flat int64
	for d := range coord {
		flat = flat*gridShape[d] + coord[d]
	}
	return flat
}

func (s *Sharding) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if err := checkLength(rep, data); err != nil {
		return nil, err
	}
	grid, err := s.innerGrid(rep)
	if err != nil {
		return nil, err
	}
	gridShape := grid.GridShape()
	n := grid.NumChunks()
	inRep := s.innerRep(rep)
	chunkShape := []int64(s.ChunkShape)

	encoded := make([][]byte, n)
	var g errgroup.Group
	g.SetLimit(opts.threads())
	for k := int64(0); k < n; k++ {
		k := k
		g.Go(func() error {
			buf := make([]byte, inRep.NumBytes())
			indexing.FillBuffer(buf, rep.Fill)
			region := innerRegion(grid, coordOf(k, gridShape))
			if err := indexing.CopyRegion(buf, chunkShape, indexing.FullRegion(region.Shape()), data, rep.Shape, region, rep.DataType.Size); err != nil {
				return err
			}
			if rep.Fill != nil && indexing.IsFilled(buf, rep.Fill) {
				return nil
			}
			enc, err := s.Inner.Encode(inRep, buf, opts)
			if err != nil {
				return fmt.Errorf("inner chunk %s: %w", coordOf(k, gridShape), err)
			}
			encoded[k] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := make([]uint64, 2*n)
	offset := uint64(0)
	if s.IndexAtStart {
		offset = uint64(s.indexSize(n))
	}
	var body []byte
	for k, enc := range encoded {
		if enc == nil {
			index[2*k], index[2*k+1] = emptyChunk, emptyChunk
			continue
		}
		index[2*k], index[2*k+1] = offset, uint64(len(enc))
		offset += uint64(len(enc))
		body = append(body, enc...)
	}
	rawIndex, err := s.encodeIndex(index, opts)
	if err != nil {
		return nil, err
	}
	if s.IndexAtStart {
		return append(rawIndex, body...), nil
	}
	return append(body, rawIndex...), nil
}

func (s *Sharding) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	grid, err := s.innerGrid(rep)
	if err != nil {
		return nil, err
	}
	n := grid.NumChunks()
	size := s.indexSize(n)
	if int64(len(data)) < size {
		return nil, fmt.Errorf("shard of %d bytes is smaller than its %d byte index", len(data), size)
	}
	var rawIndex []byte
	if s.IndexAtStart {
		rawIndex = data[:size]
	} else {
		rawIndex = data[int64(len(data))-size:]
	}
	index, err := s.decodeIndex(rawIndex, n, opts)
	if err != nil {
		return nil, err
	}

	out := make([]byte, rep.NumBytes())
	indexing.FillBuffer(out, rep.Fill)
	gridShape := grid.GridShape()
	inRep := s.innerRep(rep)
	chunkShape := []int64(s.ChunkShape)

	lo, hi := uint64(0), uint64(int64(len(data))-size)
	if s.IndexAtStart {
		lo, hi = uint64(size), uint64(len(data))
	}
	if err := s.checkIndex(index, lo, hi); err != nil {
		return nil, err
	}
	var g errgroup.Group
	g.SetLimit(opts.threads())
	for k := int64(0); k < n; k++ {
		offset, nbytes := index[2*k], index[2*k+1]
		if offset == emptyChunk && nbytes == emptyChunk {
			continue
		}
		k := k
		g.Go(func() error {
			chunk, err := s.Inner.Decode(inRep, data[offset:offset+nbytes], opts)
			if err != nil {
				return fmt.Errorf("inner chunk %s: %w", coordOf(k, gridShape), err)
			}
			region := innerRegion(grid, coordOf(k, gridShape))
			return indexing.CopyRegion(out, rep.Shape, region, chunk, chunkShape, indexing.FullRegion(region.Shape()), rep.DataType.Size)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePartial decodes only the given region of a stored shard, reading
// the shard index and the inner chunks that intersect the region.  The
// result holds the region's elements in C order.
func (s *Sharding) DecodePartial(ctx context.Context, r RangeReader, rep ChunkRep, region indexing.Region, opts Options) ([]byte, error) {
	grid, err := s.innerGrid(rep)
	if err != nil {
		return nil, err
	}
	index, err := s.cachedIndex(ctx, r, grid.NumChunks(), opts)
	if err != nil {
		return nil, err
	}
	ops, err := indexing.Project(region, grid, indexing.ReadMode)
	if err != nil {
		return nil, err
	}

	outShape := region.Shape()
	size := rep.DataType.Size
	out := make([]byte, region.NumElements()*int64(size))
	gridShape := grid.GridShape()
	inRep := s.innerRep(rep)
	chunkShape := []int64(s.ChunkShape)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.threads())
	for _, op := range ops {
		op := op
		k := flatOf(op.Coord, gridShape)
		offset, nbytes := index[2*k], index[2*k+1]
		if offset == emptyChunk && nbytes == emptyChunk {
			if err := indexing.FillRegion(out, outShape, op.OutSel, rep.Fill); err != nil {
				return nil, err
			}
			continue
		}
		g.Go(func() error {
			raw, err := r.ReadRange(gctx, int64(offset), int64(nbytes))
			if err != nil {
				return err
			}
			if uint64(len(raw)) != nbytes {
				return &Error{Codec: s.Name(), Op: "decode",
					Err: fmt.Errorf("read %d bytes of inner chunk %s, expected %d", len(raw), op.Coord, nbytes)}
			}
			chunk, err := s.Inner.Decode(inRep, raw, opts)
			if err != nil {
				return fmt.Errorf("inner chunk %s: %w", op.Coord, err)
			}
			return indexing.CopyRegion(out, outShape, op.OutSel, chunk, chunkShape, op.ChunkSel, size)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Sharding) cachedIndex(ctx context.Context, r RangeReader, n int64, opts Options) ([]uint64, error) {
	key := r.Key()
	s.mu.Lock()
	v, found := s.indexes.Get(key)
	s.mu.Unlock()
	if found {
		return v.([]uint64), nil
	}
	size := s.indexSize(n)
	var raw []byte
	var err error
	if s.IndexAtStart {
		raw, err = r.ReadRange(ctx, 0, size)
	} else {
		raw, err = r.ReadRange(ctx, -1, size)
	}
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) != size {
		return nil, &Error{Codec: s.Name(), Op: "decode",
			Err: fmt.Errorf("read %d bytes of shard index, expected %d", len(raw), size)}
	}
	index, err := s.decodeIndex(raw, n, opts)
	if err != nil {
		return nil, &Error{Codec: s.Name(), Op: "decode", Err: err}
	}
	// The shard's total size is unknown here, so offsets are only bounded
	// to the range a reader can address from the start of the object.
	lo := uint64(0)
	if s.IndexAtStart {
		lo = uint64(size)
	}
	if err := s.checkIndex(index, lo, math.MaxInt64); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.indexes.Add(key, index)
	s.mu.Unlock()
	return index, nil
}

// Invalidate drops the cached index of a shard after it is rewritten.
func (s *Sharding) Invalidate(key string) {
	s.mu.Lock()
	s.indexes.Remove(key)
	s.mu.Unlock()
}

// ToSpecs converts decoded JSON or TOML codec lists into specs.
func ToSpecs(v interface{}) ([]Spec, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []Spec:
		return list, nil
	case []interface{}:
		specs := make([]Spec, len(list))
		for i, item := range list {
			switch it := item.(type) {
			case Spec:
				specs[i] = it
			case map[string]interface{}:
				name, ok := it["name"].(string)
				if !ok {
					return nil, fmt.Errorf("codec %d has no name", i)
				}
				specs[i].Name = name
				if cfg, ok := it["configuration"].(map[string]interface{}); ok {
					specs[i].Configuration = cfg
				}
			default:
				return nil, fmt.Errorf("codec %d has unexpected type %T", i, item)
			}
		}
		return specs, nil
	}
	return nil, fmt.Errorf("codec list has unexpected type %T", v)
}

func toPoint(v interface{}) (zpipe.Point, error) {
	switch list := v.(type) {
	case zpipe.Point:
		return list, nil
	case []int64:
		return zpipe.Point(list), nil
	case []interface{}:
		p := make(zpipe.Point, len(list))
		for i, item := range list {
			switch n := item.(type) {
			case float64:
				p[i] = int64(n)
			case int64:
				p[i] = n
			case int:
				p[i] = int64(n)
			default:
				return nil, fmt.Errorf("element %d has unexpected type %T", i, item)
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}
