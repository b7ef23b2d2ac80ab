package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type DataSuite struct{}

var _ = Suite(&DataSuite{})

func (s *DataSuite) TestByteRange(c *C) {
	begin, end, err := ByteRange{Offset: 2, Length: 3}.Bounds(10)
	c.Assert(err, IsNil)
	c.Assert(begin, Equals, int64(2))
	c.Assert(end, Equals, int64(5))

	begin, end, err = Suffix(4).Bounds(10)
	c.Assert(err, IsNil)
	c.Assert(begin, Equals, int64(6))
	c.Assert(end, Equals, int64(10))

	_, _, err = ByteRange{Offset: 11, Length: 1}.Bounds(10)
	c.Assert(err, NotNil)
	c.Assert(FullRange.IsFull(), Equals, true)
	c.Assert(Suffix(4).String(), Equals, "last 4")
}

func (s *DataSuite) TestNotFound(c *C) {
	err := NotFound("a/b")
	c.Assert(IsNotFound(err), Equals, true)
	c.Assert(errors.Is(err, ErrNotFound), Equals, true)
	c.Assert(err, ErrorMatches, "key not found: a/b")
	c.Assert(IsNotFound(errors.New("other")), Equals, false)
}

func (s *DataSuite) TestMemoryStore(c *C) {
	store, err := NewTestStore("memory")
	c.Assert(err, IsNil)
	c.Assert(ExerciseStore(context.Background(), store), IsNil)
}

func (s *DataSuite) TestEngineRegistry(c *C) {
	c.Assert(GetEngine("memory"), NotNil)
	c.Assert(GetEngine("memory").GetSemVer().String(), Equals, "0.2.0")
	_, _, err := NewStore(zpipe.StoreConfig{Engine: "leveldb"})
	c.Assert(err, ErrorMatches, `unsupported storage engine "leveldb".*`)
	_, err = NewTestStore("nonexistent")
	c.Assert(err, NotNil)
}

func (s *DataSuite) TestCachedStore(c *C) {
	ctx := context.Background()
	mem := NewMemoryStore("backing")
	cached := NewCachedStore(mem, 1<<20)
	c.Assert(ExerciseStore(ctx, cached), IsNil)

	c.Assert(mem.Put(ctx, "k", []byte("abcdef")), IsNil)
	v, err := Get(ctx, cached, "k")
	c.Assert(err, IsNil)
	c.Assert(string(v), Equals, "abcdef")
	hits := cached.HitCount()

	// Served from cache even though the backing value changed underneath.
	c.Assert(mem.Put(ctx, "k", []byte("zzzzzz")), IsNil)
	v, err = cached.GetRange(ctx, "k", ByteRange{Offset: 1, Length: 2})
	c.Assert(err, IsNil)
	c.Assert(string(v), Equals, "bc")
	c.Assert(cached.HitCount(), Equals, hits+1)

	// Writes through the cache replace the cached value.
	c.Assert(cached.Put(ctx, "k", []byte("123")), IsNil)
	v, err = Get(ctx, cached, "k")
	c.Assert(err, IsNil)
	c.Assert(string(v), Equals, "123")
}

// stallingStore pauses the first full read of a key after fetching its
// value, until released.
type stallingStore struct {
	Store
	fetched chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingStore) GetRange(ctx context.Context, key string, r ByteRange) ([]byte, error) {
	value, err := s.Store.GetRange(ctx, key, r)
	s.once.Do(func() {
		close(s.fetched)
		<-s.release
	})
	return value, err
}

func (s *DataSuite) TestCachedStoreReadWriteRace(c *C) {
	ctx := context.Background()
	mem := NewMemoryStore("backing")
	c.Assert(mem.Put(ctx, "k", []byte("old")), IsNil)
	stall := &stallingStore{Store: mem, fetched: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedStore(stall, 1<<20)

	done := make(chan []byte)
	go func() {
		v, _ := Get(ctx, cached, "k")
		done <- v
	}()
	<-stall.fetched
	c.Assert(cached.Put(ctx, "k", []byte("new")), IsNil)
	close(stall.release)
	c.Assert(string(<-done), Equals, "old")

	// The stale value fetched before the write must not be cached.
	for i := 0; i < 2; i++ {
		v, err := Get(ctx, cached, "k")
		c.Assert(err, IsNil)
		c.Assert(string(v), Equals, "new")
	}

	c.Assert(cached.Delete(ctx, "k"), IsNil)
	_, err := Get(ctx, cached, "k")
	c.Assert(IsNotFound(err), Equals, true)
}

func (s *DataSuite) TestMonitoredStore(c *C) {
	ctx := context.Background()
	m := NewMonitoredStore(NewMemoryStore("monitored"))
	defer m.Close()
	c.Assert(ExerciseStore(ctx, m), IsNil)
	stats := m.Stats()
	c.Assert(stats.Puts, Equals, int64(3))
	c.Assert(stats.Deletes, Equals, int64(2))
	c.Assert(stats.Misses, Equals, int64(2))
	c.Assert(stats.Gets, Equals, int64(9))
	c.Assert(stats.BytesWritten, Equals, int64(22))
	c.Assert(stats.String(), Matches, "9 gets .*")
}
