package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/coocood/freecache"
	humanize "github.com/dustin/go-humanize"
)

const cacheStripes = 256

// CachedStore is a read-through cache of whole values in front of another
// store.  Range reads are served from the cache when the whole value is
// cached.  Writes invalidate the cached value and the next full read
// refills it.
type CachedStore struct {
	Store
	cache *freecache.Cache

	// gens counts writes per key stripe.  A read that missed only fills the
	// cache if no write to its stripe happened while it was fetching.
	mu   sync.Mutex
	gens [cacheStripes]uint64
}

// NewCachedStore wraps a store with a cache of about size bytes.
func NewCachedStore(s Store, size int) *CachedStore {
	return &CachedStore{Store: s, cache: freecache.NewCache(size)}
}

func (c *CachedStore) String() string {
	return fmt.Sprintf("%s (cached, %s entries, %.0f%% hits)", c.Store,
		humanize.Comma(c.cache.EntryCount()), 100*c.cache.HitRate())
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % cacheStripes)
}

func (c *CachedStore) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[stripe(key)]
}

// fill caches a value read at generation gen unless a write intervened.
func (c *CachedStore) fill(key string, value []byte, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[stripe(key)] != gen {
		return
	}
	// Values too large for the cache are simply not cached.
	_ = c.cache.Set([]byte(key), value, 0)
}

func (c *CachedStore) invalidate(key string) {
	c.mu.Lock()
	c.gens[stripe(key)]++
	c.cache.Del([]byte(key))
	c.mu.Unlock()
}

func (c *CachedStore) GetRange(ctx context.Context, key string, r ByteRange) ([]byte, error) {
	if value, err := c.cache.Get([]byte(key)); err == nil {
		return r.Slice(value)
	}
	if !r.IsFull() {
		return c.Store.GetRange(ctx, key, r)
	}
	gen := c.generation(key)
	value, err := c.Store.GetRange(ctx, key, r)
	if err != nil {
		return nil, err
	}
	c.fill(key, value, gen)
	return value, nil
}

func (c *CachedStore) Put(ctx context.Context, key string, value []byte) error {
	c.invalidate(key)
	defer c.invalidate(key)
	return c.Store.Put(ctx, key, value)
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	c.invalidate(key)
	defer c.invalidate(key)
	return c.Store.Delete(ctx, key)
}

// List passes through to the wrapped store if it can list keys.
func (c *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	if l, ok := c.Store.(Lister); ok {
		return l.List(ctx, prefix)
	}
	return nil, fmt.Errorf("%s cannot list keys", c.Store)
}

// HitCount returns the number of reads served from the cache.
func (c *CachedStore) HitCount() int64 {
	return c.cache.HitCount()
}
