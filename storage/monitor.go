/*
	This file implements a monitor for store operations.  It tallies requests
	and bytes moved, and tracks the rates over the last full second.
*/

package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Stats are the tallies of a monitored store.
type Stats struct {
	Gets, Puts, Deletes, Misses int64
	BytesRead, BytesWritten     int64

	// Rates over the last full second.
	BytesReadPerSec, BytesWrittenPerSec int64
	GetsPerSec, PutsPerSec              int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d gets (%d missing, %s), %d puts (%s), %d deletes; last second: %s read, %s written",
		s.Gets, s.Misses, humanize.Bytes(uint64(s.BytesRead)), s.Puts, humanize.Bytes(uint64(s.BytesWritten)),
		s.Deletes, humanize.Bytes(uint64(s.BytesReadPerSec)), humanize.Bytes(uint64(s.BytesWrittenPerSec)))
}

// MonitoredStore counts operations on a wrapped store.
type MonitoredStore struct {
	Store

	gets, puts, deletes, misses int64
	bytesRead, bytesWritten     int64

	mu       sync.Mutex
	lastSec  Stats
	prev     Stats
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitoredStore wraps a store and starts a once-per-second rate tally
// that stops when the store is closed.
func NewMonitoredStore(s Store) *MonitoredStore {
	m := &MonitoredStore{Store: s, done: make(chan struct{})}
	go m.loadMonitor()
	return m
}

func (m *MonitoredStore) loadMonitor() {
	secondTick := time.NewTicker(time.Second)
	defer secondTick.Stop()
	for {
		select {
		case <-secondTick.C:
			cur := m.totals()
			m.mu.Lock()
			m.lastSec = Stats{
				BytesReadPerSec:    cur.BytesRead - m.prev.BytesRead,
				BytesWrittenPerSec: cur.BytesWritten - m.prev.BytesWritten,
				GetsPerSec:         cur.Gets - m.prev.Gets,
				PutsPerSec:         cur.Puts - m.prev.Puts,
			}
			m.prev = cur
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

func (m *MonitoredStore) totals() Stats {
	return Stats{
		Gets:         atomic.LoadInt64(&m.gets),
		Puts:         atomic.LoadInt64(&m.puts),
		Deletes:      atomic.LoadInt64(&m.deletes),
		Misses:       atomic.LoadInt64(&m.misses),
		BytesRead:    atomic.LoadInt64(&m.bytesRead),
		BytesWritten: atomic.LoadInt64(&m.bytesWritten),
	}
}

// Stats returns the current tallies.
func (m *MonitoredStore) Stats() Stats {
	s := m.totals()
	m.mu.Lock()
	s.BytesReadPerSec = m.lastSec.BytesReadPerSec
	s.BytesWrittenPerSec = m.lastSec.BytesWrittenPerSec
	s.GetsPerSec = m.lastSec.GetsPerSec
	s.PutsPerSec = m.lastSec.PutsPerSec
	m.mu.Unlock()
	return s
}

func (m *MonitoredStore) GetRange(ctx context.Context, key string, r ByteRange) ([]byte, error) {
	atomic.AddInt64(&m.gets, 1)
	value, err := m.Store.GetRange(ctx, key, r)
	if IsNotFound(err) {
		atomic.AddInt64(&m.misses, 1)
	}
	atomic.AddInt64(&m.bytesRead, int64(len(value)))
	return value, err
}

func (m *MonitoredStore) Put(ctx context.Context, key string, value []byte) error {
	atomic.AddInt64(&m.puts, 1)
	atomic.AddInt64(&m.bytesWritten, int64(len(value)))
	return m.Store.Put(ctx, key, value)
}

func (m *MonitoredStore) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deletes, 1)
	return m.Store.Delete(ctx, key)
}

// List passes through to the wrapped store if it can list keys.
func (m *MonitoredStore) List(ctx context.Context, prefix string) ([]string, error) {
	if l, ok := m.Store.(Lister); ok {
		return l.List(ctx, prefix)
	}
	return nil, fmt.Errorf("%s cannot list keys", m.Store)
}

func (m *MonitoredStore) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return m.Store.Close()
}
