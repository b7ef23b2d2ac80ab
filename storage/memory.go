package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/zpipe/zpipe"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		zpipe.Errorf("Unable to make semver in memory engine: %v\n", err)
	}
	RegisterEngine(memoryEngine{"memory", "In-process map store", ver})
}

type memoryEngine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e memoryEngine) GetName() string           { return e.name }
func (e memoryEngine) GetDescription() string    { return e.desc }
func (e memoryEngine) GetSemVer() semver.Version { return e.semver }

func (e memoryEngine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

func (e memoryEngine) NewStore(config zpipe.StoreConfig) (Store, bool, error) {
	name, _, err := config.GetString("name")
	if err != nil {
		return nil, false, err
	}
	return NewMemoryStore(name), true, nil
}

func (e memoryEngine) GetTestConfig() (zpipe.StoreConfig, error) {
	return zpipe.StoreConfig{Engine: e.name, Config: zpipe.Config{"name": "test"}}, nil
}

// MemoryStore holds values in a map.
type MemoryStore struct {
	name string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, data: make(map[string][]byte)}
}

func (m *MemoryStore) String() string {
	return fmt.Sprintf("memory store %q", m.name)
}

func (m *MemoryStore) GetRange(ctx context.Context, key string, r ByteRange) ([]byte, error) {
	m.mu.RLock()
	value, found := m.data[key]
	m.mu.RUnlock()
	if !found {
		return nil, NotFound(key)
	}
	part, err := r.Slice(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(part))
	copy(out, part)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.data[key] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }
