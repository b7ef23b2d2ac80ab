package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// Engine is a storage engine that can create Stores.
type Engine interface {
	fmt.Stringer
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore returns a store and whether it was newly created.
	NewStore(zpipe.StoreConfig) (Store, bool, error)
}

// TestableEngine is an engine that can supply a throwaway configuration.
type TestableEngine interface {
	Engine
	GetTestConfig() (zpipe.StoreConfig, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine registers an engine for use.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[e.GetName()] = e
}

// GetEngine returns an engine of the given name or nil.
func GetEngine(name string) Engine {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engines[name]
}

// EnginesAvailable returns a description of the available storage engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	var names []string
	for _, e := range engines {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return strings.Join(names, "; ")
}

// NewStore opens a store with the named engine.
func NewStore(config zpipe.StoreConfig) (Store, bool, error) {
	e := GetEngine(config.Engine)
	if e == nil {
		return nil, false, fmt.Errorf("unsupported storage engine %q (available: %s)", config.Engine, EnginesAvailable())
	}
	store, created, err := e.NewStore(config)
	if err != nil {
		return nil, false, err
	}
	zpipe.Infof("Opened %s store: %s\n", e, store)
	return store, created, nil
}

// NewTestStore opens a store with a test configuration of the named engine.
func NewTestStore(name string) (Store, error) {
	e, ok := GetEngine(name).(TestableEngine)
	if !ok {
		return nil, fmt.Errorf("engine %q is not available for testing", name)
	}
	config, err := e.GetTestConfig()
	if err != nil {
		return nil, err
	}
	store, _, err := e.NewStore(config)
	return store, err
}
