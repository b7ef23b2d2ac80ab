/*
	Package config loads zpipe settings from a TOML file and opens the
	configured store.

	Example:

		[pipeline]
		thread_budget = 16
		chunk_concurrent_minimum = 4
		validate_checksums = true
		store_empty_chunks = false

		[logging]
		logfile = "logs/zpipe.log"
		level = "info"
		max_log_size = 500   # MB
		max_log_age = 30     # days

		[store]
		engine = "badger"
		path = "data/arrays"

		[cache]
		size = 256   # MB
		monitor = true
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/zpipe/pipeline"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// DefaultEngine is used when no store is configured.
const DefaultEngine = "filesystem"

// Config is the parsed TOML configuration.
type Config struct {
	Pipeline pipeline.Options
	Logging  zpipe.LogConfig
	Store    map[string]interface{}
	Cache    cacheConfig

	location string
}

type cacheConfig struct {
	// Size in MB of the read cache; zero disables it.
	Size int

	// Monitor wraps the store with request and byte counters.
	Monitor bool
}

// Default returns the configuration used without a TOML file: a filesystem
// store rooted at the current directory.
func Default() *Config {
	return &Config{
		Store: map[string]interface{}{"engine": DefaultEngine, "path": "."},
	}
}

// LoadConfig loads configuration from a TOML file.  Settings missing from
// the file keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := Default()
	c.Store = nil
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if c.Store == nil {
		c.Store = Default().Store
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	zpipe.Infof("Loaded configuration %s: pipeline %s, store %v\n", filename, c.Pipeline, c.Store)
	return c, nil
}

// Location returns the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

func convertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = convertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [store].path
	if p, found := c.Store["path"]; found {
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("don't understand path setting for store: %v", p)
		}
		absPath, err := convertToAbsolute(path, configDir)
		if err != nil {
			return fmt.Errorf("error converting store.path to absolute path: %q", path)
		}
		c.Store["path"] = absPath
	}
	return nil
}

// StoreConfig returns the engine configuration of the [store] section.
func (c *Config) StoreConfig() (zpipe.StoreConfig, error) {
	settings := zpipe.Config{}
	engine := DefaultEngine
	for k, v := range c.Store {
		if k == "engine" {
			name, ok := v.(string)
			if !ok {
				return zpipe.StoreConfig{}, zpipe.NewConfigurationError("store.engine", "expected string, got %v", v)
			}
			engine = name
			continue
		}
		settings.Set(k, v)
	}
	return zpipe.StoreConfig{Config: settings, Engine: engine}, nil
}

// OpenStore opens the configured store, wrapped by the read cache and
// monitor when they are configured.
func (c *Config) OpenStore() (storage.Store, error) {
	sc, err := c.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, created, err := storage.NewStore(sc)
	if err != nil {
		return nil, err
	}
	if created {
		zpipe.Infof("Created new %s store: %s\n", sc.Engine, store)
	}
	if c.Cache.Size > 0 {
		bytes := c.Cache.Size * humanize.MiByte
		zpipe.Infof("Read cache of %s for %s\n", humanize.IBytes(uint64(bytes)), store)
		store = storage.NewCachedStore(store, bytes)
	}
	if c.Cache.Monitor {
		store = storage.NewMonitoredStore(store)
	}
	return store, nil
}

// SetLogger configures logging from the [logging] section.
func (c *Config) SetLogger() error {
	if c.Logging.Logfile != "" {
		dir := filepath.Dir(c.Logging.Logfile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("can't create log directory %s: %v", dir, err)
		}
	}
	return c.Logging.SetLogger()
}
