package zpipe

import "fmt"

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
type Config map[string]interface{}

// Set sets a keyword value.
func (c Config) Set(key string, value interface{}) {
	c[key] = value
}

// GetAll returns the underlying map.
func (c Config) GetAll() map[string]interface{} {
	return c
}

// GetString returns a string value for the key, whether it was found, and an
// error if the value was not a string.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return s, true, nil
}

// GetBool returns a bool value for the key.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[key]
	if !found || v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return b, true, nil
}

// GetInt returns an integer value for the key.  TOML and JSON decoders
// produce int64 and float64 respectively, so both are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, true, fmt.Errorf("%q setting must be an integer (%v)", key, v)
		}
		return int(n), true, nil
	}
	return 0, true, fmt.Errorf("%q setting must be an integer (%v)", key, v)
}

// StoreConfig is a store-specific configuration where each store engine
// defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is a simple name describing the engine, e.g., "badger"
	Engine string
}

func (sc StoreConfig) String() string {
	if path, found, _ := sc.GetString("path"); found {
		return fmt.Sprintf("%s @ %s", sc.Engine, path)
	}
	if url, found, _ := sc.GetString("url"); found {
		return fmt.Sprintf("%s @ %s", sc.Engine, url)
	}
	return sc.Engine
}
