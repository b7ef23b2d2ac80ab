package zpipe

import "fmt"

// ConfigurationError is returned when array, grid or codec configuration is
// malformed.  It is detected at setup and is fatal for the array handle.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "bad configuration: " + e.Reason
	}
	return fmt.Sprintf("bad configuration of %s: %s", e.Field, e.Reason)
}

// NewConfigurationError returns a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
