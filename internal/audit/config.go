package audit

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the number of events kept in memory.
const DefaultCapacity = 1000

// Output formats.
const (
	formatJSON = "json"
	formatText = "text"
)

// Config represents the security event log configuration.
type Config struct {
	// Enabled enables event recording.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Capacity is the number of most recent events kept in memory.
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`

	// Output optionally mirrors events to stdout, stderr or a file path.
	// Empty disables mirroring; events are still logged and kept in memory.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format specifies the mirror format (json, text).
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// MinSeverity drops events below this severity.
	MinSeverity Severity `yaml:"minSeverity,omitempty" json:"minSeverity,omitempty"`

	// RedactFields lists detail keys whose values are replaced before storage.
	RedactFields []string `yaml:"redactFields,omitempty" json:"redactFields,omitempty"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Capacity:    DefaultCapacity,
		Format:      formatJSON,
		MinSeverity: SeverityLow,
		RedactFields: []string{
			"password",
			"secret",
			"token",
			"authorization",
			"cookie",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if c.Capacity < 0 {
		errs = append(errs, errors.New("capacity must be non-negative"))
	}

	if c.Format != "" && c.Format != formatJSON && c.Format != formatText {
		errs = append(errs, fmt.Errorf("invalid audit format: %s (must be 'json' or 'text')", c.Format))
	}

	if c.MinSeverity != "" && !c.MinSeverity.Valid() {
		errs = append(errs, fmt.Errorf("invalid minimum severity: %s", c.MinSeverity))
	}

	return errors.Join(errs...)
}

// GetEffectiveCapacity returns the configured capacity or DefaultCapacity.
func (c *Config) GetEffectiveCapacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return DefaultCapacity
}

// GetEffectiveFormat returns the effective mirror format.
func (c *Config) GetEffectiveFormat() string {
	if c.Format != "" {
		return c.Format
	}
	return formatJSON
}
