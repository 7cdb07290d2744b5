package v1alpha1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ConformanceConfig configures a conformance run against a named lock backend.
// Unset fields fall back to the harness defaults.
type ConformanceConfig struct {
	// Name of a registered lock backend, e.g. "local" or "cooperative".
	Backend string `json:"backend,omitempty" toml:"backend"`
	// Resource id every worker contends on.
	ResourceID string `json:"resourceId,omitempty" toml:"resourceId"`
	// Number of concurrent workers.
	Workers int `json:"workers,omitempty" toml:"workers"`
	// How long each worker holds the lock, e.g. "1s".
	Hold *Duration `json:"hold,omitempty" toml:"hold"`
	// Upper bound on the total runtime. Defaults to workers * hold + 1s.
	Bound *Duration `json:"bound,omitempty" toml:"bound"`
	// Log every worker's progress.
	Verbose bool `json:"verbose,omitempty" toml:"verbose"`
	// Address to serve prometheus metrics on, disabled when empty.
	MetricsAddr string `json:"metricsAddr,omitempty" toml:"metricsAddr"`
}

// Duration is a time.Duration encoded as a Go duration string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (c *ConformanceConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Hold != nil && c.Hold.Duration < 0 {
		return fmt.Errorf("hold must not be negative, got %s", c.Hold)
	}
	if c.Bound != nil && c.Bound.Duration <= 0 {
		return fmt.Errorf("bound must be positive, got %s", c.Bound)
	}
	return nil
}

// Decode reads a config encoded as JSON or TOML.
func Decode(data []byte) (*ConformanceConfig, error) {
	config := &ConformanceConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	jsonErr := dec.Decode(config)
	if jsonErr == nil {
		return config, config.Validate()
	}
	config = &ConformanceConfig{}
	_, tomlErr := toml.Decode(string(data), config)
	if tomlErr == nil {
		return config, config.Validate()
	}
	return nil, fmt.Errorf("failed to decode config as JSON: %w, failed to decode config as TOML: %w", jsonErr, tomlErr)
}

func Load(path string) (*ConformanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
