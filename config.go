package bitrunq

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bitrunq/bitrunq/service/sched"
)

// Config is a serialisable representation of the service configuration. It
// can be populated from YAML, environment-driven templating, etc. The
// zero-value is useful; all nested fields inherit their package defaults.
type Config struct {
	Scheduler sched.Config    `json:"scheduler" yaml:"scheduler"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// TelemetryConfig controls the event collector and optional tracing.
type TelemetryConfig struct {
	// EventBuffer is the capacity of the collector's consumer channel.
	EventBuffer int `json:"eventBuffer" yaml:"event_buffer"`
	// TraceFile, when set, receives OpenTelemetry spans; "stdout" or an
	// empty value with Tracing enabled writes to standard output.
	TraceFile string `json:"traceFile" yaml:"trace_file"`
	// Tracing enables span export.
	Tracing bool `json:"tracing" yaml:"tracing"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New via
// WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: sched.DefaultConfig(),
		Telemetry: TelemetryConfig{EventBuffer: 1024},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Telemetry.EventBuffer < 0 {
		return fmt.Errorf("telemetry.eventBuffer must be >= 0")
	}
	return nil
}
