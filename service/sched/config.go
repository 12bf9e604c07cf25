package sched

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Scheduling granularity constants.
const (
	// defaultSliceMS is the base time slice.
	defaultSliceMS = 4
	// reschedNS: a remaining slice below this is as good as expired, as
	// there is no point rescheduling with so little time left.
	reschedNS = 100_000
	// defaultMigrateBatch bounds how many tasks one pull moves.
	defaultMigrateBatch = 32
	// inboxDepth is the per-core buffer for remote wakeups and
	// forced-migration work. Overflow falls back to direct locking.
	inboxDepth = 256
)

// Config mirrors the scheduler section of a YAML config file.
type Config struct {
	// Cores is the number of logical cores to schedule.
	Cores int `yaml:"cores"`
	// SliceMS is the base time slice in milliseconds.
	SliceMS int `yaml:"slice_ms"`
	// Policy selects the priority-level computation ("boost", "deadline").
	Policy string `yaml:"policy"`
	// MigrateBatch bounds how many tasks a single pull may move.
	MigrateBatch int `yaml:"migrate_batch"`
	// Topology optionally points at a YAML topology description.
	Topology string `yaml:"topology"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Cores:        runtime.NumCPU(),
		SliceMS:      defaultSliceMS,
		MigrateBatch: defaultMigrateBatch,
	}
}

// LoadConfig reads YAML and overrides defaults; an empty path yields the
// defaults only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("sched: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("sched: parse config: %w", err)
	}
	return cfg.sanitize(), nil
}

// sanitize clamps out-of-range values back to defaults.
func (c Config) sanitize() Config {
	if c.Cores <= 0 {
		c.Cores = runtime.NumCPU()
	}
	if c.SliceMS <= 0 {
		c.SliceMS = defaultSliceMS
	}
	if c.MigrateBatch <= 0 {
		c.MigrateBatch = defaultMigrateBatch
	}
	return c
}

// SliceNS returns the base slice in nanoseconds.
func (c Config) SliceNS() int64 { return int64(c.SliceMS) * 1_000_000 }
