// Package config provides configuration loading and access for the solver and its tools.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all solver configuration parameters.
type Config struct {
	Solver    SolverConfig    `yaml:"solver"`
	Groups    GroupsConfig    `yaml:"groups"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Fields    FieldsConfig    `yaml:"fields"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Stream    StreamConfig    `yaml:"stream"`
}

// SolverConfig holds per-instance solver toggles and step parameters.
// These replace process-wide switches; two solvers in one process never share them.
type SolverConfig struct {
	DT               float64    `yaml:"dt"`
	Gravity          [3]float64 `yaml:"gravity"`
	Iterations       int        `yaml:"iterations"`
	MinParallelBatch int        `yaml:"min_parallel_batch"` // Ranges below this size run inline
	Workers          int        `yaml:"workers"`            // 0 = GOMAXPROCS
	FastFriction     bool       `yaml:"fast_friction"`      // false = deferred velocity friction
	Vectorized       bool       `yaml:"vectorized"`         // Lane path for fast friction
	CCD              bool       `yaml:"ccd"`
	RecordContacts   bool       `yaml:"record_contacts"` // CCD contact capture for external consumers
}

// GroupsConfig holds defaults for group-indexed arrays.
type GroupsConfig struct {
	Count     int     `yaml:"count"`
	Thickness float64 `yaml:"thickness"`
	Friction  float64 `yaml:"friction"`
	Damping   float64 `yaml:"damping"`
}

// ProxyConfig holds cross-thread proxy parameters.
type ProxyConfig struct {
	CollisionFraction float64 `yaml:"collision_fraction"` // Fraction of sample points simulated per object
	ResultSlots       int     `yaml:"result_slots"`
}

// FieldsConfig holds field evaluation parameters.
type FieldsConfig struct {
	ParallelThreshold int `yaml:"parallel_threshold"` // Sample count above which evaluation uses the pool
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow  int `yaml:"perf_window"`  // Ticks per perf window
	StatsWindow int `yaml:"stats_window"` // Ticks per step stats row
}

// ScenarioConfig describes the demo scene built by the headless runner.
type ScenarioConfig struct {
	ClusterSize    int        `yaml:"cluster_size"`  // Fragments per axis
	FragmentSize   float64    `yaml:"fragment_size"` // Edge length of one fragment
	SamplesPerAxis int        `yaml:"samples_per_axis"`
	DropHeight     float64    `yaml:"drop_height"`
	FieldTick      int        `yaml:"field_tick"` // Tick at which the radial field fires (0 = never)
	FieldStrength  float64    `yaml:"field_strength"`
	FieldRadius    float64    `yaml:"field_radius"`
	Ground         [3]float64 `yaml:"ground_normal"`
}

// StreamConfig holds the websocket debug stream parameters.
type StreamConfig struct {
	Addr       string  `yaml:"addr"`        // Empty = disabled
	IntervalMS float64 `yaml:"interval_ms"` // Broadcast interval
}

// global holds the loaded configuration for the CLI entry point.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate reports structural errors in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Solver.DT <= 0 {
		errs = append(errs, fmt.Errorf("solver.dt must be positive, got %v", c.Solver.DT))
	}
	if c.Solver.Iterations < 1 {
		errs = append(errs, fmt.Errorf("solver.iterations must be >= 1, got %d", c.Solver.Iterations))
	}
	if c.Solver.MinParallelBatch < 1 {
		errs = append(errs, fmt.Errorf("solver.min_parallel_batch must be >= 1, got %d", c.Solver.MinParallelBatch))
	}
	if c.Groups.Count < 1 {
		errs = append(errs, fmt.Errorf("groups.count must be >= 1, got %d", c.Groups.Count))
	}
	if c.Proxy.CollisionFraction <= 0 || c.Proxy.CollisionFraction > 1 {
		errs = append(errs, fmt.Errorf("proxy.collision_fraction must be in (0,1], got %v", c.Proxy.CollisionFraction))
	}
	if c.Proxy.ResultSlots < 3 {
		errs = append(errs, fmt.Errorf("proxy.result_slots must be >= 3, got %d", c.Proxy.ResultSlots))
	}
	return errors.Join(errs...)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
