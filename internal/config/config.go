// Package config loads clutchsim's configuration: a nested struct tree with
// yaml tags, populated via viper from a config file, environment variables
// (CLUTCHSIM_* prefix), and defaults, in that precedence order.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the complete configuration for a clutchsim run.
type Config struct {
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
}

// ScenarioConfig selects and sizes the workload.
type ScenarioConfig struct {
	Name     string `yaml:"name"`
	CPUs     int    `yaml:"cpus"`
	Seed     int64  `yaml:"seed"`
	Duration int64  `yaml:"duration_us"`
}

// SchedulerConfig mirrors pkg/sched.SchedulerConfig's tunables. Validate
// checks all of them, but the run path (engine.Build) applies only StrictRT;
// the quantum, starvation and warp values in effect are those of
// sched.DefaultSchedulerConfig.
type SchedulerConfig struct {
	StrictRT            bool    `yaml:"strict_rt"`
	DefaultQuantumUS    int64   `yaml:"default_quantum_us"`
	StarvationThreshold int64   `yaml:"starvation_threshold_us"`
	WarpTotalUS         [6]int64 `yaml:"warp_total_us"` // indexed FIXPRI,FG,IN,DF,UT,BG
	QuantumForBandUS    [6]int64 `yaml:"quantum_for_band_us"`
}

// EngineConfig tunes the discrete-event driver.
type EngineConfig struct {
	TickIntervalUS int64 `yaml:"tick_interval_us"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig names a Prometheus registry namespace/subsystem. The run path
// does not read it: engine.Build registers the counters under "clutchsim"
// with the scenario name as subsystem.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// APIConfig controls the peripheral read-only HTTP surface.
type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	JWTSecret      string `yaml:"jwt_secret"`
	TraceRateLimit float64 `yaml:"trace_rate_limit_per_sec"`
	TraceBurst     int    `yaml:"trace_burst"`
}

// DefaultConfig returns clutchsim's baked-in defaults, applied before any
// config file or environment override.
func DefaultConfig() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			Name:     "mixed",
			CPUs:     4,
			Seed:     1,
			Duration: 1_000_000,
		},
		Scheduler: SchedulerConfig{
			StrictRT:            false,
			DefaultQuantumUS:    10_000,
			StarvationThreshold: 200_000,
			WarpTotalUS:         [6]int64{0, 8_000, 4_000, 2_000, 1_000, 0},
			QuantumForBandUS:    [6]int64{10_000, 10_000, 10_000, 10_000, 10_000, 10_000},
		},
		Engine: EngineConfig{TickIntervalUS: 1_000},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{Namespace: "clutchsim", Subsystem: "scheduler"},
		API: APIConfig{
			Enabled:        false,
			Listen:         ":8090",
			TraceRateLimit: 20,
			TraceBurst:     40,
		},
	}
}

// Load reads configFile (if non-empty) layered over environment variables
// (CLUTCHSIM_ prefix) and the baked-in DefaultConfig(), then validates the
// result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	v.SetEnvPrefix("CLUTCHSIM")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", configFile, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the numeric/structural invariants the scheduler and engine
// rely on, rejecting illegal input at construction rather than failing deep
// inside a running simulation.
func (c *Config) Validate() error {
	if c.Scenario.CPUs <= 0 {
		return fmt.Errorf("scenario.cpus must be positive, got %d", c.Scenario.CPUs)
	}
	if c.Scenario.Duration <= 0 {
		return fmt.Errorf("scenario.duration_us must be positive, got %d", c.Scenario.Duration)
	}
	if c.Engine.TickIntervalUS <= 0 {
		return fmt.Errorf("engine.tick_interval_us must be positive, got %d", c.Engine.TickIntervalUS)
	}
	if c.Scheduler.DefaultQuantumUS <= 0 {
		return fmt.Errorf("scheduler.default_quantum_us must be positive, got %d", c.Scheduler.DefaultQuantumUS)
	}
	if c.Scheduler.StarvationThreshold <= 0 {
		return fmt.Errorf("scheduler.starvation_threshold_us must be positive, got %d", c.Scheduler.StarvationThreshold)
	}
	for b, q := range c.Scheduler.QuantumForBandUS {
		if q <= 0 {
			return fmt.Errorf("scheduler.quantum_for_band_us[%d] must be positive, got %d", b, q)
		}
	}
	for b, w := range c.Scheduler.WarpTotalUS {
		if w < 0 {
			return fmt.Errorf("scheduler.warp_total_us[%d] must not be negative, got %d", b, w)
		}
	}
	if c.API.Enabled {
		if c.API.Listen == "" {
			return fmt.Errorf("api.listen must be set when api.enabled is true")
		}
		if c.API.TraceRateLimit <= 0 {
			return fmt.Errorf("api.trace_rate_limit_per_sec must be positive, got %v", c.API.TraceRateLimit)
		}
		if c.API.TraceBurst <= 0 {
			return fmt.Errorf("api.trace_burst must be positive, got %d", c.API.TraceBurst)
		}
	}
	return nil
}
