package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
)

// Config represents the complete application configuration.
// Sources, lowest precedence first: built-in defaults, the YAML config file,
// environment variables, then command flags bound by the CLI.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Pacing  PacingConfig  `mapstructure:"pacing" yaml:"pacing"`
	Probe   ProbeConfig   `mapstructure:"probe" yaml:"probe"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects where pacing state is persisted.
//
// The libsql driver uses Path (local file or :memory:) or URL (remote Turso).
// The file driver writes a JSON snapshot to StatePath.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url,omitempty"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
	StatePath string `mapstructure:"state_path" yaml:"state_path"`
}

// PacingConfig seeds and tunes the pacing controller.
type PacingConfig struct {
	InitialInterval      int     `mapstructure:"initial_interval" yaml:"initial_interval"`
	MinInterval          int     `mapstructure:"min_interval" yaml:"min_interval"`
	MaxInterval          int     `mapstructure:"max_interval" yaml:"max_interval"`
	TargetRemainingRatio float64 `mapstructure:"target_remaining_ratio" yaml:"target_remaining_ratio"`
	Aggressive           bool    `mapstructure:"aggressive" yaml:"aggressive"`
	LearningRate         float64 `mapstructure:"learning_rate" yaml:"learning_rate"`

	// Profile, when set, overlays a named preset (aggressive or stable) on
	// the fields above.
	Profile string `mapstructure:"profile" yaml:"profile,omitempty"`

	BackoffFactor       float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	CriticalThreshold   float64       `mapstructure:"critical_threshold" yaml:"critical_threshold"`
	WaitSlice           time.Duration `mapstructure:"wait_slice" yaml:"wait_slice"`
	PersistTimeout      time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	CalibrationDuration time.Duration `mapstructure:"calibration_duration" yaml:"calibration_duration"`
	CalibrationCooldown time.Duration `mapstructure:"calibration_cooldown" yaml:"calibration_cooldown"`
	CalibrationLadder   []int         `mapstructure:"calibration_ladder" yaml:"calibration_ladder,omitempty"`
	CalibrateOnStart    bool          `mapstructure:"calibrate_on_start" yaml:"calibrate_on_start"`
}

// ProbeConfig describes the remote calls made by run, calibrate and serve.
type ProbeConfig struct {
	Targets     []TargetConfig    `mapstructure:"targets" yaml:"targets"`
	Method      string            `mapstructure:"method" yaml:"method"`
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string            `mapstructure:"user_agent" yaml:"user_agent"`
	BearerToken string            `mapstructure:"bearer_token" yaml:"bearer_token,omitempty"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// TargetConfig is one remote endpoint. Name is the key quota is tracked under.
type TargetConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level (SIMPLE or STRUCTURED)
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// ControllerDefaults builds the state used when nothing is persisted yet.
func (p PacingConfig) ControllerDefaults() (*core.ControllerState, error) {
	state := core.NewControllerState()
	if p.InitialInterval > 0 {
		state.CurrentInterval = p.InitialInterval
	}

	cfg := state.Config
	if p.MinInterval > 0 {
		cfg.MinInterval = p.MinInterval
	}
	if p.MaxInterval > 0 {
		cfg.MaxInterval = p.MaxInterval
	}
	if p.TargetRemainingRatio > 0 {
		cfg.TargetRemainingRatio = p.TargetRemainingRatio
	}
	if p.LearningRate > 0 {
		cfg.LearningRate = p.LearningRate
	}
	cfg.Aggressive = p.Aggressive

	if name := strings.TrimSpace(p.Profile); name != "" {
		profile, err := core.FindProfile(name)
		if err != nil {
			return nil, err
		}
		cfg = profile.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	state.Config = cfg

	if state.CurrentInterval < cfg.MinInterval {
		state.CurrentInterval = cfg.MinInterval
	}
	if state.CurrentInterval > cfg.MaxInterval {
		state.CurrentInterval = cfg.MaxInterval
	}
	return state, nil
}

// Validate checks the settings the commands cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "libsql", "file":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	if _, err := c.Pacing.ControllerDefaults(); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	if f := c.Pacing.BackoffFactor; f != 0 && (f < 1.2 || f > 1.5) {
		return fmt.Errorf("pacing: backoff_factor %.2f must be within [1.2, 1.5]", f)
	}
	if t := c.Pacing.CriticalThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("pacing: critical_threshold %.2f must be within [0, 1)", t)
	}
	for _, rung := range c.Pacing.CalibrationLadder {
		if rung <= 0 {
			return fmt.Errorf("pacing: calibration_ladder entries must be positive")
		}
	}

	for i, target := range c.Probe.Targets {
		if strings.TrimSpace(target.URL) == "" {
			return fmt.Errorf("probe: target %d has no url", i)
		}
	}
	return nil
}
