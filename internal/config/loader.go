// Package config provides centralized configuration management for quotapace.
// Defaults are registered on a viper instance, the YAML config file and
// environment overrides are merged on top, and the result is decoded into
// Config with mapstructure.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quotapace/quotapace/internal/appid"
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.state_path", DefaultStatePath())

	// Pacing defaults
	v.SetDefault("pacing.initial_interval", 120)
	v.SetDefault("pacing.min_interval", 30)
	v.SetDefault("pacing.max_interval", 900)
	v.SetDefault("pacing.target_remaining_ratio", 0.2)
	v.SetDefault("pacing.aggressive", false)
	v.SetDefault("pacing.learning_rate", 0.1)
	v.SetDefault("pacing.profile", "")
	v.SetDefault("pacing.backoff_factor", 1.5)
	v.SetDefault("pacing.critical_threshold", 0.1)
	v.SetDefault("pacing.wait_slice", "30s")
	v.SetDefault("pacing.persist_timeout", "5s")
	v.SetDefault("pacing.calibration_duration", "30m")
	v.SetDefault("pacing.calibration_cooldown", "5m")
	v.SetDefault("pacing.calibrate_on_start", false)

	// Probe defaults
	v.SetDefault("probe.method", "GET")
	v.SetDefault("probe.timeout", "15s")
	v.SetDefault("probe.user_agent", appid.BinaryName)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Load decodes the effective configuration from v. A nil v uses the global
// viper instance the CLI populates. Runtime overrides take precedence over
// environment variables, which take precedence over the config file.
func Load(v *viper.Viper, overrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(envSpecs(appid.EnvPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	for _, override := range overrides {
		if len(override) == 0 {
			continue
		}
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Store.StatePath) == "" {
		cfg.Store.StatePath = DefaultStatePath()
	}
	nameTargets(cfg.Probe.Targets)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// envSpecs maps {PREFIX}{NAME} environment variables to config paths.
func envSpecs(prefix string) []EnvVarSpec {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: prefix + "STATE_PATH", Path: []string{"store", "state_path"}, Type: EnvString},

		// Pacing config; durations and ratios are decoded by hooks
		{Name: prefix + "PACING_PROFILE", Path: []string{"pacing", "profile"}, Type: EnvString},
		{Name: prefix + "PACING_AGGRESSIVE", Path: []string{"pacing", "aggressive"}, Type: EnvBool},
		{Name: prefix + "PACING_MIN_INTERVAL", Path: []string{"pacing", "min_interval"}, Type: EnvInt},
		{Name: prefix + "PACING_MAX_INTERVAL", Path: []string{"pacing", "max_interval"}, Type: EnvInt},
		{Name: prefix + "PACING_TARGET_REMAINING_RATIO", Path: []string{"pacing", "target_remaining_ratio"}, Type: EnvString},
		{Name: prefix + "PACING_LEARNING_RATE", Path: []string{"pacing", "learning_rate"}, Type: EnvString},
		{Name: prefix + "PACING_CALIBRATION_DURATION", Path: []string{"pacing", "calibration_duration"}, Type: EnvString},

		// Probe config
		{Name: prefix + "PROBE_BEARER_TOKEN", Path: []string{"probe", "bearer_token"}, Type: EnvString},
		{Name: prefix + "PROBE_TIMEOUT", Path: []string{"probe", "timeout"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
	}
}

// nameTargets fills missing target names with the URL host.
func nameTargets(targets []TargetConfig) {
	for i := range targets {
		if strings.TrimSpace(targets[i].Name) != "" {
			continue
		}
		targets[i].Name = TargetName(targets[i].URL)
	}
}

// TargetName derives the endpoint key used for quota tracking from a URL.
func TargetName(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return parsed.Host
	}
	return parsed.Host + strings.TrimSuffix(parsed.Path, "/")
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}

// DefaultStatePath returns the XDG-compliant path to the JSON state snapshot.
func DefaultStatePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./pacing_state.json"
	}
	return filepath.Join(dataDir, "pacing_state.json")
}
