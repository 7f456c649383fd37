// Package config holds the engine's operating parameters. A single
// Config is constructed at startup and shared by reference; components
// take a Snapshot at call time so validated runtime updates (e.g. rate
// limits synced from the control plane) apply without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".cadence"
	envPrefix  = "CADENCE"
)

// Settings is the flat parameter surface every component reads.
type Settings struct {
	Environment  string `mapstructure:"environment"`
	SiteURL      string `mapstructure:"site_url"`
	Headless     bool   `mapstructure:"headless"`
	DebugLogging bool   `mapstructure:"debug_logging"`

	ActionsPerMinute int `mapstructure:"actions_per_minute"`
	ActionsPerHour   int `mapstructure:"actions_per_hour"`
	MinActionDelayMs int `mapstructure:"min_action_delay_ms"`
	MaxActionDelayMs int `mapstructure:"max_action_delay_ms"`
	CooldownMinMs    int `mapstructure:"cooldown_min_ms"`
	CooldownMaxMs    int `mapstructure:"cooldown_max_ms"`

	QueueConcurrency    int `mapstructure:"queue_concurrency"`
	JobRetentionMinutes int `mapstructure:"job_retention_minutes"`

	MaxSessionErrors           int `mapstructure:"max_session_errors"`
	HealthCheckIntervalSeconds int `mapstructure:"health_check_interval_seconds"`

	HealPollIntervalMs int `mapstructure:"heal_poll_interval_ms"`
	HealTimeoutMinutes int `mapstructure:"heal_timeout_minutes"`

	ControlPlaneURL       string `mapstructure:"control_plane_url"`
	DeploymentID          string `mapstructure:"deployment_id"`
	SyncTTLMinutes        int    `mapstructure:"sync_ttl_minutes"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	RetryAttempts         int    `mapstructure:"retry_attempts"`

	TypoProbability float64 `mapstructure:"typo_probability"`
	ReadingWPM      int     `mapstructure:"reading_wpm"`
}

func DefaultSettings() Settings {
	return Settings{
		Environment:                "development",
		Headless:                   true,
		ActionsPerMinute:           10,
		ActionsPerHour:             100,
		MinActionDelayMs:           800,
		MaxActionDelayMs:           4000,
		CooldownMinMs:              30_000,
		CooldownMaxMs:              300_000,
		QueueConcurrency:           1,
		JobRetentionMinutes:        60,
		MaxSessionErrors:           5,
		HealthCheckIntervalSeconds: 60,
		HealPollIntervalMs:         1000,
		HealTimeoutMinutes:         60,
		SyncTTLMinutes:             5,
		RequestTimeoutSeconds:      5,
		RetryAttempts:              3,
		TypoProbability:            0.01,
		ReadingWPM:                 225,
	}
}

// withDefaults fills zero-valued numeric fields so a partially
// constructed Settings (tests, env-only runs) still behaves.
func (s Settings) withDefaults() Settings {
	defaults := DefaultSettings()

	if s.Environment == "" {
		s.Environment = defaults.Environment
	}
	if s.ActionsPerMinute == 0 {
		s.ActionsPerMinute = defaults.ActionsPerMinute
	}
	if s.ActionsPerHour == 0 {
		s.ActionsPerHour = defaults.ActionsPerHour
	}
	if s.MinActionDelayMs == 0 {
		s.MinActionDelayMs = defaults.MinActionDelayMs
	}
	if s.MaxActionDelayMs == 0 {
		s.MaxActionDelayMs = defaults.MaxActionDelayMs
	}
	if s.CooldownMinMs == 0 {
		s.CooldownMinMs = defaults.CooldownMinMs
	}
	if s.CooldownMaxMs == 0 {
		s.CooldownMaxMs = defaults.CooldownMaxMs
	}
	if s.QueueConcurrency == 0 {
		s.QueueConcurrency = defaults.QueueConcurrency
	}
	if s.JobRetentionMinutes == 0 {
		s.JobRetentionMinutes = defaults.JobRetentionMinutes
	}
	if s.MaxSessionErrors == 0 {
		s.MaxSessionErrors = defaults.MaxSessionErrors
	}
	if s.HealthCheckIntervalSeconds == 0 {
		s.HealthCheckIntervalSeconds = defaults.HealthCheckIntervalSeconds
	}
	if s.HealPollIntervalMs == 0 {
		s.HealPollIntervalMs = defaults.HealPollIntervalMs
	}
	if s.HealTimeoutMinutes == 0 {
		s.HealTimeoutMinutes = defaults.HealTimeoutMinutes
	}
	if s.SyncTTLMinutes == 0 {
		s.SyncTTLMinutes = defaults.SyncTTLMinutes
	}
	if s.RequestTimeoutSeconds == 0 {
		s.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if s.TypoProbability == 0 {
		s.TypoProbability = defaults.TypoProbability
	}
	if s.ReadingWPM == 0 {
		s.ReadingWPM = defaults.ReadingWPM
	}

	return s
}

func (s Settings) MinActionDelay() time.Duration {
	return time.Duration(s.MinActionDelayMs) * time.Millisecond
}

func (s Settings) MaxActionDelay() time.Duration {
	return time.Duration(s.MaxActionDelayMs) * time.Millisecond
}

func (s Settings) CooldownMin() time.Duration {
	return time.Duration(s.CooldownMinMs) * time.Millisecond
}

func (s Settings) CooldownMax() time.Duration {
	return time.Duration(s.CooldownMaxMs) * time.Millisecond
}

func (s Settings) JobRetention() time.Duration {
	return time.Duration(s.JobRetentionMinutes) * time.Minute
}

func (s Settings) HealthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckIntervalSeconds) * time.Second
}

func (s Settings) HealPollInterval() time.Duration {
	return time.Duration(s.HealPollIntervalMs) * time.Millisecond
}

func (s Settings) HealTimeout() time.Duration {
	return time.Duration(s.HealTimeoutMinutes) * time.Minute
}

func (s Settings) SyncTTL() time.Duration {
	return time.Duration(s.SyncTTLMinutes) * time.Minute
}

func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (s Settings) IsProduction() bool {
	return s.Environment == "production"
}

// Config is the shared, mutable view over Settings.
type Config struct {
	mu sync.RWMutex
	s  Settings
}

func New(s Settings) *Config {
	return &Config{s: s.withDefaults()}
}

// Snapshot returns a copy of the current settings. Components call
// this at operation time, never caching results across operations.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.s
}

// Update applies mutate atomically and refills defaults for any field
// the mutation zeroed.
func (c *Config) Update(mutate func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mutate(&c.s)
	c.s = c.s.withDefaults()
}

// Load builds a Config from ~/.cadence/config.toml plus CADENCE_*
// environment overrides. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(filepath.Join(homeDir, configDir))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return New(s), nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultSettings()

	v.SetDefault("environment", defaults.Environment)
	v.SetDefault("site_url", defaults.SiteURL)
	v.SetDefault("headless", defaults.Headless)
	v.SetDefault("debug_logging", defaults.DebugLogging)
	v.SetDefault("actions_per_minute", defaults.ActionsPerMinute)
	v.SetDefault("actions_per_hour", defaults.ActionsPerHour)
	v.SetDefault("min_action_delay_ms", defaults.MinActionDelayMs)
	v.SetDefault("max_action_delay_ms", defaults.MaxActionDelayMs)
	v.SetDefault("cooldown_min_ms", defaults.CooldownMinMs)
	v.SetDefault("cooldown_max_ms", defaults.CooldownMaxMs)
	v.SetDefault("queue_concurrency", defaults.QueueConcurrency)
	v.SetDefault("job_retention_minutes", defaults.JobRetentionMinutes)
	v.SetDefault("max_session_errors", defaults.MaxSessionErrors)
	v.SetDefault("health_check_interval_seconds", defaults.HealthCheckIntervalSeconds)
	v.SetDefault("heal_poll_interval_ms", defaults.HealPollIntervalMs)
	v.SetDefault("heal_timeout_minutes", defaults.HealTimeoutMinutes)
	v.SetDefault("control_plane_url", defaults.ControlPlaneURL)
	v.SetDefault("deployment_id", defaults.DeploymentID)
	v.SetDefault("sync_ttl_minutes", defaults.SyncTTLMinutes)
	v.SetDefault("request_timeout_seconds", defaults.RequestTimeoutSeconds)
	v.SetDefault("retry_attempts", defaults.RetryAttempts)
	v.SetDefault("typo_probability", defaults.TypoProbability)
	v.SetDefault("reading_wpm", defaults.ReadingWPM)
}
