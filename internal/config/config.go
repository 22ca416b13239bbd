// Package config loads crewmux settings from a config file, the
// environment, and built-in defaults, in that order of precedence
// (highest first: explicit flags handled by the CLI layer, then env,
// then file, then defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved crewmux configuration.
type Config struct {
	RootDir string `mapstructure:"root_dir"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Heartbeat struct {
		MaxAgeSeconds int `mapstructure:"max_age_seconds"`
	} `mapstructure:"heartbeat"`

	Nudge struct {
		IdleDelaySeconds    int `mapstructure:"idle_delay_seconds"`
		MaxNudges           int `mapstructure:"max_nudges"`
		ScanIntervalSeconds int `mapstructure:"scan_interval_seconds"`
	} `mapstructure:"nudge"`

	Shutdown struct {
		GraceSeconds int `mapstructure:"grace_seconds"`
	} `mapstructure:"shutdown"`

	Task struct {
		MaxRetries int `mapstructure:"max_retries"`
	} `mapstructure:"task"`

	Worker struct {
		PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
		Command             string `mapstructure:"command"`
	} `mapstructure:"worker"`

	Usage struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"usage"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.RootDir = defaultRootDir()
	cfg.Logging.Level = "info"
	cfg.Heartbeat.MaxAgeSeconds = 30
	cfg.Nudge.IdleDelaySeconds = 30
	cfg.Nudge.MaxNudges = 3
	cfg.Nudge.ScanIntervalSeconds = 5
	cfg.Shutdown.GraceSeconds = 5
	cfg.Task.MaxRetries = 2
	cfg.Worker.PollIntervalSeconds = 5
	cfg.Worker.Command = "crewmux worker"
	cfg.Usage.Enabled = true
	return cfg
}

func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crewmux"
	}
	return filepath.Join(home, ".crewmux")
}

// SetDefaults registers the defaults with a viper instance.
func SetDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("root_dir", defaults.RootDir)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("heartbeat.max_age_seconds", defaults.Heartbeat.MaxAgeSeconds)
	v.SetDefault("nudge.idle_delay_seconds", defaults.Nudge.IdleDelaySeconds)
	v.SetDefault("nudge.max_nudges", defaults.Nudge.MaxNudges)
	v.SetDefault("nudge.scan_interval_seconds", defaults.Nudge.ScanIntervalSeconds)
	v.SetDefault("shutdown.grace_seconds", defaults.Shutdown.GraceSeconds)
	v.SetDefault("task.max_retries", defaults.Task.MaxRetries)
	v.SetDefault("worker.poll_interval_seconds", defaults.Worker.PollIntervalSeconds)
	v.SetDefault("worker.command", defaults.Worker.Command)
	v.SetDefault("usage.enabled", defaults.Usage.Enabled)
}

// Load reads configuration from configPath (or the default location
// when empty), the CREWMUX_* environment, and the defaults. A missing
// config file is fine; a malformed one is an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("CREWMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultRootDir())
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}
