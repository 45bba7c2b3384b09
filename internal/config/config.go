// Package config provides configuration loading and management for the
// repository processing core.
//
// # Configuration Loading Priority
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Explicit --config flag path
//  2. REPOCORE_CONFIG environment variable
//  3. Default search paths (in order):
//     - ./config.yaml (current directory)
//     - ~/.repocore/config.yaml
//     - ~/.config/repocore/config.yaml
//
// When an explicit config path is provided via --config flag or REPOCORE_CONFIG
// environment variable, the file must exist or loading will fail. Default search
// paths are optional - if no config file is found, defaults are used.
//
// Environment variables with the REPOCORE_ prefix override configuration values,
// e.g. REPOCORE_MAX_RETRY_ATTEMPTS.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/repocore/repocore/internal/corerr"
)

// Config holds the global configuration for the repository processing core.
type Config struct {
	// RepositoriesDirectory is the root under which every repository's working
	// tree is checked out, as {RepositoriesDirectory}/{org}/{repo}/tree.
	RepositoriesDirectory string `mapstructure:"repositories_directory"`
	// CleanupAfterProcessing is loaded and defaulted, but no component reads
	// it: the Processing Worker calls Cleanup after every branch pass, and
	// gitx.Manager.Cleanup always removes the working directory.
	CleanupAfterProcessing bool `mapstructure:"cleanup_after_processing"`
	// MaxRetryAttempts bounds both the workspace manager's fixed-backoff retry
	// and the incremental service's exponential-backoff retry.
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
	// RetryDelayMs is the fixed delay between workspace manager clone/fetch
	// retries.
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
	// PollingIntervalSeconds is the Incremental Update Scheduler's tick period.
	PollingIntervalSeconds int `mapstructure:"polling_interval_seconds"`
	// DefaultUpdateIntervalMinutes is used for repositories with no explicit
	// per-repository update interval.
	DefaultUpdateIntervalMinutes int `mapstructure:"default_update_interval_minutes"`
	// MinUpdateIntervalMinutes is the lower bound Validate applies to
	// DefaultUpdateIntervalMinutes; per-repository intervals are not checked
	// against it.
	MinUpdateIntervalMinutes int `mapstructure:"min_update_interval_minutes"`
	// RetryBaseDelayMs is the base of the incremental service's exponential
	// backoff (baseDelayMs * 2^(attempt-1)).
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	// ManualTriggerPriority is the task priority assigned to manually
	// triggered incremental updates.
	ManualTriggerPriority int `mapstructure:"manual_trigger_priority"`
	// PlatformToken is the global, process-wide fallback credential used when
	// a repository has neither a per-repo credential nor an installation
	// token.
	PlatformToken string `mapstructure:"platform_token"`

	// DatabasePath is the SQLite database file backing the store.
	DatabasePath string `mapstructure:"database_path"`
	// HTTPAddr is the listen address for the processing-log polling surface.
	HTTPAddr string `mapstructure:"http_addr"`
	// LogLevel controls the charmbracelet/log level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`
	// StartupSweepAgeMinutes is how stale a Processing task must be, measured
	// from startedAt, before the startup sweep resets it to Pending.
	StartupSweepAgeMinutes int `mapstructure:"startup_sweep_age_minutes"`
	// InsecureSkipTLSVerify disables certificate verification for Git
	// transports, to tolerate inspection proxies. Defaults to true to match
	// the documented source behavior; set false for hardened deployments.
	InsecureSkipTLSVerify bool `mapstructure:"insecure_skip_tls_verify"`

	Warnings []string `mapstructure:"-"`
}

func defaultRepositoriesDirectory() string {
	if runtime.GOOS == "windows" {
		return `C:\data`
	}

	return "/data"
}

// Load initializes and loads the configuration.
// Priority order: configPath parameter > REPOCORE_CONFIG env > default locations.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, corerr.NewIOFailed("get user home dir", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	explicitConfigPath := false

	switch {
	case configPath != "":
		v.SetConfigFile(expandPath(configPath, home))
		explicitConfigPath = true
	case os.Getenv("REPOCORE_CONFIG") != "":
		v.SetConfigFile(expandPath(os.Getenv("REPOCORE_CONFIG"), home))
		explicitConfigPath = true
	default:
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".repocore"))
		v.AddConfigPath(filepath.Join(home, ".config", "repocore"))
	}

	v.SetDefault("repositories_directory", defaultRepositoriesDirectory())
	v.SetDefault("cleanup_after_processing", false)
	v.SetDefault("max_retry_attempts", 3)
	v.SetDefault("retry_delay_ms", 1000)
	v.SetDefault("polling_interval_seconds", 60)
	v.SetDefault("default_update_interval_minutes", 60)
	v.SetDefault("min_update_interval_minutes", 5)
	v.SetDefault("retry_base_delay_ms", 1000)
	v.SetDefault("manual_trigger_priority", 100)
	v.SetDefault("platform_token", "")

	v.SetDefault("database_path", filepath.Join(home, ".repocore", "repocore.db"))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("startup_sweep_age_minutes", 30)
	v.SetDefault("insecure_skip_tls_verify", true)

	v.SetEnvPrefix("REPOCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if explicitConfigPath {
				return nil, corerr.NewIOFailed("read config file", fmt.Errorf("config file not found: %s", v.ConfigFileUsed()))
			}
		} else {
			return nil, corerr.NewIOFailed("read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, corerr.NewConfigInvalid("config", fmt.Sprintf("failed to unmarshal: %v", err))
	}

	cfg.RepositoriesDirectory = expandPath(cfg.RepositoriesDirectory, home)
	cfg.DatabasePath = expandPath(cfg.DatabasePath, home)

	return &cfg, nil
}

func expandPath(path, home string) string {
	if path == "~" {
		return home
	}

	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(home, path[2:])
	}

	return path
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.RepositoriesDirectory == "" {
		return corerr.NewConfigInvalid("repositories_directory", "must not be empty")
	}

	if c.MaxRetryAttempts < 1 {
		return corerr.NewConfigInvalid("max_retry_attempts", "must be at least 1")
	}

	if c.RetryDelayMs < 0 {
		return corerr.NewConfigInvalid("retry_delay_ms", "must not be negative")
	}

	if c.RetryBaseDelayMs < 0 {
		return corerr.NewConfigInvalid("retry_base_delay_ms", "must not be negative")
	}

	if c.PollingIntervalSeconds < 1 {
		return corerr.NewConfigInvalid("polling_interval_seconds", "must be at least 1")
	}

	if c.MinUpdateIntervalMinutes < 1 {
		return corerr.NewConfigInvalid("min_update_interval_minutes", "must be at least 1")
	}

	if c.DefaultUpdateIntervalMinutes < c.MinUpdateIntervalMinutes {
		return corerr.NewConfigInvalid("default_update_interval_minutes", "must be at least min_update_interval_minutes")
	}

	if c.DatabasePath == "" {
		return corerr.NewConfigInvalid("database_path", "must not be empty")
	}

	if c.HTTPAddr == "" {
		return corerr.NewConfigInvalid("http_addr", "must not be empty")
	}

	if c.StartupSweepAgeMinutes < 1 {
		return corerr.NewConfigInvalid("startup_sweep_age_minutes", "must be at least 1")
	}

	return nil
}
