// Package config loads ledgersync configuration from file, environment
// and defaults.
//
// Lookup order: explicit --config path, then ledgersync.yaml in the
// working directory, then $HOME/.ledgersync/. Every key can be
// overridden through the environment with the LEDGERSYNC_ prefix
// (LEDGERSYNC_REMOTE_BASE_URL, LEDGERSYNC_ENGINE_WORKERS, ...).
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/breaker"
	"github.com/kedarsarang7-eng/ledgersync/internal/sync/retry"
)

// Config is the full daemon configuration.
type Config struct {
	// Owner is the tenant identifier all operations sync under.
	Owner string `mapstructure:"owner"`

	// Device attributes this installation's mutations.
	Device string `mapstructure:"device"`

	// DBPath is the SQLite file holding the queue and checkpoint.
	DBPath string `mapstructure:"db_path"`

	// OutboxDir is the directory watched for operation files.
	OutboxDir string `mapstructure:"outbox_dir"`

	// SchemaFile optionally extends the built-in collection schemas.
	SchemaFile string `mapstructure:"schema_file"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig describes the remote store endpoint.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EngineConfig tunes the dispatch loop.
type EngineConfig struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	Interval      time.Duration `mapstructure:"interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RetryConfig tunes the backoff schedule.
type RetryConfig struct {
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	JitterFraction      float64       `mapstructure:"jitter_fraction"`
	DeadLetterThreshold int           `mapstructure:"dead_letter_threshold"`
}

// BreakerConfig tunes the availability circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// DashboardConfig controls the WebSocket status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls the rotating daemon log.
type LogConfig struct {
	// File is the log path. Empty logs to stderr without rotation.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RetryPolicy converts the retry section into an engine policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:           c.Retry.BaseDelay,
		MaxDelay:            c.Retry.MaxDelay,
		JitterFraction:      c.Retry.JitterFraction,
		DeadLetterThreshold: c.Retry.DeadLetterThreshold,
	}
}

// BreakerConfig converts the breaker section into an engine config.
func (c *Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		Window:           c.Breaker.Window,
		CoolDown:         c.Breaker.CoolDown,
	}
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so environment overrides are
	// visible to Unmarshal.
	v.SetDefault("owner", "")
	v.SetDefault("schema_file", "")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("log.file", "")

	v.SetDefault("device", hostnameOr("device"))
	v.SetDefault("db_path", ".ledgersync/queue.db")
	v.SetDefault("outbox_dir", ".ledgersync/outbox")

	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("engine.workers", 3)
	v.SetDefault("engine.batch_size", 25)
	v.SetDefault("engine.interval", 15*time.Second)
	v.SetDefault("engine.sweep_interval", 10*time.Minute)

	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 5*time.Minute)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.dead_letter_threshold", 5)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", time.Minute)
	v.SetDefault("breaker.cool_down", 30*time.Second)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8471)

	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads the configuration. path may be empty to use the standard
// lookup locations; a missing config file is not an error, defaults
// and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledgersync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.ledgersync")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a running daemon cannot default.
func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner is required (set owner: in the config or LEDGERSYNC_OWNER)")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}

// NewLogger builds the daemon logger. With a log file configured the
// output rotates via lumberjack; otherwise it goes to stderr.
func (c *Config) NewLogger(prefix string) (*log.Logger, io.Closer) {
	if c.Log.File == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAgeDays,
		Compress:   true,
	}
	return log.New(rotator, prefix, log.LstdFlags), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func hostnameOr(fallback string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
