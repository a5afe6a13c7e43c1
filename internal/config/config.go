// Package config loads and validates scout configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Priority PriorityConfig `mapstructure:"priority"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig controls the persistence backend. Backend "memory"
// needs no DSN; "postgres" requires one.
type DatabaseConfig struct {
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	JobsTable       string `mapstructure:"jobs_table"`
	PagesTable      string `mapstructure:"pages_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ProviderConfig configures the hosted scrape provider.
type ProviderConfig struct {
	Token          string `mapstructure:"token"`
	BaseURL        string `mapstructure:"base_url"`
	ProfileActor   string `mapstructure:"profile_actor"`
	FollowingActor string `mapstructure:"following_actor"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// WorkerConfig governs the execution loop.
type WorkerConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	MinCoverage         float64 `mapstructure:"min_coverage"`
}

// ReaperConfig governs the stuck-job sweep.
type ReaperConfig struct {
	IntervalSeconds   int  `mapstructure:"interval_seconds"`
	StaleAfterMinutes int  `mapstructure:"stale_after_minutes"`
	FailStale         bool `mapstructure:"fail_stale"`
}

// PriorityConfig tunes the target classifier.
type PriorityConfig struct {
	Keywords        []string `mapstructure:"keywords"`
	ClientThreshold int      `mapstructure:"client_threshold"`
}

// ArchiveConfig selects where raw payloads land.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig holds metadata for completion event publishing.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.jobs_table", "scrape_jobs")
	v.SetDefault("database.pages_table", "pages")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("provider.timeout_seconds", 300)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval_seconds", 2)
	v.SetDefault("worker.min_coverage", 0.5)
	v.SetDefault("reaper.interval_seconds", 60)
	v.SetDefault("reaper.stale_after_minutes", 10)
	v.SetDefault("reaper.fail_stale", false)
	v.SetDefault("priority.client_threshold", 2)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "scrapes")
	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.topic", "scout.jobs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MinCoverage <= 0 || c.Worker.MinCoverage > 1 {
		return fmt.Errorf("worker.min_coverage must be in (0, 1]")
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown database.backend %q", c.Database.Backend)
	}
	switch c.Archive.Backend {
	case "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	switch c.Events.Backend {
	case "memory":
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ProviderTimeout returns the provider call budget as a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// PollInterval returns the worker poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

// ReaperInterval returns the sweep period as a duration.
func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}

// StaleAfter returns the stuck-job threshold as a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Reaper.StaleAfterMinutes) * time.Minute
}

// ServerTimeout returns the HTTP request budget as a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ConnLifetime returns the pool connection lifetime as a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.Database.ConnLifetimeMin) * time.Minute
}
