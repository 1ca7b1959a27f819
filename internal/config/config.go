// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// Provider names accepted by the database, archive and notify sections.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPubSub   = "pubsub"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DatabaseConfig `mapstructure:"database"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// GitHubConfig controls the GraphQL client.
type GitHubConfig struct {
	Token     string        `mapstructure:"token"`
	Endpoint  string        `mapstructure:"endpoint"`
	Query     string        `mapstructure:"query"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond caps outgoing requests. Zero disables the cap.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig controls where repositories, checkpoints and runs live.
type DatabaseConfig struct {
	Provider        string        `mapstructure:"provider"`
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	VerifySchema    bool          `mapstructure:"verify_schema"`
	RepositoryTable string        `mapstructure:"repository_table"`
	CheckpointTable string        `mapstructure:"checkpoint_table"`
	RunTable        string        `mapstructure:"run_table"`
}

// CrawlerConfig mirrors harvest.Options.
type CrawlerConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	TargetCount       int           `mapstructure:"target_count"`
	Pause             time.Duration `mapstructure:"pause"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryStrategy     string        `mapstructure:"retry_strategy"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RateLimitMargin   time.Duration `mapstructure:"rate_limit_margin"`
	RateLimitLowWater int           `mapstructure:"rate_limit_low_water"`
}

// ArchiveConfig selects where raw page snapshots go.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects where run summaries are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry spans, which are logged at debug level.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("github.token", "HARVESTER_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind github token: %w", err)
	}
	if err := v.BindEnv("database.url", "HARVESTER_DATABASE_URL", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind database url: %w", err)
	}

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
	d := harvest.DefaultOptions()
	v.SetDefault("github.endpoint", "https://api.github.com/graphql")
	v.SetDefault("github.query", d.Query)
	v.SetDefault("github.user_agent", "repo-harvester/0.1")
	v.SetDefault("github.timeout", 30*time.Second)
	v.SetDefault("github.requests_per_second", 0)
	v.SetDefault("github.burst", 1)
	v.SetDefault("database.provider", ProviderPostgres)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.verify_schema", true)
	v.SetDefault("database.repository_table", "repositories")
	v.SetDefault("database.checkpoint_table", "crawl_checkpoints")
	v.SetDefault("database.run_table", "crawl_runs")
	v.SetDefault("crawler.page_size", d.PageSize)
	v.SetDefault("crawler.target_count", d.Target)
	v.SetDefault("crawler.pause", d.Pause)
	v.SetDefault("crawler.retry_backoff", d.RetryBackoff)
	v.SetDefault("crawler.retry_strategy", d.RetryStrategy)
	v.SetDefault("crawler.max_retries", d.MaxRetries)
	v.SetDefault("crawler.rate_limit_margin", d.RateLimitMargin)
	v.SetDefault("crawler.rate_limit_low_water", d.LowWater)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.topic", "harvest-runs")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "repo-harvester")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// HarvestOptions converts the crawler and github sections into engine options.
func (c Config) HarvestOptions() harvest.Options {
	return harvest.Options{
		Query:           c.GitHub.Query,
		PageSize:        c.Crawler.PageSize,
		Target:          c.Crawler.TargetCount,
		Pause:           c.Crawler.Pause,
		RetryBackoff:    c.Crawler.RetryBackoff,
		RetryStrategy:   c.Crawler.RetryStrategy,
		MaxRetries:      c.Crawler.MaxRetries,
		RateLimitMargin: c.Crawler.RateLimitMargin,
		LowWater:        c.Crawler.RateLimitLowWater,
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.GitHub.Token) == "" {
		return fmt.Errorf("github.token is required (set GITHUB_TOKEN)")
	}
	if strings.TrimSpace(c.GitHub.Query) == "" {
		return fmt.Errorf("github.query must not be empty")
	}
	if c.GitHub.Timeout <= 0 {
		return fmt.Errorf("github.timeout must be > 0")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	switch c.Database.Provider {
	case ProviderPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("database.url is required (set DATABASE_URL)")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("database.provider must be %q or %q", ProviderPostgres, ProviderMemory)
	}
	if err := c.HarvestOptions().Validate(); err != nil {
		return err
	}
	switch c.Archive.Provider {
	case ProviderNone, "", ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case ProviderNone, "", ProviderMemory:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("notify.provider %q is not supported", c.Notify.Provider)
	}
	return nil
}
