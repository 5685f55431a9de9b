// Package config loads jobstore settings from config.yaml and JOBSTORE_*
// environment variables, and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Retention  RetentionConfig  `yaml:"retention" mapstructure:"retention"`
	DLQ        DLQConfig        `yaml:"dlq" mapstructure:"dlq"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres connection pool.
type StoreConfig struct {
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	PoolSize          int32  `yaml:"pool_size" mapstructure:"pool_size"`
	MinConns          int32  `yaml:"min_conns" mapstructure:"min_conns"`
	BorrowTimeoutSecs int    `yaml:"borrow_timeout_secs" mapstructure:"borrow_timeout_secs"`
}

// BorrowTimeout returns the connection borrow timeout.
func (c StoreConfig) BorrowTimeout() time.Duration {
	return time.Duration(c.BorrowTimeoutSecs) * time.Second
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	ChunkSize     int `yaml:"chunk_size" mapstructure:"chunk_size"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MergeConfig configures duplicate clustering.
type MergeConfig struct {
	TitleSimilarity float64 `yaml:"title_similarity" mapstructure:"title_similarity"`
}

// RetentionConfig configures the sweep of stale records.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// Window returns the retention period.
func (c RetentionConfig) Window() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// DLQConfig configures the local dead-letter spool.
type DLQConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// FetchConfig configures remote candidate sources.
type FetchConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures background health checks and webhook alerts.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DLQDepthThreshold   int    `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	AlertOnStall        bool   `yaml:"alert_on_stall" mapstructure:"alert_on_stall"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("JOBSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool_size", 5)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.borrow_timeout_secs", 5)
	v.SetDefault("ingest.chunk_size", 50)
	v.SetDefault("ingest.retry_attempts", 2)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("merge.title_similarity", 0.85)
	v.SetDefault("retention.days", 90)
	v.SetDefault("dlq.path", "jobstore-dlq.db")
	v.SetDefault("dlq.max_retries", 3)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5.0)
	v.SetDefault("fetch.user_agent", "jobstore/1.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.dlq_depth_threshold", 100)
	v.SetDefault("monitoring.alert_on_stall", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode "store"
// additionally requires a database URL; "serve" requires that plus a port.
// Every problem found is reported in one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "base":
	case "store":
		problems = append(problems, c.storeProblems()...)
	case "serve":
		problems = append(problems, c.storeProblems()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Ingest.ChunkSize < 1 {
		problems = append(problems, "ingest.chunk_size must be >= 1")
	}
	if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 32 {
		problems = append(problems, "ingest.concurrency must be between 1 and 32")
	}
	if c.Ingest.RetryAttempts < 1 {
		problems = append(problems, "ingest.retry_attempts must be >= 1")
	}
	if c.Merge.TitleSimilarity <= 0 || c.Merge.TitleSimilarity > 1 {
		problems = append(problems, "merge.title_similarity must be in (0, 1]")
	}
	if c.Retention.Days < 1 {
		problems = append(problems, "retention.days must be >= 1")
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.CheckIntervalSecs < 1 {
			problems = append(problems, "monitoring.check_interval_secs must be >= 1")
		}
		if c.Monitoring.LookbackWindowHours < 1 {
			problems = append(problems, "monitoring.lookback_window_hours must be >= 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	var out []string
	if c.Store.DatabaseURL == "" {
		out = append(out, "store.database_url is required")
	}
	if c.Store.PoolSize < 1 {
		out = append(out, "store.pool_size must be >= 1")
	}
	if c.Store.MinConns < 0 || c.Store.MinConns > c.Store.PoolSize {
		out = append(out, "store.min_conns must be between 0 and store.pool_size")
	}
	if c.Store.BorrowTimeoutSecs < 1 {
		out = append(out, "store.borrow_timeout_secs must be >= 1")
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
