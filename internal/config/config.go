// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store providers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Artifact providers.
const (
	ArtifactsNone   = "none"
	ArtifactsMemory = "memory"
	ArtifactsLocal  = "local"
	ArtifactsGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Store      StoreConfig      `mapstructure:"store"`
	DB         DBConfig         `mapstructure:"db"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	Version                string `mapstructure:"version"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the runner pool and crawl bounds.
type CrawlerConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	UserAgent           string  `mapstructure:"user_agent"`
	RespectRobots       bool    `mapstructure:"respect_robots"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
	MaxBodyBytes        int     `mapstructure:"max_body_bytes"`
	DefaultMaxPages     int     `mapstructure:"default_max_pages"`
	DefaultMaxDepth     int     `mapstructure:"default_max_depth"`
	MaxPagesLimit       int     `mapstructure:"max_pages_limit"`
	MaxDepthLimit       int     `mapstructure:"max_depth_limit"`
	QueueDepth          int     `mapstructure:"queue_depth"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	JobTimeoutSeconds   int     `mapstructure:"job_timeout_seconds"`
}

// HTTPConfig configures the static HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinTextChars  int  `mapstructure:"min_text_chars"`
}

// SummarizerConfig configures the model call and its retry envelope.
type SummarizerConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Temperature       float32 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	MaxInputChars     int     `mapstructure:"max_input_chars"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// StoreConfig selects the JobStore backend.
type StoreConfig struct {
	Provider            string `mapstructure:"provider"`
	SQLitePath          string `mapstructure:"sqlite_path"`
	BusyTimeoutMs       int    `mapstructure:"busy_timeout_ms"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArtifactsConfig selects where rendered summaries are exported.
type ArtifactsConfig struct {
	Provider  string `mapstructure:"provider"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load builds a Config from an optional .env file, an optional YAML file and
// the environment. envFiles default to ".env"; missing files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("SUMMARIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
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
	cfg.Store.Provider = strings.ToLower(strings.TrimSpace(cfg.Store.Provider))
	cfg.Artifacts.Provider = strings.ToLower(strings.TrimSpace(cfg.Artifacts.Provider))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindAliases lets the conventional unprefixed variables fill secrets.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"summarizer.api_key": {"SUMMARIZER_SUMMARIZER_API_KEY", "OPENAI_API_KEY"},
		"db.dsn":             {"SUMMARIZER_DB_DSN", "DATABASE_URL"},
		"pubsub.project_id":  {"SUMMARIZER_PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.version", "dev")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "docs-summarizer/0.1 (+https://github.com/JakeFAU/docs-summarizer)")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("crawler.default_max_pages", 5)
	v.SetDefault("crawler.default_max_depth", 2)
	v.SetDefault("crawler.max_pages_limit", 20)
	v.SetDefault("crawler.max_depth_limit", 5)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.poll_interval_seconds", 2)
	v.SetDefault("crawler.job_timeout_seconds", 600)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_text_chars", 200)
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.base_url", "")
	v.SetDefault("summarizer.model", "gpt-4o-mini")
	v.SetDefault("summarizer.temperature", 0.3)
	v.SetDefault("summarizer.max_tokens", 1500)
	v.SetDefault("summarizer.max_input_chars", 12000)
	v.SetDefault("summarizer.timeout_seconds", 60)
	v.SetDefault("summarizer.max_attempts", 3)
	v.SetDefault("summarizer.backoff_initial_ms", 500)
	v.SetDefault("summarizer.backoff_max_ms", 8000)
	v.SetDefault("summarizer.requests_per_second", 0.0)
	v.SetDefault("store.provider", StoreSQLite)
	v.SetDefault("store.sqlite_path", "summaries.db")
	v.SetDefault("store.busy_timeout_ms", 5000)
	v.SetDefault("store.write_timeout_seconds", 30)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("artifacts.provider", ArtifactsNone)
	v.SetDefault("artifacts.prefix", "summaries")
	v.SetDefault("artifacts.base_dir", "exports")
	v.SetDefault("artifacts.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxPagesLimit < 1 || c.Crawler.MaxDepthLimit < 1 {
		return errors.New("crawler.max_pages_limit and crawler.max_depth_limit must be >= 1")
	}
	if c.Crawler.DefaultMaxPages < 1 || c.Crawler.DefaultMaxPages > c.Crawler.MaxPagesLimit {
		return fmt.Errorf("crawler.default_max_pages must be between 1 and %d", c.Crawler.MaxPagesLimit)
	}
	if c.Crawler.DefaultMaxDepth < 1 || c.Crawler.DefaultMaxDepth > c.Crawler.MaxDepthLimit {
		return fmt.Errorf("crawler.default_max_depth must be between 1 and %d", c.Crawler.MaxDepthLimit)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Summarizer.MaxAttempts <= 0 {
		return errors.New("summarizer.max_attempts must be > 0")
	}
	if c.Summarizer.Temperature < 0 || c.Summarizer.Temperature > 2 {
		return errors.New("summarizer.temperature must be between 0 and 2")
	}
	switch c.Store.Provider {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path must be set for the sqlite store")
		}
	case StorePostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set for the postgres store")
		}
	default:
		return fmt.Errorf("store.provider %q is not one of memory, sqlite, postgres", c.Store.Provider)
	}
	switch c.Artifacts.Provider {
	case ArtifactsNone, ArtifactsMemory:
	case ArtifactsLocal:
		if c.Artifacts.BaseDir == "" {
			return errors.New("artifacts.base_dir must be set for local artifacts")
		}
	case ArtifactsGCS:
		if c.Artifacts.GCSBucket == "" {
			return errors.New("artifacts.gcs_bucket must be set for gcs artifacts")
		}
	default:
		return fmt.Errorf("artifacts.provider %q is not one of none, memory, local, gcs", c.Artifacts.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout is the per-request timeout of the static fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// PollInterval is how often an idle runner re-checks the store.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalSeconds) * time.Second
}

// StoreWriteTimeout bounds recording a job's outcome once its stages end.
func (c Config) StoreWriteTimeout() time.Duration {
	return time.Duration(c.Store.WriteTimeoutSeconds) * time.Second
}

// JobTimeout caps one job's crawl and summarization.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Crawler.JobTimeoutSeconds) * time.Second
}
