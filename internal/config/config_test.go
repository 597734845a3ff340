package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 4, cfg.Crawler.Concurrency)
	require.Equal(t, 5, cfg.Crawler.DefaultMaxPages)
	require.Equal(t, 2, cfg.Crawler.DefaultMaxDepth)
	require.Equal(t, 20, cfg.Crawler.MaxPagesLimit)
	require.Equal(t, 5, cfg.Crawler.MaxDepthLimit)
	require.Equal(t, "gpt-4o-mini", cfg.Summarizer.Model)
	require.InDelta(t, 0.3, cfg.Summarizer.Temperature, 1e-6)
	require.Equal(t, 1500, cfg.Summarizer.MaxTokens)
	require.Equal(t, 3, cfg.Summarizer.MaxAttempts)
	require.Equal(t, StoreSQLite, cfg.Store.Provider)
	require.Equal(t, "summaries.db", cfg.Store.SQLitePath)
	require.Equal(t, ArtifactsNone, cfg.Artifacts.Provider)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, 2*time.Second, cfg.PollInterval())
	require.Equal(t, 10*time.Minute, cfg.JobTimeout())
	require.Equal(t, 30*time.Second, cfg.StoreWriteTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
server:
  port: 9090
  version: 2.1.0
logging:
  development: true
crawler:
  concurrency: 6
  max_pages_limit: 50
  default_max_pages: 10
headless:
  enabled: true
  max_parallel: 2
summarizer:
  model: gpt-4o
  max_attempts: 5
store:
  provider: Postgres
db:
  dsn: postgres://localhost/summaries
artifacts:
  provider: gcs
  gcs_bucket: docs-artifacts
pubsub:
  project_id: demo
  topic_name: summaries
cors:
  allowed_origins: ["https://app.example.com", "http://localhost:5173"]
`)
	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "2.1.0", cfg.Server.Version)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, 6, cfg.Crawler.Concurrency)
	require.Equal(t, 50, cfg.Crawler.MaxPagesLimit)
	require.Equal(t, 10, cfg.Crawler.DefaultMaxPages)
	require.True(t, cfg.Headless.Enabled)
	require.Equal(t, "gpt-4o", cfg.Summarizer.Model)
	require.Equal(t, StorePostgres, cfg.Store.Provider)
	require.Equal(t, "postgres://localhost/summaries", cfg.DB.DSN)
	require.Equal(t, ArtifactsGCS, cfg.Artifacts.Provider)
	require.Equal(t, "summaries", cfg.PubSub.TopicName)
	require.Equal(t, []string{"https://app.example.com", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
	require.ErrorContains(t, err, "read config")
}

// Environment tests mutate process state and cannot run in parallel.
func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SUMMARIZER_SERVER_PORT", "7070")
	t.Setenv("SUMMARIZER_CRAWLER_CONCURRENCY", "2")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("SUMMARIZER_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 2, cfg.Crawler.Concurrency)
	require.Equal(t, "sk-from-env", cfg.Summarizer.APIKey)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadReadsDotEnv(t *testing.T) {
	const key = "SUMMARIZER_SUMMARIZER_MODEL"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=gpt-4.1-mini\n")
	cfg, err := Load("", envFile)
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1-mini", cfg.Summarizer.Model)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("", noEnvFile(t))
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"http timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"default pages", func(c *Config) { c.Crawler.DefaultMaxPages = 21 }, "default_max_pages"},
		{"default depth", func(c *Config) { c.Crawler.DefaultMaxDepth = 0 }, "default_max_depth"},
		{"headless", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"attempts", func(c *Config) { c.Summarizer.MaxAttempts = 0 }, "max_attempts"},
		{"temperature", func(c *Config) { c.Summarizer.Temperature = 2.1 }, "temperature"},
		{"store", func(c *Config) { c.Store.Provider = "mongo" }, "store.provider"},
		{"sqlite path", func(c *Config) { c.Store.SQLitePath = " " }, "sqlite_path"},
		{"postgres dsn", func(c *Config) { c.Store.Provider = StorePostgres }, "db.dsn"},
		{"artifacts", func(c *Config) { c.Artifacts.Provider = "s3" }, "artifacts.provider"},
		{"gcs bucket", func(c *Config) { c.Artifacts.Provider = ArtifactsGCS }, "gcs_bucket"},
		{"pubsub", func(c *Config) { c.PubSub.TopicName = "t"; c.PubSub.ProjectID = "" }, "pubsub.project_id"},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		require.ErrorContains(t, cfg.Validate(), tc.want, tc.name)
	}
}
