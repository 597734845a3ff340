package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/config"
	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/dispatcher"
	"github.com/JakeFAU/docs-summarizer/internal/storage/sqlite"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	cfg.Store.Provider = config.StoreMemory
	cfg.Artifacts.Provider = config.ArtifactsMemory
	cfg.PubSub = config.PubSubConfig{}
	cfg.Summarizer.APIKey = ""
	cfg.Crawler.RequestsPerSecond = 0
	cfg.Crawler.Concurrency = 2
	return cfg
}

func docsSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/": `<html><head><title>Acme SDK Docs</title></head><body>
			<nav>skip me</nav><main><h1>Acme SDK</h1><p>Install with go get.</p>
			<a href="/guide">Guide</a><a href="/logo.png">logo</a></main></body></html>`,
		"/guide": `<html><head><title>Guide</title></head><body><main>
			<p>Call client.Do to send a request.</p></main></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatServer(t *testing.T, seen chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Messages) > 1 {
			select {
			case seen <- req.Messages[1].Content:
			default:
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "## Overview\nAcme SDK sends requests."},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	site := docsSite(t)
	prompts := make(chan string, 1)
	chat := chatServer(t, prompts)

	cfg := baseConfig(t)
	cfg.Summarizer.APIKey = "test-key"
	cfg.Summarizer.BaseURL = chat.URL + "/v1"
	cfg.Crawler.PollIntervalSeconds = 1

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	d, err := a.Pipeline()
	require.NoError(t, err)
	require.Equal(t, 2, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	depth := 1
	job, err := d.Submit(ctx, dispatcher.JobRequest{URL: site.URL + "/", MaxDepth: &depth})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := a.Store().GetJob(context.Background(), job.ID)
		return err == nil && got.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	got, err := a.Store().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status, "job error: %+v", got.Error)
	require.Equal(t, 2, got.Counters.PagesCrawled)

	summaries, err := a.Store().ListSummaries(context.Background(), crawler.SummaryQuery{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "Acme SDK Docs", summaries[0].Title)
	require.Equal(t, "## Overview\nAcme SDK sends requests.", summaries[0].Summary)
	require.Contains(t, summaries[0].Content, "Call client.Do")
	require.NotContains(t, summaries[0].Content, "skip me")
	require.True(t, strings.HasPrefix(summaries[0].ArtifactURI, "memory://summaries/summary_"))

	prompt := <-prompts
	require.Contains(t, prompt, "Install with go get.")
}

func TestPipelineRequiresAPIKey(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Pipeline()
	require.ErrorContains(t, err, "api key")
}

func TestAdminServesWithoutRunners(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	d := a.Admin()
	require.Zero(t, d.Size())

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"url":"https://docs.example.com"}`)
	a.Server(d).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrape", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs, err := a.Store().ListJobs(context.Background(), crawler.JobQuery{Status: crawler.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestSQLiteStoreAndMigrate(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Store.Provider = config.StoreSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "summaries.db")
	cfg.Artifacts.Provider = config.ArtifactsLocal
	cfg.Artifacts.BaseDir = filepath.Join(t.TempDir(), "exports")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.IsType(t, &sqlite.Store{}, a.Store())
	require.NoError(t, a.Migrate(context.Background()))
}

func TestMemoryStoreHasNothingToMigrate(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Migrate(context.Background()))
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Store.Provider = "mongo"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown store provider")

	cfg = baseConfig(t)
	cfg.Artifacts.Provider = "s3"
	_, err = New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown artifacts provider")
}
