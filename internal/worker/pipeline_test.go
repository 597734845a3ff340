package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/extract"
	"github.com/JakeFAU/docs-summarizer/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/docs-summarizer/internal/publisher/memory"
	"github.com/JakeFAU/docs-summarizer/internal/storage/sqlite"
	"github.com/JakeFAU/docs-summarizer/internal/storage/storetest"
	"github.com/JakeFAU/docs-summarizer/internal/summarizer"
)

// blockingCrawler returns result, or waits for ctx to end when block is set.
type blockingCrawler struct {
	result crawler.CrawlResult
	block  bool
}

func (b blockingCrawler) Crawl(ctx context.Context, _ crawler.JobParameters) (crawler.CrawlResult, error) {
	if b.block {
		<-ctx.Done()
		return crawler.CrawlResult{}, ctx.Err()
	}
	return b.result, nil
}

// flakySummarizer fails with ErrRateLimited for the first failures calls.
type flakySummarizer struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySummarizer) Summarize(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", summarizer.ErrRateLimited
	}
	return "## Overview\nWallets.", nil
}

func openSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	clock := storetest.NewClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	store, err := sqlite.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "summaries.db")}, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sqliteRunner(store *sqlite.Store, crawl crawler.PageCrawler, s crawler.Summarizer, pub *pubmemory.Publisher, jobTimeout time.Duration) *Runner {
	return New("runner-1", Deps{
		Store:      store,
		Crawler:    crawl,
		Text:       extract.New(),
		Summarizer: s,
		Hasher:     sha256.New(),
		Clock:      storetest.NewClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)),
		Publisher:  pub,
	}, Config{Topic: "job-events", JobTimeout: jobTimeout}, zap.NewNop())
}

func TestJobTimeoutIsRecordedAsFailure(t *testing.T) {
	t.Parallel()

	docs := crawler.CrawlResult{Pages: []crawler.Page{page("https://docs.example.com/", docsHTML, 0)}}
	waitForDeadline := summarizeFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	cases := map[string]struct {
		crawl      crawler.PageCrawler
		summarizer crawler.Summarizer
		kind       crawler.ErrorKind
	}{
		"crawl stage": {
			crawl:      blockingCrawler{block: true},
			summarizer: staticSummary("unused"),
			kind:       crawler.KindCrawl,
		},
		"summarize stage": {
			crawl:      blockingCrawler{result: docs},
			summarizer: waitForDeadline,
			kind:       crawler.KindSummarization,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := openSQLite(t)
			pub := pubmemory.New()
			job, err := store.CreateJob(context.Background(), crawler.JobParameters{
				URL: "https://docs.example.com/", MaxPages: 5, MaxDepth: 2,
			})
			require.NoError(t, err)

			processed, err := sqliteRunner(store, tc.crawl, tc.summarizer, pub, 50*time.Millisecond).
				RunOnce(context.Background())
			require.True(t, processed)
			require.ErrorIs(t, err, context.DeadlineExceeded)

			got, err := store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			require.Equal(t, crawler.JobStatusFailed, got.Status)
			require.NotNil(t, got.Error)
			require.Equal(t, tc.kind, got.Error.Kind)
			require.Contains(t, got.Error.Message, "deadline exceeded")

			summaries, err := store.ListSummaries(context.Background(), crawler.SummaryQuery{})
			require.NoError(t, err)
			require.Empty(t, summaries)

			msgs := pub.Messages()
			require.Len(t, msgs, 1)
			require.Equal(t, crawler.JobStatusFailed, msgs[0].Payload.(crawler.CompletionEvent).Status)
		})
	}
}

func TestRateLimitedSummarizerStillCompletesJob(t *testing.T) {
	t.Parallel()

	store := openSQLite(t)
	job, err := store.CreateJob(context.Background(), crawler.JobParameters{
		URL: "https://docs.example.com/", MaxPages: 5, MaxDepth: 2,
	})
	require.NoError(t, err)

	backend := &flakySummarizer{failures: 2}
	retrying := summarizer.NewRetrying(backend,
		summarizer.NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond),
		summarizer.RetryConfig{}, nil)
	docs := crawler.CrawlResult{Pages: []crawler.Page{page("https://docs.example.com/", docsHTML, 0)}}

	processed, err := sqliteRunner(store, blockingCrawler{result: docs}, retrying, pubmemory.New(), time.Minute).
		RunOnce(context.Background())
	require.True(t, processed)
	require.NoError(t, err)
	require.Equal(t, 3, backend.calls)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Nil(t, got.Error)

	summaries, err := store.ListSummaries(context.Background(), crawler.SummaryQuery{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "## Overview\nWallets.", summaries[0].Summary)
	require.Equal(t, job.ID, summaries[0].JobID)
}

func TestWriteTimeoutDefault(t *testing.T) {
	t.Parallel()

	r := New("runner-1", Deps{}, Config{}, nil)
	require.Equal(t, 30*time.Second, r.cfg.WriteTimeout)
}
