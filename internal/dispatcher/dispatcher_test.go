package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/extract"
	"github.com/JakeFAU/docs-summarizer/internal/hash/sha256"
	queuememory "github.com/JakeFAU/docs-summarizer/internal/queue/memory"
	"github.com/JakeFAU/docs-summarizer/internal/storage/memory"
	"github.com/JakeFAU/docs-summarizer/internal/storage/storetest"
	"github.com/JakeFAU/docs-summarizer/internal/worker"
)

func intPtr(v int) *int { return &v }

func newDispatcher(t *testing.T) (*Dispatcher, *memory.JobStore, *queuememory.Queue, *storetest.Clock) {
	t.Helper()
	clock := storetest.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	store := memory.NewJobStore(clock)
	queue := queuememory.NewQueue(8)
	return New(store, queue, nil, Config{Clock: clock}, zap.NewNop()), store, queue, clock
}

func TestSubmitAppliesDefaultsAndWakesRunner(t *testing.T) {
	t.Parallel()

	d, store, queue, _ := newDispatcher(t)
	job, err := d.Submit(context.Background(), JobRequest{URL: "HTTPS://Docs.Example.com:443/guide#intro"})
	require.NoError(t, err)
	require.Equal(t, "https://docs.example.com/guide", job.URL)
	require.Equal(t, 5, job.MaxPages)
	require.Equal(t, 2, job.MaxDepth)
	require.Equal(t, crawler.JobStatusQueued, job.Status)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.URL, stored.URL)

	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newDispatcher(t)
	cases := map[string]JobRequest{
		"ftp scheme":     {URL: "ftp://example.com/"},
		"no host":        {URL: "https:///path"},
		"empty":          {URL: ""},
		"zero pages":     {URL: "https://example.com", MaxPages: intPtr(0)},
		"too many pages": {URL: "https://example.com", MaxPages: intPtr(21)},
		"zero depth":     {URL: "https://example.com", MaxDepth: intPtr(0)},
		"too deep":       {URL: "https://example.com", MaxDepth: intPtr(6)},
	}
	for name, req := range cases {
		_, err := d.Submit(context.Background(), req)
		require.ErrorIs(t, err, crawler.ErrInvalidInput, name)
	}

	stats, err := store.Stats(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, stats.TotalJobs, "rejected submissions create no job")

	job, err := d.Submit(context.Background(), JobRequest{URL: "https://example.com", MaxPages: intPtr(20), MaxDepth: intPtr(5)})
	require.NoError(t, err)
	require.Equal(t, 20, job.MaxPages)
	require.Equal(t, 5, job.MaxDepth)
}

func TestSubmitSurvivesClosedQueue(t *testing.T) {
	t.Parallel()

	d, _, queue, _ := newDispatcher(t)
	queue.Close()
	job, err := d.Submit(context.Background(), JobRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.NotZero(t, job.ID)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newDispatcher(t)
	job, err := d.Submit(context.Background(), JobRequest{URL: "https://example.com"})
	require.NoError(t, err)

	canceled, err := d.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.KindCanceled, canceled.Error.Kind)

	_, err = d.Cancel(context.Background(), job.ID)
	require.ErrorIs(t, err, crawler.ErrConflict)

	_, err = store.Claim(context.Background(), "runner-1")
	require.ErrorIs(t, err, crawler.ErrNoQueuedJobs)
}

func TestRequeueStale(t *testing.T) {
	t.Parallel()

	d, store, queue, clock := newDispatcher(t)
	stuck, err := d.Submit(context.Background(), JobRequest{URL: "https://example.com/stuck"})
	require.NoError(t, err)
	_, err = store.Claim(context.Background(), "runner-dead")
	require.NoError(t, err)
	_, _ = queue.Dequeue(context.Background())

	_, err = d.Requeue(context.Background(), stuck.ID, time.Hour)
	require.ErrorIs(t, err, crawler.ErrConflict, "not stale yet")

	clock.Advance(2 * time.Hour)
	requeued, err := d.RequeueStale(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	require.Equal(t, stuck.URL, requeued[0].URL)
	require.Equal(t, crawler.JobStatusQueued, requeued[0].Status)

	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, requeued[0].ID, item.JobID)

	old, err := store.GetJob(context.Background(), stuck.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.KindAbandoned, old.Error.Kind)
}

type pageCrawler struct{}

func (pageCrawler) Crawl(_ context.Context, params crawler.JobParameters) (crawler.CrawlResult, error) {
	return crawler.CrawlResult{Pages: []crawler.Page{{
		URL:  params.URL,
		HTML: []byte("<title>Docs</title><main><p>Body for " + params.URL + "</p></main>"),
	}}}, nil
}

type okSummarizer struct{}

func (okSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "## Overview", nil
}

func TestRunProcessesEachJobExactlyOnce(t *testing.T) {
	t.Parallel()

	clock := storetest.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	store := memory.NewJobStore(clock)
	queue := queuememory.NewQueue(16)
	deps := worker.Deps{
		Store:      store,
		Queue:      queue,
		Crawler:    pageCrawler{},
		Text:       extract.New(),
		Summarizer: okSummarizer{},
		Hasher:     sha256.New(),
		Clock:      clock,
	}
	runners := make([]*worker.Runner, 4)
	for i := range runners {
		runners[i] = worker.New("runner-"+string(rune('a'+i)), deps,
			worker.Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())
	}
	d := New(store, queue, runners, Config{Clock: clock}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	const jobs = 12
	for i := range jobs {
		_, err := d.Submit(ctx, JobRequest{URL: "https://docs.example.com/page-" + string(rune('a'+i))})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := store.Stats(context.Background(), clock.Now())
		return err == nil && stats.CompletedJobs == jobs
	}, 3*time.Second, 10*time.Millisecond)

	summaries, err := store.ListSummaries(context.Background(), crawler.SummaryQuery{Limit: crawler.MaxListLimit})
	require.NoError(t, err)
	require.Len(t, summaries, jobs)
	seen := map[int64]bool{}
	for _, s := range summaries {
		require.False(t, seen[s.JobID], "job %d summarized twice", s.JobID)
		seen[s.JobID] = true
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestRequeueStalePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	d := New(failingStore{err: boom}, nil, nil, Config{}, zap.NewNop())
	_, err := d.RequeueStale(context.Background(), time.Minute)
	require.ErrorIs(t, err, boom)
}

type failingStore struct {
	crawler.JobStore
	err error
}

func (f failingStore) ListStale(context.Context, time.Time) ([]crawler.Job, error) {
	return nil, f.err
}
