// Package storetest is a behavioral test suite every crawler.JobStore
// implementation runs against.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

// Clock is a manually advanced crawler.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store that reads time from clock.
type Factory func(t *testing.T, clock crawler.Clock) crawler.JobStore

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	cases := map[string]func(*testing.T, crawler.JobStore, *Clock){
		"CreateAndGet":              testCreateAndGet,
		"ClaimOldestFirst":          testClaimOldestFirst,
		"ConcurrentClaimsExclusive": testConcurrentClaims,
		"CompleteStoresSummary":     testComplete,
		"FailRecordsError":          testFail,
		"CancelOnlyQueued":          testCancel,
		"RequeueStale":              testRequeue,
		"ListSummaries":             testListSummaries,
		"SearchIgnoresCase":         testSearchIgnoresCase,
		"DeleteSummary":             testDeleteSummary,
		"Stats":                     testStats,
		"ListJobs":                  testListJobs,
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clock := NewClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
			tc(t, factory(t, clock), clock)
		})
	}
}

func params(n int) crawler.JobParameters {
	return crawler.JobParameters{URL: fmt.Sprintf("https://docs%d.example.com/", n), MaxPages: 5, MaxDepth: 2}
}

func summaryFor(title string) crawler.Summary {
	return crawler.Summary{
		URL:     "https://docs.example.com/" + title,
		Title:   title,
		Content: "content of " + title,
		Summary: "## Overview\n" + title,
	}
}

// completeJob creates, claims and completes a job, returning the summary.
func completeJob(t *testing.T, store crawler.JobStore, summary crawler.Summary) crawler.Summary {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateJob(ctx, crawler.JobParameters{URL: summary.URL, MaxPages: 5, MaxDepth: 2})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "runner-a")
	require.NoError(t, err)
	saved, err := store.Complete(ctx, claimed.ID, "runner-a", summary, crawler.JobCounters{PagesCrawled: 1})
	require.NoError(t, err)
	return saved
}

func testCreateAndGet(t *testing.T, store crawler.JobStore, clock *Clock) {
	ctx := context.Background()
	first, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)
	second, err := store.CreateJob(ctx, params(2))
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	got, err := store.GetJob(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, got.Status)
	require.Equal(t, params(1), got.Parameters())
	require.Nil(t, got.Error)
	require.True(t, got.CreatedAt.Equal(clock.Now()), "created_at %v", got.CreatedAt)

	_, err = store.GetJob(ctx, second.ID+100)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func testClaimOldestFirst(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	_, err := store.Claim(ctx, "runner-a")
	require.ErrorIs(t, err, crawler.ErrNoQueuedJobs)

	first, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)
	second, err := store.CreateJob(ctx, params(2))
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "runner-a")
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, crawler.JobStatusProcessing, claimed.Status)
	require.Equal(t, "runner-a", claimed.RunnerID)
	require.NotNil(t, claimed.StartedAt)

	claimed, err = store.Claim(ctx, "runner-b")
	require.NoError(t, err)
	require.Equal(t, second.ID, claimed.ID)

	_, err = store.Claim(ctx, "runner-c")
	require.ErrorIs(t, err, crawler.ErrNoQueuedJobs)
}

func testConcurrentClaims(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	const jobs = 20
	for i := range jobs {
		_, err := store.CreateJob(ctx, params(i))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[int64]string)
		dupes   []int64
		wg      sync.WaitGroup
	)
	for r := range 8 {
		runnerID := fmt.Sprintf("runner-%d", r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.Claim(ctx, runnerID)
				if errors.Is(err, crawler.ErrNoQueuedJobs) {
					return
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				if _, seen := claimed[job.ID]; seen {
					dupes = append(dupes, job.ID)
				}
				claimed[job.ID] = runnerID
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Empty(t, dupes)
	require.Len(t, claimed, jobs)
}

func testComplete(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	job, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)

	_, err = store.Complete(ctx, job.ID, "runner-a", summaryFor("queued"), crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrConflict, "completing a queued job must be rejected")

	_, err = store.Claim(ctx, "runner-a")
	require.NoError(t, err)

	_, err = store.Complete(ctx, job.ID, "runner-b", summaryFor("wrong"), crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrConflict, "only the claiming runner may complete")

	saved, err := store.Complete(ctx, job.ID, "runner-a", summaryFor("Intro"), crawler.JobCounters{PagesCrawled: 3, PagesFailed: 1})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)
	require.Equal(t, job.ID, saved.JobID)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, crawler.JobCounters{PagesCrawled: 3, PagesFailed: 1}, got.Counters)
	require.NotNil(t, got.FinishedAt)
	require.Nil(t, got.Error)

	stored, err := store.GetSummary(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "Intro", stored.Title)
	require.Equal(t, "content of Intro", stored.Content)
	require.Equal(t, job.ID, stored.JobID)

	_, err = store.Complete(ctx, job.ID, "runner-a", summaryFor("again"), crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrConflict)
	err = store.Fail(ctx, job.ID, "runner-a", crawler.JobError{Kind: crawler.KindCrawl, Message: "late"}, crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrConflict)

	all, err := store.ListSummaries(ctx, crawler.SummaryQuery{})
	require.NoError(t, err)
	require.Len(t, all, 1, "exactly one summary per completed job")

	_, err = store.Complete(ctx, job.ID+100, "runner-a", summaryFor("missing"), crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func testFail(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	job, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-a")
	require.NoError(t, err)

	jobErr := crawler.JobError{Kind: crawler.KindCrawl, Message: "crawl seed https://docs1.example.com/: timeout"}
	err = store.Fail(ctx, job.ID, "runner-b", jobErr, crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrConflict)

	require.NoError(t, store.Fail(ctx, job.ID, "runner-a", jobErr, crawler.JobCounters{PagesFailed: 1}))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	require.Equal(t, jobErr, *got.Error)
	require.Equal(t, 1, got.Counters.PagesFailed)

	summaries, err := store.ListSummaries(ctx, crawler.SummaryQuery{})
	require.NoError(t, err)
	require.Empty(t, summaries)

	_, err = store.Claim(ctx, "runner-a")
	require.ErrorIs(t, err, crawler.ErrNoQueuedJobs, "failed jobs are never claimed again")
}

func testCancel(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	queued, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)

	canceled, err := store.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, canceled.Status)
	require.NotNil(t, canceled.Error)
	require.Equal(t, crawler.KindCanceled, canceled.Error.Kind)

	_, err = store.Cancel(ctx, queued.ID)
	require.ErrorIs(t, err, crawler.ErrConflict)

	running, err := store.CreateJob(ctx, params(2))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-a")
	require.NoError(t, err)
	_, err = store.Cancel(ctx, running.ID)
	require.ErrorIs(t, err, crawler.ErrConflict)

	_, err = store.Cancel(ctx, running.ID+100)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func testRequeue(t *testing.T, store crawler.JobStore, clock *Clock) {
	ctx := context.Background()
	stale, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-dead")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	fresh, err := store.CreateJob(ctx, params(2))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-live")
	require.NoError(t, err)

	cutoff := clock.Now().Add(-30 * time.Minute)
	staleJobs, err := store.ListStale(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, staleJobs, 1)
	require.Equal(t, stale.ID, staleJobs[0].ID)

	_, err = store.Requeue(ctx, fresh.ID, cutoff)
	require.ErrorIs(t, err, crawler.ErrConflict, "a live claim is not stale")

	replacement, err := store.Requeue(ctx, stale.ID, cutoff)
	require.NoError(t, err)
	require.NotEqual(t, stale.ID, replacement.ID)
	require.Equal(t, crawler.JobStatusQueued, replacement.Status)
	require.Equal(t, stale.Parameters(), replacement.Parameters())

	old, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, old.Status)
	require.Equal(t, crawler.KindAbandoned, old.Error.Kind)

	_, err = store.Requeue(ctx, stale.ID, cutoff)
	require.ErrorIs(t, err, crawler.ErrConflict)
}

func testListSummaries(t *testing.T, store crawler.JobStore, clock *Clock) {
	ctx := context.Background()
	alpha := completeJob(t, store, summaryFor("Alpha Wallet"))
	clock.Advance(time.Minute)
	beta := completeJob(t, store, summaryFor("Beta Bridge"))
	clock.Advance(time.Minute)
	gamma := completeJob(t, store, summaryFor("Gamma WALLET sdk"))

	all, err := store.ListSummaries(ctx, crawler.SummaryQuery{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{gamma.ID, beta.ID, alpha.ID}, ids(all))

	wallets, err := store.ListSummaries(ctx, crawler.SummaryQuery{Search: "wallet", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{gamma.ID, alpha.ID}, ids(wallets))

	byURL, err := store.ListSummaries(ctx, crawler.SummaryQuery{Search: "Beta%20Bridge", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, byURL)

	literal, err := store.ListSummaries(ctx, crawler.SummaryQuery{Search: "%", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, literal, "search treats wildcards literally")

	paged, err := store.ListSummaries(ctx, crawler.SummaryQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{beta.ID}, ids(paged))

	past, err := store.ListSummaries(ctx, crawler.SummaryQuery{Limit: 10, Offset: 10})
	require.NoError(t, err)
	require.Empty(t, past)
}

func testSearchIgnoresCase(t *testing.T, store crawler.JobStore, clock *Clock) {
	ctx := context.Background()
	ethereum := completeJob(t, store, summaryFor("Ethereum Guide"))
	clock.Advance(time.Minute)
	completeJob(t, store, summaryFor("Bitcoin Basics"))

	got, err := store.ListSummaries(ctx, crawler.SummaryQuery{Search: "ether", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{ethereum.ID}, ids(got))
}

func testDeleteSummary(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	saved := completeJob(t, store, summaryFor("Doomed"))

	deleted, err := store.DeleteSummary(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "Doomed", deleted.Title)

	_, err = store.GetSummary(ctx, saved.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.DeleteSummary(ctx, saved.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func testStats(t *testing.T, store crawler.JobStore, clock *Clock) {
	ctx := context.Background()
	completeJob(t, store, summaryFor("old"))
	clock.Advance(8 * 24 * time.Hour)
	completeJob(t, store, summaryFor("new"))

	_, err := store.CreateJob(ctx, params(3))
	require.NoError(t, err)
	failing, err := store.CreateJob(ctx, params(4))
	require.NoError(t, err)
	_, err = store.Cancel(ctx, failing.ID)
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, params(5))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-a")
	require.NoError(t, err)

	stats, err := store.Stats(ctx, clock.Now())
	require.NoError(t, err)
	require.Equal(t, crawler.Stats{
		TotalSummaries:       2,
		TotalJobs:            5,
		RecentSummaries7Days: 1,
		QueuedJobs:           1,
		ProcessingJobs:       1,
		CompletedJobs:        2,
		FailedJobs:           1,
	}, stats)
}

func testListJobs(t *testing.T, store crawler.JobStore, _ *Clock) {
	ctx := context.Background()
	first, err := store.CreateJob(ctx, params(1))
	require.NoError(t, err)
	second, err := store.CreateJob(ctx, params(2))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "runner-a")
	require.NoError(t, err)

	all, err := store.ListJobs(ctx, crawler.JobQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)

	processing, err := store.ListJobs(ctx, crawler.JobQuery{Status: crawler.JobStatusProcessing, Limit: 10})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	require.Equal(t, first.ID, processing[0].ID)
}

func ids(summaries []crawler.Summary) []int64 {
	out := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}
