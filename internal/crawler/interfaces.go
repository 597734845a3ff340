package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists jobs and summaries and owns the job state machine.
// Claim, Complete, Fail, Cancel and Requeue are linearizable per job.
type JobStore interface {
	CreateJob(ctx context.Context, params JobParameters) (Job, error)
	GetJob(ctx context.Context, jobID int64) (Job, error)
	ListJobs(ctx context.Context, query JobQuery) ([]Job, error)
	// Claim moves the oldest queued job to processing on behalf of runnerID.
	// It returns ErrNoQueuedJobs when nothing is queued.
	Claim(ctx context.Context, runnerID string) (Job, error)
	// Complete marks the job completed and stores its summary atomically.
	Complete(ctx context.Context, jobID int64, runnerID string, summary Summary, counters JobCounters) (Summary, error)
	Fail(ctx context.Context, jobID int64, runnerID string, jobErr JobError, counters JobCounters) error
	Cancel(ctx context.Context, jobID int64) (Job, error)
	// ListStale returns processing jobs whose last update is before olderThan.
	ListStale(ctx context.Context, olderThan time.Time) ([]Job, error)
	// Requeue fails a stale processing job as abandoned and creates a fresh
	// queued job with the same parameters.
	Requeue(ctx context.Context, jobID int64, olderThan time.Time) (Job, error)
	GetSummary(ctx context.Context, summaryID int64) (Summary, error)
	ListSummaries(ctx context.Context, query SummaryQuery) ([]Summary, error)
	// DeleteSummary removes the summary and returns the deleted record.
	DeleteSummary(ctx context.Context, summaryID int64) (Summary, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// BlobStore writes rendered artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	DeleteObject(ctx context.Context, uri string) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// LinkExtractor returns absolute, normalized links found in an HTML page.
type LinkExtractor interface {
	ExtractLinks(baseURL string, html []byte) ([]string, error)
}

// TextExtractor turns HTML into readable text.
type TextExtractor interface {
	ExtractText(html []byte) (string, error)
	Title(html []byte) string
}

// Summarizer produces a markdown summary of a text corpus.
type Summarizer interface {
	Summarize(ctx context.Context, corpus string, sourceURL string) (string, error)
}

// PageCrawler runs a bounded crawl for one job.
type PageCrawler interface {
	Crawl(ctx context.Context, params JobParameters) (CrawlResult, error)
}

// Queue provides enqueue/dequeue semantics for job wake-up hints.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RateLimiter throttles outbound requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher fingerprints extracted page text for corpus deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request ids.
type IDGenerator interface {
	NewID() (string, error)
}
