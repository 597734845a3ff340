package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a summarization job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the lifecycle permits moving from s to next.
// queued -> processing | failed, processing -> completed | failed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobParameters captures the per-job knobs requested by the client.
type JobParameters struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
	MaxDepth int    `json:"max_depth"`
}

// JobError records why a job failed.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// JobCounters tracks page outcomes for a job.
type JobCounters struct {
	PagesCrawled int `json:"pages_crawled"`
	PagesFailed  int `json:"pages_failed"`
}

// Job is the durable record of one crawl-and-summarize request.
type Job struct {
	ID         int64       `json:"id"`
	URL        string      `json:"url"`
	MaxPages   int         `json:"max_pages"`
	MaxDepth   int         `json:"max_depth"`
	Status     JobStatus   `json:"status"`
	Error      *JobError   `json:"error,omitempty"`
	RunnerID   string      `json:"runner_id,omitempty"`
	Counters   JobCounters `json:"counters"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Parameters returns the request knobs the job was created with.
func (j Job) Parameters() JobParameters {
	return JobParameters{URL: j.URL, MaxPages: j.MaxPages, MaxDepth: j.MaxDepth}
}

// Summary is the artifact produced by a completed job.
type Summary struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"job_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobQuery filters job listings.
type JobQuery struct {
	Status JobStatus
	Limit  int
	Offset int
}

// SummaryQuery filters summary listings. Search matches title, summary or url
// case-insensitively.
type SummaryQuery struct {
	Search string
	Limit  int
	Offset int
}

// Stats aggregates store-wide counts.
type Stats struct {
	TotalSummaries       int64 `json:"total_summaries"`
	TotalJobs            int64 `json:"total_jobs"`
	RecentSummaries7Days int64 `json:"recent_summaries_7days"`
	QueuedJobs           int64 `json:"queued_jobs"`
	ProcessingJobs       int64 `json:"processing_jobs"`
	CompletedJobs        int64 `json:"completed_jobs"`
	FailedJobs           int64 `json:"failed_jobs"`
}

// Page is one successfully fetched document within a crawl.
type Page struct {
	URL          string
	Depth        int
	StatusCode   int
	HTML         []byte
	UsedHeadless bool
}

// PageFailure records a non-seed page that could not be fetched.
type PageFailure struct {
	URL   string
	Depth int
	Err   error
}

// CrawlResult is the ordered outcome of a bounded crawl.
type CrawlResult struct {
	Pages    []Page
	Failures []PageFailure
}

// Counters converts the result into job counters.
func (r CrawlResult) Counters() JobCounters {
	return JobCounters{PagesCrawled: len(r.Pages), PagesFailed: len(r.Failures)}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Depth       int
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem is a wake-up hint carrying the id of a freshly queued job.
type QueueItem struct {
	JobID     int64
	Submitted int64
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID     int64     `json:"job_id"`
	SummaryID int64     `json:"summary_id,omitempty"`
	URL       string    `json:"url"`
	Status    JobStatus `json:"status"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listing bounds shared by every store and the API.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Normalize clamps the paging fields into range.
func (q JobQuery) Normalize() JobQuery {
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	return q
}

// Normalize clamps the paging fields into range.
func (q SummaryQuery) Normalize() SummaryQuery {
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	return q
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// RecentWindow is the lookback used for Stats.RecentSummaries7Days.
const RecentWindow = 7 * 24 * time.Hour
