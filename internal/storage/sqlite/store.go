// Package sqlite implements crawler.JobStore on a local SQLite file using
// sqlx. All access goes through one connection, so transactions serialize
// every state transition.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/JakeFAU/docs-summarizer/internal/clock/system"
	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/storage"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// Config controls where the database lives.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is a SQLite-backed crawler.JobStore.
type Store struct {
	db    *sqlx.DB
	clock crawler.Clock
}

// Open connects to the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
		cfg.Path, busy.Milliseconds())
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db, clock)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing handle. A nil clock uses the wall clock.
func NewWithDB(db *sqlx.DB, clock crawler.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{db: db, clock: clock}
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type jobRow struct {
	ID           int64          `db:"id"`
	URL          string         `db:"url"`
	MaxPages     int            `db:"max_pages"`
	MaxDepth     int            `db:"max_depth"`
	Status       string         `db:"status"`
	ErrorKind    sql.NullString `db:"error_kind"`
	ErrorMessage sql.NullString `db:"error_message"`
	RunnerID     sql.NullString `db:"runner_id"`
	PagesCrawled int            `db:"pages_crawled"`
	PagesFailed  int            `db:"pages_failed"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
}

const jobColumns = `id, url, max_pages, max_depth, status, error_kind, error_message, runner_id,
	pages_crawled, pages_failed, created_at, updated_at, started_at, finished_at`

func (r jobRow) toJob() crawler.Job {
	job := crawler.Job{
		ID:        r.ID,
		URL:       r.URL,
		MaxPages:  r.MaxPages,
		MaxDepth:  r.MaxDepth,
		Status:    crawler.JobStatus(r.Status),
		RunnerID:  r.RunnerID.String,
		Counters:  crawler.JobCounters{PagesCrawled: r.PagesCrawled, PagesFailed: r.PagesFailed},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.ErrorKind.Valid {
		job.Error = &crawler.JobError{Kind: crawler.ErrorKind(r.ErrorKind.String), Message: r.ErrorMessage.String}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	return job
}

type summaryRow struct {
	ID          int64     `db:"id"`
	JobID       int64     `db:"job_id"`
	URL         string    `db:"url"`
	Title       string    `db:"title"`
	Content     string    `db:"content"`
	Summary     string    `db:"summary"`
	ArtifactURI string    `db:"artifact_uri"`
	CreatedAt   time.Time `db:"created_at"`
}

const summaryColumns = `id, job_id, url, title, content, summary, artifact_uri, created_at`

func (r summaryRow) toSummary() crawler.Summary {
	return crawler.Summary{
		ID:          r.ID,
		JobID:       r.JobID,
		URL:         r.URL,
		Title:       r.Title,
		Content:     r.Content,
		Summary:     r.Summary,
		ArtifactURI: r.ArtifactURI,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// withTx runs fn in a transaction. Only tx may be used inside fn: the pool
// has a single connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func getJob(ctx context.Context, q sqlx.QueryerContext, jobID int64) (crawler.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return row.toJob(), nil
}

func insertJob(ctx context.Context, e sqlx.ExecerContext, params crawler.JobParameters, now time.Time) (int64, error) {
	res, err := e.ExecContext(ctx, `
INSERT INTO jobs (url, max_pages, max_depth, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		params.URL, params.MaxPages, params.MaxDepth, crawler.JobStatusQueued, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert job id: %w", err)
	}
	return id, nil
}

// CreateJob stores a new queued job.
func (s *Store) CreateJob(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	var job crawler.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := insertJob(ctx, tx, params, s.now())
		if err != nil {
			return err
		}
		job, err = getJob(ctx, tx, id)
		return err
	})
	return job, err
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (crawler.Job, error) {
	return getJob(ctx, s.db, jobID)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, query crawler.JobQuery) ([]crawler.Job, error) {
	query = query.Normalize()
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+jobColumns+` FROM jobs
WHERE (? = '' OR status = ?)
ORDER BY id DESC
LIMIT ? OFFSET ?`, query.Status, query.Status, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]crawler.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, nil
}

// Claim moves the oldest queued job to processing.
func (s *Store) Claim(ctx context.Context, runnerID string) (crawler.Job, error) {
	var job crawler.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.GetContext(ctx, &id,
			`SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1`, crawler.JobStatusQueued)
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.ErrNoQueuedJobs
		}
		if err != nil {
			return fmt.Errorf("select queued job: %w", err)
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, runner_id = ?, started_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
			crawler.JobStatusProcessing, runnerID, now, now, id, crawler.JobStatusQueued); err != nil {
			return fmt.Errorf("claim job %d: %w", id, err)
		}
		job, err = getJob(ctx, tx, id)
		return err
	})
	return job, err
}

// heldBy loads the job and checks it is processing under runnerID.
func heldBy(ctx context.Context, tx *sqlx.Tx, op string, jobID int64, runnerID string) (crawler.Job, error) {
	job, err := getJob(ctx, tx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	if job.Status != crawler.JobStatusProcessing || job.RunnerID != runnerID {
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, op,
			fmt.Errorf("job %d is %s held by %q, not %q", jobID, job.Status, job.RunnerID, runnerID))
	}
	return job, nil
}

// Complete marks the job completed and inserts its summary in one transaction.
func (s *Store) Complete(
	ctx context.Context,
	jobID int64,
	runnerID string,
	summary crawler.Summary,
	counters crawler.JobCounters,
) (crawler.Summary, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := heldBy(ctx, tx, "complete", jobID, runnerID); err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, error_kind = NULL, error_message = NULL,
	pages_crawled = ?, pages_failed = ?, finished_at = ?, updated_at = ?
WHERE id = ?`,
			crawler.JobStatusCompleted, counters.PagesCrawled, counters.PagesFailed, now, now, jobID); err != nil {
			return fmt.Errorf("complete job %d: %w", jobID, err)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO summaries (job_id, url, title, content, summary, artifact_uri, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, summary.URL, summary.Title, summary.Content, summary.Summary, summary.ArtifactURI, now)
		if err != nil {
			return fmt.Errorf("insert summary for job %d: %w", jobID, err)
		}
		if summary.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert summary id: %w", err)
		}
		summary.JobID = jobID
		summary.CreatedAt = now
		return nil
	})
	if err != nil {
		return crawler.Summary{}, err
	}
	return summary, nil
}

// Fail marks a processing job failed.
func (s *Store) Fail(
	ctx context.Context,
	jobID int64,
	runnerID string,
	jobErr crawler.JobError,
	counters crawler.JobCounters,
) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := heldBy(ctx, tx, "fail", jobID, runnerID); err != nil {
			return err
		}
		return s.markFailed(ctx, tx, jobID, jobErr, counters)
	})
}

func (s *Store) markFailed(ctx context.Context, tx *sqlx.Tx, jobID int64, jobErr crawler.JobError, counters crawler.JobCounters) error {
	now := s.now()
	_, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, error_kind = ?, error_message = ?,
	pages_crawled = ?, pages_failed = ?, finished_at = ?, updated_at = ?
WHERE id = ?`,
		crawler.JobStatusFailed, jobErr.Kind, jobErr.Message,
		counters.PagesCrawled, counters.PagesFailed, now, now, jobID)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	return nil
}

// Cancel fails a job that has not been claimed yet.
func (s *Store) Cancel(ctx context.Context, jobID int64) (crawler.Job, error) {
	var job crawler.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if current.Status != crawler.JobStatusQueued {
			return crawler.NewError(crawler.KindStoreConsistency, "cancel",
				fmt.Errorf("job %d is %s", jobID, current.Status))
		}
		jobErr := crawler.JobError{Kind: crawler.KindCanceled, Message: "canceled before processing"}
		if err := s.markFailed(ctx, tx, jobID, jobErr, current.Counters); err != nil {
			return err
		}
		job, err = getJob(ctx, tx, jobID)
		return err
	})
	return job, err
}

// ListStale returns processing jobs not updated since olderThan.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time) ([]crawler.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+jobColumns+` FROM jobs
WHERE status = ? AND updated_at < ?
ORDER BY id`, crawler.JobStatusProcessing, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	jobs := make([]crawler.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, nil
}

// Requeue abandons a stale processing job and queues a replacement.
func (s *Store) Requeue(ctx context.Context, jobID int64, olderThan time.Time) (crawler.Job, error) {
	var job crawler.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stale, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if stale.Status != crawler.JobStatusProcessing || !stale.UpdatedAt.Before(olderThan) {
			return crawler.NewError(crawler.KindStoreConsistency, "requeue",
				fmt.Errorf("job %d is %s and not stale", jobID, stale.Status))
		}
		jobErr := crawler.JobError{Kind: crawler.KindAbandoned, Message: "abandoned by " + stale.RunnerID}
		if err := s.markFailed(ctx, tx, jobID, jobErr, stale.Counters); err != nil {
			return err
		}
		id, err := insertJob(ctx, tx, stale.Parameters(), s.now())
		if err != nil {
			return err
		}
		job, err = getJob(ctx, tx, id)
		return err
	})
	return job, err
}

// GetSummary fetches a summary by ID.
func (s *Store) GetSummary(ctx context.Context, summaryID int64) (crawler.Summary, error) {
	return getSummary(ctx, s.db, summaryID)
}

func getSummary(ctx context.Context, q sqlx.QueryerContext, summaryID int64) (crawler.Summary, error) {
	var row summaryRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+summaryColumns+` FROM summaries WHERE id = ?`, summaryID)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Summary{}, fmt.Errorf("summary %d: %w", summaryID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("get summary %d: %w", summaryID, err)
	}
	return row.toSummary(), nil
}

// ListSummaries returns matching summaries newest first.
func (s *Store) ListSummaries(ctx context.Context, query crawler.SummaryQuery) ([]crawler.Summary, error) {
	query = query.Normalize()
	search := strings.TrimSpace(query.Search)
	pattern := storage.LikePattern(search)
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+summaryColumns+` FROM summaries
WHERE ? = ''
	OR lower(title) LIKE ? ESCAPE '\'
	OR lower(summary) LIKE ? ESCAPE '\'
	OR lower(url) LIKE ? ESCAPE '\'
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`, search, pattern, pattern, pattern, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	out := make([]crawler.Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSummary())
	}
	return out, nil
}

// DeleteSummary removes a summary and returns it.
func (s *Store) DeleteSummary(ctx context.Context, summaryID int64) (crawler.Summary, error) {
	var summary crawler.Summary
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if summary, err = getSummary(ctx, tx, summaryID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE id = ?`, summaryID); err != nil {
			return fmt.Errorf("delete summary %d: %w", summaryID, err)
		}
		return nil
	})
	return summary, err
}

// Stats recomputes aggregate counts.
func (s *Store) Stats(ctx context.Context, now time.Time) (crawler.Stats, error) {
	var stats crawler.Stats
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM jobs`).Scan(
			&stats.TotalJobs, &stats.QueuedJobs, &stats.ProcessingJobs, &stats.CompletedJobs, &stats.FailedJobs)
		if err != nil {
			return fmt.Errorf("count jobs: %w", err)
		}
		since := now.Add(-crawler.RecentWindow).UTC()
		err = tx.QueryRowxContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
FROM summaries`, since).Scan(&stats.TotalSummaries, &stats.RecentSummaries7Days)
		if err != nil {
			return fmt.Errorf("count summaries: %w", err)
		}
		return nil
	})
	return stats, err
}
