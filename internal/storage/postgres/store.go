// Package postgres implements crawler.JobStore on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store is a Postgres-backed crawler.JobStore.
type Store struct {
	pool  Pool
	clock crawler.Clock
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(pool, clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, clock crawler.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &Store{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

const jobColumns = `id, url, max_pages, max_depth, status, error_kind, error_message, runner_id,
	pages_crawled, pages_failed, created_at, updated_at, started_at, finished_at`

const summaryColumns = `id, job_id, url, title, content, summary, artifact_uri, created_at`

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job                 crawler.Job
		status              string
		errKind, errMessage *string
		runnerID            *string
	)
	err := row.Scan(
		&job.ID, &job.URL, &job.MaxPages, &job.MaxDepth, &status,
		&errKind, &errMessage, &runnerID,
		&job.Counters.PagesCrawled, &job.Counters.PagesFailed,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if errKind != nil {
		job.Error = &crawler.JobError{Kind: crawler.ErrorKind(*errKind)}
		if errMessage != nil {
			job.Error.Message = *errMessage
		}
	}
	if runnerID != nil {
		job.RunnerID = *runnerID
	}
	return job, nil
}

func scanSummary(row pgx.Row) (crawler.Summary, error) {
	var summary crawler.Summary
	err := row.Scan(
		&summary.ID, &summary.JobID, &summary.URL, &summary.Title,
		&summary.Content, &summary.Summary, &summary.ArtifactURI, &summary.CreatedAt,
	)
	return summary, err
}

func collectJobs(rows pgx.Rows) ([]crawler.Job, error) {
	defer rows.Close()
	jobs := []crawler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// CreateJob stores a new queued job.
func (s *Store) CreateJob(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	now := s.now()
	job, err := scanJob(s.pool.QueryRow(ctx, `
INSERT INTO jobs (url, max_pages, max_depth, status, created_at, updated_at)
VALUES ($1, $2, $3, 'queued', $4, $4)
RETURNING `+jobColumns, params.URL, params.MaxPages, params.MaxDepth, now))
	if err != nil {
		return crawler.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, query crawler.JobQuery) ([]crawler.Job, error) {
	query = query.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE ($1::text = '' OR status = $1::text)
ORDER BY id DESC
LIMIT $2 OFFSET $3`, string(query.Status), query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Claim moves the oldest queued job to processing. Concurrent claimers skip
// rows locked by each other.
func (s *Store) Claim(ctx context.Context, runnerID string) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
UPDATE jobs SET status = 'processing', runner_id = $1, started_at = $2, updated_at = $2
WHERE id = (
	SELECT id FROM jobs WHERE status = 'queued'
	ORDER BY id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns, runnerID, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNoQueuedJobs
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// transitionError explains why a guarded update touched no row.
func (s *Store) transitionError(ctx context.Context, op string, jobID int64, runnerID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return crawler.NewError(crawler.KindStoreConsistency, op,
		fmt.Errorf("job %d is %s held by %q, not %q", jobID, job.Status, job.RunnerID, runnerID))
}

// Complete marks the job completed and inserts its summary in one transaction.
func (s *Store) Complete(
	ctx context.Context,
	jobID int64,
	runnerID string,
	summary crawler.Summary,
	counters crawler.JobCounters,
) (crawler.Summary, error) {
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("begin complete: %w", err)
	}
	tag, err := tx.Exec(ctx, `
UPDATE jobs SET status = 'completed', error_kind = NULL, error_message = NULL,
	pages_crawled = $1, pages_failed = $2, finished_at = $3, updated_at = $3
WHERE id = $4 AND status = 'processing' AND runner_id = $5`,
		counters.PagesCrawled, counters.PagesFailed, now, jobID, runnerID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return crawler.Summary{}, fmt.Errorf("complete job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return crawler.Summary{}, s.transitionError(ctx, "complete", jobID, runnerID)
	}
	err = tx.QueryRow(ctx, `
INSERT INTO summaries (job_id, url, title, content, summary, artifact_uri, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		jobID, summary.URL, summary.Title, summary.Content, summary.Summary, summary.ArtifactURI, now,
	).Scan(&summary.ID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return crawler.Summary{}, fmt.Errorf("insert summary for job %d: %w", jobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.Summary{}, fmt.Errorf("commit complete: %w", err)
	}
	summary.JobID = jobID
	summary.CreatedAt = now
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
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET status = 'failed', error_kind = $1, error_message = $2,
	pages_crawled = $3, pages_failed = $4, finished_at = $5, updated_at = $5
WHERE id = $6 AND status = 'processing' AND runner_id = $7`,
		string(jobErr.Kind), jobErr.Message, counters.PagesCrawled, counters.PagesFailed, s.now(), jobID, runnerID)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, "fail", jobID, runnerID)
	}
	return nil
}

// Cancel fails a job that has not been claimed yet.
func (s *Store) Cancel(ctx context.Context, jobID int64) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
UPDATE jobs SET status = 'failed', error_kind = $1, error_message = $2, finished_at = $3, updated_at = $3
WHERE id = $4 AND status = 'queued'
RETURNING `+jobColumns, string(crawler.KindCanceled), "canceled before processing", s.now(), jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return crawler.Job{}, getErr
		}
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, "cancel",
			fmt.Errorf("job %d is %s", jobID, current.Status))
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	return job, nil
}

// ListStale returns processing jobs not updated since olderThan.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE status = 'processing' AND updated_at < $1
ORDER BY id`, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return jobs, nil
}

// Requeue abandons a stale processing job and queues a replacement in one
// transaction.
func (s *Store) Requeue(ctx context.Context, jobID int64, olderThan time.Time) (crawler.Job, error) {
	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("begin requeue: %w", err)
	}
	var params crawler.JobParameters
	err = tx.QueryRow(ctx, `
UPDATE jobs SET status = 'failed', error_kind = $1,
	error_message = 'abandoned by ' || COALESCE(runner_id, ''),
	finished_at = $2, updated_at = $2
WHERE id = $3 AND status = 'processing' AND updated_at < $4
RETURNING url, max_pages, max_depth`,
		string(crawler.KindAbandoned), now, jobID, olderThan.UTC(),
	).Scan(&params.URL, &params.MaxPages, &params.MaxDepth)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return crawler.Job{}, getErr
		}
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, "requeue",
			fmt.Errorf("job %d is %s and not stale", jobID, current.Status))
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return crawler.Job{}, fmt.Errorf("abandon job %d: %w", jobID, err)
	}
	job, err := scanJob(tx.QueryRow(ctx, `
INSERT INTO jobs (url, max_pages, max_depth, status, created_at, updated_at)
VALUES ($1, $2, $3, 'queued', $4, $4)
RETURNING `+jobColumns, params.URL, params.MaxPages, params.MaxDepth, now))
	if err != nil {
		_ = tx.Rollback(ctx)
		return crawler.Job{}, fmt.Errorf("insert replacement job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.Job{}, fmt.Errorf("commit requeue: %w", err)
	}
	return job, nil
}

// GetSummary fetches a summary by ID.
func (s *Store) GetSummary(ctx context.Context, summaryID int64) (crawler.Summary, error) {
	summary, err := scanSummary(s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE id = $1`, summaryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Summary{}, fmt.Errorf("summary %d: %w", summaryID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("get summary %d: %w", summaryID, err)
	}
	return summary, nil
}

// ListSummaries returns matching summaries newest first.
func (s *Store) ListSummaries(ctx context.Context, query crawler.SummaryQuery) ([]crawler.Summary, error) {
	query = query.Normalize()
	search := strings.TrimSpace(query.Search)
	rows, err := s.pool.Query(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE $1::text = ''
	OR title ILIKE $2 ESCAPE '\'
	OR summary ILIKE $2 ESCAPE '\'
	OR url ILIKE $2 ESCAPE '\'
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, search, storage.LikePattern(search), query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()
	out := []crawler.Summary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("list summaries: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return out, nil
}

// DeleteSummary removes a summary and returns it.
func (s *Store) DeleteSummary(ctx context.Context, summaryID int64) (crawler.Summary, error) {
	summary, err := scanSummary(s.pool.QueryRow(ctx,
		`DELETE FROM summaries WHERE id = $1 RETURNING `+summaryColumns, summaryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Summary{}, fmt.Errorf("summary %d: %w", summaryID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("delete summary %d: %w", summaryID, err)
	}
	return summary, nil
}

// Stats recomputes aggregate counts in one round trip.
func (s *Store) Stats(ctx context.Context, now time.Time) (crawler.Stats, error) {
	var stats crawler.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM summaries),
	(SELECT COUNT(*) FROM summaries WHERE created_at >= $1),
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'queued'),
	COUNT(*) FILTER (WHERE status = 'processing'),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'failed')
FROM jobs`, now.Add(-crawler.RecentWindow).UTC()).Scan(
		&stats.TotalSummaries, &stats.RecentSummaries7Days, &stats.TotalJobs,
		&stats.QueuedJobs, &stats.ProcessingJobs, &stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}
