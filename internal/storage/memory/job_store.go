// Package memory keeps jobs, summaries and artifacts in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/docs-summarizer/internal/clock/system"
	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

// JobStore implements crawler.JobStore behind a single mutex, which makes
// every transition trivially linearizable.
type JobStore struct {
	mu            sync.Mutex
	clock         crawler.Clock
	jobs          map[int64]crawler.Job
	summaries     map[int64]crawler.Summary
	nextJobID     int64
	nextSummaryID int64
}

// NewJobStore constructs a JobStore. A nil clock uses the wall clock.
func NewJobStore(clock crawler.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		clock:     clock,
		jobs:      make(map[int64]crawler.Job),
		summaries: make(map[int64]crawler.Summary),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, params crawler.JobParameters) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(params), nil
}

func (s *JobStore) createLocked(params crawler.JobParameters) crawler.Job {
	now := s.clock.Now()
	s.nextJobID++
	job := crawler.Job{
		ID:        s.nextJobID,
		URL:       params.URL,
		MaxPages:  params.MaxPages,
		MaxDepth:  params.MaxDepth,
		Status:    crawler.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	return job
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID int64) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	return copyJob(job), nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, query crawler.JobQuery) ([]crawler.Job, error) {
	query = query.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if query.Status != "" && job.Status != query.Status {
			continue
		}
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, query.Limit, query.Offset), nil
}

// Claim moves the oldest queued job to processing.
func (s *JobStore) Claim(_ context.Context, runnerID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *crawler.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.Status != crawler.JobStatusQueued {
			continue
		}
		if oldest == nil || job.ID < oldest.ID {
			oldest = &job
		}
	}
	if oldest == nil {
		return crawler.Job{}, crawler.ErrNoQueuedJobs
	}
	now := s.clock.Now()
	job := *oldest
	job.Status = crawler.JobStatusProcessing
	job.RunnerID = runnerID
	job.StartedAt = &now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return copyJob(job), nil
}

// Complete marks the job completed and stores its summary atomically.
func (s *JobStore) Complete(
	_ context.Context,
	jobID int64,
	runnerID string,
	summary crawler.Summary,
	counters crawler.JobCounters,
) (crawler.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.heldLocked("complete", jobID, runnerID)
	if err != nil {
		return crawler.Summary{}, err
	}
	now := s.clock.Now()
	job.Status = crawler.JobStatusCompleted
	job.Counters = counters
	job.Error = nil
	job.FinishedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job

	s.nextSummaryID++
	summary.ID = s.nextSummaryID
	summary.JobID = jobID
	summary.CreatedAt = now
	s.summaries[summary.ID] = summary
	return summary, nil
}

// Fail marks a processing job failed.
func (s *JobStore) Fail(
	_ context.Context,
	jobID int64,
	runnerID string,
	jobErr crawler.JobError,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.heldLocked("fail", jobID, runnerID)
	if err != nil {
		return err
	}
	s.failLocked(job, jobErr, counters)
	return nil
}

func (s *JobStore) failLocked(job crawler.Job, jobErr crawler.JobError, counters crawler.JobCounters) {
	now := s.clock.Now()
	job.Status = crawler.JobStatusFailed
	job.Error = &jobErr
	job.Counters = counters
	job.FinishedAt = &now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
}

// Cancel fails a job that has not been claimed yet.
func (s *JobStore) Cancel(_ context.Context, jobID int64) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status != crawler.JobStatusQueued {
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, "cancel",
			fmt.Errorf("job %d is %s", jobID, job.Status))
	}
	s.failLocked(job, crawler.JobError{Kind: crawler.KindCanceled, Message: "canceled before processing"}, job.Counters)
	return copyJob(s.jobs[jobID]), nil
}

// ListStale returns processing jobs not updated since olderThan.
func (s *JobStore) ListStale(_ context.Context, olderThan time.Time) ([]crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.Job
	for _, job := range s.jobs {
		if job.Status == crawler.JobStatusProcessing && job.UpdatedAt.Before(olderThan) {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Requeue abandons a stale processing job and queues a replacement.
func (s *JobStore) Requeue(_ context.Context, jobID int64, olderThan time.Time) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status != crawler.JobStatusProcessing || !job.UpdatedAt.Before(olderThan) {
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, "requeue",
			fmt.Errorf("job %d is %s and not stale", jobID, job.Status))
	}
	s.failLocked(job, crawler.JobError{
		Kind:    crawler.KindAbandoned,
		Message: fmt.Sprintf("abandoned by %s", job.RunnerID),
	}, job.Counters)
	return s.createLocked(job.Parameters()), nil
}

// GetSummary fetches a summary by ID.
func (s *JobStore) GetSummary(_ context.Context, summaryID int64) (crawler.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[summaryID]
	if !ok {
		return crawler.Summary{}, fmt.Errorf("summary %d: %w", summaryID, crawler.ErrNotFound)
	}
	return summary, nil
}

// ListSummaries returns matching summaries newest first.
func (s *JobStore) ListSummaries(_ context.Context, query crawler.SummaryQuery) ([]crawler.Summary, error) {
	query = query.Normalize()
	needle := strings.ToLower(strings.TrimSpace(query.Search))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.Summary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		if needle != "" && !matches(summary, needle) {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, query.Limit, query.Offset), nil
}

// DeleteSummary removes a summary and returns it.
func (s *JobStore) DeleteSummary(_ context.Context, summaryID int64) (crawler.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[summaryID]
	if !ok {
		return crawler.Summary{}, fmt.Errorf("summary %d: %w", summaryID, crawler.ErrNotFound)
	}
	delete(s.summaries, summaryID)
	return summary, nil
}

// Stats recomputes aggregate counts.
func (s *JobStore) Stats(_ context.Context, now time.Time) (crawler.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := crawler.Stats{
		TotalJobs:      int64(len(s.jobs)),
		TotalSummaries: int64(len(s.summaries)),
	}
	for _, job := range s.jobs {
		switch job.Status {
		case crawler.JobStatusQueued:
			stats.QueuedJobs++
		case crawler.JobStatusProcessing:
			stats.ProcessingJobs++
		case crawler.JobStatusCompleted:
			stats.CompletedJobs++
		case crawler.JobStatusFailed:
			stats.FailedJobs++
		}
	}
	since := now.Add(-crawler.RecentWindow)
	for _, summary := range s.summaries {
		if !summary.CreatedAt.Before(since) {
			stats.RecentSummaries7Days++
		}
	}
	return stats, nil
}

// heldLocked returns the job when it is processing under runnerID.
func (s *JobStore) heldLocked(op string, jobID int64, runnerID string) (crawler.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %d: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status != crawler.JobStatusProcessing || job.RunnerID != runnerID {
		return crawler.Job{}, crawler.NewError(crawler.KindStoreConsistency, op,
			fmt.Errorf("job %d is %s held by %q, not %q", jobID, job.Status, job.RunnerID, runnerID))
	}
	return job, nil
}

func matches(summary crawler.Summary, needle string) bool {
	return strings.Contains(strings.ToLower(summary.Title), needle) ||
		strings.Contains(strings.ToLower(summary.Summary), needle) ||
		strings.Contains(strings.ToLower(summary.URL), needle)
}

func copyJob(job crawler.Job) crawler.Job {
	if job.Error != nil {
		jobErr := *job.Error
		job.Error = &jobErr
	}
	return job
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
