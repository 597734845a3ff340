// Package dispatcher validates job submissions and runs the runner pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/clock/system"
	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/metrics"
	"github.com/JakeFAU/docs-summarizer/internal/worker"
)

// Config bounds accepted job parameters.
type Config struct {
	DefaultMaxPages int
	DefaultMaxDepth int
	MaxPagesLimit   int
	MaxDepthLimit   int
	Clock           crawler.Clock
}

func (c Config) withDefaults() Config {
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 5
	}
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = 2
	}
	if c.MaxPagesLimit <= 0 {
		c.MaxPagesLimit = 20
	}
	if c.MaxDepthLimit <= 0 {
		c.MaxDepthLimit = 5
	}
	if c.Clock == nil {
		c.Clock = system.New()
	}
	return c
}

// JobRequest is a client submission. Nil bounds take the configured defaults.
type JobRequest struct {
	URL      string
	MaxPages *int
	MaxDepth *int
}

// Dispatcher fans queued jobs out to a pool of runners.
type Dispatcher struct {
	store   crawler.JobStore
	queue   crawler.Queue
	runners []*worker.Runner
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. runners may be empty for submit-only use.
func New(
	store crawler.JobStore,
	queue crawler.Queue,
	runners []*worker.Runner,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		queue:   queue,
		runners: runners,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Size is the number of runners in the pool.
func (d *Dispatcher) Size() int {
	return len(d.runners)
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(runner *worker.Runner) {
			defer wg.Done()
			runner.Run(ctx)
		}(r)
	}
	d.logger.Info("runner pool started", zap.Int("runners", len(d.runners)))
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("runner pool drained")
}

// Validate resolves defaults and checks bounds without touching the store.
func (d *Dispatcher) Validate(req JobRequest) (crawler.JobParameters, error) {
	seed, err := crawler.ValidateSeedURL(req.URL)
	if err != nil {
		return crawler.JobParameters{}, err
	}
	params := crawler.JobParameters{
		URL:      seed,
		MaxPages: d.cfg.DefaultMaxPages,
		MaxDepth: d.cfg.DefaultMaxDepth,
	}
	if req.MaxPages != nil {
		params.MaxPages = *req.MaxPages
	}
	if req.MaxDepth != nil {
		params.MaxDepth = *req.MaxDepth
	}
	if params.MaxPages < 1 || params.MaxPages > d.cfg.MaxPagesLimit {
		return crawler.JobParameters{}, crawler.InvalidInputf("max_pages must be between 1 and %d", d.cfg.MaxPagesLimit)
	}
	if params.MaxDepth < 1 || params.MaxDepth > d.cfg.MaxDepthLimit {
		return crawler.JobParameters{}, crawler.InvalidInputf("max_depth must be between 1 and %d", d.cfg.MaxDepthLimit)
	}
	return params, nil
}

// Submit validates req, stores a queued job and wakes a runner.
func (d *Dispatcher) Submit(ctx context.Context, req JobRequest) (crawler.Job, error) {
	params, err := d.Validate(req)
	if err != nil {
		return crawler.Job{}, err
	}
	job, err := d.store.CreateJob(ctx, params)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	d.logger.Info("job queued",
		zap.Int64("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("max_pages", job.MaxPages),
		zap.Int("max_depth", job.MaxDepth),
	)
	d.wake(ctx, job.ID)
	return job, nil
}

// Cancel fails a job that no runner has claimed yet.
func (d *Dispatcher) Cancel(ctx context.Context, jobID int64) (crawler.Job, error) {
	job, err := d.store.Cancel(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed), string(crawler.KindCanceled))
	d.logger.Info("job canceled", zap.Int64("job_id", job.ID), zap.String("url", job.URL))
	return job, nil
}

// Requeue abandons a job stuck in processing for longer than staleAfter and
// queues a fresh copy.
func (d *Dispatcher) Requeue(ctx context.Context, jobID int64, staleAfter time.Duration) (crawler.Job, error) {
	job, err := d.store.Requeue(ctx, jobID, d.cfg.Clock.Now().Add(-staleAfter))
	if err != nil {
		return crawler.Job{}, err
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed), string(crawler.KindAbandoned))
	d.logger.Warn("job requeued",
		zap.Int64("abandoned_job_id", jobID),
		zap.Int64("job_id", job.ID),
		zap.String("url", job.URL),
	)
	d.wake(ctx, job.ID)
	return job, nil
}

// RequeueStale requeues every job stuck in processing longer than
// staleAfter. Jobs that finish concurrently are skipped.
func (d *Dispatcher) RequeueStale(ctx context.Context, staleAfter time.Duration) ([]crawler.Job, error) {
	stale, err := d.store.ListStale(ctx, d.cfg.Clock.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	requeued := make([]crawler.Job, 0, len(stale))
	for _, job := range stale {
		fresh, err := d.Requeue(ctx, job.ID, staleAfter)
		if errors.Is(err, crawler.ErrConflict) {
			continue
		}
		if err != nil {
			return requeued, err
		}
		requeued = append(requeued, fresh)
	}
	return requeued, nil
}

func (d *Dispatcher) wake(ctx context.Context, jobID int64) {
	if d.queue == nil {
		return
	}
	item := crawler.QueueItem{JobID: jobID, Submitted: d.cfg.Clock.Now().UnixNano()}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.logger.Warn("wake-up hint dropped", zap.Int64("job_id", jobID), zap.Error(err))
	}
}
