// Package worker runs the crawl-and-summarize pipeline for claimed jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/logging"
	"github.com/JakeFAU/docs-summarizer/internal/metrics"
)

// Config controls Runner behavior.
type Config struct {
	// PollInterval bounds how long an idle runner waits before re-checking
	// the store without a wake-up hint.
	PollInterval time.Duration
	// JobTimeout caps crawl plus summarization for one job.
	JobTimeout time.Duration
	// ArtifactPrefix is the blob path prefix for exported summaries.
	ArtifactPrefix string
	// Topic receives completion events when a publisher is configured.
	Topic string
	// WriteTimeout bounds the terminal store write, artifact export and event
	// publish. It starts after the pipeline stages, so an expired JobTimeout
	// still leaves time to record the outcome.
	WriteTimeout time.Duration
}

// Deps are the collaborators a Runner drives. Blobs and Publisher are optional.
type Deps struct {
	Store      crawler.JobStore
	Queue      crawler.Queue
	Crawler    crawler.PageCrawler
	Text       crawler.TextExtractor
	Summarizer crawler.Summarizer
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	Blobs      crawler.BlobStore
	Publisher  crawler.Publisher
}

// Runner claims queued jobs one at a time and drives each to a terminal state.
type Runner struct {
	id     string
	deps   Deps
	cfg    Config
	base   *zap.Logger
	logger *zap.Logger
}

// New constructs a Runner identified by id.
func New(id string, deps Deps, cfg Config, logger *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ArtifactPrefix == "" {
		cfg.ArtifactPrefix = "summaries"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		base:   logger,
		logger: logger.With(zap.String("runner_id", id)),
	}
}

// ID returns the runner id recorded on claimed jobs.
func (r *Runner) ID() string {
	return r.id
}

// Run blocks, claiming and processing jobs until ctx ends. A job already in
// progress when ctx ends is finished first.
func (r *Runner) Run(ctx context.Context) {
	metrics.IncActiveRunners()
	defer metrics.DecActiveRunners()
	r.logger.Info("runner started")
	defer r.logger.Info("runner stopped")

	for ctx.Err() == nil {
		r.drain(ctx)
		r.wait(ctx)
	}
}

// drain processes jobs until the store has none queued.
func (r *Runner) drain(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := r.RunOnce(ctx)
		if err != nil && !processed {
			r.logger.Error("claim failed", zap.Error(err))
		}
		if !processed {
			return
		}
	}
}

// wait blocks until a wake-up hint arrives or the poll interval passes.
func (r *Runner) wait(ctx context.Context) {
	if r.deps.Queue == nil {
		sleep(ctx, r.cfg.PollInterval)
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.PollInterval)
	defer cancel()
	item, err := r.deps.Queue.Dequeue(waitCtx)
	if err != nil {
		// A closed queue returns at once; fall back to polling.
		<-waitCtx.Done()
		return
	}
	r.logger.Debug("woken", zap.Int64("job_id", item.JobID))
}

// RunOnce claims one job and processes it. It reports whether a job was
// claimed; the error is the claim or pipeline failure.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.deps.Store.Claim(ctx, r.id)
	if errors.Is(err, crawler.ErrNoQueuedJobs) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	return true, r.Process(ctx, job)
}

// Process drives a claimed job to completed or failed. Cancelling ctx does
// not abort the job; only JobTimeout does, and it bounds the crawl and
// summarize stages only. The outcome is written under WriteTimeout.
func (r *Runner) Process(ctx context.Context, job crawler.Job) error {
	detached := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(detached, r.cfg.JobTimeout)
	defer cancel()

	logger := logging.ForJob(r.base, job.ID, job.URL, r.id)
	logger.Info("job claimed", zap.Int("max_pages", job.MaxPages), zap.Int("max_depth", job.MaxDepth))
	start := time.Now()

	summary, counters, err := r.execute(jobCtx, job, logger)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("job timeout reached", zap.Duration("job_timeout", r.cfg.JobTimeout))
	}

	writeCtx, cancelWrite := context.WithTimeout(detached, r.cfg.WriteTimeout)
	defer cancelWrite()
	if err != nil {
		return r.fail(writeCtx, job, err, counters, logger)
	}
	err = r.complete(writeCtx, job, summary, counters, logger)
	if err == nil {
		logger.Info("job completed", zap.Duration("elapsed", time.Since(start)))
	}
	return err
}

func (r *Runner) execute(
	ctx context.Context,
	job crawler.Job,
	logger *zap.Logger,
) (crawler.Summary, crawler.JobCounters, error) {
	result, err := r.deps.Crawler.Crawl(ctx, job.Parameters())
	counters := result.Counters()
	if err != nil {
		return crawler.Summary{}, counters, withKind(err, crawler.KindCrawl, "crawl")
	}
	logger.Debug("crawl finished", zap.Int("pages", counters.PagesCrawled), zap.Int("failed", counters.PagesFailed))

	corpus, err := buildCorpus(result.Pages, r.deps.Text, r.deps.Hasher)
	if err != nil {
		return crawler.Summary{}, counters, err
	}
	text, err := r.deps.Summarizer.Summarize(ctx, corpus, job.URL)
	if err != nil {
		return crawler.Summary{}, counters, withKind(err, crawler.KindSummarization, "summarize")
	}
	if strings.TrimSpace(text) == "" {
		return crawler.Summary{}, counters,
			crawler.NewError(crawler.KindSummarization, "summarize", errors.New("empty summary"))
	}
	return crawler.Summary{
		URL:     job.URL,
		Title:   pickTitle(result.Pages, job.URL, r.deps.Text),
		Content: corpus,
		Summary: text,
	}, counters, nil
}

func (r *Runner) complete(
	ctx context.Context,
	job crawler.Job,
	summary crawler.Summary,
	counters crawler.JobCounters,
	logger *zap.Logger,
) error {
	summary.ArtifactURI = r.exportArtifact(ctx, job, summary, logger)

	saved, err := r.deps.Store.Complete(ctx, job.ID, r.id, summary, counters)
	if err != nil {
		r.discardArtifact(ctx, summary.ArtifactURI, logger)
		if errors.Is(err, crawler.ErrConflict) {
			metrics.ObserveConsistencyViolation("complete")
			logger.Error("store rejected completion", zap.Error(err))
			return err
		}
		logger.Error("complete job failed", zap.Error(err))
		return r.fail(ctx, job, crawler.NewError(crawler.KindInternal, "complete", err), counters, logger)
	}

	metrics.ObserveJob(string(crawler.JobStatusCompleted), "")
	logger.Info("summary stored", zap.Int64("summary_id", saved.ID), zap.String("artifact_uri", saved.ArtifactURI))
	r.publish(ctx, crawler.CompletionEvent{
		JobID:     job.ID,
		SummaryID: saved.ID,
		URL:       job.URL,
		Status:    crawler.JobStatusCompleted,
		Timestamp: r.deps.Clock.Now(),
	}, logger)
	return nil
}

func (r *Runner) fail(
	ctx context.Context,
	job crawler.Job,
	cause error,
	counters crawler.JobCounters,
	logger *zap.Logger,
) error {
	jobErr := crawler.JobErrorFrom(cause, crawler.KindInternal)
	if err := r.deps.Store.Fail(ctx, job.ID, r.id, jobErr, counters); err != nil {
		if errors.Is(err, crawler.ErrConflict) {
			metrics.ObserveConsistencyViolation("fail")
		}
		logger.Error("fail job failed", zap.Error(err), zap.NamedError("cause", cause))
		return errors.Join(cause, err)
	}

	metrics.ObserveJob(string(crawler.JobStatusFailed), string(jobErr.Kind))
	logger.Warn("job failed", zap.String("kind", string(jobErr.Kind)), zap.String("message", jobErr.Message))
	r.publish(ctx, crawler.CompletionEvent{
		JobID:     job.ID,
		URL:       job.URL,
		Status:    crawler.JobStatusFailed,
		ErrorKind: jobErr.Kind,
		Timestamp: r.deps.Clock.Now(),
	}, logger)
	return cause
}

// exportArtifact writes the rendered summary when a blob store is set.
// Failures are logged and leave the URI empty.
func (r *Runner) exportArtifact(ctx context.Context, job crawler.Job, summary crawler.Summary, logger *zap.Logger) string {
	if r.deps.Blobs == nil {
		return ""
	}
	now := r.deps.Clock.Now()
	uri, err := r.deps.Blobs.PutObject(ctx,
		artifactPath(r.cfg.ArtifactPrefix, job.ID, now),
		"text/markdown; charset=utf-8",
		strings.NewReader(renderArtifact(summary, now)),
	)
	if err != nil {
		logger.Warn("artifact export failed", zap.Error(err))
		return ""
	}
	return uri
}

func (r *Runner) discardArtifact(ctx context.Context, uri string, logger *zap.Logger) {
	if uri == "" || r.deps.Blobs == nil {
		return
	}
	if err := r.deps.Blobs.DeleteObject(ctx, uri); err != nil {
		logger.Warn("artifact cleanup failed", zap.String("artifact_uri", uri), zap.Error(err))
	}
}

func (r *Runner) publish(ctx context.Context, event crawler.CompletionEvent, logger *zap.Logger) {
	if r.deps.Publisher == nil || r.cfg.Topic == "" {
		return
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		logger.Warn("completion event publish failed", zap.Error(err))
	}
}

// withKind classifies err unless it already carries a kind.
func withKind(err error, kind crawler.ErrorKind, op string) error {
	var pipelineErr *crawler.Error
	if errors.As(err, &pipelineErr) {
		return err
	}
	return crawler.NewError(kind, op, err)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
