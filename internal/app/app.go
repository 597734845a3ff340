// Package app builds the long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/api"
	"github.com/JakeFAU/docs-summarizer/internal/clock/system"
	"github.com/JakeFAU/docs-summarizer/internal/config"
	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/dispatcher"
	"github.com/JakeFAU/docs-summarizer/internal/extract"
	collyfetcher "github.com/JakeFAU/docs-summarizer/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/docs-summarizer/internal/fetcher/headless"
	"github.com/JakeFAU/docs-summarizer/internal/hash/sha256"
	"github.com/JakeFAU/docs-summarizer/internal/headless/detector"
	"github.com/JakeFAU/docs-summarizer/internal/id/uuid"
	"github.com/JakeFAU/docs-summarizer/internal/metrics"
	"github.com/JakeFAU/docs-summarizer/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/docs-summarizer/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/docs-summarizer/internal/queue/memory"
	"github.com/JakeFAU/docs-summarizer/internal/storage/gcs"
	"github.com/JakeFAU/docs-summarizer/internal/storage/local"
	"github.com/JakeFAU/docs-summarizer/internal/storage/memory"
	"github.com/JakeFAU/docs-summarizer/internal/storage/postgres"
	"github.com/JakeFAU/docs-summarizer/internal/storage/sqlite"
	"github.com/JakeFAU/docs-summarizer/internal/summarizer"
	"github.com/JakeFAU/docs-summarizer/internal/worker"
)

// App holds the shared services: store, artifact sink, publisher and the
// wake-up queue. Runners and the HTTP server are built on demand so that
// operator commands never need model credentials.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	ids       *uuid.Generator
	store     crawler.JobStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	queue     *queuememory.Queue
	closers   []func()
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// New opens every configured backend. On error anything already opened is
// closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),
		queue:  queuememory.NewQueue(cfg.Crawler.QueueDepth),
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openArtifacts(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("artifacts", cfg.Artifacts.Provider),
		zap.Bool("publisher", a.publisher != nil),
	)
	return a, nil
}

// Store returns the configured job store.
func (a *App) Store() crawler.JobStore {
	return a.store
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.StoreMemory:
		a.store = memory.NewJobStore(a.clock)
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sqlite.Config{
			Path:        a.cfg.Store.SQLitePath,
			BusyTimeout: time.Duration(a.cfg.Store.BusyTimeoutMs) * time.Millisecond,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.onClose(func() {
			if err := s.Close(); err != nil {
				a.logger.Warn("close sqlite store", zap.Error(err))
			}
		})
		a.store = s
	case config.StorePostgres:
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.onClose(s.Close)
		a.store = s
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}
	return nil
}

func (a *App) openArtifacts(ctx context.Context) error {
	switch a.cfg.Artifacts.Provider {
	case config.ArtifactsNone, "":
	case config.ArtifactsMemory:
		a.blobs = memory.NewBlobStore()
	case config.ArtifactsLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Artifacts.BaseDir})
		if err != nil {
			return fmt.Errorf("open local artifacts: %w", err)
		}
		a.blobs = store
	case config.ArtifactsGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return fmt.Errorf("open gcs artifacts: %w", err)
		}
		a.blobs = store
	default:
		return fmt.Errorf("unknown artifacts provider %q", a.cfg.Artifacts.Provider)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := gcpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.onClose(func() {
		publisher.Close()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	a.publisher = publisher
	return nil
}

// Migrate applies the store schema. The memory store has none.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		a.logger.Info("store has no schema to migrate", zap.String("store", a.cfg.Store.Provider))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema applied", zap.String("store", a.cfg.Store.Provider))
	return nil
}

func (a *App) dispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		DefaultMaxPages: a.cfg.Crawler.DefaultMaxPages,
		DefaultMaxDepth: a.cfg.Crawler.DefaultMaxDepth,
		MaxPagesLimit:   a.cfg.Crawler.MaxPagesLimit,
		MaxDepthLimit:   a.cfg.Crawler.MaxDepthLimit,
		Clock:           a.clock,
	}
}

// Admin returns a dispatcher with no runners, for operator commands.
func (a *App) Admin() *dispatcher.Dispatcher {
	return dispatcher.New(a.store, a.queue, nil, a.dispatcherConfig(), a.logger.Named("dispatcher"))
}

// Pipeline builds the crawl engine, the summarizer and a pool of runners.
func (a *App) Pipeline() (*dispatcher.Dispatcher, error) {
	cfg := a.cfg
	text := extract.New()
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	})
	opts := []crawler.Option{
		crawler.WithRateLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.RequestsPerSecond,
			DefaultBurst: cfg.Crawler.Burst,
		})),
		crawler.WithLogger(a.logger.Named("crawler")),
	}
	if cfg.Headless.Enabled {
		rendered, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.onClose(rendered.Close)
			opts = append(opts, crawler.WithHeadless(rendered, detector.NewHeuristic(cfg.Headless.MinTextChars)))
		}
	}
	engine := crawler.NewEngine(static, text, opts...)

	temperature := cfg.Summarizer.Temperature
	model, err := summarizer.NewOpenAI(summarizer.Config{
		APIKey:        cfg.Summarizer.APIKey,
		BaseURL:       cfg.Summarizer.BaseURL,
		Model:         cfg.Summarizer.Model,
		Temperature:   &temperature,
		MaxTokens:     cfg.Summarizer.MaxTokens,
		MaxInputChars: cfg.Summarizer.MaxInputChars,
	}, a.logger.Named("summarizer"))
	if err != nil {
		return nil, fmt.Errorf("build summarizer: %w", err)
	}
	policy := summarizer.NewExponentialRetryPolicy(
		cfg.Summarizer.MaxAttempts,
		time.Duration(cfg.Summarizer.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Summarizer.BackoffMaxMs)*time.Millisecond,
	)
	retrying := summarizer.NewRetrying(model, policy, summarizer.RetryConfig{
		AttemptTimeout:    time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Summarizer.RequestsPerSecond,
	}, a.logger.Named("summarizer"))

	deps := worker.Deps{
		Store:      a.store,
		Queue:      a.queue,
		Crawler:    engine,
		Text:       text,
		Summarizer: retrying,
		Hasher:     sha256.New(),
		Clock:      a.clock,
		Blobs:      a.blobs,
		Publisher:  a.publisher,
	}
	workerCfg := worker.Config{
		PollInterval:   cfg.PollInterval(),
		JobTimeout:     cfg.JobTimeout(),
		WriteTimeout:   cfg.StoreWriteTimeout(),
		ArtifactPrefix: cfg.Artifacts.Prefix,
		Topic:          cfg.PubSub.TopicName,
	}
	runners := make([]*worker.Runner, 0, cfg.Crawler.Concurrency)
	for i := range cfg.Crawler.Concurrency {
		id, err := a.ids.NewRunnerID(i)
		if err != nil {
			return nil, fmt.Errorf("runner id: %w", err)
		}
		runners = append(runners, worker.New(id, deps, workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i))))
	}
	return dispatcher.New(a.store, a.queue, runners, a.dispatcherConfig(), a.logger.Named("dispatcher")), nil
}

// Server builds the HTTP API around d.
func (a *App) Server(d *dispatcher.Dispatcher) *api.Server {
	return api.NewServer(api.Deps{
		Store:      a.store,
		Dispatcher: d,
		Blobs:      a.blobs,
		IDs:        a.ids,
		Clock:      a.clock,
	}, api.Config{
		Version:        a.cfg.Server.Version,
		RequestTimeout: a.cfg.RequestTimeout(),
		AllowedOrigins: a.cfg.CORS.AllowedOrigins,
	}, a.logger.Named("api"))
}

// Serve runs the API and the runner pool until ctx ends or the listener
// fails, then shuts both down. In-flight jobs finish before it returns.
func (a *App) Serve(ctx context.Context) error {
	d, err := a.Pipeline()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Server(d).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		d.Run(runCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-runCtx.Done():
	case err = <-serveErr:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("server shutdown error", zap.Error(shutdownErr))
	}
	stop()
	a.queue.Close()
	<-poolDone
	a.logger.Info("shutdown complete")
	return err
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
