package summarizer

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/metrics"
)

// ErrRateLimited marks a backend refusal that is worth retrying.
var ErrRateLimited = errors.New("summarizer rate limited")

// ExponentialRetryPolicy retries transient errors with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy; zero values take defaults of
// 3 attempts, 500ms base and 8s cap.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = 8 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts is the total number of calls allowed, including the first.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt follows attempt (1-based).
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait before retry number attempt (0-based).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// IsTransient reports whether err is a rate limit, a server-side failure or a timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyCorpus) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// RetryConfig tunes the Retrying decorator.
type RetryConfig struct {
	AttemptTimeout    time.Duration
	RequestsPerSecond float64
}

// Retrying wraps a Summarizer with per-attempt timeouts, a shared request
// rate limit and bounded retries. It is the only place summarization is retried.
type Retrying struct {
	next    crawler.Summarizer
	policy  *ExponentialRetryPolicy
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewRetrying decorates next.
func NewRetrying(next crawler.Summarizer, policy *ExponentialRetryPolicy, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if policy == nil {
		policy = NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Retrying{
		next:    next,
		policy:  policy,
		limiter: limiter,
		timeout: cfg.AttemptTimeout,
		logger:  logger,
	}
}

// Summarize calls the wrapped summarizer until it succeeds, fails permanently
// or runs out of attempts. Failures are classified as summarization_failure.
func (r *Retrying) Summarize(ctx context.Context, corpus string, sourceURL string) (string, error) {
	op := "summarize " + sourceURL
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts(); attempt++ {
		if attempt > 1 {
			delay := r.policy.Backoff(attempt - 2)
			r.logger.Warn("retrying summarization",
				zap.String("url", sourceURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return "", crawler.NewError(crawler.KindSummarization, op, errors.Join(lastErr, err))
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", crawler.NewError(crawler.KindSummarization, op, err)
			}
		}

		summary, err := r.attempt(ctx, corpus, sourceURL)
		if err == nil {
			metrics.ObserveSummarizerAttempt("success")
			return summary, nil
		}
		lastErr = err
		if ctx.Err() != nil || !r.policy.ShouldRetry(err, attempt) {
			break
		}
		metrics.ObserveSummarizerAttempt("retry")
	}
	metrics.ObserveSummarizerAttempt("failure")
	return "", crawler.NewError(crawler.KindSummarization, op, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, corpus, sourceURL string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.next.Summarize(attemptCtx, corpus, sourceURL)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
