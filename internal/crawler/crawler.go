package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/metrics"
)

// Engine performs bounded breadth-first crawls of a single site.
type Engine struct {
	static   Fetcher
	headless Fetcher
	detector HeadlessDetector
	links    LinkExtractor
	limiter  RateLimiter
	logger   *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHeadless enables promotion of static responses to a rendering fetcher.
func WithHeadless(fetcher Fetcher, detector HeadlessDetector) Option {
	return func(e *Engine) {
		e.headless = fetcher
		e.detector = detector
	}
}

// WithRateLimiter throttles every fetch through limiter.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine builds a crawl engine around a static HTTP fetcher and link extractor.
func NewEngine(static Fetcher, links LinkExtractor, opts ...Option) *Engine {
	e := &Engine{
		static: static,
		links:  links,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type frontierEntry struct {
	url   string
	depth int
}

// Crawl fetches up to params.MaxPages pages reachable from params.URL within
// params.MaxDepth link hops. Pages are returned in discovery order. Only the
// seed is fatal: other fetch failures are recorded and skipped.
func (e *Engine) Crawl(ctx context.Context, params JobParameters) (CrawlResult, error) {
	if params.MaxPages < 1 || params.MaxDepth < 0 {
		return CrawlResult{}, InvalidInputf("max_pages %d max_depth %d", params.MaxPages, params.MaxDepth)
	}
	seed, err := ValidateSeedURL(params.URL)
	if err != nil {
		return CrawlResult{}, err
	}

	start := time.Now()
	defer func() { metrics.ObserveCrawlDuration(time.Since(start)) }()

	var result CrawlResult
	visited := map[string]struct{}{seed: {}}
	frontier := []frontierEntry{{url: seed, depth: 0}}

	for len(frontier) > 0 && len(result.Pages) < params.MaxPages {
		if err := ctx.Err(); err != nil {
			return result, NewError(KindCrawl, "crawl "+seed, err)
		}
		entry := frontier[0]
		frontier = frontier[1:]

		resp, err := e.fetch(ctx, entry)
		if err != nil {
			metrics.ObservePage(entry.url, "failure", 0)
			if entry.depth == 0 {
				return result, NewError(KindCrawl, fmt.Sprintf("crawl seed %s", seed), err)
			}
			e.logger.Warn("page fetch failed",
				zap.String("url", entry.url),
				zap.Int("depth", entry.depth),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, PageFailure{URL: entry.url, Depth: entry.depth, Err: err})
			continue
		}
		metrics.ObservePage(entry.url, "success", len(resp.Body))

		// Redirect targets count as visited too.
		if final, normErr := NormalizeURL(resp.URL); normErr == nil && final != "" {
			visited[final] = struct{}{}
		}
		result.Pages = append(result.Pages, Page{
			URL:          entry.url,
			Depth:        entry.depth,
			StatusCode:   resp.StatusCode,
			HTML:         resp.Body,
			UsedHeadless: resp.UsedHeadless,
		})

		if entry.depth >= params.MaxDepth || len(result.Pages) >= params.MaxPages {
			continue
		}
		frontier = e.expand(seed, entry, resp, visited, frontier)
	}

	if len(result.Pages) == 0 {
		return result, NewError(KindCrawl, "crawl "+seed, errors.New("no pages fetched"))
	}
	e.logger.Debug("crawl finished",
		zap.String("url", seed),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

func (e *Engine) expand(
	seed string,
	entry frontierEntry,
	resp FetchResponse,
	visited map[string]struct{},
	frontier []frontierEntry,
) []frontierEntry {
	base := resp.URL
	if base == "" {
		base = entry.url
	}
	links, err := e.links.ExtractLinks(base, resp.Body)
	if err != nil {
		e.logger.Warn("link extraction failed", zap.String("url", entry.url), zap.Error(err))
		return frontier
	}
	for _, link := range links {
		normalized, err := NormalizeURL(link)
		if err != nil || !Followable(normalized) || !SameSite(seed, normalized) {
			continue
		}
		if _, seen := visited[normalized]; seen {
			continue
		}
		visited[normalized] = struct{}{}
		frontier = append(frontier, frontierEntry{url: normalized, depth: entry.depth + 1})
	}
	return frontier
}

func (e *Engine) fetch(ctx context.Context, entry frontierEntry) (FetchResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, entry.url); err != nil {
			return FetchResponse{}, NewError(KindFetch, "fetch "+entry.url, err)
		}
	}
	resp, err := e.static.Fetch(ctx, FetchRequest{URL: entry.url, Depth: entry.depth})
	if err != nil {
		return FetchResponse{}, NewError(KindFetch, "fetch "+entry.url, err)
	}
	return e.maybePromote(ctx, entry, resp), nil
}

func (e *Engine) maybePromote(ctx context.Context, entry frontierEntry, resp FetchResponse) FetchResponse {
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(resp) {
		return resp
	}
	rendered, err := e.headless.Fetch(ctx, FetchRequest{URL: entry.url, Depth: entry.depth, UseHeadless: true})
	if err != nil {
		e.logger.Warn("headless promotion failed", zap.String("url", entry.url), zap.Error(err))
		return resp
	}
	rendered.UsedHeadless = true
	e.logger.Debug("headless promotion applied", zap.String("url", entry.url))
	return rendered
}
