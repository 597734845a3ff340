package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSite serves canned pages and records fetch order.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string][]string
	failing map[string]error
	fetched []string
}

func (s *fakeSite) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, req.URL)
	if err, ok := s.failing[req.URL]; ok {
		return FetchResponse{}, err
	}
	if _, ok := s.pages[req.URL]; !ok {
		return FetchResponse{}, errors.New("status 404")
	}
	return FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(req.URL)}, nil
}

// ExtractLinks treats the body as the page URL and returns its outlinks.
func (s *fakeSite) ExtractLinks(_ string, html []byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[string(html)], nil
}

func (s *fakeSite) fetchCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.fetched {
		if u == url {
			n++
		}
	}
	return n
}

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) ShouldPromote(resp FetchResponse) bool {
	args := m.Called(resp)
	return args.Bool(0)
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

func pageURLs(pages []Page) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}

func TestCrawlStopsAtMaxPagesInDiscoveryOrder(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[string][]string{
		"https://docs.example.com/": {
			"/one", "/two", "/three", "/four", "/five",
		},
		"https://docs.example.com/one":   nil,
		"https://docs.example.com/two":   nil,
		"https://docs.example.com/three": nil,
		"https://docs.example.com/four":  nil,
		"https://docs.example.com/five":  nil,
	}}
	// Links are relative; resolve them the way a real extractor would.
	links := resolvingExtractor{site: site}

	engine := NewEngine(site, links)
	result, err := engine.Crawl(context.Background(), JobParameters{
		URL: "https://docs.example.com", MaxPages: 3, MaxDepth: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://docs.example.com/",
		"https://docs.example.com/one",
		"https://docs.example.com/two",
	}, pageURLs(result.Pages))
	require.Equal(t, 0, result.Pages[0].Depth)
	require.Equal(t, 1, result.Pages[1].Depth)
	require.Equal(t, JobCounters{PagesCrawled: 3}, result.Counters())
}

func TestCrawlIsCycleSafe(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[string][]string{
		"https://example.com/a": {"https://example.com/b", "https://example.com/a", "https://example.com/a#top"},
		"https://example.com/b": {"https://example.com/a", "https://example.com/b", "https://EXAMPLE.com:443/c"},
		"https://example.com/c": {"https://example.com/a", "https://example.com/b"},
	}}

	engine := NewEngine(site, site)
	result, err := engine.Crawl(context.Background(), JobParameters{
		URL: "https://example.com/a", MaxPages: 20, MaxDepth: 5,
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, pageURLs(result.Pages))
	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		require.Equal(t, 1, site.fetchCount(u), u)
	}
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[string][]string{
		"https://example.com/0": {"https://example.com/1"},
		"https://example.com/1": {"https://example.com/2"},
		"https://example.com/2": {"https://example.com/3"},
		"https://example.com/3": nil,
	}}

	engine := NewEngine(site, site)
	result, err := engine.Crawl(context.Background(), JobParameters{
		URL: "https://example.com/0", MaxPages: 20, MaxDepth: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	for _, p := range result.Pages {
		require.LessOrEqual(t, p.Depth, 2)
	}
	require.Equal(t, 0, site.fetchCount("https://example.com/3"))
}

func TestCrawlSeedFailureIsCrawlFailure(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		pages:   map[string][]string{},
		failing: map[string]error{"https://example.com/": context.DeadlineExceeded},
	}

	_, err := NewEngine(site, site).Crawl(context.Background(), JobParameters{
		URL: "https://example.com/", MaxPages: 5, MaxDepth: 2,
	})
	require.Error(t, err)
	require.Equal(t, KindCrawl, KindOf(err, KindInternal))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCrawlSkipsFailedChildPages(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		pages: map[string][]string{
			"https://example.com/":   {"https://example.com/bad", "https://example.com/ok"},
			"https://example.com/ok": nil,
		},
	}

	result, err := NewEngine(site, site).Crawl(context.Background(), JobParameters{
		URL: "https://example.com/", MaxPages: 5, MaxDepth: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/", "https://example.com/ok"}, pageURLs(result.Pages))
	require.Len(t, result.Failures, 1)
	require.Equal(t, "https://example.com/bad", result.Failures[0].URL)
	require.Equal(t, JobCounters{PagesCrawled: 2, PagesFailed: 1}, result.Counters())
}

func TestCrawlIgnoresForeignAndAssetLinks(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[string][]string{
		"https://example.com/": {
			"https://other.example.org/",
			"mailto:team@example.com",
			"https://example.com/logo.png",
			"https://www.example.com/guide",
		},
		"https://www.example.com/guide": nil,
	}}

	result, err := NewEngine(site, site).Crawl(context.Background(), JobParameters{
		URL: "https://example.com/", MaxPages: 10, MaxDepth: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/", "https://www.example.com/guide"}, pageURLs(result.Pages))
}

func TestCrawlPromotesToHeadless(t *testing.T) {
	t.Parallel()

	site := &fakeSite{pages: map[string][]string{"https://example.com/": nil}}
	rendered := &fakeSite{pages: map[string][]string{"https://example.com/": nil}}
	detector := &mockDetector{}
	detector.On("ShouldPromote", mock.Anything).Return(true).Once()
	limiter := &countingLimiter{}

	engine := NewEngine(site, site, WithHeadless(rendered, detector), WithRateLimiter(limiter))
	result, err := engine.Crawl(context.Background(), JobParameters{
		URL: "https://example.com/", MaxPages: 1, MaxDepth: 1,
	})
	require.NoError(t, err)
	require.True(t, result.Pages[0].UsedHeadless)
	require.Equal(t, 1, rendered.fetchCount("https://example.com/"))
	require.Equal(t, 1, limiter.calls)
	detector.AssertExpectations(t)
}

func TestCrawlRejectsBadSeed(t *testing.T) {
	t.Parallel()

	site := &fakeSite{}
	_, err := NewEngine(site, site).Crawl(context.Background(), JobParameters{
		URL: "ftp://example.com", MaxPages: 1, MaxDepth: 1,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

type resolvingExtractor struct {
	site *fakeSite
}

func (r resolvingExtractor) ExtractLinks(base string, html []byte) ([]string, error) {
	raw, err := r.site.ExtractLinks(base, html)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, href := range raw {
		out = append(out, "https://docs.example.com"+href)
	}
	return out, nil
}
