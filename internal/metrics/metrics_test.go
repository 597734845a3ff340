package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversInitializeLazily(t *testing.T) {
	ObservePage("https://docs.example.com/a", "success", 128)
	ObserveJob("failed", "crawl_failure")
	ObserveSummarizerAttempt("retry")
	ObserveConsistencyViolation("complete")

	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("docs.example.com", "success")); val < 1 {
		t.Errorf("expected page counter to be incremented, got %f", val)
	}
	if val := testutil.ToFloat64(jobsTotal.WithLabelValues("failed", "crawl_failure")); val < 1 {
		t.Errorf("expected job counter to be incremented, got %f", val)
	}
	if val := testutil.ToFloat64(storeConsistencyViolationsTot.WithLabelValues("complete")); val < 1 {
		t.Errorf("expected violation counter to be incremented, got %f", val)
	}
}

func TestActiveRunnersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeRunners)
	IncActiveRunners()
	if got := testutil.ToFloat64(activeRunners); got != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, got)
	}
	DecActiveRunners()
	if got := testutil.ToFloat64(activeRunners); got != before {
		t.Errorf("expected gauge %f, got %f", before, got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
