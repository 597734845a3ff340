package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte("  ")}))
}

func TestHeuristic_ShouldPromote_AppShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="__next">Loading</div></body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptHeavy(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><p>t</p><script src="/bundle.js"></script></body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_KeepsTextRichPages(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	body := `<html><body><div id="root"><p>` + strings.Repeat("Install the SDK. ", 20) +
		`</p></div><script src="/app.js"></script></body></html>`
	require.False(t, h.ShouldPromote(crawler.FetchResponse{StatusCode: 200, Body: []byte(body)}))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 404,
		Body:       []byte(""),
	}
	require.False(t, h.ShouldPromote(resp))
}
