// Package detector decides when a static response needs a headless re-fetch.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

const defaultMinTextChars = 200

// Heuristic promotes pages whose static HTML carries too little readable text.
type Heuristic struct {
	// MinTextChars is the visible-text length below which a page with app
	// shell markers is promoted.
	MinTextChars int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minTextChars int) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = defaultMinTextChars
	}
	return &Heuristic{MinTextChars: minTextChars}
}

var appShellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("enable javascript"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	textLen := visibleTextLength(resp.Body)
	if textLen == 0 {
		return true
	}
	if textLen >= h.MinTextChars {
		return false
	}
	lower := bytes.ToLower(resp.Body)
	for _, marker := range appShellMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return scriptHeavy(resp.Body, textLen)
}

func visibleTextLength(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}

// scriptHeavy reports whether there is more inline script than visible text.
func scriptHeavy(body []byte, textLen int) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script")
	if scripts.Length() == 0 {
		return false
	}
	scriptLen := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		scriptLen += len(s.Text())
		if _, external := s.Attr("src"); external {
			scriptLen += 200
		}
	})
	return scriptLen > textLen
}
