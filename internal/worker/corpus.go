package worker

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

// DefaultTitle is used when neither the seed page nor its URL yields a title.
const DefaultTitle = "Documentation Summary"

const emptyCorpusMessage = "No content extracted from URL. The site might be blocked, " +
	"require JavaScript, or have no textual content."

var errEmptyCorpus = errors.New(emptyCorpusMessage)

// buildCorpus merges page text in crawl order. Pages whose text duplicates an
// earlier page are dropped. Each section is headed by its URL.
func buildCorpus(pages []crawler.Page, text crawler.TextExtractor, hasher crawler.Hasher) (string, error) {
	seen := make(map[string]struct{}, len(pages))
	sections := make([]string, 0, len(pages))
	for _, page := range pages {
		body, err := text.ExtractText(page.HTML)
		if err != nil {
			return "", crawler.NewError(crawler.KindExtraction, "extract "+page.URL, err)
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		digest, err := hasher.Hash([]byte(body))
		if err != nil {
			return "", crawler.NewError(crawler.KindExtraction, "hash "+page.URL, err)
		}
		if _, dup := seen[digest]; dup {
			continue
		}
		seen[digest] = struct{}{}
		sections = append(sections, "Source: "+page.URL+"\n\n"+body)
	}
	if len(sections) == 0 {
		return "", crawler.NewError(crawler.KindExtraction, "build corpus", errEmptyCorpus)
	}
	return strings.Join(sections, "\n\n"), nil
}

// pickTitle prefers the seed page title, then the last URL path segment.
func pickTitle(pages []crawler.Page, seedURL string, text crawler.TextExtractor) string {
	if len(pages) > 0 {
		if title := strings.TrimSpace(text.Title(pages[0].HTML)); title != "" {
			return title
		}
	}
	return titleFromURL(seedURL)
}

func titleFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return DefaultTitle
	}
	segment := path.Base(strings.TrimRight(parsed.Path, "/"))
	if segment == "" || segment == "." || segment == "/" {
		return DefaultTitle
	}
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(segment))
	if len(words) == 0 {
		return DefaultTitle
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
