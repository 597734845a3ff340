// Package extract turns fetched HTML into links, readable text and titles
// using goquery.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

// boilerplate is removed before text extraction.
const boilerplate = "script, style, noscript, template, svg, iframe, nav, footer, header, aside, form, [role=navigation], [aria-hidden=true]"

// blockTags end a line of extracted text.
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {}, "li": {}, "ul": {}, "ol": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "pre": {}, "blockquote": {},
	"table": {}, "tr": {}, "br": {}, "dt": {}, "dd": {},
}

// HTML implements crawler.LinkExtractor and crawler.TextExtractor.
type HTML struct{}

// New returns an HTML extractor.
func New() *HTML {
	return &HTML{}
}

// ExtractLinks returns absolute, normalized anchor targets in document order.
// Duplicates are removed; host filtering is left to the crawler.
func (h *HTML) ExtractLinks(baseURL string, html []byte) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, resolveErr := base.Parse(strings.TrimSpace(href)); resolveErr == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		link, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

// ExtractText returns the readable text of a page with boilerplate removed.
// Preference goes to <main> or <article> when the page has one.
func (h *HTML) ExtractText(html []byte) (string, error) {
	doc, err := parse(html)
	if err != nil {
		return "", err
	}
	doc.Find(boilerplate).Remove()

	root := doc.Find("main, article, [role=main]").First()
	if root.Length() == 0 || strings.TrimSpace(root.Text()) == "" {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Each(func(_ int, s *goquery.Selection) {
		writeText(&b, s)
	})
	return collapse(b.String()), nil
}

// Title returns the document <title>, falling back to the first <h1>.
func (h *HTML) Title(html []byte) string {
	doc, err := parse(html)
	if err != nil {
		return ""
	}
	if title := squash(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && squash(og) != "" {
		return squash(og)
	}
	return squash(doc.Find("h1").First().Text())
}

func parse(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func writeText(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			return
		}
		_, block := blockTags[goquery.NodeName(child)]
		if block {
			b.WriteString("\n")
		}
		writeText(b, child)
		if block {
			b.WriteString("\n")
		}
	})
}

// collapse squashes runs of whitespace inside lines and drops empty lines.
func collapse(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = squash(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
