package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
)

const previewChars = 500

// artifactPath names the exported document for a job.
func artifactPath(prefix string, jobID int64, at time.Time) string {
	name := fmt.Sprintf("summary_%s_%d.md", at.UTC().Format("20060102_150405"), jobID)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// renderArtifact formats a summary as a standalone markdown document.
func renderArtifact(summary crawler.Summary, at time.Time) string {
	preview := summary.Content
	if runes := []rune(preview); len(runes) > previewChars {
		preview = string(runes[:previewChars])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", summary.Title)
	fmt.Fprintf(&b, "**Source:** %s\n", summary.URL)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", at.UTC().Format("2006-01-02 15:04:05"))
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(summary.Summary))
	b.WriteString("\n\n---\n\n## Original Content Preview\n")
	b.WriteString(preview)
	b.WriteString("...\n")
	return b.String()
}
