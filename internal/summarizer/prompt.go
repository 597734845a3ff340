package summarizer

import (
	"fmt"
	"unicode/utf8"
)

const (
	systemPrompt    = "You are a technical documentation expert specializing in Web3 technologies."
	truncatedNotice = "\n\n[Content truncated due to length]"
)

const userPromptTemplate = `Analyze and summarize the following Web3 documentation from %s.

Provide a structured summary with:
1. **Overview** - What is this project/feature?
2. **Key Features** - Main capabilities and features
3. **Setup & Integration** - How to get started
4. **Technical Details** - Important technical information
5. **API/SDK Information** - Available interfaces
6. **Best Practices** - Recommendations for developers

Content:
%s

Provide a comprehensive but concise summary formatted in Markdown.`

// Truncate caps corpus at maxChars characters and appends a notice when it cut.
// A non-positive maxChars disables truncation.
func Truncate(corpus string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(corpus) <= maxChars {
		return corpus, false
	}
	runes := 0
	for i := range corpus {
		if runes == maxChars {
			return corpus[:i] + truncatedNotice, true
		}
		runes++
	}
	return corpus, false
}

func buildUserPrompt(corpus, sourceURL string) string {
	return fmt.Sprintf(userPromptTemplate, sourceURL, corpus)
}
