// Command docs-summarizer runs the crawl-and-summarize service.
package main

import "github.com/JakeFAU/docs-summarizer/cmd"

func main() {
	cmd.Execute()
}
