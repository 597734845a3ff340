// Package crawler holds the domain types, capability interfaces, error
// taxonomy and the bounded breadth-first crawl engine shared by the runner,
// stores and API.
package crawler
