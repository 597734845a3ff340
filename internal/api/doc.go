// Package api serves the summarizer's JSON interface over chi.
//
// Routes:
//   - POST /scrape and POST /v1/jobs submit a crawl-and-summarize job.
//   - GET /jobs, GET /jobs/{id}, POST /jobs/{id}/cancel inspect and cancel jobs.
//   - GET /summaries, GET /summaries/{id}, DELETE /summaries/{id} browse results.
//   - GET /stats aggregates store counters.
//   - GET /, /healthz, /readyz and /metrics serve health checks and metrics.
package api
