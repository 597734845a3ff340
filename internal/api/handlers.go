package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/dispatcher"
)

type submitRequest struct {
	URL      string `json:"url"`
	MaxPages *int   `json:"max_pages"`
	MaxDepth *int   `json:"max_depth"`
}

type submitResponse struct {
	JobID   int64             `json:"job_id"`
	Status  crawler.JobStatus `json:"status"`
	Message string            `json:"message"`
}

type summaryListItem struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.deps.Dispatcher.Submit(r.Context(), dispatcher.JobRequest{
		URL:      req.URL,
		MaxPages: req.MaxPages,
		MaxDepth: req.MaxDepth,
	})
	if err != nil {
		s.fail(w, r, "submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Scraping job started successfully",
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := crawler.JobQuery{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		query.Status = crawler.JobStatus(raw)
		if !query.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
	}
	jobs, err := s.deps.Store.ListJobs(r.Context(), query)
	if err != nil {
		s.fail(w, r, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.deps.Store.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.deps.Dispatcher.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, r, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := s.deps.Store.ListSummaries(r.Context(), crawler.SummaryQuery{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, "list summaries", err)
		return
	}
	items := make([]summaryListItem, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, summaryListItem{
			ID:          sum.ID,
			Title:       sum.Title,
			URL:         sum.URL,
			Summary:     sum.Summary,
			ArtifactURI: sum.ArtifactURI,
			CreatedAt:   sum.CreatedAt,
			Status:      string(crawler.JobStatusCompleted),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "summary_id")
	if !ok {
		return
	}
	summary, err := s.deps.Store.GetSummary(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) deleteSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "summary_id")
	if !ok {
		return
	}
	summary, err := s.deps.Store.DeleteSummary(r.Context(), id)
	if err != nil {
		s.fail(w, r, "delete summary", err)
		return
	}
	if summary.ArtifactURI != "" && s.deps.Blobs != nil {
		if err := s.deps.Blobs.DeleteObject(r.Context(), summary.ArtifactURI); err != nil {
			s.logger.Warn("artifact delete failed",
				zap.Int64("summary_id", summary.ID),
				zap.String("artifact_uri", summary.ArtifactURI),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Summary deleted successfully"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context(), s.deps.Clock.Now())
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// fail maps err to a status and logs anything that is not the client's fault.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, clientMessage(err))
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

var (
	errLimit  = errors.New("limit must be an integer between 1 and 100")
	errOffset = errors.New("offset must be a non-negative integer")
)

func paging(r *http.Request) (int, int, error) {
	limit, offset := crawler.DefaultListLimit, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > crawler.MaxListLimit {
			return 0, 0, errLimit
		}
		limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errOffset
		}
		offset = v
	}
	return limit, offset, nil
}
