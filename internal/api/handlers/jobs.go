package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dvloznov/cashflow-assistant/internal/api/middleware"
	"github.com/dvloznov/cashflow-assistant/internal/jobs"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
)

// JobsHandler reports export job status.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// ListJobs handles GET /api/jobs?session_id=&target=&status=&limit=&offset=
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.JobFilter{
		SessionID: q.Get("session_id"),
		Target:    jobs.Target(q.Get("target")),
		Status:    jobs.JobStatus(q.Get("status")),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = n
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
