package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/api/handlers"
	"github.com/dvloznov/cashflow-assistant/internal/api/middleware"
)

// Handlers groups the endpoint handlers the router serves. Jobs may be nil
// when exports are disabled.
type Handlers struct {
	Sessions   *handlers.SessionsHandler
	Projection *handlers.ProjectionHandler
	Jobs       *handlers.JobsHandler
}

// NewRouter wires every route and wraps it in the standard middleware chain.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r := mux.NewRouter()
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed

	// Subrouters do not inherit the parent's handlers.
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed

	// Sessions
	api.HandleFunc("/sessions/{id}/messages", h.Sessions.PostMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", h.Sessions.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.Sessions.DeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/modifications", h.Sessions.ListModifications).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/modifications", h.Sessions.ClearModifications).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/modifications/{mod}/approve", h.Sessions.ApproveModification).Methods(http.MethodPost)

	// Stateless projection
	api.HandleFunc("/projection", h.Projection.Project).Methods(http.MethodPost)

	// Export jobs
	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	return middleware.Chain(r,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)
}
