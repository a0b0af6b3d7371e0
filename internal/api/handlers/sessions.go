package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dvloznov/cashflow-assistant/internal/api/middleware"
	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
	"github.com/dvloznov/cashflow-assistant/internal/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// SessionsHandler serves messages and ledgers per session.
type SessionsHandler struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Registry
}

// NewSessionsHandler creates a SessionsHandler.
func NewSessionsHandler(d *dispatcher.Dispatcher, sessions *session.Registry) *SessionsHandler {
	return &SessionsHandler{dispatcher: d, sessions: sessions}
}

// PostMessage handles POST /api/sessions/{id}/messages
func (h *SessionsHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req dispatcher.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.SessionID = mux.Vars(r)["id"]

	resp, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		writeErr(w, log, err, "Failed to handle message")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.sessions.Get(id)
	if !ok {
		writeErr(w, logger.FromContext(r.Context()), session.ErrNotFound, "Failed to get session")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": view,
		"state":   h.dispatcher.State(id).String(),
	})
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListModifications handles GET /api/sessions/{id}/modifications
func (h *SessionsHandler) ListModifications(w http.ResponseWriter, r *http.Request) {
	feed, err := h.sessions.Ledger(mux.Vars(r)["id"]).Feed(r.Context())
	if err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to list modifications")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, feed)
}

// ClearModifications handles DELETE /api/sessions/{id}/modifications
func (h *SessionsHandler) ClearModifications(w http.ResponseWriter, r *http.Request) {
	store := h.sessions.Ledger(mux.Vars(r)["id"])
	if err := store.Clear(r.Context()); err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to clear modifications")
		return
	}
	feed, err := store.Feed(r.Context())
	if err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to read modifications")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, feed)
}

// ApproveModification handles POST /api/sessions/{id}/modifications/{mod}/approve
func (h *SessionsHandler) ApproveModification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := h.sessions.Ledger(vars["id"]).Approve(r.Context(), vars["mod"])
	if err != nil {
		writeErr(w, logger.FromContext(r.Context()), err, "Failed to approve modification")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}
