package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/api/middleware"
	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
)

// ProjectionRequest is the body of POST /api/projection.
type ProjectionRequest struct {
	Balance       *decimal.Decimal              `json:"balance"`
	Transactions  []domain.Transaction          `json:"transactions"`
	Modifications []domain.CalendarModification `json:"modifications,omitempty"`
	Window        *domain.DateRange             `json:"window"`
	Policy        domain.SameDayPolicy          `json:"policy,omitempty"`
	Floor         *decimal.Decimal              `json:"buffer_floor,omitempty"`
}

// ProjectionHandler runs stateless projections.
type ProjectionHandler struct {
	defaults *projector.Projector
}

// NewProjectionHandler creates a handler whose policy and floor default to p's.
func NewProjectionHandler(p *projector.Projector) *ProjectionHandler {
	return &ProjectionHandler{defaults: p}
}

// Project handles POST /api/projection
func (h *ProjectionHandler) Project(w http.ResponseWriter, r *http.Request) {
	var req ProjectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	log := logger.FromContext(r.Context())

	if req.Balance == nil {
		writeErr(w, log, &domain.DataError{Field: "balance", Reason: "is required"}, "")
		return
	}
	if req.Window == nil {
		writeErr(w, log, &domain.DataError{Field: "window", Reason: "is required"}, "")
		return
	}

	if req.Policy != "" {
		if err := req.Policy.Validate(); err != nil {
			writeErr(w, log, err, "")
			return
		}
	}

	opts := []projector.Option{
		projector.WithPolicy(h.defaults.Policy()),
		projector.WithFloor(h.defaults.Floor()),
		projector.WithPolicy(req.Policy),
	}
	if req.Floor != nil {
		opts = append(opts, projector.WithFloor(*req.Floor))
	}

	bp, err := projector.New(opts...).Project(*req.Balance, req.Transactions, req.Modifications, *req.Window)
	if err != nil {
		writeErr(w, log, err, "Failed to project balance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"projection": bp,
		"risk_days":  bp.RiskDays(),
	})
}
