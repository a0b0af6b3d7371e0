package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/api/middleware"
	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/cashflow-assistant/internal/ledger"
	"github.com/dvloznov/cashflow-assistant/internal/session"
)

// StatusFor maps an error to the HTTP status the API reports for it.
func StatusFor(err error) int {
	var derr *domain.DataError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &derr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, session.ErrNotFound), errors.Is(err, inmemory.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeErr logs server-side failures and writes the mapped status. Client
// errors carry their message; server errors carry msg.
func writeErr(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}
