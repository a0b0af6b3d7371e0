package dispatcher

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/ledger"
	"github.com/dvloznov/cashflow-assistant/internal/session"
)

// Capability names a downstream handler.
type Capability string

const (
	CapabilityScheduler Capability = "scheduler"
	CapabilityEducation Capability = "education"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapabilityScheduler || c == CapabilityEducation
}

// Request is one inbound user message with any attached financial data.
type Request struct {
	SessionID    string               `json:"session_id"`
	UserID       string               `json:"user_id"`
	Message      string               `json:"message"`
	Balance      *decimal.Decimal     `json:"balance,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Cards        []domain.CreditCard  `json:"cards,omitempty"`
	Window       *domain.DateRange    `json:"window,omitempty"`
	Focus        string               `json:"focus,omitempty"`
}

// HasAttachedData reports whether the request carries a balance, transactions
// or cards.
func (r Request) HasAttachedData() bool {
	return r.Balance != nil || len(r.Transactions) > 0 || len(r.Cards) > 0
}

// Decision is a classifier verdict.
type Decision struct {
	Capability Capability `json:"capability"`
	Reason     string     `json:"reason"`
	Source     string     `json:"source"`
}

// Call is what a capability receives: a read-only session view, the
// session's ledger and the request.
type Call struct {
	Session session.View
	Ledger  ledger.Store
	Request Request
}

// Outcome summarizes how a capability handled a request.
type Outcome string

const (
	OutcomeAnswered         Outcome = "answered"
	OutcomeOptimized        Outcome = "optimized"
	OutcomePartial          Outcome = "partial"
	OutcomeNoChanges        Outcome = "no_changes"
	OutcomeInsufficientData Outcome = "insufficient_data"
)

// Response is a capability's reply, tagged with the capability that produced it.
type Response struct {
	Capability      Capability                    `json:"capability"`
	Outcome         Outcome                       `json:"outcome"`
	Text            string                        `json:"text"`
	Bullets         []string                      `json:"bullets,omitempty"`
	Modifications   []domain.CalendarModification `json:"modifications,omitempty"`
	RiskDaysBefore  []civil.Date                  `json:"risk_days_before,omitempty"`
	RiskDaysAfter   []civil.Date                  `json:"risk_days_after,omitempty"`
	UnresolvedCards []string                      `json:"unresolved_cards,omitempty"`
	Decision        *Decision                     `json:"decision,omitempty"`
}

// Handler is a downstream capability.
type Handler interface {
	Handle(ctx context.Context, call Call) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) (Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, call Call) (Response, error) {
	return f(ctx, call)
}
