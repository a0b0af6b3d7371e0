package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ModificationKind distinguishes relocations from injected payments.
type ModificationKind string

const (
	KindMoved   ModificationKind = "moved"
	KindPlanned ModificationKind = "planned"
)

// ModificationStatus tracks whether the user accepted a suggestion.
type ModificationStatus string

const (
	StatusSuggested ModificationStatus = "suggested"
	StatusApproved  ModificationStatus = "approved"
)

// CalendarModification is a suggested change to the cash-flow calendar.
//
// A moved modification relocates an existing transaction from OriginalDate to
// NewDate. A planned modification injects a new transaction on Date; its
// TransactionID identifies the synthetic entry.
type CalendarModification struct {
	ModificationID string             `json:"modification_id"`
	TransactionID  string             `json:"transaction_id"`
	Kind           ModificationKind   `json:"type"`
	OriginalDate   *civil.Date        `json:"original_date,omitempty"`
	NewDate        *civil.Date        `json:"new_date,omitempty"`
	Date           *civil.Date        `json:"date,omitempty"`
	Amount         decimal.Decimal    `json:"amount"`
	Category       string             `json:"category,omitempty"`
	Merchant       string             `json:"merchant,omitempty"`
	Reason         string             `json:"reason"`
	Status         ModificationStatus `json:"status"`
	CreatedAt      *time.Time         `json:"created_at,omitempty"`
	ApprovedAt     *time.Time         `json:"approved_at,omitempty"`
}

// EffectiveDate is the date the modification places money on.
func (m CalendarModification) EffectiveDate() civil.Date {
	switch m.Kind {
	case KindMoved:
		if m.NewDate != nil {
			return *m.NewDate
		}
	case KindPlanned:
		if m.Date != nil {
			return *m.Date
		}
	}
	return civil.Date{}
}

// Validate checks the record shape before it is stored.
func (m CalendarModification) Validate() error {
	if m.ModificationID == "" {
		return validationErrorf("modification_id", "is required")
	}
	if m.TransactionID == "" {
		return validationErrorf("transaction_id", "is required")
	}
	if m.Reason == "" {
		return validationErrorf("reason", "is required")
	}
	switch m.Status {
	case "", StatusSuggested, StatusApproved:
	default:
		return validationErrorf("status", "unknown status %q", m.Status)
	}

	switch m.Kind {
	case KindMoved:
		if m.OriginalDate == nil || m.NewDate == nil {
			return validationErrorf("new_date", "moved modification needs original_date and new_date")
		}
		if !m.OriginalDate.IsValid() || !m.NewDate.IsValid() {
			return validationErrorf("new_date", "invalid date")
		}
		if m.Date != nil {
			return validationErrorf("date", "moved modification must not carry date")
		}
	case KindPlanned:
		if m.Date == nil || !m.Date.IsValid() {
			return validationErrorf("date", "planned modification needs a valid date")
		}
		if m.OriginalDate != nil || m.NewDate != nil {
			return validationErrorf("new_date", "planned modification must not carry original_date or new_date")
		}
		if m.Amount.IsZero() {
			return validationErrorf("amount", "planned modification needs a non-zero amount")
		}
	default:
		return validationErrorf("type", "unknown kind %q", m.Kind)
	}
	return nil
}

// ModificationFeed is the wire wrapper read by calendar renderers.
// An absent ledger is an empty list with a null timestamp.
type ModificationFeed struct {
	Modifications []CalendarModification `json:"modifications"`
	LastUpdated   *time.Time             `json:"last_updated"`
}

// FeedSummary counts a feed by kind.
type FeedSummary struct {
	Total    int        `json:"total_modifications"`
	Moved    int        `json:"transactions_moved"`
	Planned  int        `json:"planned_transactions"`
	Approved int        `json:"approved"`
	Updated  *time.Time `json:"last_updated"`
}

// Summary returns counts for the feed.
func (f ModificationFeed) Summary() FeedSummary {
	s := FeedSummary{Total: len(f.Modifications), Updated: f.LastUpdated}
	for _, m := range f.Modifications {
		switch m.Kind {
		case KindMoved:
			s.Moved++
		case KindPlanned:
			s.Planned++
		}
		if m.Status == StatusApproved {
			s.Approved++
		}
	}
	return s
}

// DatePtr returns a pointer to a copy of d.
func DatePtr(d civil.Date) *civil.Date {
	return &d
}
