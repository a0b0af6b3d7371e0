// Package ledger persists calendar modifications per session.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// ErrNotFound is returned when a modification ID is not in the ledger.
var ErrNotFound = errors.New("modification not found")

// Store is one session's ledger. Calls on a Store are serialized.
type Store interface {
	// Apply validates m and stores it, replacing any active modification
	// for the same transaction.
	Apply(ctx context.Context, m domain.CalendarModification) error

	// ApplyBatch applies mods all-or-nothing.
	ApplyBatch(ctx context.Context, mods []domain.CalendarModification) error

	// List returns active modifications in insertion order.
	List(ctx context.Context) ([]domain.CalendarModification, error)

	// Feed returns the wire wrapper with the last update time.
	Feed(ctx context.Context) (domain.ModificationFeed, error)

	// Approve marks a suggested modification as approved.
	Approve(ctx context.Context, modificationID string) (domain.CalendarModification, error)

	// Clear removes every modification. Clearing an empty ledger is a no-op.
	Clear(ctx context.Context) error
}

// Backend hands out per-session stores over one storage system.
type Backend interface {
	Open(sessionID string) Store
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for created_at and last_updated.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare validates a batch and stamps it. A later entry for the same
// transaction replaces an earlier one within the batch.
func prepare(mods []domain.CalendarModification, now time.Time) ([]domain.CalendarModification, error) {
	out := make([]domain.CalendarModification, 0, len(mods))
	for i, m := range mods {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("modification %d: %w", i, err)
		}
		m = clone(m)
		if m.Status == "" {
			m.Status = domain.StatusSuggested
		}
		if m.CreatedAt == nil {
			ts := now
			m.CreatedAt = &ts
		}
		out = supersede(out, m)
	}
	return out, nil
}

// supersede appends m after dropping entries it replaces.
func supersede(list []domain.CalendarModification, m domain.CalendarModification) []domain.CalendarModification {
	kept := list[:0]
	for _, prev := range list {
		if prev.TransactionID == m.TransactionID || prev.ModificationID == m.ModificationID {
			continue
		}
		kept = append(kept, prev)
	}
	return append(kept, m)
}

func clone(m domain.CalendarModification) domain.CalendarModification {
	if m.OriginalDate != nil {
		d := *m.OriginalDate
		m.OriginalDate = &d
	}
	if m.NewDate != nil {
		d := *m.NewDate
		m.NewDate = &d
	}
	if m.Date != nil {
		d := *m.Date
		m.Date = &d
	}
	if m.CreatedAt != nil {
		t := *m.CreatedAt
		m.CreatedAt = &t
	}
	if m.ApprovedAt != nil {
		t := *m.ApprovedAt
		m.ApprovedAt = &t
	}
	return m
}

func cloneAll(mods []domain.CalendarModification) []domain.CalendarModification {
	out := make([]domain.CalendarModification, len(mods))
	for i, m := range mods {
		out[i] = clone(m)
	}
	return out
}
