// Package projector turns a balance, transactions and calendar modifications
// into a day-by-day running balance.
package projector

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// Projector computes BufferProjections. It holds no state besides its
// options and is safe for concurrent use.
type Projector struct {
	policy domain.SameDayPolicy
	floor  decimal.Decimal
}

// Option configures a Projector.
type Option func(*Projector)

// WithPolicy sets the same-day ordering policy.
func WithPolicy(policy domain.SameDayPolicy) Option {
	return func(p *Projector) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// WithFloor sets the balance below which a day counts as at risk.
func WithFloor(floor decimal.Decimal) Option {
	return func(p *Projector) {
		p.floor = floor
	}
}

// New creates a Projector. The default policy is PolicyTimestamps with a zero floor.
func New(opts ...Option) *Projector {
	p := &Projector{policy: domain.PolicyTimestamps, floor: decimal.Zero}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the configured same-day policy.
func (p *Projector) Policy() domain.SameDayPolicy { return p.policy }

// Floor returns the configured risk floor.
func (p *Projector) Floor() decimal.Decimal { return p.floor }

// Project runs the default projector.
func Project(balance decimal.Decimal, txs []domain.Transaction, mods []domain.CalendarModification, window domain.DateRange) (domain.BufferProjection, error) {
	return New().Project(balance, txs, mods, window)
}

// ForProjection returns a projector configured like an existing projection.
func ForProjection(bp domain.BufferProjection) *Projector {
	return New(WithPolicy(bp.Policy), WithFloor(bp.Floor))
}

// Project builds the projection for window. Transactions whose effective date
// falls outside the window are ignored; balance is the amount available before
// the first day's entries.
func (p *Projector) Project(balance decimal.Decimal, txs []domain.Transaction, mods []domain.CalendarModification, window domain.DateRange) (domain.BufferProjection, error) {
	if err := p.policy.Validate(); err != nil {
		return domain.BufferProjection{}, err
	}
	if err := window.Validate(); err != nil {
		return domain.BufferProjection{}, err
	}

	byID := make(map[string]domain.Transaction, len(txs))
	for i, tx := range txs {
		if tx.ID == "" {
			return domain.BufferProjection{}, &domain.DataError{Field: "transactions", Reason: fmt.Sprintf("transaction %d has no id", i)}
		}
		if !tx.Date.IsValid() {
			return domain.BufferProjection{}, &domain.DataError{Field: "transactions", Reason: fmt.Sprintf("transaction %s has invalid date", tx.ID)}
		}
		if _, dup := byID[tx.ID]; dup {
			return domain.BufferProjection{}, &domain.DataError{Field: "transactions", Reason: fmt.Sprintf("duplicate transaction id %s", tx.ID)}
		}
		byID[tx.ID] = tx
	}

	moves := make(map[string]civil.Date)
	var planned []domain.CalendarModification
	var orphaned []string
	for _, m := range mods {
		switch m.Kind {
		case domain.KindMoved:
			if m.NewDate == nil {
				continue
			}
			if _, ok := byID[m.TransactionID]; !ok {
				orphaned = append(orphaned, m.TransactionID)
				continue
			}
			moves[m.TransactionID] = *m.NewDate
		case domain.KindPlanned:
			if m.Date == nil {
				continue
			}
			planned = append(planned, m)
		}
	}

	perDay := make(map[civil.Date][]domain.ProjectedEntry)
	for _, tx := range txs {
		date := tx.Date
		newDate, moved := moves[tx.ID]
		if moved {
			date = newDate
		}
		if !window.Contains(date) {
			continue
		}
		// a relocated entry has no known time of day on its new date
		ts := tx.Timestamp
		if moved {
			ts = nil
		}
		perDay[date] = append(perDay[date], domain.ProjectedEntry{
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			Timestamp:     ts,
			Moved:         moved,
		})
	}
	for _, m := range planned {
		if !window.Contains(*m.Date) {
			continue
		}
		perDay[*m.Date] = append(perDay[*m.Date], domain.ProjectedEntry{
			TransactionID: m.TransactionID,
			Amount:        m.Amount,
			Planned:       true,
		})
	}

	out := domain.BufferProjection{
		Window:         window,
		OpeningBalance: balance,
		Policy:         p.policy,
		Floor:          p.floor,
		Days:           make([]domain.DayBalance, 0, window.Days()),
		Applied:        append([]domain.CalendarModification(nil), mods...),
		Orphaned:       orphaned,
	}

	running := balance
	for date := window.Start; !date.After(window.End); date = date.AddDays(1) {
		entries := perDay[date]
		sortEntries(entries)

		delta := decimal.Zero
		for _, e := range entries {
			delta = delta.Add(e.Amount)
		}
		low := p.intradayLow(running, entries)

		out.Days = append(out.Days, domain.DayBalance{
			Date:           date,
			Opening:        running,
			Delta:          delta,
			RunningBalance: running.Add(delta),
			Low:            low,
			AtRisk:         low.LessThan(p.floor),
			Entries:        entries,
		})
		running = running.Add(delta)
	}

	return out, nil
}

// intradayLow returns the lowest balance reached during a day that opens at
// opening. Timestamp order is used only when the policy allows it and every
// entry has a timestamp; otherwise all debits are assumed to clear first.
func (p *Projector) intradayLow(opening decimal.Decimal, entries []domain.ProjectedEntry) decimal.Decimal {
	if p.policy == domain.PolicyTimestamps && allTimestamped(entries) {
		low := opening
		bal := opening
		for _, e := range entries {
			bal = bal.Add(e.Amount)
			if bal.LessThan(low) {
				low = bal
			}
		}
		return low
	}

	low := opening
	for _, e := range entries {
		if e.Amount.IsNegative() {
			low = low.Add(e.Amount)
		}
	}
	return low
}

func allTimestamped(entries []domain.ProjectedEntry) bool {
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.Timestamp == nil {
			return false
		}
	}
	return true
}

// sortEntries orders a day by timestamp (untimed entries last), then ID.
func sortEntries(entries []domain.ProjectedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Timestamp != nil && b.Timestamp != nil:
			if !a.Timestamp.Equal(*b.Timestamp) {
				return a.Timestamp.Before(*b.Timestamp)
			}
		case a.Timestamp != nil:
			return true
		case b.Timestamp != nil:
			return false
		}
		return a.TransactionID < b.TransactionID
	})
}
