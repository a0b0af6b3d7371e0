package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// MaxWindowDays bounds how far a single projection may look ahead.
const MaxWindowDays = 366

// DateRange is an inclusive calendar window.
type DateRange struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Validate returns a DataError when the window cannot be projected.
func (r DateRange) Validate() error {
	if r.Start == (civil.Date{}) || r.End == (civil.Date{}) {
		return dataErrorf("window", "start and end are required")
	}
	if !r.Start.IsValid() || !r.End.IsValid() {
		return dataErrorf("window", "invalid date")
	}
	if r.End.Before(r.Start) {
		return dataErrorf("window", "end %s is before start %s", r.End, r.Start)
	}
	if r.Days() > MaxWindowDays {
		return dataErrorf("window", "spans %d days, limit is %d", r.Days(), MaxWindowDays)
	}
	return nil
}

// Contains reports whether d lies within the window.
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of calendar days in the window.
func (r DateRange) Days() int {
	return r.End.DaysSince(r.Start) + 1
}

// SameDayPolicy decides how entries sharing a date are ordered for risk.
type SameDayPolicy string

const (
	// PolicyTimestamps orders a day by timestamp when every entry has one and
	// falls back to PolicyConservative otherwise.
	PolicyTimestamps SameDayPolicy = "timestamps"
	// PolicyConservative flags a day if any ordering of its entries dips below
	// the floor.
	PolicyConservative SameDayPolicy = "conservative"
)

// Validate rejects policies other than PolicyTimestamps and PolicyConservative.
func (p SameDayPolicy) Validate() error {
	switch p {
	case PolicyTimestamps, PolicyConservative:
		return nil
	}
	return &ValidationError{Field: "policy", Reason: fmt.Sprintf("unknown same-day policy %q", string(p))}
}

// ProjectedEntry is one transaction placed on a projected day.
type ProjectedEntry struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
	Moved         bool            `json:"moved,omitempty"`
	Planned       bool            `json:"planned,omitempty"`
}

// DayBalance is the projected state of one calendar day.
// Low is the lowest balance reached at any point within the day under the
// projection's same-day policy.
type DayBalance struct {
	Date           civil.Date       `json:"date"`
	Opening        decimal.Decimal  `json:"opening"`
	Delta          decimal.Decimal  `json:"delta"`
	RunningBalance decimal.Decimal  `json:"running_balance"`
	Low            decimal.Decimal  `json:"low"`
	AtRisk         bool             `json:"at_risk"`
	Entries        []ProjectedEntry `json:"entries,omitempty"`
}

// BufferProjection is the day-by-day running balance over a window.
// It is derived on demand and never stored.
type BufferProjection struct {
	Window         DateRange              `json:"window"`
	OpeningBalance decimal.Decimal        `json:"opening_balance"`
	Policy         SameDayPolicy          `json:"policy"`
	Floor          decimal.Decimal        `json:"buffer_floor"`
	Days           []DayBalance           `json:"days"`
	Applied        []CalendarModification `json:"applied,omitempty"`
	Orphaned       []string               `json:"orphaned,omitempty"`
}

// RiskDays returns the at-risk dates in date order.
func (p BufferProjection) RiskDays() []civil.Date {
	var out []civil.Date
	for _, d := range p.Days {
		if d.AtRisk {
			out = append(out, d.Date)
		}
	}
	return out
}

// HasRisk reports whether any day is at risk.
func (p BufferProjection) HasRisk() bool {
	for _, d := range p.Days {
		if d.AtRisk {
			return true
		}
	}
	return false
}

// Day returns the projected day for date.
func (p BufferProjection) Day(date civil.Date) (DayBalance, bool) {
	if len(p.Days) == 0 {
		return DayBalance{}, false
	}
	i := date.DaysSince(p.Window.Start)
	if i < 0 || i >= len(p.Days) {
		return DayBalance{}, false
	}
	return p.Days[i], true
}

// ClosingBalance is the running balance at the end of the window.
func (p BufferProjection) ClosingBalance() decimal.Decimal {
	if len(p.Days) == 0 {
		return p.OpeningBalance
	}
	return p.Days[len(p.Days)-1].RunningBalance
}

// Lowest returns the minimum intra-day low across the window.
func (p BufferProjection) Lowest() decimal.Decimal {
	low := p.OpeningBalance
	for _, d := range p.Days {
		if d.Low.LessThan(low) {
			low = d.Low
		}
	}
	return low
}
