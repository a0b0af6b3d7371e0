package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, the shape upstream feeds already use.
	decimal.MarshalJSONWithoutQuotes = true
}

// Transaction is one normalized account transaction.
// Amount is signed: negative values are debits, positive values are credits.
type Transaction struct {
	ID       string          `json:"id"`
	Date     civil.Date      `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	Name     string          `json:"name"`
	Merchant string          `json:"merchant,omitempty"`
	Category string          `json:"category,omitempty"`
	Pending  bool            `json:"pending"`

	// Timestamp orders entries within a day when known.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Fixed obligations are never moved.
	Fixed bool `json:"fixed,omitempty"`
	// LatestDate is the last date the transaction may be moved to.
	LatestDate *civil.Date `json:"latest_date,omitempty"`
	// CardID links a payment to the CreditCard it pays down.
	CardID string `json:"card_id,omitempty"`
}

// IsDebit reports whether the transaction takes money out of the account.
func (t Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// Movable reports whether the transaction may be rescheduled.
// Only settled debits that are not locked qualify.
func (t Transaction) Movable() bool {
	return t.IsDebit() && !t.Fixed && !t.Pending
}

// CreditCard is a revolving account the user pays from the checking balance.
// CutDay and DueDay are days of the month (1-31, clamped to the month length).
type CreditCard struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Limit   decimal.Decimal `json:"limit"`
	Balance decimal.Decimal `json:"balance"`
	CutDay  int             `json:"cut_day"`
	DueDay  int             `json:"due_day"`
}

// Utilization returns balance/limit, or zero when the limit is not positive.
func (c CreditCard) Utilization() decimal.Decimal {
	if !c.Limit.IsPositive() {
		return decimal.Zero
	}
	return c.Balance.Div(c.Limit)
}

// DisplayName returns the card name, falling back to its ID.
func (c CreditCard) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// NextDayOfMonth returns the first date on or after from whose day of month is day.
// Days past the end of a month land on that month's last day.
func NextDayOfMonth(from civil.Date, day int) civil.Date {
	candidate := clampDay(from.Year, from.Month, day)
	if candidate.Before(from) {
		next := time.Date(from.Year, from.Month+1, 1, 0, 0, 0, 0, time.UTC)
		candidate = clampDay(next.Year(), next.Month(), day)
	}
	return candidate
}

func clampDay(year int, month time.Month, day int) civil.Date {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

// IsWeekend reports whether d falls on a Saturday or Sunday.
func IsWeekend(d civil.Date) bool {
	wd := d.In(time.UTC).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
