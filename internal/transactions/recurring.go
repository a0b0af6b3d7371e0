package transactions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// Frequency is a detected recurrence interval.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Recurring describes a merchant charged or paid on a regular schedule.
type Recurring struct {
	Key       string
	Frequency Frequency
	Last      domain.Transaction
	Count     int
}

// DetectRecurring groups history by merchant and keeps groups whose average
// gap matches a weekly, biweekly or monthly cadence. Results are ordered by key.
func DetectRecurring(history []domain.Transaction) []Recurring {
	groups := make(map[string][]domain.Transaction)
	for _, tx := range history {
		if tx.Pending {
			continue
		}
		key := merchantKey(tx)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], tx)
	}

	var out []Recurring
	for key, txs := range groups {
		if len(txs) < 2 {
			continue
		}
		sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })

		span := txs[len(txs)-1].Date.DaysSince(txs[0].Date)
		avg := float64(span) / float64(len(txs)-1)
		freq, ok := classifyGap(avg)
		if !ok {
			continue
		}
		out = append(out, Recurring{Key: key, Frequency: freq, Last: txs[len(txs)-1], Count: len(txs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func classifyGap(days float64) (Frequency, bool) {
	switch {
	case days >= 6 && days <= 8:
		return FrequencyWeekly, true
	case days >= 12 && days <= 18:
		return FrequencyBiweekly, true
	case days >= 26 && days <= 32:
		return FrequencyMonthly, true
	}
	return "", false
}

func merchantKey(tx domain.Transaction) string {
	name := tx.Merchant
	if name == "" {
		name = tx.Name
	}
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// occurrence returns the n-th date after the last seen one. Monthly series
// keep their day of month, clamped to shorter months.
func (r Recurring) occurrence(n int) civil.Date {
	last := r.Last.Date
	switch r.Frequency {
	case FrequencyWeekly:
		return last.AddDays(7 * n)
	case FrequencyBiweekly:
		return last.AddDays(14 * n)
	}
	first := time.Date(last.Year, last.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return domain.NextDayOfMonth(civil.DateOf(first), last.Day)
}

// Upcoming expands recurring series into future transactions inside window.
// Generated IDs are stable for a given series and date.
func Upcoming(series []Recurring, window domain.DateRange) []domain.Transaction {
	var out []domain.Transaction
	for _, r := range series {
		for n := 1; ; n++ {
			d := r.occurrence(n)
			if d.After(window.End) {
				break
			}
			if d.Before(window.Start) {
				continue
			}
			tx := r.Last
			tx.ID = fmt.Sprintf("recurring:%s:%s", strings.ReplaceAll(r.Key, " ", "-"), d)
			tx.Date = d
			tx.Timestamp = nil
			tx.Pending = false
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
