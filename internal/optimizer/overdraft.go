package optimizer

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// resolveOverdraft walks risk days in date order. Each day is cleared with
// the largest single move that suffices, else with greedy largest-first moves.
// Days that cannot be cleared are skipped; whatever remains at risk at the
// end is reported by the caller.
func (pl *plan) resolveOverdraft() {
	skip := make(map[civil.Date]bool)
	moved := make(map[string]bool)

	for {
		riskDay, ok := pl.nextRiskDay(skip)
		if !ok {
			return
		}
		if pl.singleMove(riskDay, moved) {
			continue
		}
		if pl.greedyMoves(riskDay, moved) {
			continue
		}
		skip[riskDay] = true
	}
}

func (pl *plan) nextRiskDay(skip map[civil.Date]bool) (civil.Date, bool) {
	for _, day := range pl.current.Days {
		if day.AtRisk && !skip[day.Date] {
			return day.Date, true
		}
	}
	return civil.Date{}, false
}

// candidates returns movable debits effective on or before riskDay, largest
// magnitude first, ties by transaction ID.
func (pl *plan) candidates(riskDay civil.Date, moved map[string]bool) []domain.Transaction {
	var out []domain.Transaction
	for id, date := range pl.placements() {
		if date.After(riskDay) || moved[id] {
			continue
		}
		tx, ok := pl.byID[id]
		if !ok || !tx.Movable() {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Amount.Abs(), out[j].Amount.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (pl *plan) singleMove(riskDay civil.Date, moved map[string]bool) bool {
	day, _ := pl.current.Day(riskDay)
	deficit := pl.proj.Floor().Sub(day.Low)

	for _, tx := range pl.candidates(riskDay, moved) {
		if tx.Amount.Abs().LessThan(deficit) {
			continue
		}
		m, next, ok := pl.earliestTarget(tx, riskDay, day)
		if !ok {
			continue
		}
		if after, _ := next.Day(riskDay); after.AtRisk {
			continue
		}
		pl.accept(m, next)
		moved[tx.ID] = true
		return true
	}
	return false
}

func (pl *plan) greedyMoves(riskDay civil.Date, moved map[string]bool) bool {
	for _, tx := range pl.candidates(riskDay, moved) {
		day, _ := pl.current.Day(riskDay)
		m, next, ok := pl.earliestTarget(tx, riskDay, day)
		if !ok {
			continue
		}
		pl.accept(m, next)
		moved[tx.ID] = true
		if after, _ := next.Day(riskDay); !after.AtRisk {
			return true
		}
	}
	return false
}

// earliestTarget finds the first date after riskDay that tx can move to
// without the new date falling below the floor or any day getting worse.
func (pl *plan) earliestTarget(tx domain.Transaction, riskDay civil.Date, day domain.DayBalance) (domain.CalendarModification, domain.BufferProjection, bool) {
	last := pl.latestDate(tx)
	for d := riskDay.AddDays(1); !d.After(last); d = d.AddDays(1) {
		if !pl.allowed(d) {
			continue
		}
		reason := fmt.Sprintf("Moved %s (%s) from %s to %s to avoid a projected overdraft on %s (low %s)",
			label(tx), money(tx.Amount), tx.Date, d, riskDay, day.Low.StringFixed(2))
		m := moveModification(tx, d, reason)
		next, err := pl.try(m)
		if err != nil {
			return domain.CalendarModification{}, domain.BufferProjection{}, false
		}
		if target, _ := next.Day(d); target.AtRisk {
			continue
		}
		if pl.regresses(next) {
			continue
		}
		return m, next, true
	}
	return domain.CalendarModification{}, domain.BufferProjection{}, false
}

// latestDate bounds how late tx may land: the window end, its own latest
// date, and the due date of the card it pays.
func (pl *plan) latestDate(tx domain.Transaction) civil.Date {
	last := pl.window.End
	if tx.LatestDate != nil && tx.LatestDate.Before(last) {
		last = *tx.LatestDate
	}
	if tx.CardID != "" {
		if due, ok := pl.dueDates[tx.CardID]; ok {
			d := domain.NextDayOfMonth(tx.Date, due)
			if d.Before(last) {
				last = d
			}
		}
	}
	return last
}
