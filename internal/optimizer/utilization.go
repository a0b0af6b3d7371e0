package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// plannedPrefix marks synthetic transaction IDs of planned card payments.
const plannedPrefix = "card-payment:"

func plannedPaymentID(cardID string, d civil.Date) string {
	return plannedPrefix + cardID + ":" + d.String()
}

// resolveUtilization brings each card's statement balance to the target
// before its cut date. It returns the IDs of cards left above target.
func (pl *plan) resolveUtilization(cards []domain.CreditCard) []string {
	var unresolved []string
	for _, c := range cards {
		cut, balance, over := pl.cardExposure(c)
		if !over {
			continue
		}
		if !pl.window.Contains(cut) || !cut.After(pl.window.Start) {
			unresolved = append(unresolved, c.ID)
			continue
		}

		target := c.Limit.Mul(pl.opt.target)
		need := balance.Sub(target).RoundCeil(2)
		need = pl.pullPaymentsForward(c, cut, balance, need)
		if need.IsPositive() {
			need = pl.planPayment(c, cut, need)
		}
		if need.IsPositive() {
			unresolved = append(unresolved, c.ID)
		}
	}
	return unresolved
}

// cardExposure returns the next cut date and the statement balance expected
// at that cut once payments scheduled before it have cleared.
func (pl *plan) cardExposure(c domain.CreditCard) (civil.Date, decimal.Decimal, bool) {
	if !c.Limit.IsPositive() || c.CutDay <= 0 {
		return civil.Date{}, c.Balance, false
	}
	cut := domain.NextDayOfMonth(pl.window.Start, c.CutDay)
	balance := c.Balance.Sub(pl.paidBefore(c.ID, cut))
	return cut, balance, balance.Div(c.Limit).GreaterThan(pl.opt.target)
}

func (pl *plan) paidBefore(cardID string, cut civil.Date) decimal.Decimal {
	paid := decimal.Zero
	for _, day := range pl.current.Days {
		if !day.Date.Before(cut) {
			break
		}
		for _, e := range day.Entries {
			if pl.paysCard(e, cardID) {
				paid = paid.Add(e.Amount.Abs())
			}
		}
	}
	return paid
}

func (pl *plan) paysCard(e domain.ProjectedEntry, cardID string) bool {
	if !e.Amount.IsNegative() {
		return false
	}
	if e.Planned {
		return strings.HasPrefix(e.TransactionID, plannedPrefix+cardID+":")
	}
	tx, ok := pl.byID[e.TransactionID]
	return ok && tx.CardID == cardID
}

// pullPaymentsForward moves payments already scheduled on or after the cut
// to the latest affordable date before it. It returns the remaining need.
func (pl *plan) pullPaymentsForward(c domain.CreditCard, cut civil.Date, balance, need decimal.Decimal) decimal.Decimal {
	type scheduled struct {
		tx   domain.Transaction
		date civil.Date
	}
	var late []scheduled
	for id, date := range pl.placements() {
		tx := pl.byID[id]
		if date.Before(cut) || tx.CardID != c.ID || !tx.Movable() {
			continue
		}
		late = append(late, scheduled{tx: tx, date: date})
	}
	sort.SliceStable(late, func(i, j int) bool {
		if late[i].date != late[j].date {
			return late[i].date.Before(late[j].date)
		}
		return late[i].tx.ID < late[j].tx.ID
	})

	for _, s := range late {
		if !need.IsPositive() {
			break
		}
		after := balance.Sub(s.tx.Amount.Abs())
		for d := cut.AddDays(-1); !d.Before(pl.window.Start); d = d.AddDays(-1) {
			if !pl.allowed(d) {
				continue
			}
			reason := fmt.Sprintf("Moved %s payment (%s) from %s to %s, before the %s statement cut, to lower utilization from %s%% to %s%% (target %s%%)",
				c.DisplayName(), money(s.tx.Amount), s.date, d, cut,
				percent(balance.Div(c.Limit)), percent(after.Div(c.Limit)), percent(pl.opt.target))
			m := moveModification(s.tx, d, reason)
			next, err := pl.try(m)
			if err != nil {
				continue
			}
			if day, _ := next.Day(d); day.AtRisk || pl.regresses(next) {
				continue
			}
			pl.accept(m, next)
			need = need.Sub(s.tx.Amount.Abs())
			balance = after
			break
		}
	}
	return need
}

// planPayment adds one payment before the cut, on the latest date whose
// headroom covers need, or the largest affordable partial payment otherwise.
// It returns the remaining need.
func (pl *plan) planPayment(c domain.CreditCard, cut civil.Date, need decimal.Decimal) decimal.Decimal {
	balance := c.Balance.Sub(pl.paidBefore(c.ID, cut))

	var (
		bestMod    domain.CalendarModification
		bestNext   domain.BufferProjection
		bestAmount decimal.Decimal
		found      bool
	)
	for d := cut.AddDays(-1); !d.Before(pl.window.Start); d = d.AddDays(-1) {
		if !pl.allowed(d) {
			continue
		}
		amount := decimal.Min(need, pl.headroom(d)).RoundFloor(2)
		if !amount.IsPositive() {
			continue
		}

		after := balance.Sub(amount)
		reason := fmt.Sprintf("Pay %s to %s on %s, before the %s statement cut, to bring utilization from %s%% to %s%% (target %s%%)",
			money(amount), c.DisplayName(), d, cut,
			percent(balance.Div(c.Limit)), percent(after.Div(c.Limit)), percent(pl.opt.target))
		m := domain.CalendarModification{
			ModificationID: modificationID(domain.KindPlanned, c.ID, d.String(), amount.StringFixed(2)),
			TransactionID:  plannedPaymentID(c.ID, d),
			Kind:           domain.KindPlanned,
			Date:           domain.DatePtr(d),
			Amount:         amount.Neg(),
			Category:       CardPaymentCategory,
			Merchant:       c.DisplayName(),
			Reason:         reason,
			Status:         domain.StatusSuggested,
		}
		next, err := pl.try(m)
		if err != nil {
			continue
		}
		if day, _ := next.Day(d); day.AtRisk || pl.regresses(next) {
			continue
		}
		if !found || amount.GreaterThan(bestAmount) {
			bestMod, bestNext, bestAmount, found = m, next, amount, true
		}
		if amount.Equal(need) {
			break
		}
	}

	if !found {
		return need
	}
	pl.accept(bestMod, bestNext)
	return need.Sub(bestAmount)
}

// headroom is how much can leave the account on d without any day from d
// onward dropping below the floor.
func (pl *plan) headroom(d civil.Date) decimal.Decimal {
	floor := pl.proj.Floor()
	room := decimal.Zero
	first := true
	for _, day := range pl.current.Days {
		if day.Date.Before(d) {
			continue
		}
		spare := day.Low.Sub(floor)
		if first || spare.LessThan(room) {
			room = spare
			first = false
		}
	}
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}
