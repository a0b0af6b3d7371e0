// Package optimizer proposes calendar modifications that keep the projected
// balance above its floor and card utilization under target.
package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
)

// Focus selects which problem the optimizer works on.
type Focus string

const (
	FocusOverdraft   Focus = "overdraft"
	FocusUtilization Focus = "utilization"
	FocusAuto        Focus = "auto"
)

// ParseFocus validates a focus string. An empty value means FocusAuto.
func ParseFocus(s string) (Focus, error) {
	switch Focus(strings.ToLower(strings.TrimSpace(s))) {
	case "", FocusAuto:
		return FocusAuto, nil
	case FocusOverdraft:
		return FocusOverdraft, nil
	case FocusUtilization:
		return FocusUtilization, nil
	}
	return "", &domain.ValidationError{Field: "focus", Reason: fmt.Sprintf("unknown focus %q", s)}
}

// DefaultUtilizationTarget is the statement utilization the optimizer aims for.
var DefaultUtilizationTarget = decimal.RequireFromString("0.30")

// CardPaymentCategory tags planned card payments.
const CardPaymentCategory = "CARD_PAYMENT"

// namespace seeds deterministic modification IDs.
var namespace = uuid.MustParse("6f1c2a4e-8d7b-4c1e-9a35-2b0d7e5f9c18")

// Result is the outcome of one optimization run. A run that could not clear
// every problem is still a result: the leftovers are listed, not returned as an error.
type Result struct {
	Focus           Focus                         `json:"focus"`
	Modifications   []domain.CalendarModification `json:"modifications"`
	UnresolvedDays  []civil.Date                  `json:"unresolved_days,omitempty"`
	UnresolvedCards []string                      `json:"unresolved_cards,omitempty"`

	// Final is the projection with the new modifications applied.
	Final domain.BufferProjection `json:"-"`
}

// Resolved reports whether nothing was left over.
func (r Result) Resolved() bool {
	return len(r.UnresolvedDays) == 0 && len(r.UnresolvedCards) == 0
}

// Optimizer is stateless apart from its options and safe for concurrent use.
type Optimizer struct {
	target       decimal.Decimal
	weekdaysOnly bool
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithUtilizationTarget overrides DefaultUtilizationTarget.
func WithUtilizationTarget(target decimal.Decimal) Option {
	return func(o *Optimizer) {
		if target.IsPositive() {
			o.target = target
		}
	}
}

// WithWeekdaysOnly keeps new dates off Saturdays and Sundays.
func WithWeekdaysOnly(enabled bool) Option {
	return func(o *Optimizer) {
		o.weekdaysOnly = enabled
	}
}

// New creates an Optimizer.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{target: DefaultUtilizationTarget}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize proposes modifications for projection. The projection's applied
// modifications are treated as already in force; the returned modifications
// supersede them per transaction. Nothing is written anywhere.
func (o *Optimizer) Optimize(projection domain.BufferProjection, txs []domain.Transaction, cards []domain.CreditCard, focus Focus) (Result, error) {
	focus, err := ParseFocus(string(focus))
	if err != nil {
		return Result{}, err
	}

	pl, err := newPlan(o, projection, txs)
	if err != nil {
		return Result{}, fmt.Errorf("Optimize: %w", err)
	}

	sortedCards := append([]domain.CreditCard(nil), cards...)
	sort.SliceStable(sortedCards, func(i, j int) bool { return sortedCards[i].ID < sortedCards[j].ID })
	for _, c := range sortedCards {
		if c.DueDay > 0 {
			pl.dueDates[c.ID] = c.DueDay
		}
	}

	if focus == FocusAuto {
		focus = pl.pickFocus(sortedCards)
	}

	res := Result{Focus: focus}
	switch focus {
	case FocusOverdraft:
		pl.resolveOverdraft()
	case FocusUtilization:
		res.UnresolvedCards = pl.resolveUtilization(sortedCards)
	}

	res.Modifications = append([]domain.CalendarModification{}, pl.added...)
	res.UnresolvedDays = pl.current.RiskDays()
	res.Final = pl.current
	return res, nil
}

// plan is the working state of one run.
type plan struct {
	opt      *Optimizer
	proj     *projector.Projector
	balance  decimal.Decimal
	window   domain.DateRange
	txs      []domain.Transaction
	byID     map[string]domain.Transaction
	base     []domain.CalendarModification
	dueDates map[string]int // card ID -> due day of month
	added    []domain.CalendarModification
	current  domain.BufferProjection
}

func newPlan(o *Optimizer, p domain.BufferProjection, txs []domain.Transaction) (*plan, error) {
	pl := &plan{
		opt:      o,
		proj:     projector.ForProjection(p),
		balance:  p.OpeningBalance,
		window:   p.Window,
		txs:      txs,
		byID:     make(map[string]domain.Transaction, len(txs)),
		base:     p.Applied,
		dueDates: make(map[string]int),
	}
	for _, tx := range txs {
		pl.byID[tx.ID] = tx
	}

	current, err := pl.proj.Project(pl.balance, txs, pl.base, pl.window)
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}
	pl.current = current
	return pl, nil
}

func (pl *plan) pickFocus(cards []domain.CreditCard) Focus {
	if pl.current.HasRisk() {
		return FocusOverdraft
	}
	for _, c := range cards {
		if _, _, over := pl.cardExposure(c); over {
			return FocusUtilization
		}
	}
	return FocusOverdraft
}

// mods returns base plus added modifications, one per transaction, added winning.
func (pl *plan) mods(extra ...domain.CalendarModification) []domain.CalendarModification {
	all := append(append([]domain.CalendarModification{}, pl.added...), extra...)
	override := make(map[string]bool, len(all))
	for _, m := range all {
		override[m.TransactionID] = true
	}

	out := make([]domain.CalendarModification, 0, len(pl.base)+len(all))
	for _, m := range pl.base {
		if !override[m.TransactionID] {
			out = append(out, m)
		}
	}
	for i, m := range all {
		superseded := false
		for _, later := range all[i+1:] {
			if later.TransactionID == m.TransactionID {
				superseded = true
				break
			}
		}
		if !superseded {
			out = append(out, m)
		}
	}
	return out
}

// try projects the plan with m applied.
func (pl *plan) try(m domain.CalendarModification) (domain.BufferProjection, error) {
	return pl.proj.Project(pl.balance, pl.txs, pl.mods(m), pl.window)
}

// accept records m and moves the plan onto its projection.
func (pl *plan) accept(m domain.CalendarModification, next domain.BufferProjection) {
	kept := pl.added[:0:0]
	for _, prev := range pl.added {
		if prev.TransactionID != m.TransactionID {
			kept = append(kept, prev)
		}
	}
	pl.added = append(kept, m)
	pl.current = next
}

// regresses reports whether next pushes any day further below the floor
// than it was in the current plan.
func (pl *plan) regresses(next domain.BufferProjection) bool {
	floor := pl.proj.Floor()
	for i := range next.Days {
		low := next.Days[i].Low
		if low.LessThan(floor) && low.LessThan(pl.current.Days[i].Low) {
			return true
		}
	}
	return false
}

func (pl *plan) allowed(d civil.Date) bool {
	return !pl.opt.weekdaysOnly || !domain.IsWeekend(d)
}

// placements maps each real transaction in the window to its effective date.
func (pl *plan) placements() map[string]civil.Date {
	out := make(map[string]civil.Date)
	for _, day := range pl.current.Days {
		for _, e := range day.Entries {
			if !e.Planned {
				out[e.TransactionID] = day.Date
			}
		}
	}
	return out
}

func modificationID(kind domain.ModificationKind, parts ...string) string {
	key := string(kind) + "|" + strings.Join(parts, "|")
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

func moveModification(tx domain.Transaction, newDate civil.Date, reason string) domain.CalendarModification {
	return domain.CalendarModification{
		ModificationID: modificationID(domain.KindMoved, tx.ID, newDate.String()),
		TransactionID:  tx.ID,
		Kind:           domain.KindMoved,
		OriginalDate:   domain.DatePtr(tx.Date),
		NewDate:        domain.DatePtr(newDate),
		Amount:         tx.Amount,
		Category:       tx.Category,
		Merchant:       label(tx),
		Reason:         reason,
		Status:         domain.StatusSuggested,
	}
}

func label(tx domain.Transaction) string {
	if tx.Merchant != "" {
		return tx.Merchant
	}
	if tx.Name != "" {
		return tx.Name
	}
	return tx.ID
}

func money(v decimal.Decimal) string {
	return v.Abs().StringFixed(2)
}

func percent(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).Round(0).String()
}
