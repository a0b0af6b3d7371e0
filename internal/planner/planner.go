// Package planner is the scheduler capability: it projects a session's cash
// flow, asks the optimizer for calendar modifications and records them in
// the session ledger.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/explain"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
	"github.com/dvloznov/cashflow-assistant/internal/optimizer"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

// DefaultTrailingDays extends a derived window past the last transaction.
const DefaultTrailingDays = 7

// Planner implements dispatcher.Handler.
type Planner struct {
	source    transactions.Source
	proj      *projector.Projector
	opt       *optimizer.Optimizer
	explainer explain.Explainer
	trailing  int
}

// Option configures a Planner.
type Option func(*Planner)

// WithSource loads data for requests that attach none.
func WithSource(s transactions.Source) Option {
	return func(p *Planner) {
		p.source = s
	}
}

// WithProjector replaces the default projector.
func WithProjector(proj *projector.Projector) Option {
	return func(p *Planner) {
		if proj != nil {
			p.proj = proj
		}
	}
}

// WithOptimizer replaces the default optimizer.
func WithOptimizer(opt *optimizer.Optimizer) Option {
	return func(p *Planner) {
		if opt != nil {
			p.opt = opt
		}
	}
}

// WithExplainer replaces the static explainer.
func WithExplainer(e explain.Explainer) Option {
	return func(p *Planner) {
		if e != nil {
			p.explainer = e
		}
	}
}

// WithTrailingDays sets how far past the last transaction a derived window runs.
func WithTrailingDays(days int) Option {
	return func(p *Planner) {
		if days >= 0 {
			p.trailing = days
		}
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		proj:      projector.New(),
		opt:       optimizer.New(),
		explainer: explain.Static{},
		trailing:  DefaultTrailingDays,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle implements dispatcher.Handler. Unusable input data is reported in
// the response as insufficient_data rather than returned as an error.
func (p *Planner) Handle(ctx context.Context, call dispatcher.Call) (dispatcher.Response, error) {
	log := logger.FromContext(ctx)

	snap, err := p.gather(ctx, call)
	if err != nil {
		return insufficient(err)
	}
	window, err := p.window(snap)
	if err != nil {
		return insufficient(err)
	}

	focus, err := optimizer.ParseFocus(call.Request.Focus)
	if err != nil {
		return dispatcher.Response{}, err
	}
	if call.Request.Focus == "" {
		focus = focusFromMessage(call.Request.Message)
	}

	existing, err := call.Ledger.List(ctx)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("Handle: list ledger: %w", err)
	}

	before, err := p.proj.Project(*snap.Balance, snap.Transactions, existing, window)
	if err != nil {
		return insufficient(err)
	}

	res, err := p.opt.Optimize(before, snap.Transactions, snap.Cards, focus)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("Handle: optimize: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return dispatcher.Response{}, fmt.Errorf("Handle: %w", err)
	}
	if len(res.Modifications) > 0 {
		if err := call.Ledger.ApplyBatch(ctx, res.Modifications); err != nil {
			return dispatcher.Response{}, fmt.Errorf("Handle: apply batch: %w", err)
		}
	}

	active, err := call.Ledger.List(ctx)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("Handle: relist ledger: %w", err)
	}
	after, err := p.proj.Project(*snap.Balance, snap.Transactions, active, window)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("Handle: reproject: %w", err)
	}

	log.Info().
		Str("focus", string(res.Focus)).
		Int("modifications", len(res.Modifications)).
		Int("risk_days_before", len(before.RiskDays())).
		Int("risk_days_after", len(after.RiskDays())).
		Msg("Schedule optimized")

	summary := explain.Summary{
		Focus:           string(res.Focus),
		Modifications:   res.Modifications,
		RiskBefore:      before.RiskDays(),
		RiskAfter:       after.RiskDays(),
		UnresolvedCards: res.UnresolvedCards,
		Lowest:          after.Lowest(),
	}

	resp := dispatcher.Response{
		Modifications:   res.Modifications,
		RiskDaysBefore:  summary.RiskBefore,
		RiskDaysAfter:   summary.RiskAfter,
		UnresolvedCards: res.UnresolvedCards,
		Bullets:         p.explainer.Explain(ctx, summary),
	}
	resp.Outcome, resp.Text = describe(summary, window)
	return resp, nil
}

// gather returns attached data when the request carries any, otherwise the
// configured source's snapshot.
func (p *Planner) gather(ctx context.Context, call dispatcher.Call) (transactions.Snapshot, error) {
	req := call.Request
	var snap transactions.Snapshot
	switch {
	case req.HasAttachedData():
		snap = transactions.Snapshot{Balance: req.Balance, Transactions: req.Transactions, Cards: req.Cards, Window: req.Window}
	case p.source != nil:
		loaded, err := p.source.Load(ctx, call.Session.UserID)
		if err != nil {
			return transactions.Snapshot{}, err
		}
		snap = loaded
		if req.Window != nil {
			snap.Window = req.Window
		}
	default:
		return transactions.Snapshot{}, &domain.DataError{Field: "transactions", Reason: "no balance or transactions attached"}
	}

	if snap.Balance == nil {
		return transactions.Snapshot{}, &domain.DataError{Field: "balance", Reason: "current balance is missing"}
	}
	return snap, nil
}

// window returns the snapshot window or derives one spanning the
// transactions plus the trailing days.
func (p *Planner) window(snap transactions.Snapshot) (domain.DateRange, error) {
	if snap.Window != nil {
		return *snap.Window, nil
	}
	if len(snap.Transactions) == 0 {
		return domain.DateRange{}, &domain.DataError{Field: "window", Reason: "no window and no transactions to derive one from"}
	}
	start, end := snap.Transactions[0].Date, snap.Transactions[0].Date
	for _, tx := range snap.Transactions[1:] {
		if tx.Date.Before(start) {
			start = tx.Date
		}
		if tx.Date.After(end) {
			end = tx.Date
		}
	}
	return domain.DateRange{Start: start, End: end.AddDays(p.trailing)}, nil
}

var (
	utilizationCues = []string{"utilization", "utilisation", "credit score", "statement", "card balance"}
	overdraftCues   = []string{"overdraft", "overdrawn", "bounce", "short", "negative", "afford"}
)

func focusFromMessage(msg string) optimizer.Focus {
	m := strings.ToLower(msg)
	for _, cue := range utilizationCues {
		if strings.Contains(m, cue) {
			return optimizer.FocusUtilization
		}
	}
	for _, cue := range overdraftCues {
		if strings.Contains(m, cue) {
			return optimizer.FocusOverdraft
		}
	}
	return optimizer.FocusAuto
}

func describe(s explain.Summary, window domain.DateRange) (dispatcher.Outcome, string) {
	n := len(s.Modifications)
	switch {
	case s.Unresolved():
		var parts []string
		if len(s.RiskAfter) > 0 {
			parts = append(parts, fmt.Sprintf("%d day(s) below the buffer starting %s", len(s.RiskAfter), s.RiskAfter[0]))
		}
		if len(s.UnresolvedCards) > 0 {
			parts = append(parts, "utilization above target on "+strings.Join(s.UnresolvedCards, ", "))
		}
		return dispatcher.OutcomePartial, fmt.Sprintf("Proposed %d change(s) but could not fully resolve: %s.", n, strings.Join(parts, "; "))
	case n == 0:
		return dispatcher.OutcomeNoChanges, fmt.Sprintf("Your balance stays above the buffer through %s; no changes needed.", window.End)
	default:
		return dispatcher.OutcomeOptimized, fmt.Sprintf("Proposed %d change(s); the lowest projected balance is now %s.", n, s.Lowest.StringFixed(2))
	}
}

func insufficient(err error) (dispatcher.Response, error) {
	var derr *domain.DataError
	if !errors.As(err, &derr) {
		return dispatcher.Response{}, err
	}
	return dispatcher.Response{
		Outcome: dispatcher.OutcomeInsufficientData,
		Text:    "insufficient data to project: " + derr.Error(),
	}, nil
}

var _ dispatcher.Handler = (*Planner)(nil)
