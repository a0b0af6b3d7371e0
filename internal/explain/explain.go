// Package explain turns an optimization run into a few short bullets for the user.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/llm"
)

// MaxBullets caps every explanation.
const MaxBullets = 3

// unresolvedNote is always present when risk remains after a run.
const unresolvedNote = "could not fully resolve"

// Summary is what an explanation is built from.
type Summary struct {
	Focus           string                        `json:"focus"`
	Modifications   []domain.CalendarModification `json:"modifications"`
	RiskBefore      []civil.Date                  `json:"risk_days_before"`
	RiskAfter       []civil.Date                  `json:"risk_days_after"`
	UnresolvedCards []string                      `json:"unresolved_cards,omitempty"`
	Lowest          decimal.Decimal               `json:"lowest_balance"`
}

// Unresolved reports whether the run left risk behind.
func (s Summary) Unresolved() bool {
	return len(s.RiskAfter) > 0 || len(s.UnresolvedCards) > 0
}

// Explainer produces at most MaxBullets bullets. It never fails; implementations
// degrade to Static.
type Explainer interface {
	Explain(ctx context.Context, s Summary) []string
}

// Static builds bullets from the summary alone.
type Static struct{}

// Explain implements Explainer.
func (Static) Explain(ctx context.Context, s Summary) []string {
	var out []string
	switch {
	case len(s.Modifications) == 0 && !s.Unresolved():
		out = append(out, "Your balance stays above the buffer for the whole period, so no changes are needed.")
	case len(s.Modifications) > 0:
		for _, m := range s.Modifications {
			out = append(out, m.Reason)
		}
	}

	if s.Unresolved() {
		var note string
		if len(s.RiskAfter) > 0 {
			note = fmt.Sprintf("%s: %d day(s) still fall below the buffer, starting %s.", unresolvedNote, len(s.RiskAfter), s.RiskAfter[0])
		} else {
			note = fmt.Sprintf("%s: utilization stays above target on %s.", unresolvedNote, strings.Join(s.UnresolvedCards, ", "))
		}
		if len(out) >= MaxBullets {
			out = out[:MaxBullets-1]
		}
		out = append(out, note)
	}

	if len(out) > MaxBullets {
		out = out[:MaxBullets]
	}
	return out
}

// Model asks a language model for the bullets and falls back to Static on
// any failure.
type Model struct {
	gen      llm.Generator
	log      zerolog.Logger
	fallback Static
}

// NewModel creates a model-backed Explainer.
func NewModel(gen llm.Generator, log zerolog.Logger) *Model {
	return &Model{gen: gen, log: log}
}

// Explain implements Explainer.
func (m *Model) Explain(ctx context.Context, s Summary) []string {
	payload, err := json.Marshal(s)
	if err != nil {
		m.log.Warn().Err(err).Msg("explain: marshal summary")
		return m.fallback.Explain(ctx, s)
	}

	raw, err := m.gen.Generate(ctx, prompt(payload))
	if err != nil {
		m.log.Warn().Err(err).Msg("explain: model unavailable, using static bullets")
		return m.fallback.Explain(ctx, s)
	}

	bullets := llm.Bullets(raw, MaxBullets)
	if len(bullets) == 0 {
		return m.fallback.Explain(ctx, s)
	}
	if s.Unresolved() && !mentionsUnresolved(bullets) {
		static := m.fallback.Explain(ctx, s)
		note := static[len(static)-1]
		if len(bullets) >= MaxBullets {
			bullets = bullets[:MaxBullets-1]
		}
		bullets = append(bullets, note)
	}
	return bullets
}

func mentionsUnresolved(bullets []string) bool {
	for _, b := range bullets {
		if strings.Contains(strings.ToLower(b), unresolvedNote) {
			return true
		}
	}
	return false
}

func prompt(summary []byte) string {
	return `You explain a cash-flow plan to a retail banking customer.
Write at most 3 short bullet points, one per line, starting with "- ".
Mention concrete dates and amounts. Do not give investment advice.
If risk_days_after or unresolved_cards is non-empty, one bullet must contain the words "could not fully resolve".

Plan:
` + string(summary)
}
