package explain

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

type mockGenerator struct {
	GenerateFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateFn(ctx, prompt)
}

func mod(reason string) domain.CalendarModification {
	return domain.CalendarModification{ModificationID: reason, TransactionID: reason, Reason: reason}
}

func day(s string) civil.Date {
	d, _ := civil.ParseDate(s)
	return d
}

func TestStatic(t *testing.T) {
	tests := []struct {
		name      string
		summary   Summary
		wantLen   int
		wantFirst string
		wantNote  bool
	}{
		{
			name:      "healthy",
			summary:   Summary{},
			wantLen:   1,
			wantFirst: "Your balance stays above the buffer",
		},
		{
			name:      "reasons become bullets",
			summary:   Summary{Modifications: []domain.CalendarModification{mod("a"), mod("b")}},
			wantLen:   2,
			wantFirst: "a",
		},
		{
			name:    "capped with note kept",
			summary: Summary{Modifications: []domain.CalendarModification{mod("a"), mod("b"), mod("c"), mod("d")}, RiskAfter: []civil.Date{day("2025-06-05")}},
			wantLen: 3, wantFirst: "a", wantNote: true,
		},
		{
			name:     "unresolved card",
			summary:  Summary{UnresolvedCards: []string{"visa"}},
			wantLen:  1,
			wantNote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Static{}.Explain(context.Background(), tt.summary)
			if len(got) != tt.wantLen {
				t.Fatalf("bullets = %q, want %d", got, tt.wantLen)
			}
			if tt.wantFirst != "" && !strings.HasPrefix(got[0], tt.wantFirst) {
				t.Errorf("first = %q", got[0])
			}
			if tt.wantNote && !strings.Contains(got[len(got)-1], unresolvedNote) {
				t.Errorf("last bullet %q lacks unresolved note", got[len(got)-1])
			}
		})
	}
}

func TestModel(t *testing.T) {
	log := zerolog.New(io.Discard)
	unresolved := Summary{Modifications: []domain.CalendarModification{mod("moved dinner")}, RiskAfter: []civil.Date{day("2025-06-05")}}

	tests := []struct {
		name     string
		output   string
		err      error
		summary  Summary
		want     []string
		wantNote bool
	}{
		{
			name:    "model bullets",
			output:  "- Rent moves to June 21.\n- Payday covers it.",
			summary: Summary{Modifications: []domain.CalendarModification{mod("r")}},
			want:    []string{"Rent moves to June 21.", "Payday covers it."},
		},
		{
			name:     "model error falls back",
			err:      errors.New("quota"),
			summary:  unresolved,
			wantNote: true,
		},
		{
			name:     "missing note is appended",
			output:   "- one\n- two\n- three\n- four",
			summary:  unresolved,
			wantNote: true,
		},
		{
			name:    "empty output falls back",
			output:  "   ",
			summary: Summary{},
			want:    []string{"Your balance stays above the buffer for the whole period, so no changes are needed."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{GenerateFn: func(ctx context.Context, prompt string) (string, error) {
				return tt.output, tt.err
			}}
			got := NewModel(gen, log).Explain(context.Background(), tt.summary)
			if len(got) == 0 || len(got) > MaxBullets {
				t.Fatalf("bullets = %q", got)
			}
			if tt.want != nil && strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("bullets = %q, want %q", got, tt.want)
			}
			if tt.wantNote && !mentionsUnresolved(got) {
				t.Errorf("bullets %q lack unresolved note", got)
			}
		})
	}
}
