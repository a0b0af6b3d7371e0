package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/ledger"
	"github.com/dvloznov/cashflow-assistant/internal/optimizer"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
	"github.com/dvloznov/cashflow-assistant/internal/session"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func money(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var june = &domain.DateRange{Start: date("2025-06-01"), End: date("2025-06-30")}

// mockSource serves canned snapshots.
type mockSource struct {
	LoadFn func(ctx context.Context, userID string) (transactions.Snapshot, error)
}

func (m *mockSource) Load(ctx context.Context, userID string) (transactions.Snapshot, error) {
	return m.LoadFn(ctx, userID)
}

func newCall(req dispatcher.Request) (dispatcher.Call, ledger.Store) {
	store := ledger.NewMemoryBackend().Open("s1")
	req.SessionID = "s1"
	return dispatcher.Call{
		Session: session.View{ID: "s1", UserID: "u1"},
		Ledger:  store,
		Request: req,
	}, store
}

func rentBeforePayday() []domain.Transaction {
	return []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: decimal.NewFromInt(-1200), Name: "Rent"},
		{ID: "pay", Date: date("2025-06-20"), Amount: decimal.NewFromInt(1000), Name: "Payroll"},
	}
}

func TestHandle_MovesRentAndRecordsIt(t *testing.T) {
	call, store := newCall(dispatcher.Request{
		Message:      "optimize my payments",
		Balance:      money("200"),
		Transactions: rentBeforePayday(),
		Window:       june,
	})

	resp, err := New().Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != dispatcher.OutcomeOptimized {
		t.Fatalf("outcome = %s (%s)", resp.Outcome, resp.Text)
	}
	if len(resp.Modifications) != 1 {
		t.Fatalf("modifications = %+v", resp.Modifications)
	}
	m := resp.Modifications[0]
	if m.TransactionID != "rent" || m.Kind != domain.KindMoved || m.NewDate.Before(date("2025-06-20")) {
		t.Errorf("unexpected modification %+v", m)
	}
	if len(resp.RiskDaysBefore) == 0 || len(resp.RiskDaysAfter) != 0 {
		t.Errorf("risk before=%v after=%v", resp.RiskDaysBefore, resp.RiskDaysAfter)
	}
	if len(resp.Bullets) == 0 {
		t.Error("expected explanation bullets")
	}

	stored, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{m.ModificationID}, ids(stored)); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}

	// A second pass sees the move already in force.
	again, err := New().Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if again.Outcome != dispatcher.OutcomeNoChanges {
		t.Errorf("second outcome = %s (%s)", again.Outcome, again.Text)
	}
}

func TestHandle_HealthyMonth(t *testing.T) {
	call, store := newCall(dispatcher.Request{
		Balance: money("1342.55"),
		Transactions: []domain.Transaction{
			{ID: "salary", Date: date("2025-06-01"), Amount: decimal.NewFromInt(2400), Name: "Salary"},
			{ID: "power", Date: date("2025-06-10"), Amount: decimal.RequireFromString("-78.25"), Name: "Power"},
			{ID: "rent", Date: date("2025-06-15"), Amount: decimal.NewFromInt(-1200), Name: "Rent"},
		},
		Window: june,
	})

	resp, err := New().Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != dispatcher.OutcomeNoChanges || len(resp.Modifications) != 0 {
		t.Errorf("got %s with %d modifications", resp.Outcome, len(resp.Modifications))
	}
	feed, _ := store.Feed(context.Background())
	if feed.LastUpdated != nil {
		t.Error("ledger should be untouched")
	}
}

func TestHandle_Partial(t *testing.T) {
	call, _ := newCall(dispatcher.Request{
		Balance: money("100"),
		Transactions: []domain.Transaction{
			{ID: "rent", Date: date("2025-06-05"), Amount: decimal.NewFromInt(-1200), Name: "Rent", Fixed: true},
		},
		Window: june,
	})

	resp, err := New().Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != dispatcher.OutcomePartial {
		t.Fatalf("outcome = %s", resp.Outcome)
	}
	if !strings.Contains(resp.Text, "could not fully resolve") {
		t.Errorf("text = %q", resp.Text)
	}
	if len(resp.RiskDaysAfter) == 0 || resp.RiskDaysAfter[0] != date("2025-06-05") {
		t.Errorf("risk after = %v", resp.RiskDaysAfter)
	}
}

func TestHandle_InsufficientData(t *testing.T) {
	tests := []struct {
		name string
		req  dispatcher.Request
		opts []Option
	}{
		{name: "nothing attached", req: dispatcher.Request{Message: "optimize"}},
		{name: "missing balance", req: dispatcher.Request{Transactions: rentBeforePayday(), Window: june}},
		{name: "no window and no transactions", req: dispatcher.Request{Balance: money("10")}},
		{name: "inverted window", req: dispatcher.Request{Balance: money("10"), Transactions: rentBeforePayday(), Window: &domain.DateRange{Start: date("2025-06-30"), End: date("2025-06-01")}}},
		{
			name: "source reports bad data",
			req:  dispatcher.Request{Message: "optimize"},
			opts: []Option{WithSource(&mockSource{LoadFn: func(ctx context.Context, userID string) (transactions.Snapshot, error) {
				return transactions.Snapshot{}, &domain.DataError{Field: "transactions", Reason: "no history"}
			}})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, store := newCall(tt.req)
			resp, err := New(tt.opts...).Handle(context.Background(), call)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.Outcome != dispatcher.OutcomeInsufficientData {
				t.Errorf("outcome = %s", resp.Outcome)
			}
			if !strings.HasPrefix(resp.Text, "insufficient data to project: ") {
				t.Errorf("text = %q", resp.Text)
			}
			if mods, _ := store.List(context.Background()); len(mods) != 0 {
				t.Errorf("ledger written: %+v", mods)
			}
		})
	}
}

func TestHandle_UsesSource(t *testing.T) {
	var gotUser string
	src := &mockSource{LoadFn: func(ctx context.Context, userID string) (transactions.Snapshot, error) {
		gotUser = userID
		return transactions.Snapshot{Balance: money("200"), Transactions: rentBeforePayday(), Window: june}, nil
	}}
	call, _ := newCall(dispatcher.Request{Message: "will my rent bounce?"})

	resp, err := New(WithSource(src)).Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotUser != "u1" {
		t.Errorf("source called for %q", gotUser)
	}
	if resp.Outcome != dispatcher.OutcomeOptimized {
		t.Errorf("outcome = %s (%s)", resp.Outcome, resp.Text)
	}
}

func TestHandle_AttachedBalanceSkipsSource(t *testing.T) {
	src := &mockSource{LoadFn: func(ctx context.Context, userID string) (transactions.Snapshot, error) {
		t.Error("source should not be consulted when a balance is attached")
		return transactions.Snapshot{}, nil
	}}
	call, _ := newCall(dispatcher.Request{Message: "am i ok this month?", Balance: money("500"), Window: june})

	resp, err := New(WithSource(src)).Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != dispatcher.OutcomeNoChanges {
		t.Errorf("outcome = %s (%s)", resp.Outcome, resp.Text)
	}
}

func TestHandle_SourceFailure(t *testing.T) {
	src := &mockSource{LoadFn: func(ctx context.Context, userID string) (transactions.Snapshot, error) {
		return transactions.Snapshot{}, errors.New("bigquery unavailable")
	}}
	call, _ := newCall(dispatcher.Request{Message: "optimize"})

	if _, err := New(WithSource(src)).Handle(context.Background(), call); err == nil {
		t.Fatal("expected source error")
	}
}

func TestHandle_InvalidFocus(t *testing.T) {
	call, _ := newCall(dispatcher.Request{Balance: money("200"), Transactions: rentBeforePayday(), Window: june, Focus: "taxes"})
	_, err := New().Handle(context.Background(), call)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestHandle_CancelledContextWritesNothing(t *testing.T) {
	call, store := newCall(dispatcher.Request{Balance: money("200"), Transactions: rentBeforePayday(), Window: june})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().Handle(ctx, call); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if mods, _ := store.List(context.Background()); len(mods) != 0 {
		t.Errorf("ledger written after cancellation: %+v", mods)
	}
}

func TestHandle_ConfiguredFloor(t *testing.T) {
	call, _ := newCall(dispatcher.Request{
		Balance: money("1342.55"),
		Transactions: []domain.Transaction{
			{ID: "rent", Date: date("2025-06-15"), Amount: decimal.NewFromInt(-1200), Name: "Rent", Fixed: true},
		},
		Window: june,
	})
	p := New(WithProjector(projector.New(projector.WithFloor(decimal.NewFromInt(500)))), WithOptimizer(optimizer.New()))

	resp, err := p.Handle(context.Background(), call)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != dispatcher.OutcomePartial {
		t.Errorf("outcome = %s, want partial below a 500 floor", resp.Outcome)
	}
}

func TestWindowDerivation(t *testing.T) {
	p := New(WithTrailingDays(3))
	got, err := p.window(transactions.Snapshot{Transactions: rentBeforePayday()})
	if err != nil {
		t.Fatal(err)
	}
	want := domain.DateRange{Start: date("2025-06-15"), End: date("2025-06-23")}
	if got != want {
		t.Errorf("window = %+v, want %+v", got, want)
	}
}

func TestFocusFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want optimizer.Focus
	}{
		{"How do I lower my credit utilization?", optimizer.FocusUtilization},
		{"Will my rent bounce?", optimizer.FocusOverdraft},
		{"optimize my payments", optimizer.FocusAuto},
	}
	for _, tt := range tests {
		if got := focusFromMessage(tt.msg); got != tt.want {
			t.Errorf("focusFromMessage(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func ids(mods []domain.CalendarModification) []string {
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		out = append(out, m.ModificationID)
	}
	return out
}
