package projector

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var june = domain.DateRange{Start: date("2025-06-01"), End: date("2025-06-30")}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestProject_HealthyMonth(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "paycheck", Date: date("2025-06-01"), Amount: amt("2400"), Name: "Payroll"},
		{ID: "groceries", Date: date("2025-06-10"), Amount: amt("-78.25"), Name: "Grocer"},
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent"},
	}

	p, err := Project(amt("1342.55"), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(p.Days) != 30 {
		t.Fatalf("days = %d, want 30", len(p.Days))
	}
	if p.HasRisk() {
		t.Errorf("unexpected risk days %v", p.RiskDays())
	}

	checks := map[string]string{
		"2025-06-01": "3742.55",
		"2025-06-10": "3664.30",
		"2025-06-15": "2464.30",
		"2025-06-30": "2464.30",
	}
	for day, want := range checks {
		got, ok := p.Day(date(day))
		if !ok {
			t.Fatalf("day %s missing", day)
		}
		if !got.RunningBalance.Equal(amt(want)) {
			t.Errorf("%s running = %s, want %s", day, got.RunningBalance, want)
		}
	}
}

func TestProject_RiskCarriesUntilIncome(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent"},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000"), Name: "Payroll"},
	}
	p, err := Project(amt("200"), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	risk := p.RiskDays()
	if len(risk) == 0 || risk[0] != date("2025-06-15") {
		t.Fatalf("first risk day = %v, want 2025-06-15", risk)
	}
	// day 20 opens at -1000 and closes at 0, still at risk while it opens negative
	if risk[len(risk)-1] != date("2025-06-20") {
		t.Errorf("last risk day = %s, want 2025-06-20", risk[len(risk)-1])
	}
	if day, _ := p.Day(date("2025-06-21")); day.AtRisk {
		t.Errorf("2025-06-21 should be safe, low %s", day.Low)
	}
}

func TestProject_SameDayPolicy(t *testing.T) {
	morning := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{ID: "pay", Date: date("2025-06-10"), Amount: amt("500"), Timestamp: &morning},
		{ID: "bill", Date: date("2025-06-10"), Amount: amt("-400"), Timestamp: &evening},
	}
	window := domain.DateRange{Start: date("2025-06-10"), End: date("2025-06-10")}

	tests := []struct {
		name     string
		policy   domain.SameDayPolicy
		txs      []domain.Transaction
		wantRisk bool
		wantLow  string
	}{
		{name: "timestamps order credit first", policy: domain.PolicyTimestamps, txs: txs, wantRisk: false, wantLow: "100"},
		{name: "conservative ignores timestamps", policy: domain.PolicyConservative, txs: txs, wantRisk: true, wantLow: "-300"},
		{
			name:   "missing timestamp falls back to conservative",
			policy: domain.PolicyTimestamps,
			txs: []domain.Transaction{
				{ID: "pay", Date: date("2025-06-10"), Amount: amt("500"), Timestamp: &morning},
				{ID: "bill", Date: date("2025-06-10"), Amount: amt("-400")},
			},
			wantRisk: true,
			wantLow:  "-300",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(WithPolicy(tt.policy)).Project(amt("100"), tt.txs, nil, window)
			if err != nil {
				t.Fatalf("Project: %v", err)
			}
			day := p.Days[0]
			if day.AtRisk != tt.wantRisk {
				t.Errorf("at risk = %v, want %v", day.AtRisk, tt.wantRisk)
			}
			if !day.Low.Equal(amt(tt.wantLow)) {
				t.Errorf("low = %s, want %s", day.Low, tt.wantLow)
			}
			if !day.RunningBalance.Equal(amt("200")) {
				t.Errorf("running = %s, want 200", day.RunningBalance)
			}
		})
	}
}

func TestProject_Floor(t *testing.T) {
	txs := []domain.Transaction{{ID: "a", Date: date("2025-06-02"), Amount: amt("-150")}}
	p, err := New(WithFloor(amt("100"))).Project(amt("200"), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if got := p.RiskDays(); len(got) != 29 || got[0] != date("2025-06-02") {
		t.Errorf("risk days = %v, want 2025-06-02 onward", got)
	}
}

func TestProject_AppliesModifications(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200")},
		{ID: "gym", Date: date("2025-06-03"), Amount: amt("-40")},
	}
	mods := []domain.CalendarModification{
		{
			ModificationID: "m1", TransactionID: "rent", Kind: domain.KindMoved,
			OriginalDate: domain.DatePtr(date("2025-06-15")), NewDate: domain.DatePtr(date("2025-06-21")),
			Amount: amt("-1200"), Reason: "r",
		},
		{
			ModificationID: "m2", TransactionID: "gym", Kind: domain.KindMoved,
			OriginalDate: domain.DatePtr(date("2025-06-03")), NewDate: domain.DatePtr(date("2025-07-03")),
			Amount: amt("-40"), Reason: "moved out of window",
		},
		{
			ModificationID: "m3", TransactionID: "planned-card", Kind: domain.KindPlanned,
			Date: domain.DatePtr(date("2025-06-27")), Amount: amt("-300"), Reason: "r",
		},
		{
			ModificationID: "m4", TransactionID: "ghost", Kind: domain.KindMoved,
			OriginalDate: domain.DatePtr(date("2025-06-01")), NewDate: domain.DatePtr(date("2025-06-02")),
			Amount: amt("-5"), Reason: "stale",
		},
	}

	p, err := Project(amt("2000"), txs, mods, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	if day, _ := p.Day(date("2025-06-15")); !day.Delta.IsZero() {
		t.Errorf("rent still on original date: delta %s", day.Delta)
	}
	day21, _ := p.Day(date("2025-06-21"))
	if len(day21.Entries) != 1 || !day21.Entries[0].Moved {
		t.Errorf("rent not relocated: %+v", day21.Entries)
	}
	day27, _ := p.Day(date("2025-06-27"))
	if len(day27.Entries) != 1 || !day27.Entries[0].Planned {
		t.Errorf("planned entry missing: %+v", day27.Entries)
	}
	if !p.ClosingBalance().Equal(amt("500")) {
		t.Errorf("closing = %s, want 500", p.ClosingBalance())
	}
	if diff := cmp.Diff([]string{"ghost"}, p.Orphaned); diff != "" {
		t.Errorf("orphaned mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_DataErrors(t *testing.T) {
	tests := []struct {
		name   string
		txs    []domain.Transaction
		window domain.DateRange
	}{
		{name: "missing window", window: domain.DateRange{}},
		{name: "reversed window", window: domain.DateRange{Start: date("2025-06-30"), End: date("2025-06-01")}},
		{name: "empty id", window: june, txs: []domain.Transaction{{Date: date("2025-06-02"), Amount: amt("-1")}}},
		{
			name:   "duplicate id",
			window: june,
			txs: []domain.Transaction{
				{ID: "a", Date: date("2025-06-02"), Amount: amt("-1")},
				{ID: "a", Date: date("2025-06-03"), Amount: amt("-1")},
			},
		},
		{name: "invalid date", window: june, txs: []domain.Transaction{{ID: "a", Date: civil.Date{Year: 2025, Month: 2, Day: 30}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Project(amt("100"), tt.txs, nil, tt.window)
			var derr *domain.DataError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DataError, got %v", err)
			}
		})
	}
}

func TestProject_UnknownPolicy(t *testing.T) {
	_, err := New(WithPolicy("optimistic")).Project(amt("100"), nil, nil, june)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "policy" {
		t.Errorf("field = %q", verr.Field)
	}
}

func TestProject_Deterministic(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "b", Date: date("2025-06-05"), Amount: amt("-10")},
		{ID: "a", Date: date("2025-06-05"), Amount: amt("-20")},
		{ID: "c", Date: date("2025-06-09"), Amount: amt("300.10")},
	}
	reversed := []domain.Transaction{txs[2], txs[1], txs[0]}

	first, err := Project(amt("50"), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	second, err := Project(amt("50"), reversed, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("projections differ:\n%s\n%s", a, b)
	}
	if diff := cmp.Diff(first, second, decimalEqual); diff != "" {
		t.Errorf("projection mismatch (-first +second):\n%s", diff)
	}
}

func TestProject_ConservesTotals(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200")},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000")},
		{ID: "coffee", Date: date("2025-06-02"), Amount: amt("-4.75")},
	}
	mods := []domain.CalendarModification{
		{
			ModificationID: "m1", TransactionID: "rent", Kind: domain.KindMoved,
			OriginalDate: domain.DatePtr(date("2025-06-15")), NewDate: domain.DatePtr(date("2025-06-25")),
			Amount: amt("-1200"), Reason: "r",
		},
		{
			ModificationID: "m2", TransactionID: "planned", Kind: domain.KindPlanned,
			Date: domain.DatePtr(date("2025-06-26")), Amount: amt("-99.99"), Reason: "r",
		},
	}

	base, err := Project(amt("200"), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	modified, err := Project(amt("200"), txs, mods, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	want := base.ClosingBalance().Add(amt("-99.99"))
	if !modified.ClosingBalance().Equal(want) {
		t.Errorf("closing = %s, want %s", modified.ClosingBalance(), want)
	}
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "b", Date: date("2025-06-05"), Amount: amt("-10")},
		{ID: "a", Date: date("2025-06-05"), Amount: amt("-20")},
	}
	mods := []domain.CalendarModification{{
		ModificationID: "m1", TransactionID: "b", Kind: domain.KindMoved,
		OriginalDate: domain.DatePtr(date("2025-06-05")), NewDate: domain.DatePtr(date("2025-06-07")),
		Amount: amt("-10"), Reason: "r",
	}}

	if _, err := Project(amt("50"), txs, mods, june); err != nil {
		t.Fatalf("Project: %v", err)
	}
	if txs[0].ID != "b" || txs[0].Date != date("2025-06-05") {
		t.Errorf("transactions mutated: %+v", txs)
	}
	if *mods[0].NewDate != date("2025-06-07") {
		t.Errorf("modification mutated: %+v", mods[0])
	}
}
