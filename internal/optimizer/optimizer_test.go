package optimizer

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
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

func mustProject(t *testing.T, balance string, txs []domain.Transaction) domain.BufferProjection {
	t.Helper()
	p, err := projector.Project(amt(balance), txs, nil, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	return p
}

// checkInvariants verifies what every optimizer result must satisfy.
func checkInvariants(t *testing.T, before domain.BufferProjection, res Result) {
	t.Helper()

	seen := make(map[string]bool)
	plannedTotal := decimal.Zero
	for _, m := range res.Modifications {
		if seen[m.TransactionID] {
			t.Errorf("transaction %s modified twice", m.TransactionID)
		}
		seen[m.TransactionID] = true
		if err := m.Validate(); err != nil {
			t.Errorf("invalid modification %+v: %v", m, err)
		}
		if m.Kind == domain.KindPlanned {
			plannedTotal = plannedTotal.Add(m.Amount)
		}
	}

	for i, day := range res.Final.Days {
		if day.Low.LessThan(before.Floor) && day.Low.LessThan(before.Days[i].Low) {
			t.Errorf("%s regressed: low %s, was %s", day.Date, day.Low, before.Days[i].Low)
		}
	}

	want := before.ClosingBalance().Add(plannedTotal)
	if !res.Final.ClosingBalance().Equal(want) {
		t.Errorf("closing balance %s, want %s", res.Final.ClosingBalance(), want)
	}
}

func TestOptimize_HealthyMonthNeedsNothing(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "paycheck", Date: date("2025-06-01"), Amount: amt("2400"), Name: "Payroll"},
		{ID: "groceries", Date: date("2025-06-10"), Amount: amt("-78.25"), Name: "Grocer"},
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent"},
	}
	p := mustProject(t, "1342.55", txs)

	res, err := New().Optimize(p, txs, nil, FocusAuto)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 0 {
		t.Errorf("expected no modifications, got %+v", res.Modifications)
	}
	if !res.Resolved() {
		t.Errorf("expected resolved result, unresolved %v", res.UnresolvedDays)
	}
}

func TestOptimize_MovesRentPastPayday(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent", Category: "RENT"},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000"), Name: "Payroll"},
	}
	p := mustProject(t, "200", txs)

	res, err := New().Optimize(p, txs, nil, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 1 {
		t.Fatalf("expected one modification, got %+v", res.Modifications)
	}
	m := res.Modifications[0]
	if m.Kind != domain.KindMoved || m.TransactionID != "rent" {
		t.Fatalf("unexpected modification %+v", m)
	}
	if m.NewDate.Before(date("2025-06-20")) {
		t.Errorf("new date %s is before payday", m.NewDate)
	}
	if *m.OriginalDate != date("2025-06-15") {
		t.Errorf("original date = %s", m.OriginalDate)
	}
	if !strings.Contains(m.Reason, "overdraft") || !strings.Contains(m.Reason, "2025-06-15") {
		t.Errorf("reason does not name the overdraft: %q", m.Reason)
	}

	again, err := projector.Project(amt("200"), txs, res.Modifications, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if again.HasRisk() {
		t.Errorf("re-projection still at risk on %v", again.RiskDays())
	}
	checkInvariants(t, p, res)
}

func TestOptimize_WeekdaysOnly(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent"},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000"), Name: "Payroll"},
	}
	p := mustProject(t, "200", txs)

	res, err := New(WithWeekdaysOnly(true)).Optimize(p, txs, nil, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 1 {
		t.Fatalf("expected one modification, got %+v", res.Modifications)
	}
	// 2025-06-21 and 22 fall on a weekend
	if got := *res.Modifications[0].NewDate; got != date("2025-06-23") {
		t.Errorf("new date = %s, want 2025-06-23", got)
	}
}

func TestOptimize_GreedyMoves(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "a", Date: date("2025-06-05"), Amount: amt("-300"), Name: "Electronics"},
		{ID: "b", Date: date("2025-06-05"), Amount: amt("-250"), Name: "Travel"},
		{ID: "pay", Date: date("2025-06-10"), Amount: amt("600"), Name: "Payroll"},
	}
	p := mustProject(t, "100", txs)

	res, err := New().Optimize(p, txs, nil, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	var ids []string
	for _, m := range res.Modifications {
		ids = append(ids, m.TransactionID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("moved transactions mismatch (-want +got):\n%s", diff)
	}
	if !res.Resolved() {
		t.Errorf("expected resolved, unresolved %v", res.UnresolvedDays)
	}
	checkInvariants(t, p, res)
}

func TestOptimize_PartialResult(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-05"), Amount: amt("-500"), Name: "Rent", Fixed: true},
		{ID: "dinner", Date: date("2025-06-05"), Amount: amt("-50"), Name: "Dinner"},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000"), Name: "Payroll"},
	}
	p := mustProject(t, "100", txs)

	res, err := New().Optimize(p, txs, nil, FocusOverdraft)
	if err != nil {
		t.Fatalf("partial result must not be an error: %v", err)
	}
	if res.Resolved() {
		t.Fatal("expected unresolved risk days")
	}
	if res.UnresolvedDays[0] != date("2025-06-05") {
		t.Errorf("first unresolved day = %s", res.UnresolvedDays[0])
	}
	for _, m := range res.Modifications {
		if m.TransactionID == "rent" {
			t.Errorf("fixed transaction was moved: %+v", m)
		}
	}
	if len(res.Modifications) != 1 || res.Modifications[0].TransactionID != "dinner" {
		t.Errorf("expected the partial move of dinner, got %+v", res.Modifications)
	}
	checkInvariants(t, p, res)
}

func TestOptimize_CardPaymentStaysBeforeDueDate(t *testing.T) {
	payment := domain.Transaction{ID: "visa-pay", Date: date("2025-06-05"), Amount: amt("-500"), Name: "Visa payment", CardID: "visa"}
	income := domain.Transaction{ID: "pay", Date: date("2025-06-10"), Amount: amt("1000"), Name: "Payroll"}
	cards := []domain.CreditCard{{ID: "visa", Limit: amt("5000"), Balance: amt("500"), CutDay: 28, DueDay: 8}}

	txs := []domain.Transaction{payment, income}
	p := mustProject(t, "100", txs)
	res, err := New().Optimize(p, txs, cards, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 0 {
		t.Errorf("payment moved past its due date: %+v", res.Modifications)
	}
	if res.Resolved() {
		t.Error("expected unresolved days")
	}

	unlinked := payment
	unlinked.CardID = ""
	txs = []domain.Transaction{unlinked, income}
	p = mustProject(t, "100", txs)
	res, err = New().Optimize(p, txs, cards, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 1 || *res.Modifications[0].NewDate != date("2025-06-11") {
		t.Errorf("expected move to 2025-06-11, got %+v", res.Modifications)
	}
}

func TestOptimize_UtilizationPlansPaymentBeforeCut(t *testing.T) {
	cards := []domain.CreditCard{{ID: "visa", Name: "Visa", Limit: amt("5000"), Balance: amt("4800"), CutDay: 28, DueDay: 21}}
	p := mustProject(t, "4000", nil)

	for _, focus := range []Focus{FocusUtilization, FocusAuto} {
		t.Run(string(focus), func(t *testing.T) {
			res, err := New().Optimize(p, nil, cards, focus)
			if err != nil {
				t.Fatalf("Optimize: %v", err)
			}
			if res.Focus != FocusUtilization {
				t.Errorf("focus = %s", res.Focus)
			}
			if len(res.Modifications) != 1 {
				t.Fatalf("expected one planned payment, got %+v", res.Modifications)
			}
			m := res.Modifications[0]
			if m.Kind != domain.KindPlanned {
				t.Fatalf("kind = %s", m.Kind)
			}
			if !m.Date.Before(date("2025-06-28")) {
				t.Errorf("payment on %s is not before the cut", m.Date)
			}
			if after := amt("4800").Add(m.Amount); after.GreaterThan(amt("1500")) {
				t.Errorf("card balance after payment %s exceeds 1500", after)
			}
			if !strings.Contains(m.Reason, "utilization") {
				t.Errorf("reason does not cite utilization: %q", m.Reason)
			}
			if !res.Resolved() {
				t.Errorf("unresolved cards %v", res.UnresolvedCards)
			}
			checkInvariants(t, p, res)
		})
	}
}

func TestOptimize_UtilizationLimitedByBalance(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-29"), Amount: amt("-1500"), Name: "Rent", Fixed: true},
	}
	cards := []domain.CreditCard{{ID: "visa", Limit: amt("5000"), Balance: amt("4800"), CutDay: 28, DueDay: 21}}
	p := mustProject(t, "2000", txs)

	res, err := New().Optimize(p, txs, cards, FocusUtilization)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 1 {
		t.Fatalf("expected one partial payment, got %+v", res.Modifications)
	}
	if got := res.Modifications[0].Amount; !got.Equal(amt("-500")) {
		t.Errorf("payment = %s, want -500", got)
	}
	if diff := cmp.Diff([]string{"visa"}, res.UnresolvedCards); diff != "" {
		t.Errorf("unresolved cards mismatch (-want +got):\n%s", diff)
	}
	if res.Final.HasRisk() {
		t.Errorf("payment created risk on %v", res.Final.RiskDays())
	}
	checkInvariants(t, p, res)
}

func TestOptimize_UtilizationPullsLatePaymentForward(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "visa-pay", Date: date("2025-06-29"), Amount: amt("-3300"), Name: "Visa payment", CardID: "visa"},
	}
	cards := []domain.CreditCard{{ID: "visa", Limit: amt("5000"), Balance: amt("4800"), CutDay: 28, DueDay: 30}}
	p := mustProject(t, "4000", txs)

	res, err := New().Optimize(p, txs, cards, FocusUtilization)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.Modifications) != 1 {
		t.Fatalf("expected one move, got %+v", res.Modifications)
	}
	m := res.Modifications[0]
	if m.Kind != domain.KindMoved || *m.NewDate != date("2025-06-27") {
		t.Errorf("expected payment moved to 2025-06-27, got %+v", m)
	}
	if !res.Resolved() {
		t.Errorf("unresolved cards %v", res.UnresolvedCards)
	}
}

func TestOptimize_Deterministic(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "b", Date: date("2025-06-05"), Amount: amt("-300"), Name: "B"},
		{ID: "a", Date: date("2025-06-05"), Amount: amt("-300"), Name: "A"},
		{ID: "pay", Date: date("2025-06-10"), Amount: amt("600"), Name: "Payroll"},
	}
	cards := []domain.CreditCard{{ID: "visa", Limit: amt("1000"), Balance: amt("900"), CutDay: 28, DueDay: 21}}
	p := mustProject(t, "100", txs)

	first, err := New().Optimize(p, txs, cards, FocusAuto)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	second, err := New().Optimize(p, txs, cards, FocusAuto)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if diff := cmp.Diff(first.Modifications, second.Modifications, decimalEqual); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("JSON differs:\n%s\n%s", a, b)
	}
	// equal magnitudes tie-break on transaction ID
	if len(first.Modifications) == 0 || first.Modifications[0].TransactionID != "a" {
		t.Errorf("expected a to move first, got %+v", first.Modifications)
	}
}

func TestOptimize_RespectsExistingModifications(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "rent", Date: date("2025-06-15"), Amount: amt("-1200"), Name: "Rent"},
		{ID: "pay", Date: date("2025-06-20"), Amount: amt("1000"), Name: "Payroll"},
	}
	first, err := New().Optimize(mustProject(t, "200", txs), txs, nil, FocusOverdraft)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	p, err := projector.Project(amt("200"), txs, first.Modifications, june)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	second, err := New().Optimize(p, txs, nil, FocusAuto)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(second.Modifications) != 0 {
		t.Errorf("already-fixed projection produced %+v", second.Modifications)
	}
}

func TestOptimize_InvalidFocus(t *testing.T) {
	p := mustProject(t, "100", nil)
	_, err := New().Optimize(p, nil, nil, Focus("savings"))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
