package transactions

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

const dateFormat = "2006-01-02"

// transactionRow is the subset of finance.transactions a projection needs.
type transactionRow struct {
	TransactionID         string                `bigquery:"transaction_id"`
	TransactionDate       civil.Date            `bigquery:"transaction_date"`
	BookingDatetime       bigquery.NullDateTime `bigquery:"booking_datetime"`
	Amount                *big.Rat              `bigquery:"amount"`
	BalanceAfter          *big.Rat              `bigquery:"balance_after"`
	RawDescription        string                `bigquery:"raw_description"`
	NormalizedDescription bigquery.NullString   `bigquery:"normalized_description"`
	CategoryName          bigquery.NullString   `bigquery:"category_name"`
	IsPending             bigquery.NullBool     `bigquery:"is_pending"`
}

// BigQuerySource builds a snapshot from ingested transaction history: the
// latest known balance plus recurring payments projected over the horizon.
type BigQuerySource struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	lookback  int
	horizon   int
	now       func() time.Time
}

// NewBigQuerySource creates a source over projectID.datasetID.transactions.
// lookback is how many days of history feed recurrence detection; horizon
// is how many days ahead the snapshot window reaches.
func NewBigQuerySource(client *bigquery.Client, projectID, datasetID string, lookback, horizon int) *BigQuerySource {
	if lookback <= 0 {
		lookback = 120
	}
	if horizon <= 0 {
		horizon = 30
	}
	return &BigQuerySource{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		lookback:  lookback,
		horizon:   horizon,
		now:       time.Now,
	}
}

// Load implements Source.
func (s *BigQuerySource) Load(ctx context.Context, userID string) (Snapshot, error) {
	today := civil.DateOf(s.now().UTC())
	rows, err := s.query(ctx, userID, today.AddDays(-s.lookback), today)
	if err != nil {
		return Snapshot{}, fmt.Errorf("Load: %w", err)
	}
	if len(rows) == 0 {
		return Snapshot{}, &domain.DataError{Field: "transactions", Reason: "no transaction history for user"}
	}

	history := make([]domain.Transaction, 0, len(rows))
	var balance *decimal.Decimal
	for _, r := range rows {
		tx, err := r.toDomain()
		if err != nil {
			return Snapshot{}, fmt.Errorf("Load: %w", err)
		}
		history = append(history, tx)
		if r.BalanceAfter != nil {
			b, err := ratToDecimal(r.BalanceAfter)
			if err != nil {
				return Snapshot{}, fmt.Errorf("Load: balance_after: %w", err)
			}
			balance = &b
		}
	}
	if balance == nil {
		return Snapshot{}, &domain.DataError{Field: "balance", Reason: "no balance_after recorded in history"}
	}

	window := domain.DateRange{Start: today.AddDays(1), End: today.AddDays(s.horizon)}
	return Snapshot{
		Balance:      balance,
		Transactions: Upcoming(DetectRecurring(history), window),
		Window:       &window,
	}, nil
}

func (s *BigQuerySource) query(ctx context.Context, userID string, start, end civil.Date) ([]transactionRow, error) {
	q := s.client.Query(`
		SELECT
			t.transaction_id,
			t.transaction_date,
			t.booking_datetime,
			t.amount,
			t.balance_after,
			t.raw_description,
			t.normalized_description,
			t.category_name,
			t.is_pending
		FROM ` + "`" + s.projectID + "." + s.datasetID + ".transactions`" + ` t
		WHERE t.user_id = @user_id
		  AND t.transaction_date >= @start_date
		  AND t.transaction_date <= @end_date
		ORDER BY t.transaction_date, t.booking_datetime, t.transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: start.In(time.UTC).Format(dateFormat)},
		{Name: "end_date", Value: end.In(time.UTC).Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var rows []transactionRow
	for {
		var r transactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (r transactionRow) toDomain() (domain.Transaction, error) {
	tx := domain.Transaction{
		ID:      r.TransactionID,
		Date:    r.TransactionDate,
		Name:    r.RawDescription,
		Pending: r.IsPending.Valid && r.IsPending.Bool,
	}
	if r.Amount == nil {
		return domain.Transaction{}, &domain.DataError{Field: "amount", Reason: "missing for " + r.TransactionID}
	}
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("amount %s: %w", r.TransactionID, err)
	}
	tx.Amount = amount
	if r.NormalizedDescription.Valid {
		tx.Merchant = r.NormalizedDescription.StringVal
	}
	if r.CategoryName.Valid {
		tx.Category = r.CategoryName.StringVal
	}
	if r.BookingDatetime.Valid {
		ts := r.BookingDatetime.DateTime.In(time.UTC)
		tx.Timestamp = &ts
	}
	return tx, nil
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	return decimal.NewFromString(r.FloatString(2))
}
