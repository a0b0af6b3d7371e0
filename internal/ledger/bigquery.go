package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

const (
	modificationsTable = "calendar_modifications"
	stateTable         = "ledger_state"
)

// modificationRow mirrors finance.calendar_modifications.
type modificationRow struct {
	SessionID      string                 `bigquery:"session_id"`
	ModificationID string                 `bigquery:"modification_id"`
	Seq            int64                  `bigquery:"seq"`
	TransactionID  string                 `bigquery:"transaction_id"`
	Kind           string                 `bigquery:"kind"`
	OriginalDate   bigquery.NullDate      `bigquery:"original_date"`
	NewDate        bigquery.NullDate      `bigquery:"new_date"`
	PlannedDate    bigquery.NullDate      `bigquery:"planned_date"`
	Amount         *big.Rat               `bigquery:"amount"`
	Category       string                 `bigquery:"category"`
	Merchant       string                 `bigquery:"merchant"`
	Reason         string                 `bigquery:"reason"`
	Status         string                 `bigquery:"status"`
	CreatedTS      time.Time              `bigquery:"created_ts"`
	ApprovedTS     bigquery.NullTimestamp `bigquery:"approved_ts"`
}

type stateRow struct {
	LastUpdated bigquery.NullTimestamp `bigquery:"last_updated"`
}

// BigQueryBackend keeps ledgers in BigQuery. Each mutation runs as one
// multi-statement transaction.
type BigQueryBackend struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	opts      options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBigQueryBackend creates a client for projectID. The tables must exist;
// cmd/migrate creates them.
func NewBigQueryBackend(ctx context.Context, projectID, datasetID string, opts ...Option) (*BigQueryBackend, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryBackend: bigquery client: %w", err)
	}
	return NewBigQueryBackendWithClient(client, projectID, datasetID, opts...), nil
}

// NewBigQueryBackendWithClient wraps an existing client.
func NewBigQueryBackendWithClient(client *bigquery.Client, projectID, datasetID string, opts ...Option) *BigQueryBackend {
	return &BigQueryBackend{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		opts:      buildOptions(opts),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Open implements Backend.
func (b *BigQueryBackend) Open(sessionID string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[sessionID] = lock
	}
	return &bigQueryStore{backend: b, sessionID: sessionID, lock: lock}
}

// Close implements Backend.
func (b *BigQueryBackend) Close() error {
	return b.client.Close()
}

func (b *BigQueryBackend) table(name string) string {
	return "`" + b.projectID + "." + b.datasetID + "." + name + "`"
}

// run executes a DML script and waits for it.
func (b *BigQueryBackend) run(ctx context.Context, script string, params []bigquery.QueryParameter) error {
	q := b.client.Query(script)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	return nil
}

type bigQueryStore struct {
	backend   *BigQueryBackend
	sessionID string
	lock      *sync.Mutex
}

func (s *bigQueryStore) Apply(ctx context.Context, m domain.CalendarModification) error {
	return s.ApplyBatch(ctx, []domain.CalendarModification{m})
}

func (s *bigQueryStore) ApplyBatch(ctx context.Context, mods []domain.CalendarModification) error {
	if len(mods) == 0 {
		return nil
	}
	now := s.backend.opts.now().UTC()
	prepared, err := prepare(mods, now)
	if err != nil {
		return fmt.Errorf("ApplyBatch: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	table := s.backend.table(modificationsTable)
	var sb strings.Builder
	params := []bigquery.QueryParameter{
		{Name: "session_id", Value: s.sessionID},
		{Name: "now", Value: now},
	}
	sb.WriteString("BEGIN TRANSACTION;\n")
	for i, m := range prepared {
		p := func(name string) string { return fmt.Sprintf("@%s_%d", name, i) }
		sb.WriteString("DELETE FROM " + table + " WHERE session_id = @session_id AND (transaction_id = " +
			p("transaction_id") + " OR modification_id = " + p("modification_id") + ");\n")
		sb.WriteString("INSERT INTO " + table + ` (session_id, modification_id, seq, transaction_id, kind,
			original_date, new_date, planned_date, amount, category, merchant, reason, status, created_ts, approved_ts)
			VALUES (@session_id, ` + strings.Join([]string{
			p("modification_id"), p("seq"), p("transaction_id"), p("kind"),
			p("original_date"), p("new_date"), p("planned_date"), "CAST(" + p("amount") + " AS NUMERIC)",
			p("category"), p("merchant"), p("reason"), p("status"), p("created_ts"), p("approved_ts"),
		}, ", ") + ");\n")

		row := toRow(s.sessionID, m, now.UnixMicro()*1000+int64(i))
		params = append(params,
			bigquery.QueryParameter{Name: fmt.Sprintf("modification_id_%d", i), Value: row.ModificationID},
			bigquery.QueryParameter{Name: fmt.Sprintf("seq_%d", i), Value: row.Seq},
			bigquery.QueryParameter{Name: fmt.Sprintf("transaction_id_%d", i), Value: row.TransactionID},
			bigquery.QueryParameter{Name: fmt.Sprintf("kind_%d", i), Value: row.Kind},
			bigquery.QueryParameter{Name: fmt.Sprintf("original_date_%d", i), Value: row.OriginalDate},
			bigquery.QueryParameter{Name: fmt.Sprintf("new_date_%d", i), Value: row.NewDate},
			bigquery.QueryParameter{Name: fmt.Sprintf("planned_date_%d", i), Value: row.PlannedDate},
			bigquery.QueryParameter{Name: fmt.Sprintf("amount_%d", i), Value: m.Amount.String()},
			bigquery.QueryParameter{Name: fmt.Sprintf("category_%d", i), Value: row.Category},
			bigquery.QueryParameter{Name: fmt.Sprintf("merchant_%d", i), Value: row.Merchant},
			bigquery.QueryParameter{Name: fmt.Sprintf("reason_%d", i), Value: row.Reason},
			bigquery.QueryParameter{Name: fmt.Sprintf("status_%d", i), Value: row.Status},
			bigquery.QueryParameter{Name: fmt.Sprintf("created_ts_%d", i), Value: row.CreatedTS},
			bigquery.QueryParameter{Name: fmt.Sprintf("approved_ts_%d", i), Value: row.ApprovedTS},
		)
	}
	sb.WriteString(s.touchSQL())
	sb.WriteString("COMMIT TRANSACTION;\n")

	if err := s.backend.run(ctx, sb.String(), params); err != nil {
		return fmt.Errorf("ApplyBatch: %w", err)
	}
	return nil
}

func (s *bigQueryStore) touchSQL() string {
	state := s.backend.table(stateTable)
	return "DELETE FROM " + state + " WHERE session_id = @session_id;\n" +
		"INSERT INTO " + state + " (session_id, last_updated) VALUES (@session_id, @now);\n"
}

func (s *bigQueryStore) List(ctx context.Context) ([]domain.CalendarModification, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.list(ctx)
}

func (s *bigQueryStore) list(ctx context.Context) ([]domain.CalendarModification, error) {
	q := s.backend.client.Query(`
		SELECT session_id, modification_id, seq, transaction_id, kind, original_date, new_date, planned_date,
		       amount, category, merchant, reason, status, created_ts, approved_ts
		FROM ` + s.backend.table(modificationsTable) + `
		WHERE session_id = @session_id
		ORDER BY seq
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "session_id", Value: s.sessionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: query read: %w", err)
	}

	mods := []domain.CalendarModification{}
	for {
		var r modificationRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list: iter next: %w", err)
		}
		m, err := fromRow(r)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

func (s *bigQueryStore) Feed(ctx context.Context) (domain.ModificationFeed, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	mods, err := s.list(ctx)
	if err != nil {
		return domain.ModificationFeed{}, fmt.Errorf("Feed: %w", err)
	}

	q := s.backend.client.Query(`SELECT last_updated FROM ` + s.backend.table(stateTable) + ` WHERE session_id = @session_id`)
	q.Parameters = []bigquery.QueryParameter{{Name: "session_id", Value: s.sessionID}}
	it, err := q.Read(ctx)
	if err != nil {
		return domain.ModificationFeed{}, fmt.Errorf("Feed: query read: %w", err)
	}

	feed := domain.ModificationFeed{Modifications: mods}
	var r stateRow
	switch err := it.Next(&r); {
	case err == iterator.Done:
	case err != nil:
		return domain.ModificationFeed{}, fmt.Errorf("Feed: iter next: %w", err)
	case r.LastUpdated.Valid:
		ts := r.LastUpdated.Timestamp.UTC()
		feed.LastUpdated = &ts
	}
	return feed, nil
}

func (s *bigQueryStore) Approve(ctx context.Context, modificationID string) (domain.CalendarModification, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	mods, err := s.list(ctx)
	if err != nil {
		return domain.CalendarModification{}, fmt.Errorf("Approve: %w", err)
	}
	for _, m := range mods {
		if m.ModificationID != modificationID {
			continue
		}
		if m.Status == domain.StatusApproved {
			return m, nil
		}

		now := s.backend.opts.now().UTC()
		script := "BEGIN TRANSACTION;\n" +
			"UPDATE " + s.backend.table(modificationsTable) + " SET status = @status, approved_ts = @now" +
			" WHERE session_id = @session_id AND modification_id = @modification_id;\n" +
			s.touchSQL() +
			"COMMIT TRANSACTION;\n"
		err := s.backend.run(ctx, script, []bigquery.QueryParameter{
			{Name: "session_id", Value: s.sessionID},
			{Name: "modification_id", Value: modificationID},
			{Name: "status", Value: string(domain.StatusApproved)},
			{Name: "now", Value: now},
		})
		if err != nil {
			return domain.CalendarModification{}, fmt.Errorf("Approve: %w", err)
		}
		m.Status = domain.StatusApproved
		m.ApprovedAt = &now
		return m, nil
	}
	return domain.CalendarModification{}, fmt.Errorf("Approve: %s: %w", modificationID, ErrNotFound)
}

func (s *bigQueryStore) Clear(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	mods, err := s.list(ctx)
	if err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	if len(mods) == 0 {
		return nil
	}

	script := "BEGIN TRANSACTION;\n" +
		"DELETE FROM " + s.backend.table(modificationsTable) + " WHERE session_id = @session_id;\n" +
		s.touchSQL() +
		"COMMIT TRANSACTION;\n"
	err = s.backend.run(ctx, script, []bigquery.QueryParameter{
		{Name: "session_id", Value: s.sessionID},
		{Name: "now", Value: s.backend.opts.now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	return nil
}

func toRow(sessionID string, m domain.CalendarModification, seq int64) modificationRow {
	r := modificationRow{
		SessionID:      sessionID,
		ModificationID: m.ModificationID,
		Seq:            seq,
		TransactionID:  m.TransactionID,
		Kind:           string(m.Kind),
		OriginalDate:   nullDateBQ(m.OriginalDate),
		NewDate:        nullDateBQ(m.NewDate),
		PlannedDate:    nullDateBQ(m.Date),
		Amount:         m.Amount.Rat(),
		Category:       m.Category,
		Merchant:       m.Merchant,
		Reason:         m.Reason,
		Status:         string(m.Status),
	}
	if m.CreatedAt != nil {
		r.CreatedTS = *m.CreatedAt
	}
	if m.ApprovedAt != nil {
		r.ApprovedTS = bigquery.NullTimestamp{Timestamp: *m.ApprovedAt, Valid: true}
	}
	return r
}

func fromRow(r modificationRow) (domain.CalendarModification, error) {
	m := domain.CalendarModification{
		ModificationID: r.ModificationID,
		TransactionID:  r.TransactionID,
		Kind:           domain.ModificationKind(r.Kind),
		OriginalDate:   dateFromBQ(r.OriginalDate),
		NewDate:        dateFromBQ(r.NewDate),
		Date:           dateFromBQ(r.PlannedDate),
		Category:       r.Category,
		Merchant:       r.Merchant,
		Reason:         r.Reason,
		Status:         domain.ModificationStatus(r.Status),
	}
	if r.Amount != nil {
		amount, err := decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return domain.CalendarModification{}, fmt.Errorf("amount: %w", err)
		}
		m.Amount = amount
	}
	created := r.CreatedTS.UTC()
	m.CreatedAt = &created
	if r.ApprovedTS.Valid {
		approved := r.ApprovedTS.Timestamp.UTC()
		m.ApprovedAt = &approved
	}
	return m, nil
}

func nullDateBQ(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func dateFromBQ(d bigquery.NullDate) *civil.Date {
	if !d.Valid {
		return nil
	}
	date := d.Date
	return &date
}
