package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	// database/sql drivers for the two supported dialects
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS calendar_modifications (
	session_id      TEXT NOT NULL,
	modification_id TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	transaction_id  TEXT NOT NULL,
	kind            TEXT NOT NULL,
	original_date   TEXT,
	new_date        TEXT,
	planned_date    TEXT,
	amount          TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	merchant        TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	approved_at     TEXT,
	PRIMARY KEY (session_id, modification_id),
	UNIQUE (session_id, transaction_id)
);

CREATE TABLE IF NOT EXISTS ledger_state (
	session_id   TEXT PRIMARY KEY,
	last_updated TEXT
);
`

// SQLBackend stores ledgers in a SQL database through database/sql.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	opts    options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenSQLite opens (or creates) a sqlite database file.
func OpenSQLite(path string, opts ...Option) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: open: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between sessions
	db.SetMaxOpenConns(1)
	return NewSQLBackend(db, DialectSQLite, opts...)
}

// OpenPostgres connects to Postgres with a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenPostgres: ping: %w", err)
	}
	return NewSQLBackend(db, DialectPostgres, opts...)
}

// NewSQLBackend wraps an open database and creates the schema if needed.
func NewSQLBackend(db *sql.DB, dialect Dialect, opts ...Option) (*SQLBackend, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLBackend: create schema: %w", err)
	}
	return &SQLBackend{
		db:      db,
		dialect: dialect,
		opts:    buildOptions(opts),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Open implements Backend.
func (b *SQLBackend) Open(sessionID string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[sessionID] = lock
	}
	return &sqlStore{backend: b, sessionID: sessionID, lock: lock}
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

// rebind rewrites ? placeholders for the backend's dialect.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type sqlStore struct {
	backend   *SQLBackend
	sessionID string
	lock      *sync.Mutex
}

func (s *sqlStore) Apply(ctx context.Context, m domain.CalendarModification) error {
	return s.ApplyBatch(ctx, []domain.CalendarModification{m})
}

func (s *sqlStore) ApplyBatch(ctx context.Context, mods []domain.CalendarModification) error {
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

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ApplyBatch: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx, s.backend.rebind(
		`SELECT COALESCE(MAX(seq), 0) FROM calendar_modifications WHERE session_id = ?`), s.sessionID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("ApplyBatch: read seq: %w", err)
	}

	for _, m := range prepared {
		seq++
		if _, err := tx.ExecContext(ctx, s.backend.rebind(
			`DELETE FROM calendar_modifications WHERE session_id = ? AND (transaction_id = ? OR modification_id = ?)`),
			s.sessionID, m.TransactionID, m.ModificationID); err != nil {
			return fmt.Errorf("ApplyBatch: supersede %s: %w", m.TransactionID, err)
		}
		if _, err := tx.ExecContext(ctx, s.backend.rebind(`INSERT INTO calendar_modifications
			(session_id, modification_id, seq, transaction_id, kind, original_date, new_date, planned_date,
			 amount, category, merchant, reason, status, created_at, approved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			s.sessionID, m.ModificationID, seq, m.TransactionID, string(m.Kind),
			nullDate(m.OriginalDate), nullDate(m.NewDate), nullDate(m.Date),
			m.Amount.String(), m.Category, m.Merchant, m.Reason, string(m.Status),
			m.CreatedAt.Format(time.RFC3339Nano), nullTime(m.ApprovedAt),
		); err != nil {
			return fmt.Errorf("ApplyBatch: insert %s: %w", m.ModificationID, err)
		}
	}

	if err := s.touch(ctx, tx, now); err != nil {
		return fmt.Errorf("ApplyBatch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ApplyBatch: commit: %w", err)
	}
	return nil
}

func (s *sqlStore) touch(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.backend.rebind(`INSERT INTO ledger_state (session_id, last_updated) VALUES (?, ?)
		ON CONFLICT (session_id) DO UPDATE SET last_updated = excluded.last_updated`),
		s.sessionID, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context) ([]domain.CalendarModification, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.list(ctx, s.backend.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *sqlStore) list(ctx context.Context, q querier) ([]domain.CalendarModification, error) {
	rows, err := q.QueryContext(ctx, s.backend.rebind(`SELECT modification_id, transaction_id, kind,
		original_date, new_date, planned_date, amount, category, merchant, reason, status, created_at, approved_at
		FROM calendar_modifications WHERE session_id = ? ORDER BY seq`), s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("list: query: %w", err)
	}
	defer rows.Close()

	mods := []domain.CalendarModification{}
	for rows.Next() {
		var (
			m                                    domain.CalendarModification
			kind, status, amount, created        string
			originalDate, newDate, planned, appr sql.NullString
		)
		if err := rows.Scan(&m.ModificationID, &m.TransactionID, &kind,
			&originalDate, &newDate, &planned, &amount, &m.Category, &m.Merchant, &m.Reason, &status,
			&created, &appr); err != nil {
			return nil, fmt.Errorf("list: scan: %w", err)
		}
		m.Kind = domain.ModificationKind(kind)
		m.Status = domain.ModificationStatus(status)
		if m.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("list: amount %q: %w", amount, err)
		}
		if m.OriginalDate, err = parseNullDate(originalDate); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if m.NewDate, err = parseNullDate(newDate); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if m.Date, err = parseNullDate(planned); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if m.CreatedAt, err = parseTime(sql.NullString{String: created, Valid: true}); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		if m.ApprovedAt, err = parseTime(appr); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: rows: %w", err)
	}
	return mods, nil
}

func (s *sqlStore) Feed(ctx context.Context) (domain.ModificationFeed, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	mods, err := s.list(ctx, s.backend.db)
	if err != nil {
		return domain.ModificationFeed{}, fmt.Errorf("Feed: %w", err)
	}

	var updated sql.NullString
	err = s.backend.db.QueryRowContext(ctx, s.backend.rebind(
		`SELECT last_updated FROM ledger_state WHERE session_id = ?`), s.sessionID).Scan(&updated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.ModificationFeed{}, fmt.Errorf("Feed: read state: %w", err)
	}
	ts, err := parseTime(updated)
	if err != nil {
		return domain.ModificationFeed{}, fmt.Errorf("Feed: %w", err)
	}
	return domain.ModificationFeed{Modifications: mods, LastUpdated: ts}, nil
}

func (s *sqlStore) Approve(ctx context.Context, modificationID string) (domain.CalendarModification, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CalendarModification{}, fmt.Errorf("Approve: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.backend.opts.now().UTC()
	res, err := tx.ExecContext(ctx, s.backend.rebind(`UPDATE calendar_modifications
		SET status = ?, approved_at = ?
		WHERE session_id = ? AND modification_id = ? AND status = ?`),
		string(domain.StatusApproved), now.Format(time.RFC3339Nano),
		s.sessionID, modificationID, string(domain.StatusSuggested))
	if err != nil {
		return domain.CalendarModification{}, fmt.Errorf("Approve: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := s.touch(ctx, tx, now); err != nil {
			return domain.CalendarModification{}, fmt.Errorf("Approve: %w", err)
		}
	}

	mods, err := s.list(ctx, tx)
	if err != nil {
		return domain.CalendarModification{}, fmt.Errorf("Approve: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.CalendarModification{}, fmt.Errorf("Approve: commit: %w", err)
	}
	for _, m := range mods {
		if m.ModificationID == modificationID {
			return m, nil
		}
	}
	return domain.CalendarModification{}, fmt.Errorf("Approve: %s: %w", modificationID, ErrNotFound)
}

func (s *sqlStore) Clear(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Clear: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.backend.rebind(
		`DELETE FROM calendar_modifications WHERE session_id = ?`), s.sessionID)
	if err != nil {
		return fmt.Errorf("Clear: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if err := s.touch(ctx, tx, s.backend.opts.now().UTC()); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Clear: commit: %w", err)
	}
	return nil
}

func nullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &d, nil
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return &t, nil
}
