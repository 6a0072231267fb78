package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists investment records in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS investment_records (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at     INTEGER NOT NULL,
			indicator_value REAL NOT NULL,
			action          TEXT NOT NULL,
			amount_quote    TEXT NOT NULL,
			amount_base     TEXT NOT NULL,
			execution_price TEXT NOT NULL,
			order_reference TEXT,
			details         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_ts ON investment_records(recorded_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendRecord inserts a record.
func (s *SQLiteStore) AppendRecord(ctx context.Context, rec InvestmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ref interface{}
	if rec.OrderReference != nil {
		ref = *rec.OrderReference
	}
	var details interface{}
	if len(rec.Details) > 0 {
		raw, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investment_records
			(recorded_at, indicator_value, action, amount_quote, amount_base, execution_price, order_reference, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(),
		rec.IndicatorValue,
		string(rec.Action),
		rec.AmountQuote.String(),
		rec.AmountBase.String(),
		rec.ExecutionPrice.String(),
		ref,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert investment record: %w", err)
	}
	return nil
}

// LoadRecords lists all records in insertion order. Timestamps come back in UTC.
func (s *SQLiteStore) LoadRecords(ctx context.Context) ([]InvestmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at, indicator_value, action, amount_quote, amount_base, execution_price, order_reference, details
		FROM investment_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list investment records: %w", err)
	}
	defer rows.Close()

	records := make([]InvestmentRecord, 0)
	for rows.Next() {
		var (
			nanos    int64
			value    float64
			action   string
			quoteStr string
			baseStr  string
			priceStr string
			ref      sql.NullString
			details  sql.NullString
		)
		if err := rows.Scan(&nanos, &value, &action, &quoteStr, &baseStr, &priceStr, &ref, &details); err != nil {
			return nil, err
		}
		var raw []byte
		if details.Valid {
			raw = []byte(details.String)
		}
		rec, err := buildRecord(time.Unix(0, nanos).UTC(), value, action, quoteStr, baseStr, priceStr, ref, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecordsBetween counts records with a timestamp in [from, to).
func (s *SQLiteStore) CountRecordsBetween(ctx context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM investment_records WHERE recorded_at >= ? AND recorded_at < ?`,
		from.UnixNano(), to.UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count investment records: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ HistoryStore = (*SQLiteStore)(nil)
	_ RangeCounter = (*SQLiteStore)(nil)
)
