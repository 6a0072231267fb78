package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/strategy"
)

const (
	createRecordsTableSQL = `CREATE TABLE IF NOT EXISTS investment_records (
        id              BIGSERIAL PRIMARY KEY,
        recorded_at     TIMESTAMPTZ NOT NULL,
        indicator_value DOUBLE PRECISION NOT NULL,
        action          TEXT NOT NULL,
        amount_quote    NUMERIC NOT NULL,
        amount_base     NUMERIC NOT NULL,
        execution_price NUMERIC NOT NULL,
        order_reference TEXT,
        details         JSONB,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS investment_records_recorded_at_idx ON investment_records (recorded_at);`

	insertRecordSQL = `INSERT INTO investment_records (
        recorded_at,
        indicator_value,
        action,
        amount_quote,
        amount_base,
        execution_price,
        order_reference,
        details
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listRecordsSQL = `SELECT
        recorded_at,
        indicator_value,
        action,
        amount_quote::text,
        amount_base::text,
        execution_price::text,
        order_reference,
        details
    FROM investment_records
    ORDER BY id;`

	countRecordsBetweenSQL = `SELECT COUNT(*)
    FROM investment_records
    WHERE recorded_at >= $1
      AND recorded_at < $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PostgresStore persists investment records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the records table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createRecordsTableSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also drops when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendRecord inserts a record.
func (s *PostgresStore) AppendRecord(ctx context.Context, rec InvestmentRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

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
		details = raw
	}

	_, execErr := pool.Exec(ctx, insertRecordSQL,
		rec.Timestamp,
		rec.IndicatorValue,
		string(rec.Action),
		rec.AmountQuote.String(),
		rec.AmountBase.String(),
		rec.ExecutionPrice.String(),
		ref,
		details,
	)
	if execErr != nil {
		return fmt.Errorf("insert investment record: %w", execErr)
	}
	return nil
}

// LoadRecords lists all records in insertion order.
func (s *PostgresStore) LoadRecords(ctx context.Context) ([]InvestmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list investment records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]InvestmentRecord, 0)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountRecordsBetween counts records with recorded_at in [from, to).
func (s *PostgresStore) CountRecordsBetween(ctx context.Context, from, to time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsBetweenSQL, from, to).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count investment records: %w", scanErr)
	}
	return count, nil
}

func scanRecord(rows pgx.Rows) (InvestmentRecord, error) {
	var (
		recordedAt time.Time
		value      float64
		action     string
		quoteStr   string
		baseStr    string
		priceStr   string
		ref        sql.NullString
		details    []byte
	)

	if err := rows.Scan(
		&recordedAt,
		&value,
		&action,
		&quoteStr,
		&baseStr,
		&priceStr,
		&ref,
		&details,
	); err != nil {
		return InvestmentRecord{}, err
	}

	return buildRecord(recordedAt, value, action, quoteStr, baseStr, priceStr, ref, details)
}

func buildRecord(ts time.Time, value float64, action, quoteStr, baseStr, priceStr string, ref sql.NullString, details []byte) (InvestmentRecord, error) {
	quote, err := decimal.NewFromString(quoteStr)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse amount quote: %w", err)
	}
	base, err := decimal.NewFromString(baseStr)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse amount base: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse execution price: %w", err)
	}

	rec := InvestmentRecord{
		Timestamp:      ts,
		IndicatorValue: value,
		Action:         strategy.Action(action),
		AmountQuote:    quote,
		AmountBase:     base,
		ExecutionPrice: price,
	}
	if ref.Valid {
		v := ref.String
		rec.OrderReference = &v
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return InvestmentRecord{}, fmt.Errorf("parse details: %w", err)
		}
	}
	return rec, nil
}

var (
	_ HistoryStore   = (*PostgresStore)(nil)
	_ RangeCounter   = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
