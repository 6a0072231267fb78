package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/strategy"
)

// legacyTimestampLayout matches timestamps written without an offset (local wall time).
const legacyTimestampLayout = "2006-01-02T15:04:05.999999999"

// FileStore keeps the whole history as one JSON array, rewritten on every append.
type FileStore struct {
	path string
	loc  *time.Location
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. loc interprets offset-less timestamps.
func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{path: path, loc: loc}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

type fileRecord struct {
	Timestamp      string         `json:"timestamp"`
	IndicatorValue float64        `json:"indicator_value"`
	Action         string         `json:"action"`
	AmountUSDT     json.Number    `json:"amount_usdt"`
	AmountBase     json.Number    `json:"amount_base"`
	ExecutionPrice json.Number    `json:"execution_price"`
	OrderReference *string        `json:"order_reference"`
	Details        map[string]any `json:"details,omitempty"`

	// keys written by earlier versions of the history file
	LegacyAHR999  *float64    `json:"ahr999,omitempty"`
	LegacyBase    json.Number `json:"amount_btc,omitempty"`
	LegacyPrice   json.Number `json:"price,omitempty"`
	LegacyOrderID *string     `json:"order_id,omitempty"`
}

// LoadRecords reads the file. A missing file is an empty history.
func (s *FileStore) LoadRecords(ctx context.Context) ([]InvestmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// AppendRecord reads existing records, appends rec, and atomically replaces the file.
func (s *FileStore) AppendRecord(ctx context.Context, rec InvestmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	rows := make([]fileRecord, len(records))
	for i, r := range records {
		rows[i] = toFileRecord(r)
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() ([]InvestmentRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rows []fileRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", s.path, err)
	}

	records := make([]InvestmentRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := s.fromFileRecord(row)
		if err != nil {
			return nil, fmt.Errorf("history entry %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func toFileRecord(r InvestmentRecord) fileRecord {
	return fileRecord{
		Timestamp:      r.Timestamp.Format(time.RFC3339Nano),
		IndicatorValue: r.IndicatorValue,
		Action:         string(r.Action),
		AmountUSDT:     json.Number(r.AmountQuote.String()),
		AmountBase:     json.Number(r.AmountBase.String()),
		ExecutionPrice: json.Number(r.ExecutionPrice.String()),
		OrderReference: r.OrderReference,
		Details:        r.Details,
	}
}

func (s *FileStore) fromFileRecord(row fileRecord) (InvestmentRecord, error) {
	if row.LegacyAHR999 != nil && row.IndicatorValue == 0 {
		row.IndicatorValue = *row.LegacyAHR999
	}
	if row.AmountBase == "" {
		row.AmountBase = row.LegacyBase
	}
	if row.ExecutionPrice == "" {
		row.ExecutionPrice = row.LegacyPrice
	}
	if row.OrderReference == nil {
		row.OrderReference = row.LegacyOrderID
	}

	ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
	if err != nil {
		ts, err = time.ParseInLocation(legacyTimestampLayout, row.Timestamp, s.loc)
		if err != nil {
			return InvestmentRecord{}, fmt.Errorf("parse timestamp %q: %w", row.Timestamp, err)
		}
	}

	quote, err := parseNumber(row.AmountUSDT)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse amount_usdt: %w", err)
	}
	base, err := parseNumber(row.AmountBase)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse amount_base: %w", err)
	}
	price, err := parseNumber(row.ExecutionPrice)
	if err != nil {
		return InvestmentRecord{}, fmt.Errorf("parse execution_price: %w", err)
	}

	return InvestmentRecord{
		Timestamp:      ts,
		IndicatorValue: row.IndicatorValue,
		Action:         strategy.Action(row.Action),
		AmountQuote:    quote,
		AmountBase:     base,
		ExecutionPrice: price,
		OrderReference: row.OrderReference,
		Details:        row.Details,
	}, nil
}

func parseNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(n))
}

var _ HistoryStore = (*FileStore)(nil)
