package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPersistence marks a failure to durably write an investment record.
	ErrPersistence = errors.New("storage: record persistence failed")
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// HistoryStore is an ordered, append-only collection of investment records.
type HistoryStore interface {
	LoadRecords(ctx context.Context) ([]InvestmentRecord, error)
	AppendRecord(ctx context.Context, rec InvestmentRecord) error
	Close() error
}

// RangeCounter is implemented by stores that can count records in [from, to) without a full scan.
type RangeCounter interface {
	CountRecordsBetween(ctx context.Context, from, to time.Time) (int64, error)
}

// Recorder answers "did we already invest today" and appends new records.
type Recorder struct {
	store HistoryStore
	loc   *time.Location
}

// NewRecorder wraps a store. Calendar days are evaluated in loc.
func NewRecorder(store HistoryStore, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.UTC
	}
	return &Recorder{store: store, loc: loc}
}

// Store exposes the underlying backend.
func (r *Recorder) Store() HistoryStore {
	return r.store
}

// HasInvestedToday reports whether a record exists on the calendar day of today.
// A read failure returns false together with the error so the caller can warn and continue.
func (r *Recorder) HasInvestedToday(ctx context.Context, today time.Time) (bool, error) {
	if r == nil || r.store == nil {
		return false, ErrNotConfigured
	}

	from, to := dayBounds(today, r.loc)
	if counter, ok := r.store.(RangeCounter); ok {
		n, err := counter.CountRecordsBetween(ctx, from, to)
		if err != nil {
			return false, fmt.Errorf("check investment history: %w", err)
		}
		return n > 0, nil
	}

	records, err := r.store.LoadRecords(ctx)
	if err != nil {
		return false, fmt.Errorf("check investment history: %w", err)
	}
	for _, rec := range records {
		ts := rec.Timestamp
		if !ts.Before(from) && ts.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

// Append persists rec. Failures are wrapped with ErrPersistence.
func (r *Recorder) Append(ctx context.Context, rec InvestmentRecord) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("%w: %w", ErrPersistence, ErrNotConfigured)
	}
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]InvestmentRecord, error) {
	records, err := r.store.LoadRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]InvestmentRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, records[i])
	}
	return out, nil
}

func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
