package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/strategy"
)

// InvestmentRecord is one executed, non-simulated purchase. Records are append-only.
type InvestmentRecord struct {
	Timestamp      time.Time
	IndicatorValue float64
	Action         strategy.Action
	AmountQuote    decimal.Decimal
	AmountBase     decimal.Decimal
	ExecutionPrice decimal.Decimal
	OrderReference *string
	Details        map[string]any
}

// Summary aggregates a set of records.
type Summary struct {
	Count       int
	TotalQuote  decimal.Decimal
	TotalBase   decimal.Decimal
	AverageCost decimal.Decimal
	First       time.Time
	Last        time.Time
}

// Summarize totals the records; AverageCost is zero when no base was acquired.
func Summarize(records []InvestmentRecord) Summary {
	s := Summary{Count: len(records), TotalQuote: decimal.Zero, TotalBase: decimal.Zero, AverageCost: decimal.Zero}
	for i, rec := range records {
		s.TotalQuote = s.TotalQuote.Add(rec.AmountQuote)
		s.TotalBase = s.TotalBase.Add(rec.AmountBase)
		if i == 0 || rec.Timestamp.Before(s.First) {
			s.First = rec.Timestamp
		}
		if rec.Timestamp.After(s.Last) {
			s.Last = rec.Timestamp
		}
	}
	if s.TotalBase.IsPositive() {
		s.AverageCost = s.TotalQuote.Div(s.TotalBase)
	}
	return s
}
