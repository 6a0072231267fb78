package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidThreshold indicates bottom_threshold >= dca_threshold or a non-positive threshold.
var ErrInvalidThreshold = errors.New("strategy: invalid thresholds")

// Action is the buy tier selected for an indicator value.
type Action string

const (
	ActionBottom Action = "BOTTOM"
	ActionDCA    Action = "DCA"
	ActionHold   Action = "HOLD"
)

// Thresholds split the indicator range into three tiers.
type Thresholds struct {
	Bottom float64
	DCA    float64
}

// Decision 为指标值对应的操作与金额（计价币种）。
type Decision struct {
	Action Action
	Amount decimal.Decimal
	Value  float64
	Reason string
}

// Policy maps indicator values to decisions.
type Policy struct {
	thresholds   Thresholds
	bottomAmount decimal.Decimal
	dcaAmount    decimal.Decimal
}

// NewPolicy validates thresholds and amounts.
func NewPolicy(thresholds Thresholds, bottomAmount, dcaAmount decimal.Decimal) (*Policy, error) {
	if thresholds.Bottom <= 0 || thresholds.Bottom >= thresholds.DCA {
		return nil, fmt.Errorf("%w: bottom_threshold=%v dca_threshold=%v", ErrInvalidThreshold, thresholds.Bottom, thresholds.DCA)
	}
	if bottomAmount.IsNegative() || dcaAmount.IsNegative() {
		return nil, fmt.Errorf("strategy: amounts must be non-negative (bottom=%s dca=%s)", bottomAmount, dcaAmount)
	}
	return &Policy{thresholds: thresholds, bottomAmount: bottomAmount, dcaAmount: dcaAmount}, nil
}

// Thresholds returns the configured thresholds.
func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

// Decide picks the first matching tier: below bottom, below dca, otherwise hold.
func (p *Policy) Decide(value float64) Decision {
	switch {
	case value < p.thresholds.Bottom:
		return Decision{
			Action: ActionBottom,
			Amount: p.bottomAmount,
			Value:  value,
			Reason: fmt.Sprintf("AHR999 (%.4f) < bottom threshold (%v)", value, p.thresholds.Bottom),
		}
	case value < p.thresholds.DCA:
		return Decision{
			Action: ActionDCA,
			Amount: p.dcaAmount,
			Value:  value,
			Reason: fmt.Sprintf("AHR999 (%.4f) < DCA threshold (%v)", value, p.thresholds.DCA),
		}
	default:
		return Decision{
			Action: ActionHold,
			Amount: decimal.Zero,
			Value:  value,
			Reason: fmt.Sprintf("AHR999 (%.4f) >= DCA threshold (%v)", value, p.thresholds.DCA),
		}
	}
}

// Classify returns only the tier for a value.
func (p *Policy) Classify(value float64) Action {
	return p.Decide(value).Action
}
