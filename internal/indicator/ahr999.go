package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrInsufficientData indicates the price history cannot fill the moving-average window.
	ErrInsufficientData = errors.New("indicator: insufficient price history")
	// ErrInvalidPrice indicates a zero or negative price was supplied.
	ErrInvalidPrice = errors.New("indicator: price must be positive")
)

// DefaultGenesis is the Bitcoin genesis block date.
var DefaultGenesis = time.Date(2009, 1, 3, 0, 0, 0, 0, time.UTC)

// PricePoint is one daily closing price.
type PricePoint struct {
	Day   time.Time
	Price float64
}

// Model holds the power-law calibration for the fitted price:
// fitted = 10 ^ (Slope * log10(age_days) - Intercept).
type Model struct {
	Genesis   time.Time
	Slope     float64
	Intercept float64
}

// DefaultModel returns the community calibration (A=5.84, B=17.01).
func DefaultModel() Model {
	return Model{Genesis: DefaultGenesis, Slope: 5.84, Intercept: 17.01}
}

// Snapshot 是某一时刻的 AHR999 计算结果。
type Snapshot struct {
	Symbol        string
	CurrentPrice  float64
	MovingAverage float64
	FittedPrice   float64
	Value         float64
	AgeDays       int
	WindowDays    int
	DataPoints    int
	ComputedAt    time.Time
}

// AgeDays returns whole days from the genesis date to the calendar date of at,
// read in at's own location.
func (m Model) AgeDays(at time.Time) int {
	return int(calendarDay(at).Sub(calendarDay(m.Genesis)).Hours() / 24)
}

// FittedPrice evaluates the trend model at the given age. Ages <= 0 fall back to 1.
func (m Model) FittedPrice(ageDays int) float64 {
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(10, m.Slope*math.Log10(float64(ageDays))-m.Intercept)
}

// Value combines the two ratios into the indicator.
func Value(price, movingAverage, fitted float64) float64 {
	return (price / movingAverage) * (price / fitted)
}

// Compute derives the indicator snapshot for the current price against the trailing
// window of daily closes ending at the day of at.
func Compute(symbol string, history []PricePoint, currentPrice float64, maDays int, model Model, at time.Time) (Snapshot, error) {
	if maDays <= 0 {
		return Snapshot{}, fmt.Errorf("moving average window must be positive, got %d", maDays)
	}
	if !(currentPrice > 0) {
		return Snapshot{}, fmt.Errorf("%w: current price %v", ErrInvalidPrice, currentPrice)
	}

	cutoff := truncateDay(at)
	end := len(history)
	for end > 0 && truncateDay(history[end-1].Day).After(cutoff) {
		end--
	}
	if end < maDays {
		return Snapshot{}, fmt.Errorf("%w: %d days, required %d", ErrInsufficientData, end, maDays)
	}
	for _, p := range history[:end] {
		if !(p.Price > 0) {
			return Snapshot{}, fmt.Errorf("%w: close %v on %s", ErrInvalidPrice, p.Price, p.Day.Format(time.DateOnly))
		}
	}

	ma := movingAverage(history[end-maDays : end])

	age := model.AgeDays(at)
	fitted := model.FittedPrice(age)

	return Snapshot{
		Symbol:        symbol,
		CurrentPrice:  currentPrice,
		MovingAverage: ma,
		FittedPrice:   fitted,
		Value:         Value(currentPrice, ma, fitted),
		AgeDays:       age,
		WindowDays:    maDays,
		DataPoints:    len(history),
		ComputedAt:    at,
	}, nil
}

func movingAverage(window []PricePoint) float64 {
	sum := 0.0
	for _, p := range window {
		sum += p.Price
	}
	return sum / float64(len(window))
}

// Normalize sorts points ascending by day and keeps the last price seen for a day.
func Normalize(points []PricePoint) []PricePoint {
	if len(points) == 0 {
		return points
	}
	sorted := make([]PricePoint, len(points))
	for i, p := range points {
		sorted[i] = PricePoint{Day: truncateDay(p.Day), Price: p.Price}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Day.Equal(p.Day) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
