package indicator

import "fmt"

// Series computes a rolling snapshot for every day that has a full window behind it.
// Each day's close plays the role of the current price.
func Series(symbol string, history []PricePoint, maDays int, model Model) ([]Snapshot, error) {
	if maDays <= 0 {
		return nil, fmt.Errorf("moving average window must be positive, got %d", maDays)
	}
	if len(history) < maDays {
		return nil, fmt.Errorf("%w: %d days, required %d", ErrInsufficientData, len(history), maDays)
	}

	out := make([]Snapshot, 0, len(history)-maDays+1)
	sum := 0.0
	for i, p := range history {
		if !(p.Price > 0) {
			return nil, fmt.Errorf("%w: close %v at index %d", ErrInvalidPrice, p.Price, i)
		}
		sum += p.Price
		if i >= maDays {
			sum -= history[i-maDays].Price
		}
		if i < maDays-1 {
			continue
		}

		ma := sum / float64(maDays)
		age := model.AgeDays(p.Day)
		fitted := model.FittedPrice(age)
		out = append(out, Snapshot{
			Symbol:        symbol,
			CurrentPrice:  p.Price,
			MovingAverage: ma,
			FittedPrice:   fitted,
			Value:         Value(p.Price, ma, fitted),
			AgeDays:       age,
			WindowDays:    maDays,
			DataPoints:    i + 1,
			ComputedAt:    p.Day,
		})
	}
	return out, nil
}
