package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/exchange"
)

// Simulate runs a dry-run execution with the current price pinned to price.
// History and balance still come from the exchange.
func (a *App) Simulate(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.New("--price 必须大于 0")
	}

	ex, err := a.newExchange()
	if err != nil {
		return err
	}
	pinned := &staticPriceExchange{Exchange: ex, price: price}

	rec, closeRec, err := a.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	svc, err := a.newService(pinned, rec, nil, nil)
	if err != nil {
		return err
	}

	res, err := svc.Execute(ctx, true)
	a.printResult(res)
	return err
}

// staticPriceExchange overrides the spot price and never places orders.
type staticPriceExchange struct {
	exchange.Exchange
	price decimal.Decimal
}

func (s *staticPriceExchange) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.price, nil
}

func (s *staticPriceExchange) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{}, errors.New("simulation never places orders")
}

var _ exchange.Exchange = (*staticPriceExchange)(nil)
