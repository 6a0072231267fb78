package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"ahr999-autoinvest/internal/exchange"
	"ahr999-autoinvest/internal/service"
	"ahr999-autoinvest/internal/storage"
)

// Indicator prints the current AHR999 value and the action it maps to.
func (a *App) Indicator(ctx context.Context) error {
	ex, err := a.newExchange()
	if err != nil {
		return err
	}

	// read-only: no history store, no notifications
	svc, err := service.New(a.Config, service.Deps{
		Exchange: ex,
		Recorder: storage.NewRecorder(nil, a.Config.Location()),
		Now:      a.now,
	}, a.Logger)
	if err != nil {
		return err
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	decision := svc.Policy().Decide(snap.Value)
	th := svc.Policy().Thresholds()

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Symbol\t%s (%s)\n", snap.Symbol, ex.Name())
	fmt.Fprintf(w, "Time\t%s\n", snap.ComputedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Price\t%.2f\n", snap.CurrentPrice)
	fmt.Fprintf(w, "%dD MA\t%.2f\n", snap.WindowDays, snap.MovingAverage)
	fmt.Fprintf(w, "Fitted\t%.2f (age %d days)\n", snap.FittedPrice, snap.AgeDays)
	fmt.Fprintf(w, "AHR999\t%.4f\n", snap.Value)
	fmt.Fprintf(w, "Thresholds\tbottom < %v, dca < %v\n", th.Bottom, th.DCA)
	fmt.Fprintf(w, "Action\t%s\n", decision.Action)
	if decision.Amount.IsPositive() {
		fmt.Fprintf(w, "Amount\t%s %s\n", decision.Amount.StringFixed(2), exchange.QuoteCurrency(a.Config.Strategy.Symbol))
	}
	fmt.Fprintf(w, "Reason\t%s\n", decision.Reason)
	return w.Flush()
}

// TestExchange checks connectivity, prints the ticker and, when credentials are present, the quote balance.
func (a *App) TestExchange(ctx context.Context, name string) error {
	if name == "" {
		name = a.Config.Exchange.Name
	}
	ex, err := a.exchangeFactory(name)
	if err != nil {
		return err
	}

	if err := ex.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: connected\n", ex.Name())

	symbol := a.Config.Strategy.Symbol
	ticker, err := ex.Ticker(ctx, symbol)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s last=%s high=%s low=%s change=%s%%\n",
		symbol,
		ticker.Last.StringFixed(2),
		ticker.High.StringFixed(2),
		ticker.Low.StringFixed(2),
		ticker.ChangePct.StringFixed(2),
	)

	venue := a.Config.Venue(name)
	if venue.APIKey == "" || venue.APISecret == "" {
		fmt.Fprintln(a.Out, "no API credentials, balance check skipped")
		return nil
	}
	quote := exchange.QuoteCurrency(symbol)
	balance, err := ex.Balance(ctx, quote)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s balance: %s\n", quote, balance.StringFixed(2))
	return nil
}

// Validate checks configuration and credentials for the selected exchange.
func (a *App) Validate() error {
	if err := a.Config.Validate(); err != nil {
		return err
	}
	if err := a.Config.ValidateCredentials(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "configuration ok (exchange=%s, symbol=%s, history=%s)\n",
		a.Config.Exchange.Name, a.Config.Strategy.Symbol, a.Config.History.Backend)
	return nil
}

func (a *App) printResult(res service.Result) {
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "State\t%s\n", res.State)
	if res.DryRun {
		fmt.Fprintln(w, "Mode\tdry run")
	}
	if res.Snapshot != nil {
		fmt.Fprintf(w, "AHR999\t%.4f\n", res.Snapshot.Value)
		fmt.Fprintf(w, "Price\t%.2f\n", res.Snapshot.CurrentPrice)
	}
	if res.Action != "" {
		fmt.Fprintf(w, "Action\t%s\n", res.Action)
	}
	if res.Required.IsPositive() {
		fmt.Fprintf(w, "Amount\t%s\n", res.Required.StringFixed(2))
	}
	if res.AmountBase.IsPositive() {
		fmt.Fprintf(w, "Base\t%s\n", res.AmountBase.StringFixed(8))
	}
	if res.Reason != "" {
		fmt.Fprintf(w, "Reason\t%s\n", res.Reason)
		if !res.Balance.IsZero() {
			fmt.Fprintf(w, "Balance\t%s\n", res.Balance.StringFixed(2))
		}
	}
	if res.Order != nil {
		fmt.Fprintf(w, "Order\t%s\n", res.Order.ID)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "Error\t%s\n", sanitizeInline(res.Err.Error()))
	}
	if res.RecordErr != nil {
		fmt.Fprintf(w, "Record\tnot saved: %s\n", sanitizeInline(res.RecordErr.Error()))
	}
}
