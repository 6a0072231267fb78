package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"ahr999-autoinvest/internal/strategy"
)

// Analyze prints how the indicator was distributed over the tiers and the
// forward returns that followed buys in each tier.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	if opts.Days <= 0 {
		return errors.New("--days must be greater than zero")
	}
	horizons := opts.Horizons
	if len(horizons) == 0 {
		horizons = strategy.DefaultHorizons
	}

	series, policy, err := a.indicatorSeries(ctx, opts.Days)
	if err != nil {
		return err
	}
	dist := strategy.Analyze(series, policy, horizons)
	if dist.Total == 0 {
		fmt.Fprintln(a.Out, "no indicator values in range")
		return nil
	}

	fmt.Fprintf(a.Out, "%s %s .. %s (%d days)\n\n",
		a.Config.Strategy.Symbol,
		dist.From.Format(time.DateOnly),
		dist.To.Format(time.DateOnly),
		dist.Total,
	)

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	cols := []string{"Zone", "Days", "Share"}
	for _, h := range horizons {
		cols = append(cols, strconv.Itoa(h)+"d mean", strconv.Itoa(h)+"d median")
	}
	fmt.Fprintln(w, strings.Join(cols, "\t"))

	for _, zone := range dist.Zones {
		row := []string{string(zone.Action), strconv.Itoa(zone.Days), fmt.Sprintf("%.1f%%", zone.Share*100)}
		for _, h := range horizons {
			st := zone.Returns[h]
			if st.Samples == 0 {
				row = append(row, "-", "-")
				continue
			}
			row = append(row, fmt.Sprintf("%+.1f%%", st.MeanPct), fmt.Sprintf("%+.1f%%", st.MedPct))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
