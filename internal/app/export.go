package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ahr999-autoinvest/internal/indicator"
	"ahr999-autoinvest/internal/strategy"
)

// Export renders the historical indicator series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Days <= 0 {
		return errors.New("--days must be greater than zero")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	series, policy, err := a.indicatorSeries(ctx, opts.Days)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		a.Logger.Info().Msg("no indicator values for export window")
		return nil
	}

	downsampled := downsampleSeries(series, opts.MaxPoints)
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Msg("exporting indicator series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled, policy); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, downsampled, policy.Thresholds()); err != nil {
			return err
		}
	}

	return nil
}

// indicatorSeries fetches days+ma_days closes and returns the last days snapshots.
func (a *App) indicatorSeries(ctx context.Context, days int) ([]indicator.Snapshot, *strategy.Policy, error) {
	ex, err := a.newExchange()
	if err != nil {
		return nil, nil, err
	}

	maDays := a.Config.AHR999.MADays
	history, err := ex.HistoricalPrices(ctx, a.Config.Strategy.Symbol, days+maDays)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch price history: %w", err)
	}

	policy, err := a.Config.Policy()
	if err != nil {
		return nil, nil, err
	}

	series, err := indicator.Series(a.Config.Strategy.Symbol, history, maDays, a.Config.Model())
	if err != nil {
		return nil, nil, err
	}
	if len(series) > days {
		series = series[len(series)-days:]
	}
	return series, policy, nil
}

func downsampleSeries(series []indicator.Snapshot, max int) []indicator.Snapshot {
	if max <= 0 || len(series) <= max {
		return series
	}
	if max == 1 {
		return series[len(series)-1:]
	}

	result := make([]indicator.Snapshot, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path string, series []indicator.Snapshot, policy *strategy.Policy) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "price", "ma", "fitted", "ahr999", "zone"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range series {
		record := []string{
			snap.ComputedAt.Format(time.DateOnly),
			strconv.FormatFloat(snap.CurrentPrice, 'f', 2, 64),
			strconv.FormatFloat(snap.MovingAverage, 'f', 2, 64),
			strconv.FormatFloat(snap.FittedPrice, 'f', 2, 64),
			strconv.FormatFloat(snap.Value, 'f', 4, 64),
			string(policy.Classify(snap.Value)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, series []indicator.Snapshot, th strategy.Thresholds) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	price := make([]float64, len(series))
	fitted := make([]float64, len(series))
	value := make([]float64, len(series))
	bottom := make([]float64, len(series))
	dca := make([]float64, len(series))

	for i, snap := range series {
		x[i] = snap.ComputedAt
		price[i] = snap.CurrentPrice
		fitted[i] = snap.FittedPrice
		value[i] = snap.Value
		bottom[i] = th.Bottom
		dca[i] = th.DCA
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "AHR999",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Fitted",
				XValues: x,
				YValues: fitted,
			},
			chart.TimeSeries{
				Name:    "AHR999",
				XValues: x,
				YValues: value,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Bottom",
				XValues: x,
				YValues: bottom,
				YAxis:   chart.YAxisSecondary,
				Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeDashArray: []float64{5, 5}},
			},
			chart.TimeSeries{
				Name:    "DCA",
				XValues: x,
				YValues: dca,
				YAxis:   chart.YAxisSecondary,
				Style:   chart.Style{StrokeColor: chart.ColorGreen, StrokeDashArray: []float64{5, 5}},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
