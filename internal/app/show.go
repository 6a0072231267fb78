package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/storage"
)

// Show prints the most recent investment records and a running summary.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rec, closeRec, err := a.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	records, err := rec.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no investment records found")
		return nil
	}

	loc := a.Config.Location()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tAHR999\tAction\tQuote\tBase\tPrice\tOrder")

	for _, r := range records {
		order := ""
		if r.OrderReference != nil {
			order = sanitizeInline(*r.OrderReference)
		}
		fmt.Fprintf(
			writer,
			"%s\t%.4f\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.In(loc).Format(time.DateTime),
			r.IndicatorValue,
			r.Action,
			formatDecimal(r.AmountQuote, 2),
			formatDecimal(r.AmountBase, 8),
			formatDecimal(r.ExecutionPrice, 2),
			order,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	all, err := rec.Store().LoadRecords(ctx)
	if err != nil {
		return err
	}
	sum := storage.Summarize(all)
	fmt.Fprintf(a.Out, "\n%d records, invested %s, acquired %s, average cost %s\n",
		sum.Count,
		formatDecimal(sum.TotalQuote, 2),
		formatDecimal(sum.TotalBase, 8),
		formatDecimal(sum.AverageCost, 2),
	)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
