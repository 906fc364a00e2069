package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"crypto-sentinel/internal/listing"
)

// Chart prints the daily per-source counts.
func (a *App) Chart(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	points, skipped := listing.AggregateWithSkipped(store.GetAll(ctx))
	if skipped > 0 {
		a.Logger.Warn().Int("skipped", skipped).Msg("entries with unparseable timestamps excluded from chart")
	}
	if len(points) == 0 {
		fmt.Fprintln(a.Out, "no chart data")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tSource\tCount")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%s\t%d\n", p.Date, p.Source, p.Count)
	}
	return writer.Flush()
}
