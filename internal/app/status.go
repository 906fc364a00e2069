package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"crypto-sentinel/internal/listing"
)

// Status prints global and per-source record counts with the last sync outcome.
func (a *App) Status(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries := store.GetAll(ctx)
	counts := listing.CountBySource(entries)
	stats := a.newStatusTracker(ctx, store).Snapshot()

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tRecords\tShare%")
	for _, src := range listing.Sources() {
		fmt.Fprintf(writer, "%s\t%d\t%s\n", src.Label(), counts[src], sharePct(counts[src], len(entries)))
	}
	fmt.Fprintf(writer, "Global Records\t%d\t\n", len(entries))
	writer.Flush()

	fmt.Fprintln(a.Out)
	if stats.LastSync == nil {
		fmt.Fprintln(a.Out, "last sync: never")
	} else {
		fmt.Fprintf(a.Out, "last sync: %s (%s)\n", humanize.Time(*stats.LastSync), stats.LastSync.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(a.Out, "syncing: %t\n", stats.IsSyncing)
	if stats.Degraded {
		fmt.Fprintf(a.Out, "degraded: %s unavailable on last run\n", joinSources(stats.FailedSources))
	}
	return nil
}

func sharePct(count, total int) string {
	if total == 0 {
		return decimal.Zero.StringFixed(1)
	}
	return decimal.NewFromInt(int64(count)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		StringFixed(1)
}
