package app

import (
	"context"
	"fmt"
)

// Sync runs one ingestion pass and prints the resulting status.
func (a *App) Sync(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(ctx, store, nil)
	stats, err := svc.Sync(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "added: %d\ntotal: %d\n", stats.Added, stats.TotalRecords)
	if stats.Degraded {
		fmt.Fprintf(a.Out, "degraded: %s unavailable\n", joinSources(stats.FailedSources))
	}
	return nil
}
