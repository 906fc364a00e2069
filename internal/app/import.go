package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"crypto-sentinel/internal/listing"
)

// Import loads a JSON array of entries produced by an external collector and
// upserts the valid ones.
func (a *App) Import(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	var raw []listing.Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode import file: %w", err)
	}

	valid := make([]listing.Entry, 0, len(raw))
	skipped := 0
	for i, e := range raw {
		if err := e.Validate(); err != nil {
			skipped++
			a.Logger.Warn().Err(err).Int("index", i).Msg("skip malformed import entry")
			continue
		}
		valid = append(valid, e)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Upsert(ctx, valid); err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "imported: %d\nskipped: %d\ntotal: %d\n", len(valid), skipped, total)
	return nil
}

// Clear removes every stored entry.
func (a *App) Clear(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Clear(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("entry store cleared")
	fmt.Fprintln(a.Out, "cleared")
	return nil
}
