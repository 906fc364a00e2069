package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-sentinel/internal/listing"
)

// Show prints one table per source, filtered by free text.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	view, err := a.newView()
	if err != nil {
		return err
	}
	defer view.Close()

	entries := store.GetAll(ctx)
	revision := store.Revision(ctx)
	limit := a.Config.ResolveShowLimit(opts.Limit)

	sources := listing.Sources()
	if opts.Source != "" {
		sources = []listing.Source{opts.Source}
	}

	for i, src := range sources {
		if i > 0 {
			fmt.Fprintln(a.Out)
		}
		rows := view.Partition(revision, entries, opts.Filter, src)
		a.writeTable(src, newestFirst(rows), limit)
	}
	return nil
}

func (a *App) writeTable(src listing.Source, rows []listing.Entry, limit int) {
	fmt.Fprintf(a.Out, "== %s (%d) ==\n", src.Label(), len(rows))
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no entries")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tType\tTitle\tURL")
	for i, e := range rows {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			displayTime(e),
			orDash(e.Symbol),
			orDash(e.Type),
			sanitizeInline(e.Title),
			e.URL,
		)
	}
	writer.Flush()
	if limit > 0 && len(rows) > limit {
		fmt.Fprintf(a.Out, "... %d more\n", len(rows)-limit)
	}
}

// newestFirst orders a copy of rows by timestamp descending; rows with an
// unparseable timestamp sink to the end in their original order.
func newestFirst(rows []listing.Entry) []listing.Entry {
	type keyed struct {
		entry listing.Entry
		ts    time.Time
		ok    bool
	}
	items := make([]keyed, len(rows))
	for i, e := range rows {
		ts, err := e.Time()
		items[i] = keyed{entry: e, ts: ts, ok: err == nil}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ok != items[j].ok {
			return items[i].ok
		}
		return items[i].ts.After(items[j].ts)
	})

	out := make([]listing.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}

func displayTime(e listing.Entry) string {
	ts, err := e.Time()
	if err != nil {
		return ""
	}
	return ts.Format("2006-01-02 15:04")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func joinSources(sources []listing.Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}
