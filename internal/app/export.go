package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-sentinel/internal/listing"
)

// Export writes entries as CSV and/or a PNG chart of daily counts per source.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries := selectEntries(store.GetAll(ctx), opts)
	if len(entries) == 0 {
		a.Logger.Info().Msg("no entries found for export window")
		return nil
	}
	a.Logger.Info().Int("exported", len(entries)).Msg("exporting entries")

	if opts.CSVPath != "" {
		if err := writeEntriesCSV(opts.CSVPath, entries); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points, skipped := listing.AggregateWithSkipped(entries)
		if skipped > 0 {
			a.Logger.Warn().Int("skipped", skipped).Msg("entries with unparseable timestamps excluded from chart")
		}
		if len(points) == 0 {
			a.Logger.Info().Msg("no chart data; png not written")
			return nil
		}
		if err := writeChartPNG(opts.PNGPath, points, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

// selectEntries keeps store order while applying the free-text filter and time window.
func selectEntries(all []listing.Entry, opts ExportOptions) []listing.Entry {
	keep := make(map[string]struct{}, len(all))
	for _, part := range listing.PartitionAll(all, opts.Filter) {
		for _, e := range part {
			keep[e.ID] = struct{}{}
		}
	}

	out := make([]listing.Entry, 0, len(keep))
	for _, e := range all {
		if _, ok := keep[e.ID]; !ok {
			continue
		}
		if opts.From != nil || opts.To != nil {
			ts, err := e.Time()
			if err != nil {
				continue
			}
			if opts.From != nil && ts.Before(*opts.From) {
				continue
			}
			if opts.To != nil && !ts.Before(*opts.To) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func writeEntriesCSV(path string, entries []listing.Entry) error {
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

	header := []string{"id", "source", "symbol", "title", "timestamp", "url", "type"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			string(e.Source),
			e.Symbol,
			e.Title,
			e.Timestamp,
			e.URL,
			e.Type,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeChartPNG(path string, points []listing.ChartDataPoint, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	from, to, ok := listing.Span(points)
	if !ok {
		return errors.New("chart span unavailable")
	}
	// go-chart cannot draw a zero-width x range.
	if from.Equal(to) {
		from = from.AddDate(0, 0, -1)
	}
	dense := listing.FillGaps(points, from, to)

	series := make([]chart.Series, 0, len(dense))
	for _, src := range listing.Sources() {
		days := dense[src]
		x := make([]time.Time, len(days))
		y := make([]float64, len(days))
		for i, p := range days {
			day, err := time.Parse(listing.DateLayout, p.Date)
			if err != nil {
				return err
			}
			x[i] = day
			y[i] = float64(p.Count)
		}
		series = append(series, chart.TimeSeries{
			Name:    src.Label(),
			XValues: x,
			YValues: y,
		})
	}

	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Entries per day",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
			Range: &chart.ContinuousRange{Min: 0, Max: maxCount(points) + 1},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func maxCount(points []listing.ChartDataPoint) float64 {
	max := 0
	for _, p := range points {
		if p.Count > max {
			max = p.Count
		}
	}
	return float64(max)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
