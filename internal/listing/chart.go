package listing

import (
	"sort"
	"time"
)

// DateLayout is the day granularity used for chart buckets.
const DateLayout = "2006-01-02"

type bucketKey struct {
	day    string
	source Source
}

// Aggregate counts entries per (day, source). Days are UTC calendar days whatever the
// offset in the timestamp. Zero buckets are omitted and the result is
// ordered by day, then by source declaration order. Entries with unparseable timestamps
// or unknown sources are skipped.
func Aggregate(entries []Entry) []ChartDataPoint {
	points, _ := AggregateWithSkipped(entries)
	return points
}

// AggregateWithSkipped is Aggregate that also reports how many entries were excluded.
func AggregateWithSkipped(entries []Entry) ([]ChartDataPoint, int) {
	counts := make(map[bucketKey]int)
	skipped := 0
	for _, e := range entries {
		if !e.Source.Valid() {
			skipped++
			continue
		}
		ts, err := e.Time()
		if err != nil {
			skipped++
			continue
		}
		counts[bucketKey{day: ts.Format(DateLayout), source: e.Source}]++
	}

	points := make([]ChartDataPoint, 0, len(counts))
	for key, count := range counts {
		points = append(points, ChartDataPoint{Date: key.day, Count: count, Source: key.source})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Date != points[j].Date {
			return points[i].Date < points[j].Date
		}
		return points[i].Source.rank() < points[j].Source.rank()
	})
	return points, skipped
}

// FillGaps expands sparse points into a dense daily series per source covering
// [from, to]. Missing days carry a zero count.
func FillGaps(points []ChartDataPoint, from, to time.Time) map[Source][]ChartDataPoint {
	lookup := make(map[bucketKey]int, len(points))
	for _, p := range points {
		lookup[bucketKey{day: p.Date, source: p.Source}] = p.Count
	}

	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)

	series := make(map[Source][]ChartDataPoint, len(sourceOrder))
	for _, s := range sourceOrder {
		dense := make([]ChartDataPoint, 0)
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			key := bucketKey{day: day.Format(DateLayout), source: s}
			dense = append(dense, ChartDataPoint{Date: key.day, Count: lookup[key], Source: s})
		}
		series[s] = dense
	}
	return series
}

// Span returns the first and last day present in points.
func Span(points []ChartDataPoint) (time.Time, time.Time, bool) {
	if len(points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, err := time.Parse(DateLayout, points[0].Date)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	last, err := time.Parse(DateLayout, points[len(points)-1].Date)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return first, last, true
}
