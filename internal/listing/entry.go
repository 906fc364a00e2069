package listing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Source identifies the upstream provider an entry was observed on.
type Source string

const (
	SourceCMCSignals     Source = "CMC_SIGNALS"
	SourceOurbitListings Source = "OURBIT_LISTINGS"
	SourceMEXCListings   Source = "MEXC_LISTINGS"
)

// ErrUnknownSource is returned when a source name is outside the closed set.
var ErrUnknownSource = errors.New("listing: unknown source")

var sourceOrder = []Source{SourceCMCSignals, SourceOurbitListings, SourceMEXCListings}

// Sources returns every source in declaration order.
func Sources() []Source {
	out := make([]Source, len(sourceOrder))
	copy(out, sourceOrder)
	return out
}

// Valid reports whether s belongs to the closed source set.
func (s Source) Valid() bool {
	return s.rank() >= 0
}

// Label is the human-readable table heading for the source.
func (s Source) Label() string {
	switch s {
	case SourceCMCSignals:
		return "Fresh CMC Signals"
	case SourceOurbitListings:
		return "Ourbit Announcements"
	case SourceMEXCListings:
		return "MEXC Listings"
	default:
		return string(s)
	}
}

func (s Source) rank() int {
	for i, candidate := range sourceOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ParseSource resolves wire names and short aliases (cmc, ourbit, mexc).
func ParseSource(raw string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cmc_signals", "cmc":
		return SourceCMCSignals, nil
	case "ourbit_listings", "ourbit":
		return SourceOurbitListings, nil
	case "mexc_listings", "mexc":
		return SourceMEXCListings, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
}

// Entry is one observed listing or signal event.
type Entry struct {
	ID        string `json:"id"`
	Source    Source `json:"source"`
	Title     string `json:"title"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Type      string `json:"type,omitempty"`
	RawText   string `json:"rawText,omitempty"`
}

// Validate rejects entries that cannot be stored.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entry id is required")
	}
	if !e.Source.Valid() {
		return fmt.Errorf("entry %s: %w: %q", e.ID, ErrUnknownSource, string(e.Source))
	}
	return nil
}

// Time parses the entry timestamp.
func (e Entry) Time() (time.Time, error) {
	return ParseTimestamp(e.Timestamp)
}

// ParseTimestamp accepts RFC3339, source-native date layouts and unix seconds or milliseconds.
// The result is always UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}

	if t, ok := parseCompact(value); ok {
		return t, nil
	}

	// Eight digit values are compact dates (20240101), not epochs.
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && len(value) > 8 {
		if len(value) >= 13 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// compactLayouts are digit-only date-times keyed by length. They win over the epoch
// reading when the digits form a calendar date from 1970 onwards; epoch seconds before
// 2030 start with 1[0-8] and never do.
var compactLayouts = map[int]string{
	10: "2006010215",
	12: "200601021504",
	14: "20060102150405",
}

func parseCompact(value string) (time.Time, bool) {
	layout, ok := compactLayouts[len(value)]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil || t.Year() < 1970 {
		return time.Time{}, false
	}
	return t, true
}

// ChartDataPoint counts the entries of one source observed on one day.
type ChartDataPoint struct {
	Date   string `json:"date"`
	Count  int    `json:"count"`
	Source Source `json:"source"`
}

// SyncStats reports the state of the most recent sync run.
type SyncStats struct {
	LastSync      *time.Time `json:"lastSync"`
	TotalRecords  int        `json:"totalRecords"`
	IsSyncing     bool       `json:"isSyncing"`
	Added         int        `json:"added"`
	Degraded      bool       `json:"degraded"`
	FailedSources []Source   `json:"failedSources,omitempty"`
}
