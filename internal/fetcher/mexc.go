package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

const mexcCalendarPath = "/api/operation/new_coin_calendar"

// MEXC reads the MEXC new coin calendar.
type MEXC struct {
	httpFeed
	now func() time.Time
}

// NewMEXC constructs the MEXC listing fetcher.
func NewMEXC(opts Options, logger zerolog.Logger) *MEXC {
	return &MEXC{
		httpFeed: newHTTPFeed(opts, "https://www.mexc.com", "mexc_fetcher", logger),
		now:      time.Now,
	}
}

func (m *MEXC) Source() listing.Source {
	return listing.SourceMEXCListings
}

// Fetch returns upcoming and recent listings from the calendar.
func (m *MEXC) Fetch(ctx context.Context) ([]listing.Entry, error) {
	query := url.Values{}
	query.Set("timestamp", strconv.FormatInt(m.now().UnixMilli(), 10))

	var res mexcCalendarResponse
	if err := m.getJSON(ctx, mexcCalendarPath, query, nil, &res); err != nil {
		return nil, fmt.Errorf("fetch mexc calendar: %w", err)
	}

	entries := make([]listing.Entry, 0, len(res.Data.NewCoins))
	for _, raw := range res.Data.NewCoins {
		var coin mexcCoin
		if err := json.Unmarshal(raw, &coin); err != nil {
			m.logger.Warn().Err(err).Msg("skip undecodable mexc coin")
			continue
		}
		if coin.VcoinName == "" {
			continue
		}

		id := "mexc-" + coin.VcoinID
		if coin.VcoinID == "" {
			id = derivedID(listing.SourceMEXCListings, coin.VcoinName, strconv.FormatInt(coin.FirstOpenTime, 10))
		}
		name := coin.VcoinNameFull
		if name == "" {
			name = coin.VcoinName
		}
		entries = append(entries, listing.Entry{
			ID:        id,
			Source:    listing.SourceMEXCListings,
			Title:     fmt.Sprintf("MEXC lists %s (%s)", name, coin.VcoinName),
			Symbol:    coin.VcoinName,
			Timestamp: millisToRFC3339(coin.FirstOpenTime),
			URL:       m.baseURL + "/exchange/" + coin.VcoinName + "_USDT",
			Type:      "New Listing",
			RawText:   string(raw),
		})
		if len(entries) >= m.opts.Limit {
			break
		}
	}
	return entries, nil
}

type mexcCalendarResponse struct {
	Data struct {
		NewCoins []json.RawMessage `json:"newCoins"`
	} `json:"data"`
}

type mexcCoin struct {
	VcoinID       string `json:"vcoinId"`
	VcoinName     string `json:"vcoinName"`
	VcoinNameFull string `json:"vcoinNameFull"`
	FirstOpenTime int64  `json:"firstOpenTime"`
}

var _ SourceFetcher = (*MEXC)(nil)
