package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

const cmcNewListingsPath = "/v1/cryptocurrency/listings/new"

// CMC turns CoinMarketCap newly added assets into signal entries.
type CMC struct {
	httpFeed
}

// NewCMC constructs the CoinMarketCap fetcher.
func NewCMC(opts Options, logger zerolog.Logger) *CMC {
	return &CMC{httpFeed: newHTTPFeed(opts, "https://pro-api.coinmarketcap.com", "cmc_fetcher", logger)}
}

func (c *CMC) Source() listing.Source {
	return listing.SourceCMCSignals
}

// Fetch lists the most recently added assets.
func (c *CMC) Fetch(ctx context.Context) ([]listing.Entry, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("cmc api key not configured")
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.opts.Limit))
	query.Set("sort_dir", "desc")

	var res cmcListingsResponse
	headers := map[string]string{"X-CMC_PRO_API_KEY": c.opts.APIKey}
	if err := c.getJSON(ctx, cmcNewListingsPath, query, headers, &res); err != nil {
		return nil, fmt.Errorf("fetch cmc listings: %w", err)
	}
	if res.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("cmc api error %d: %s", res.Status.ErrorCode, res.Status.ErrorMessage)
	}

	entries := make([]listing.Entry, 0, len(res.Data))
	for _, raw := range res.Data {
		var item cmcAsset
		if err := json.Unmarshal(raw, &item); err != nil {
			c.logger.Warn().Err(err).Msg("skip undecodable cmc asset")
			continue
		}
		if item.Symbol == "" {
			continue
		}

		id := "cmc-" + strconv.FormatInt(item.ID, 10)
		if item.ID == 0 {
			id = derivedID(listing.SourceCMCSignals, item.Slug, item.Symbol)
		}
		entries = append(entries, listing.Entry{
			ID:        id,
			Source:    listing.SourceCMCSignals,
			Title:     fmt.Sprintf("New on CMC: %s (%s)", item.Name, item.Symbol),
			Symbol:    item.Symbol,
			Timestamp: item.DateAdded,
			URL:       "https://coinmarketcap.com/currencies/" + item.Slug + "/",
			Type:      "Signal",
			RawText:   string(raw),
		})
	}
	return entries, nil
}

type cmcListingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []json.RawMessage `json:"data"`
}

type cmcAsset struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Slug      string `json:"slug"`
	DateAdded string `json:"date_added"`
}

var _ SourceFetcher = (*CMC)(nil)
