package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

const ourbitAnnouncementsPath = "/api/platform/announcement/list"

// Ourbit reads the Ourbit announcement board.
type Ourbit struct {
	httpFeed
}

// NewOurbit constructs the Ourbit announcement fetcher.
func NewOurbit(opts Options, logger zerolog.Logger) *Ourbit {
	return &Ourbit{httpFeed: newHTTPFeed(opts, "https://www.ourbit.com", "ourbit_fetcher", logger)}
}

func (o *Ourbit) Source() listing.Source {
	return listing.SourceOurbitListings
}

// Fetch returns the latest announcements page.
func (o *Ourbit) Fetch(ctx context.Context) ([]listing.Entry, error) {
	query := url.Values{}
	query.Set("pageNum", "1")
	query.Set("pageSize", strconv.Itoa(o.opts.Limit))

	var res ourbitAnnouncementsResponse
	if err := o.getJSON(ctx, ourbitAnnouncementsPath, query, nil, &res); err != nil {
		return nil, fmt.Errorf("fetch ourbit announcements: %w", err)
	}
	if res.Code != 0 {
		return nil, fmt.Errorf("ourbit api error %d: %s", res.Code, res.Msg)
	}

	entries := make([]listing.Entry, 0, len(res.Data.Results))
	for _, raw := range res.Data.Results {
		var item ourbitAnnouncement
		if err := json.Unmarshal(raw, &item); err != nil {
			o.logger.Warn().Err(err).Msg("skip undecodable ourbit announcement")
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}

		link := item.URL
		if link == "" && item.ID != 0 {
			link = o.baseURL + "/support/articles/" + strconv.FormatInt(item.ID, 10)
		}
		id := "ourbit-" + strconv.FormatInt(item.ID, 10)
		if item.ID == 0 {
			id = derivedID(listing.SourceOurbitListings, link, title)
		}

		entries = append(entries, listing.Entry{
			ID:        id,
			Source:    listing.SourceOurbitListings,
			Title:     title,
			Symbol:    symbolFromTitle(title),
			Timestamp: millisToRFC3339(item.PublishTime),
			URL:       link,
			Type:      classifyTitle(title),
			RawText:   string(raw),
		})
	}
	return entries, nil
}

type ourbitAnnouncementsResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Results []json.RawMessage `json:"results"`
	} `json:"data"`
}

type ourbitAnnouncement struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	PublishTime int64  `json:"publishTime"`
	URL         string `json:"url"`
}

var _ SourceFetcher = (*Ourbit)(nil)
