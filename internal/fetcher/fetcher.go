package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crypto-sentinel/internal/listing"
)

// SourceFetcher retrieves the latest entries from one upstream provider.
type SourceFetcher interface {
	Source() listing.Source
	Fetch(ctx context.Context) ([]listing.Entry, error)
}

// Options parameterise an upstream HTTP feed.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Limit             int
}

// httpFeed holds the transport shared by every source fetcher.
type httpFeed struct {
	opts    Options
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newHTTPFeed(opts Options, defaultBase, component string, logger zerolog.Logger) httpFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBase
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	return httpFeed{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", component).Logger(),
	}
}

// getJSON issues a rate-limited GET and decodes a 200 response into out.
func (f *httpFeed) getJSON(ctx context.Context, path string, query url.Values, headers map[string]string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := f.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "crypto-sentinel/1.0")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	f.logger.Debug().Str("endpoint", path).Int("bytes", len(payload)).Msg("feed fetched")
	return nil
}

type errorResponse struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Status  struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("upstream error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("upstream error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Msg != "" {
			return fmt.Errorf("upstream error (%d): %s", status, apiErr.Msg)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("upstream error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("upstream error (%d)", status)
}

// symbolPattern picks the ticker out of titles like "Ourbit Will List Foo (FOO)".
var symbolPattern = regexp.MustCompile(`\(([A-Za-z0-9]{2,15})\)`)

func symbolFromTitle(title string) string {
	m := symbolPattern.FindStringSubmatch(title)
	if len(m) < 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

func classifyTitle(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "delist"):
		return "Delisting"
	case strings.Contains(lower, "list"), strings.Contains(lower, "launch"):
		return "New Listing"
	default:
		return "Announcement"
	}
}

// derivedID builds a stable id for upstream items that do not carry one.
func derivedID(source listing.Source, parts ...string) string {
	h := sha1.New()
	h.Write([]byte(source))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return strings.ToLower(string(source)) + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func millisToRFC3339(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
