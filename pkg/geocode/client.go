// Package geocode provides a rate-limited, cached client for a
// Nominatim-compatible forward/reverse geocoding service. Lookups are
// best-effort enrichment: network and service failures resolve to a nil
// result, never to a hard error.
package geocode

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tripatlas/poi-pipeline/internal/normalize"
)

// DefaultBaseURL is the public Nominatim endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// DefaultMinInterval is the minimum spacing between requests. The
// public service allows at most one request per second; the margin
// keeps us on the right side of it.
const DefaultMinInterval = 1100 * time.Millisecond

// Result holds one geocoding match. Address keys follow the service's
// component names (road, house_number, suburb, city, town, village,
// municipality, county, ...).
type Result struct {
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address,omitempty"`
}

// Client is a forward/reverse geocoder. A single rate limiter gates all
// calls, forward and reverse alike, so interleaved lookups share one
// clock. Construct once per run and pass by reference.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	cache      *Cache
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at a different Nominatim-compatible
// endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithMinInterval sets the minimum spacing between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithCache attaches a persistent result cache.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// NewClient creates a geocoding client. userAgent must be non-empty;
// the public service rejects anonymous clients.
func NewClient(userAgent string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(userAgent) == "" {
		return nil, eris.New("geocode: user agent is required")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		cache:      NewCache(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Forward geocodes a free-text query scoped to a country. A nil result
// with nil error means no match (or a tolerated service failure); the
// error return is reserved for context cancellation.
func (c *Client) Forward(ctx context.Context, query, countryCode string) (*Result, error) {
	key := forwardKey(query, countryCode)
	if res, hit := c.cache.Get(key); hit {
		return res, nil
	}

	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	if countryCode != "" {
		params.Set("countrycodes", strings.ToLower(countryCode))
	}

	res, err := c.lookup(ctx, "/search", params)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, res)
	return res, nil
}

// Reverse geocodes a coordinate pair at street-level detail.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*Result, error) {
	key := reverseKey(lat, lon)
	if res, hit := c.cache.Get(key); hit {
		return res, nil
	}

	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":         {"jsonv2"},
		"zoom":           {"18"},
		"addressdetails": {"1"},
	}

	res, err := c.lookup(ctx, "/reverse", params)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, res)
	return res, nil
}

// Persist writes the cache to disk.
func (c *Client) Persist() error {
	return c.cache.Save()
}

// lookup waits on the shared limiter, performs the HTTP call and parses
// the response. Service-side failures are logged and returned as a nil
// result so callers degrade instead of aborting.
func (c *Client) lookup(ctx context.Context, path string, params url.Values) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limiter wait")
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "geocode: request cancelled")
		}
		zap.L().Warn("geocode request failed", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("geocode returned non-200", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		zap.L().Warn("geocode read body failed", zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	places, err := decodePlaces(body)
	if err != nil {
		zap.L().Warn("geocode unparseable response", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if len(places) == 0 {
		return nil, nil
	}

	res, ok := places[0].toResult()
	if !ok {
		return nil, nil
	}
	return res, nil
}

// forwardKey builds the cache key for a scoped text query. The query is
// normalized so trivially different spellings share an entry.
func forwardKey(query, countryCode string) string {
	return fmt.Sprintf("fwd:%s:%s", strings.ToLower(countryCode), normalize.Default.Normalize(query))
}

// reverseKey rounds coordinates to five decimals (about a meter) so
// nearby lookups coalesce.
func reverseKey(lat, lon float64) string {
	return fmt.Sprintf("rev:%.5f,%.5f", lat, lon)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
