package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/observability"
)

// DefaultBaseURL is the Mapbox forward geocoding endpoint. MapTiler serves
// the same feature format under https://api.maptiler.com/geocoding.
const DefaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

const defaultLimit = 5

// Client implements domain.LocationResolver using a Mapbox-format
// geocoding API.
type Client struct {
	token      string
	tokenParam string
	httpClient *http.Client
	baseURL    string
	limit      int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Mapbox-format provider.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTokenParam sets the query parameter the token is sent in
// ("access_token" for Mapbox, "key" for MapTiler).
func WithTokenParam(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.tokenParam = p
		}
	}
}

// NewClient creates a geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:      token,
		tokenParam: "access_token",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: DefaultBaseURL,
		limit:   defaultLimit,
		metrics: metrics,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LookupPlaces forward-geocodes a free-text query or a provider place ID.
// Features whose country cannot be established are skipped.
func (c *Client) LookupPlaces(ctx context.Context, query string) ([]domain.Place, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		c.tokenParam: {c.token},
		"language":   {"en"},
		"limit":      {strconv.Itoa(c.limit)},
	}

	features, err := c.doRequest(ctx, u+"?"+params.Encode())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	places := make([]domain.Place, 0, len(features))
	for _, f := range features {
		p, err := f.place()
		if err != nil {
			c.logger.Debug("skipping geocoder feature", "query", query, "feature_id", f.ID, "error", err)
			continue
		}
		places = append(places, p)
	}
	if len(places) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return nil, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	return places, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("geocoder API error: status %d: %s", resp.StatusCode, body)
	}

	var geoResp response
	if err := json.NewDecoder(resp.Body).Decode(&geoResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return geoResp.Features, nil
}

// Geocoding API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string         `json:"id"`
	PlaceName  string         `json:"place_name"`
	Text       string         `json:"text"`
	PlaceType  []string       `json:"place_type"`
	BBox       []float64      `json:"bbox"` // [west, south, east, north]
	Context    []contextEntry `json:"context"`
	Properties properties     `json:"properties"`
}

type contextEntry struct {
	ID   string `json:"id"` // "<type>.<id>", e.g. "region.123"
	Text string `json:"text"`
}

type properties struct {
	CountryCode string `json:"country_code"` // ISO alpha-2
}

func (f feature) place() (domain.Place, error) {
	country, iso3 := f.country()
	if iso3 == "" {
		return domain.Place{}, fmt.Errorf("%w: no country for %q", domain.ErrPlaceNotFound, f.PlaceName)
	}

	p := domain.Place{
		Name:      f.PlaceName,
		ID:        f.ID,
		Country:   country,
		CountryID: iso3,
		BBox:      f.BBox,
	}
	if len(f.PlaceType) > 0 {
		p.Scale = f.PlaceType[0]
	}
	p.Admin1, p.Admin1ID = f.contextOf("region", "state")
	p.Admin2, p.Admin2ID = f.contextOf("district", "county")
	return p.WithGeometry()
}

// country establishes the feature's country from the feature itself when it
// is a country, then from its context, then from the alpha-2 country code.
func (f feature) country() (name, iso3 string) {
	var candidates []string
	for _, t := range f.PlaceType {
		if t == "country" {
			candidates = append(candidates, f.PlaceName, f.Text)
			break
		}
	}
	if ctxName, _ := f.contextOf("country"); ctxName != "" {
		candidates = append(candidates, ctxName)
	}
	for _, c := range candidates {
		if iso3 := domain.CountryISO3(c); iso3 != "" {
			return c, iso3
		}
	}

	if f.Properties.CountryCode != "" {
		if p, err := domain.CountryPlace("", f.Properties.CountryCode); err == nil {
			return p.Name, p.CountryID
		}
	}
	return "", ""
}

func (f feature) contextOf(types ...string) (text, id string) {
	for _, t := range types {
		for _, c := range f.Context {
			if strings.HasPrefix(c.ID, t+".") {
				return c.Text, c.ID
			}
		}
	}
	return "", ""
}
