// Package rates fetches currency exchange rates from a Frankfurter-compatible
// HTTP API.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/shopspring/decimal"
)

// Client implements units.RateFetcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a rate client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Latest returns the most recent rates per one unit of base.
func (c *Client) Latest(ctx context.Context, base string) (units.RateTable, error) {
	u := c.baseURL + "/latest?" + url.Values{"from": {base}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return units.RateTable{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return units.RateTable{}, fmt.Errorf("rates request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return units.RateTable{}, fmt.Errorf("rates API error: status %d: %s", resp.StatusCode, body)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return units.RateTable{}, fmt.Errorf("decode response: %w", err)
	}
	if r.Base != "" && r.Base != base {
		return units.RateTable{}, fmt.Errorf("rates API answered for base %s, asked for %s", r.Base, base)
	}
	if len(r.Rates) == 0 {
		return units.RateTable{}, fmt.Errorf("rates API returned no rates for %s", base)
	}

	c.logger.Debug("exchange rates fetched", "base", base, "date", r.Date, "currencies", len(r.Rates))
	return units.RateTable{Base: base, Rates: r.Rates}, nil
}

type response struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}
