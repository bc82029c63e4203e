package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"basketd/native/cdp"
)

// Client queries an external oracle service for time-weighted prices. It
// satisfies the engine's OracleSource interface.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds an oracle client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: base url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("oracle: parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: trimmed,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type priceResponse struct {
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

// Price fetches the TWAP for the denomination over the requested window.
func (c *Client) Price(denom string, window time.Duration) (cdp.PriceQuote, error) {
	if c == nil || c.client == nil {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: client not configured")
	}
	endpoint := fmt.Sprintf("%s/v1/prices/%s?window_seconds=%s",
		c.baseURL,
		url.PathEscape(strings.ToLower(strings.TrimSpace(denom))),
		strconv.FormatInt(int64(window/time.Second), 10),
	)
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: build request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: query %s: %w", denom, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: query %s: status %d", denom, res.StatusCode)
	}
	var payload priceResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: decode response: %w", err)
	}
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(payload.Rate))
	if !ok || rate.Sign() <= 0 {
		return cdp.PriceQuote{}, fmt.Errorf("oracle: invalid rate %q for %s", payload.Rate, denom)
	}
	quote := cdp.PriceQuote{Rate: rate}
	if payload.Timestamp > 0 {
		quote.Timestamp = time.Unix(payload.Timestamp, 0).UTC()
	}
	return quote, nil
}
