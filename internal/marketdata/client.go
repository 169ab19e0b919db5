// Package marketdata provides a client for the Alpha Vantage API.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://www.alphavantage.co/query"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second

	// OutputSizeCompact asks for the most recent ~100 trading days.
	OutputSizeCompact = "compact"
	OutputSizeFull    = "full"
)

// Quote is a live quote for one symbol.
type Quote struct {
	Price         decimal.Decimal
	Change        decimal.Decimal
	PercentChange decimal.Decimal
}

// DailyBar is one day of the adjusted daily time series.
type DailyBar struct {
	Date          time.Time
	AdjustedClose decimal.Decimal
}

// Client talks to Alpha Vantage.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the request rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new Alpha Vantage client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("alphavantage: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("alphavantage: %s", e.Message)
}

func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alphavantage: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("alphavantage: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("alphavantage: decode response: %w", err)
	}
	return nil
}

// apiFault holds the error-ish fields Alpha Vantage returns with HTTP 200.
// A populated Note or Information usually means the rate limit was hit.
type apiFault struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (f apiFault) err() error {
	switch {
	case f.ErrorMessage != "":
		return &APIError{Message: f.ErrorMessage}
	case f.Note != "":
		return &APIError{Message: f.Note}
	case f.Information != "":
		return &APIError{Message: f.Information}
	}
	return nil
}

// GetQuote fetches the live quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var res struct {
		apiFault
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := c.get(ctx, params, &res); err != nil {
		return Quote{}, err
	}
	if err := res.err(); err != nil {
		return Quote{}, err
	}
	if len(res.GlobalQuote) == 0 {
		return Quote{}, &APIError{Message: fmt.Sprintf("no Global Quote for %s", symbol)}
	}

	price, err := parseDecimalField(res.GlobalQuote, "05. price")
	if err != nil {
		return Quote{}, err
	}
	change, err := parseDecimalField(res.GlobalQuote, "09. change")
	if err != nil {
		return Quote{}, err
	}
	pct, err := parseDecimalField(res.GlobalQuote, "10. change percent")
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, Change: change, PercentChange: pct}, nil
}

// GetDailyAdjusted fetches the daily adjusted time series for a symbol,
// sorted by date ascending.
func (c *Client) GetDailyAdjusted(ctx context.Context, symbol, outputSize string) ([]DailyBar, error) {
	if outputSize == "" {
		outputSize = OutputSizeCompact
	}
	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	params.Set("symbol", symbol)
	params.Set("outputsize", outputSize)

	var res struct {
		apiFault
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := c.get(ctx, params, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	if len(res.Series) == 0 {
		return nil, &APIError{Message: fmt.Sprintf("no daily series for %s", symbol)}
	}

	bars := make([]DailyBar, 0, len(res.Series))
	for dateStr, fields := range res.Series {
		day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("alphavantage: bad date %q for %s: %w", dateStr, symbol, err)
		}
		closePrice, err := parseDecimalField(fields, "5. adjusted close")
		if err != nil {
			return nil, fmt.Errorf("alphavantage: %s on %s: %w", symbol, dateStr, err)
		}
		bars = append(bars, DailyBar{Date: day, AdjustedClose: closePrice})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// GetCompanyName fetches the display name for a symbol from the OVERVIEW endpoint.
func (c *Client) GetCompanyName(ctx context.Context, symbol string) (string, error) {
	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)

	var res struct {
		apiFault
		Name string `json:"Name"`
	}
	if err := c.get(ctx, params, &res); err != nil {
		return "", err
	}
	if err := res.err(); err != nil {
		return "", err
	}
	if res.Name == "" {
		return "", &APIError{Message: fmt.Sprintf("no overview for %s", symbol)}
	}
	return res.Name, nil
}

// parseDecimalField reads a numeric field that arrives as a string, tolerating
// a trailing percent sign ("10. change percent" comes back as "1.2345%").
func parseDecimalField(fields map[string]string, key string) (decimal.Decimal, error) {
	raw, ok := fields[key]
	if !ok {
		return decimal.Zero, &APIError{Message: fmt.Sprintf("missing field %q", key)}
	}
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if raw == "" || raw == "N/A" {
		return decimal.Zero, &APIError{Message: fmt.Sprintf("empty field %q", key)}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("alphavantage: field %q = %q: %w", key, raw, err)
	}
	return d, nil
}
