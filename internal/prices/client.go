package prices

import (
	"log/slog"
	"net/http"
	"time"
)

// PopularSymbols are the pairs fetched when a question names no symbol.
var PopularSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT",
	"XRPUSDT", "ADAUSDT", "DOGEUSDT", "DOTUSDT",
}

// Client provides access to the futures ticker REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	cache      Cache

	maxRetries   int
	retryBackoff time.Duration

	popular     []string
	concurrency int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new ticker API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 500 * time.Millisecond,
		popular:      append([]string(nil), PopularSymbols...),
		concurrency:  len(PopularSymbols),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPopularSymbols replaces the symbol list used by GetPopularPrices.
// An empty list keeps the default.
func WithPopularSymbols(symbols []string) ClientOption {
	return func(c *Client) {
		if len(symbols) > 0 {
			c.popular = append([]string(nil), symbols...)
		}
	}
}

// WithConcurrency bounds the number of in-flight requests in GetPopularPrices.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCache serves single-symbol lookups from cache when possible.
func WithCache(cache Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}
