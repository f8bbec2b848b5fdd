package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/trader-chat/internal/metrics"
	"github.com/rickgao/trader-chat/internal/model"
)

const tickerPricePath = "/fapi/v1/ticker/price"

// apiTicker is one element of GET /fapi/v1/ticker/price.
type apiTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Time   int64  `json:"time"`
}

// GetPrices fetches the last price for symbol, or for every listed symbol
// when symbol is empty. The result is always a slice.
func (c *Client) GetPrices(ctx context.Context, symbol string) ([]model.Ticker, error) {
	if symbol != "" && c.cache != nil {
		if t, ok := c.cache.GetTicker(ctx, symbol); ok {
			metrics.PriceFetches.WithLabelValues("cache").Inc()
			return []model.Ticker{t}, nil
		}
	}

	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}

	var raw json.RawMessage
	if err := c.get(ctx, tickerPricePath, query, &raw); err != nil {
		metrics.PriceFetches.WithLabelValues("error").Inc()
		if symbol == "" {
			return nil, fmt.Errorf("get prices: %w", err)
		}
		return nil, fmt.Errorf("get price %s: %w", symbol, err)
	}

	tickers, err := decodeTickers(raw)
	if err != nil {
		metrics.PriceFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.PriceFetches.WithLabelValues("ok").Inc()

	if symbol != "" && c.cache != nil {
		for _, t := range tickers {
			c.cache.PutTicker(ctx, t)
		}
	}

	return tickers, nil
}

// GetPopularPrices fetches the popular symbols concurrently. A symbol that
// fails is logged and skipped; the others are returned in list order. Only
// cancellation of ctx is reported as an error.
func (c *Client) GetPopularPrices(ctx context.Context) ([]model.Ticker, error) {
	start := time.Now()
	results := make([][]model.Ticker, len(c.popular))
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, symbol := range c.popular {
		g.Go(func() error {
			tickers, err := c.GetPrices(ctx, symbol)
			if err != nil {
				c.logger.Warn("failed to fetch popular price",
					"symbol", symbol,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			results[i] = tickers
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.Ticker
	for _, r := range results {
		out = append(out, r...)
	}

	c.logger.Debug("popular prices fetched",
		"symbols", len(c.popular),
		"fetched", len(out),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)

	return out, nil
}

// decodeTickers accepts either a single ticker object or an array of them.
func decodeTickers(raw json.RawMessage) ([]model.Ticker, error) {
	raw = bytes.TrimSpace(raw)

	var items []apiTicker
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("unmarshal tickers: %w", err)
		}
	} else {
		var one apiTicker
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("unmarshal ticker: %w", err)
		}
		items = []apiTicker{one}
	}

	tickers := make([]model.Ticker, 0, len(items))
	for _, it := range items {
		tickers = append(tickers, model.Ticker{Symbol: it.Symbol, Price: it.Price})
	}
	return tickers, nil
}
