// Package cache provides a Redis-backed ticker cache shared by service
// instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/trader-chat/internal/model"
)

// RedisTickers caches ticker snapshots under short-lived keys.
type RedisTickers struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTickers connects to redisURL and verifies the connection.
func NewRedisTickers(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisTickers, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisTickers{client: client, ttl: ttl, logger: logger}, nil
}

// tickerKey returns the key for a symbol's cached ticker.
func tickerKey(symbol string) string {
	return "ticker:" + symbol
}

// GetTicker returns the cached ticker for symbol, if still fresh.
func (c *RedisTickers) GetTicker(ctx context.Context, symbol string) (model.Ticker, bool) {
	data, err := c.client.Get(ctx, tickerKey(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("ticker cache read failed", "symbol", symbol, "error", err)
		}
		return model.Ticker{}, false
	}

	var t model.Ticker
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("ticker cache entry corrupt", "symbol", symbol, "error", err)
		return model.Ticker{}, false
	}
	return t, true
}

// PutTicker stores t until the cache TTL elapses.
func (c *RedisTickers) PutTicker(ctx context.Context, t model.Ticker) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, tickerKey(t.Symbol), data, c.ttl).Err(); err != nil {
		c.logger.Warn("ticker cache write failed", "symbol", t.Symbol, "error", err)
	}
}

// Ping checks the Redis connection.
func (c *RedisTickers) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisTickers) Close() error {
	return c.client.Close()
}
