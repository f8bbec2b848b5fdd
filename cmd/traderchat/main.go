package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/trader-chat/internal/auth"
	"github.com/rickgao/trader-chat/internal/broker"
	"github.com/rickgao/trader-chat/internal/cache"
	"github.com/rickgao/trader-chat/internal/chat"
	"github.com/rickgao/trader-chat/internal/config"
	"github.com/rickgao/trader-chat/internal/database"
	"github.com/rickgao/trader-chat/internal/history"
	"github.com/rickgao/trader-chat/internal/inference"
	"github.com/rickgao/trader-chat/internal/poller"
	"github.com/rickgao/trader-chat/internal/prices"
	"github.com/rickgao/trader-chat/internal/server"
	"github.com/rickgao/trader-chat/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/traderchat.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("trader-chat failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting trader-chat",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var checks []server.Option

	// Price client, optionally cached in Redis
	priceOpts := []prices.ClientOption{
		prices.WithLogger(logger),
		prices.WithTimeout(cfg.Prices.Timeout),
		prices.WithRetries(cfg.Prices.MaxRetries, 500*time.Millisecond),
		prices.WithPopularSymbols(cfg.Prices.PopularSymbols),
		prices.WithConcurrency(cfg.Prices.Concurrency),
	}
	var tickerCache *cache.RedisTickers
	if cfg.Cache.RedisURL != "" {
		tickerCache, err = cache.NewRedisTickers(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer tickerCache.Close()
		priceOpts = append(priceOpts, prices.WithCache(tickerCache))
		checks = append(checks, server.WithCheck("redis", tickerCache))
		logger.Info("ticker cache enabled", "ttl", cfg.Cache.TTL)
	}
	priceClient := prices.NewClient(cfg.Prices.RestURL, priceOpts...)

	if tickerCache != nil && cfg.Cache.RefreshInterval > 0 {
		symbols := cfg.Prices.PopularSymbols
		if len(symbols) == 0 {
			symbols = prices.PopularSymbols
		}
		warmer := poller.New(poller.Config{
			Interval: cfg.Cache.RefreshInterval,
			Timeout:  cfg.Prices.Timeout,
			Symbols:  symbols,
		}, priceClient, tickerCache, logger)
		if err := warmer.Start(ctx); err != nil {
			return fmt.Errorf("start ticker poller: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			warmer.Stop(stopCtx)
		}()
	}

	// Broker gateway
	gwOpts := []broker.GatewayOption{
		broker.WithGatewayLogger(logger),
		broker.WithGatewayTimeout(cfg.Broker.Timeout),
		broker.WithGatewayRetries(cfg.Broker.MaxRetries, 500*time.Millisecond),
		broker.WithAPIKey(cfg.Broker.APIKey),
	}
	if cfg.Broker.KeyID != "" {
		creds, err := auth.LoadCredentials(cfg.Broker.KeyID, cfg.Broker.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("load gateway credentials: %w", err)
		}
		gwOpts = append(gwOpts, broker.WithCredentials(creds))
	}
	gateway := broker.NewGateway(cfg.Broker.GatewayURL, gwOpts...)

	topUp, err := cfg.Funding.TopUpAmount()
	if err != nil {
		return err
	}
	lowWater, err := cfg.Funding.LowWaterAmount()
	if err != nil {
		return err
	}

	chatOpts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithFunding(broker.FundingPolicy{TopUp: topUp, LowWater: lowWater, Service: cfg.Funding.Service}),
		chat.WithStatusTTL(cfg.Session.VerifyStatusTTL, cfg.Session.ErrorStatusTTL),
	}

	// Optional transcript archive
	if cfg.Database.Postgres.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Open(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		store := history.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		chatOpts = append(chatOpts, chat.WithRecorder(store))
		checks = append(checks, server.WithCheck("postgres", pool))
		logger.Info("transcript archive enabled")
	}

	completer := inference.NewClient(
		inference.WithLogger(logger),
		inference.WithTimeout(cfg.Inference.Timeout),
	)
	orch := chat.New(gateway, priceClient, completer, chatOpts...)

	srv := server.New(server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendTimeout:    cfg.Server.SendTimeout,
		PingInterval:   cfg.Server.PingInterval,
		MetricsPath:    cfg.Metrics.Path,
	}, orch, append(checks, server.WithLogger(logger))...)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("trader-chat running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	if err := srv.Run(ctx, addr); err != nil {
		return err
	}

	logger.Info("trader-chat stopped")
	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
