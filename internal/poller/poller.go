package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/trader-chat/internal/model"
)

// TickerSource fetches tickers. An empty symbol means every listed symbol.
type TickerSource interface {
	GetPrices(ctx context.Context, symbol string) ([]model.Ticker, error)
}

// TickerSink stores fetched tickers.
type TickerSink interface {
	PutTicker(ctx context.Context, t model.Ticker)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Refresh interval
	Timeout  time.Duration // Per-refresh timeout (default: 10s)
	Symbols  []string      // Symbols to cache; empty caches everything fetched
}

// Poller periodically refreshes tickers into a sink.
type Poller struct {
	cfg    Config
	source TickerSource
	sink   TickerSink
	logger *slog.Logger

	watch map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source TickerSource, sink TickerSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var watch map[string]bool
	if len(cfg.Symbols) > 0 {
		watch = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			watch[s] = true
		}
	}

	return &Poller{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
		watch:  watch,
	}
}

// Start begins the refresh loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("ticker poller started",
		"interval", p.cfg.Interval,
		"symbols", len(p.cfg.Symbols),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ticker poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	p.refresh()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

// refresh fetches all tickers once and stores the watched ones.
func (p *Poller) refresh() {
	start := time.Now()

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	tickers, err := p.source.GetPrices(ctx, "")
	if err != nil {
		p.logger.Warn("ticker refresh failed", "error", err)
		return
	}

	stored := 0
	for _, t := range tickers {
		if p.watch != nil && !p.watch[t.Symbol] {
			continue
		}
		p.sink.PutTicker(ctx, t)
		stored++
	}

	p.logger.Debug("ticker refresh complete",
		"fetched", len(tickers),
		"stored", stored,
		"duration", time.Since(start),
	)
}
