package feeder

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/util"
)

// Config controls synthetic order generation rate
type Config struct {
	BatchSize   int           // Number of requests per batch
	Interval    time.Duration // How often to generate batches
	NumTraders  int           // Number of simulated traders
	Symbols     []string      // Markets to trade
	MidPrice    decimal.Decimal
	CancelRatio int // Percent of requests that are cancels
	// Funding deposited per trader in every base and quote asset.
	InitialBase  decimal.Decimal
	InitialQuote decimal.Decimal
	Seed         int64
}

// DefaultConfig returns reasonable defaults for a devnet (~100 req/sec)
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		Interval:     100 * time.Millisecond,
		NumTraders:   50,
		Symbols:      []string{"ETH/USDC"},
		MidPrice:     decimal.NewFromInt(2000),
		CancelRatio:  10,
		InitialBase:  decimal.NewFromInt(1_000),
		InitialQuote: decimal.NewFromInt(5_000_000),
		Seed:         time.Now().UnixNano(),
	}
}

// HighLoadConfig returns config for stress testing (~1000 req/sec)
func HighLoadConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.NumTraders = 200
	return cfg
}

// ConfigForMode maps TXGEN_MODE values to a config.
func ConfigForMode(mode string) Config {
	if mode == "highload" {
		return HighLoadConfig()
	}
	return DefaultConfig()
}

// Stats counts what the feeder submitted.
type Stats struct {
	Orders   int
	Cancels  int
	Trades   int
	Rejected int
}

// Feeder drives an Engine with generated order flow.
type Feeder struct {
	engine *matching.Engine
	gen    *Generator
	cfg    Config
	logger *zap.SugaredLogger
	stats  Stats
}

func New(engine *matching.Engine, cfg Config, logger *zap.SugaredLogger) *Feeder {
	if logger == nil {
		logger = util.NopSugar()
	}
	return &Feeder{
		engine: engine,
		gen:    NewGenerator(cfg.NumTraders, cfg.Symbols, cfg.MidPrice, cfg.Seed),
		cfg:    cfg,
		logger: logger,
	}
}

// Fund deposits the configured starting balances for every simulated trader.
func (f *Feeder) Fund() error {
	for _, symbol := range f.cfg.Symbols {
		m, err := f.engine.Markets().GetMarket(symbol)
		if err != nil {
			return err
		}
		for _, trader := range f.gen.Traders() {
			if err := f.engine.Deposit(trader, m.BaseAsset, f.cfg.InitialBase); err != nil {
				return err
			}
			if err := f.engine.Deposit(trader, m.QuoteAsset, f.cfg.InitialQuote); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step submits one batch and returns the running totals.
func (f *Feeder) Step() Stats {
	for i := 0; i < f.cfg.BatchSize; i++ {
		if f.gen.rng.Intn(100) < f.cfg.CancelRatio {
			if id, trader, ok := f.gen.NextCancel(); ok {
				_, err := f.engine.CancelOrder(id, trader)
				if err == nil {
					f.stats.Cancels++
				} else if !errors.Is(err, matching.ErrNotCancellable) {
					f.logger.Debugw("txfeeder_cancel_failed", "order_id", id, "error", err)
				}
				continue
			}
		}
		res, err := f.engine.PlaceOrder(f.gen.NextOrder())
		if err != nil {
			f.stats.Rejected++
			continue
		}
		f.stats.Orders++
		f.stats.Trades += len(res.Trades)
		if res.Resting() {
			f.gen.Remember(res.Order.ID, res.Order.Trader)
		}
	}
	return f.stats
}

// Start funds the simulated traders and feeds batches in a background
// goroutine until ctx ends or the returned cancel is called.
func Start(ctx context.Context, engine *matching.Engine, cfg Config, logger *zap.SugaredLogger) (context.CancelFunc, error) {
	f := New(engine, cfg, logger)
	if err := f.Fund(); err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		statsTicker := time.NewTicker(10 * time.Second)
		defer statsTicker.Stop()

		startTime := time.Now()
		f.logger.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval,
			"traders", cfg.NumTraders, "symbols", cfg.Symbols)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(startTime)
				f.logger.Infow("txfeeder_stopped", "orders", f.stats.Orders, "cancels", f.stats.Cancels,
					"trades", f.stats.Trades, "rejected", f.stats.Rejected, "elapsed", elapsed.Round(time.Second))
				return
			case <-ticker.C:
				f.Step()
			case <-statsTicker.C:
				elapsed := time.Since(startTime).Seconds()
				f.logger.Infow("txfeeder_stats", "orders", f.stats.Orders, "trades", f.stats.Trades,
					"rate", float64(f.stats.Orders+f.stats.Cancels)/elapsed)
			}
		}
	}()
	return cancel, nil
}
