package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/params"
	"github.com/uhyunpark/spotbook/pkg/api"
	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/marketview"
	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/feeder"
	"github.com/uhyunpark/spotbook/pkg/events"
	"github.com/uhyunpark/spotbook/pkg/storage"
	"github.com/uhyunpark/spotbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Markets ----
	registry := market.NewMarketRegistry()
	for _, symbol := range cfg.Engine.Markets {
		m, err := market.NewMarketWithDefaults(symbol)
		if err != nil {
			sugar.Fatalw("market_invalid", "symbol", symbol, "err", err)
		}
		if err := registry.RegisterMarket(m); err != nil {
			sugar.Fatalw("market_register_failed", "symbol", symbol, "err", err)
		}
	}

	policy, err := matching.ParseFailurePolicy(cfg.Engine.SettlementFailurePolicy)
	if err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}

	// ---- Events ----
	bus := events.NewBus(cfg.Events.Buffer, sugar)

	// ---- Engine ----
	engCfg := matching.DefaultConfig()
	engCfg.AutoCreateMarkets = cfg.Engine.AutoCreateMarkets
	engCfg.PrecheckBalances = cfg.Engine.PrecheckBalances
	engCfg.CloseCrossingRemainder = cfg.Engine.CloseCrossingRemainder
	engCfg.FailurePolicy = policy
	engCfg.RecentTradesCap = cfg.Engine.RecentTradesCap
	engCfg.BookEventDepth = cfg.Engine.DepthDefault

	engine := matching.New(ledger.New(sugar), registry, engCfg,
		matching.WithLogger(sugar),
		matching.WithClock(util.RealClock{}),
		matching.WithPublisher(bus),
	)
	view := marketview.New(engine,
		marketview.WithDefaultDepth(cfg.Engine.DepthDefault),
		marketview.WithStatsWindow(cfg.Engine.StatsTradeWindow),
	)

	sugar.Infow("engine_configured",
		"markets", cfg.Engine.Markets,
		"auto_create_markets", engCfg.AutoCreateMarkets,
		"precheck_balances", engCfg.PrecheckBalances,
		"failure_policy", policy.String())

	// ---- Sinks ----
	var archive *storage.Archive
	if cfg.Storage.ArchivePath != "" {
		archive, err = storage.OpenArchive(cfg.Storage.ArchivePath)
		if err != nil {
			sugar.Fatalw("archive_open_failed", "path", cfg.Storage.ArchivePath, "err", err)
		}
		defer closeArchive(archive, sugar)
		bus.Subscribe(storage.NewSink(archive))
		sugar.Infow("archive_enabled", "path", cfg.Storage.ArchivePath)
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer func() {
			if err := ks.Close(); err != nil {
				sugar.Warnw("kafka_close_failed", "err", err)
			}
		}()
		bus.Subscribe(ks)
		sugar.Infow("kafka_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// ---- API Server ----
	apiServer := api.NewServer(engine, view, api.Options{
		Archive:     archive,
		Bus:         bus,
		CORSOrigins: cfg.API.CORSOrigins,
		Logger:      sugar,
	})
	bus.Subscribe(apiServer.Hub())

	busDone := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(busDone)
	}()

	go sweepExpired(ctx, engine, cfg.Engine.ExpirySweep, sugar)

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|highload
	if cfg.Feeder.Enabled {
		fcfg := feeder.ConfigForMode(cfg.Feeder.Mode)
		fcfg.Symbols = cfg.Engine.Markets
		cancelFeeder, err := feeder.Start(ctx, engine, fcfg, sugar)
		if err != nil {
			sugar.Fatalw("txfeeder_start_failed", "err", err)
		}
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "mode", cfg.Feeder.Mode, "batch_size", fcfg.BatchSize, "interval", fcfg.Interval)
	} else {
		sugar.Info("txgen_disabled")
	}

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		stop()
	}

	<-busDone
	stats := engine.Stats()
	sugar.Infow("node_stopped",
		"orders", stats.Orders,
		"trades", stats.Trades,
		"events_published", bus.Published(),
		"events_dropped", bus.Dropped())
}

// sweepExpired moves GTD orders past their expiry to EXPIRED.
func sweepExpired(ctx context.Context, engine *matching.Engine, every time.Duration, logger *zap.SugaredLogger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := engine.ExpireOrders(now); n > 0 {
				logger.Debugw("orders_expired", "count", n)
			}
		}
	}
}

func closeArchive(a *storage.Archive, logger *zap.SugaredLogger) {
	if err := a.Flush(); err != nil {
		logger.Warnw("archive_flush_failed", "err", err)
	}
	if err := a.Close(); err != nil {
		logger.Warnw("archive_close_failed", "err", err)
	}
}
