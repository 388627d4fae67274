package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"cryptoStalkerBot/config"
	"cryptoStalkerBot/internal/adapters/binancebroker"
	"cryptoStalkerBot/internal/adapters/errorsink"
	"cryptoStalkerBot/internal/adapters/feed"
	"cryptoStalkerBot/internal/adapters/logger"
	"cryptoStalkerBot/internal/adapters/sqlite"
	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/engine"
	"cryptoStalkerBot/internal/stalker"
	"cryptoStalkerBot/internal/strategy"
	"cryptoStalkerBot/internal/strategy/indicators"
	"cryptoStalkerBot/internal/wallet"
)

const shutdownGracePeriod = 2 * time.Minute

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// Root context canceled by SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Exchange Broker (Binance Adapter)
	broker, err := binancebroker.New(binancebroker.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance broker")
		log.Fatalf("FATAL: Failed to initialize Binance broker: %v", err)
	}
	appLogger.Info(ctx, "Binance broker initialized")

	// 5. Initialize Market Feed
	enricherCfg := indicators.DefaultEnricherConfig()
	enricherCfg.RSIPeriod = cfg.StrategyRSIPeriod
	marketFeed, err := feed.New(feed.Config{
		SamplingInterval: cfg.PeriodDuration(),
		Enricher:         indicators.NewEnricher(enricherCfg),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market feed")
		log.Fatalf("FATAL: Failed to initialize market feed: %v", err)
	}
	appLogger.Info(ctx, "Market feed initialized")

	// 6. Initialize Capital Pool
	pool, err := wallet.New(domain.Asset(cfg.QuoteAsset), cfg.InitialCapital)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize capital pool")
		log.Fatalf("FATAL: Failed to initialize capital pool: %v", err)
	}

	// 7. Initialize Allocator
	sink := errorsink.New(appLogger, 0)
	stk, err := stalker.New(stalker.Config{
		MaxSlots:     cfg.MaxSlots,
		StrategyName: cfg.StrategyName,
		StrategyConfig: strategy.Config{
			RSIPeriod:     cfg.StrategyRSIPeriod,
			RSIOverbought: cfg.StrategyRSIOverbought,
			RSIOversold:   cfg.StrategyRSIOversold,
			TakeProfitPct: cfg.StrategyTakeProfitPct,
		},
		Engine: engine.Config{
			Period:             cfg.Period,
			CycleInterval:      cfg.CycleInterval,
			BrokerTimeout:      cfg.BrokerTimeout,
			SecureStopPct:      cfg.SecureStopPct,
			SecureLimitPct:     cfg.SecureLimitPct,
			Strict:             cfg.Strict,
			MaxNetworkFailures: cfg.MaxNetworkFailures,
		},
		DeleteTimeout: cfg.DeleteTimeout,
		Cooldown:      cfg.Cooldown,
	}, stalker.Deps{
		Logger:    appLogger,
		Broker:    broker,
		Feed:      marketFeed,
		Snapshots: repo,
		Sink:      sink,
		Parent:    pool,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize allocator")
		log.Fatalf("FATAL: Failed to initialize allocator: %v", err)
	}

	// 8. Start Candle Streams and Activate Strategies
	pairs, err := cfg.PairList()
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Invalid pair configuration")
		log.Fatalf("FATAL: Invalid pair configuration: %v", err)
	}
	for _, pair := range pairs {
		go func(pair domain.Pair) {
			err := broker.StreamCandles(ctx, pair, cfg.Period, func(candle domain.Candle) {
				if err := marketFeed.Append(candle); err != nil {
					appLogger.Warn(ctx, "Dropped out-of-order candle", map[string]interface{}{
						"pair":  pair.String(),
						"error": err.Error(),
					})
				}
			})
			if err != nil && ctx.Err() == nil {
				appLogger.Error(ctx, err, "Candle stream terminated", map[string]interface{}{"pair": pair.String()})
			}
		}(pair)

		if _, err := stk.AddActiveStrategy(ctx, pair); err != nil {
			appLogger.Error(ctx, err, "Failed to activate strategy for pair", map[string]interface{}{
				"pair": pair.String(),
			})
			continue
		}
		appLogger.Info(ctx, "Strategy activated", map[string]interface{}{
			"pair":     pair.String(),
			"strategy": cfg.StrategyName,
		})
	}

	// 9. Run Until Signaled
	appLogger.Info(ctx, "Allocator running", map[string]interface{}{
		"maxSlots": cfg.MaxSlots,
		"pairs":    cfg.Pairs,
	})
	if err := stk.Run(ctx); err != nil && ctx.Err() == nil {
		appLogger.Error(ctx, err, "Allocator watcher exited with error")
	}

	// 10. Graceful Shutdown: unwind every open position before exiting.
	appLogger.Info(context.Background(), "Shutdown signal received, unwinding active strategies")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := stk.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Shutdown did not complete cleanly")
		log.Fatalf("FATAL: Shutdown did not complete cleanly: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.", map[string]interface{}{
		"finalCapital": pool.BuyCapital().String(),
	})
}
