package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/config"
	"cryptoStalkerBot/internal/adapters/errorsink"
	"cryptoStalkerBot/internal/adapters/feed"
	"cryptoStalkerBot/internal/adapters/logger"
	"cryptoStalkerBot/internal/adapters/paperbroker"
	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/engine"
	"cryptoStalkerBot/internal/strategy"
	"cryptoStalkerBot/internal/strategy/analytics"
	"cryptoStalkerBot/internal/strategy/indicators"
	"cryptoStalkerBot/internal/utils"
	"cryptoStalkerBot/internal/wallet"
)

// Replays a recorded candle series through a trader engine against a
// simulated venue, then prints the performance of every closed trade.
func main() {
	csvFile := flag.String("csv", "data/ETHUSDT_1m.csv", "candle CSV produced by fetch_candles")
	entryAsset := flag.String("pair", "ETH", "base asset of the replayed series")
	feeRate := flag.Float64("fee", 0.001, "simulated taker fee rate")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	pair, err := domain.NewPair(domain.Asset(*entryAsset), domain.Asset(cfg.QuoteAsset))
	if err != nil {
		log.Fatalf("FATAL: Invalid pair: %v", err)
	}

	// 2. Load the Recorded Series
	candles, err := utils.ReadCandlesFromCSV(*csvFile, pair)
	if err != nil {
		log.Fatalf("FATAL: Failed to load candles from %s: %v", *csvFile, err)
	}
	appLogger.Info(ctx, "Loaded candles", map[string]interface{}{
		"file":  *csvFile,
		"count": len(candles),
	})

	// 3. Assemble the Simulated Venue
	enricherCfg := indicators.DefaultEnricherConfig()
	enricherCfg.RSIPeriod = cfg.StrategyRSIPeriod
	enricher := indicators.NewEnricher(enricherCfg)
	marketFeed, err := feed.New(feed.Config{
		SamplingInterval: cfg.PeriodDuration(),
		MaxCacheSize:     len(candles) + 1,
		Enricher:         enricher,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize market feed: %v", err)
	}
	broker, err := paperbroker.New(paperbroker.Config{
		FeeRate: decimal.NewFromFloat(*feeRate),
	}, marketFeed)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize paper broker: %v", err)
	}
	funds, err := wallet.New(domain.Asset(cfg.QuoteAsset), cfg.InitialCapital)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize wallet: %v", err)
	}
	strat, err := strategy.New(cfg.StrategyName, strategy.Config{
		RSIPeriod:     cfg.StrategyRSIPeriod,
		RSIOverbought: cfg.StrategyRSIOverbought,
		RSIOversold:   cfg.StrategyRSIOversold,
		TakeProfitPct: cfg.StrategyTakeProfitPct,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize strategy: %v", err)
	}
	trader, err := engine.New(engine.Config{
		Pair:           pair,
		Period:         cfg.Period,
		CycleInterval:  cfg.CycleInterval,
		SecureStopPct:  cfg.SecureStopPct,
		SecureLimitPct: cfg.SecureLimitPct,
		Strict:         true,
	}, engine.Deps{
		Logger:   appLogger,
		Broker:   broker,
		Feed:     marketFeed,
		Wallet:   funds,
		Strategy: strat,
		Sink:     errorsink.New(appLogger, 0),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trader engine: %v", err)
	}

	// 4. Replay: seed the indicator warm-up window, then run one trade
	// cycle per candle.
	warmup := enricher.RequiredDataPoints()
	if warmup >= len(candles) {
		log.Fatalf("FATAL: Series too short: %d candles, %d needed for warm-up", len(candles), warmup)
	}
	for _, candle := range candles[:warmup] {
		if err := marketFeed.Append(candle); err != nil {
			log.Fatalf("FATAL: Failed to seed candle history: %v", err)
		}
	}
	for _, candle := range candles[warmup:] {
		if err := marketFeed.Append(candle); err != nil {
			log.Fatalf("FATAL: Replay broke candle ordering: %v", err)
		}
		if _, err := trader.Cycle(ctx); err != nil {
			log.Fatalf("FATAL: Trade cycle failed at %s: %v", candle.CloseTime, err)
		}
	}
	// Unwind whatever is still open so the ledger only holds closed trades.
	trader.Stop()
	for {
		stopped, err := trader.Cycle(ctx)
		if err != nil {
			log.Fatalf("FATAL: Failed to unwind open position: %v", err)
		}
		if stopped {
			break
		}
	}

	// 5. Report
	initialBalance, _ := cfg.InitialCapital.Float64()
	metrics := analytics.AnalyzePerformance(trader.ClosedTrades(), initialBalance)

	fmt.Printf("\n=== Paper Trading Results: %s %s ===\n", pair.Symbol(), cfg.Period)
	fmt.Printf("Candles replayed:      %d\n", len(candles)-warmup)
	fmt.Printf("Total trades:          %d (%d wins / %d losses)\n",
		metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades)
	fmt.Printf("Win rate:              %.2f%%\n", metrics.WinRate*100)
	fmt.Printf("Total profit:          %.2f %s\n", metrics.TotalProfit, cfg.QuoteAsset)
	fmt.Printf("Final balance:         %.2f %s\n", metrics.FinalBalance, cfg.QuoteAsset)
	fmt.Printf("Return on investment:  %.2f%%\n", metrics.ReturnOnInvestment*100)
	fmt.Printf("Max drawdown:          %.2f%%\n", metrics.MaxDrawdown*100)
	fmt.Printf("Average win / loss:    %.2f / %.2f\n", metrics.AverageWin, metrics.AverageLoss)
	fmt.Printf("Expectancy:            %.2f\n", metrics.Expectancy)
	fmt.Printf("Avg trade duration:    %s\n", metrics.AverageTradeDuration)
	fmt.Printf("Max consecutive W/L:   %d / %d\n", metrics.MaxConsecutiveWins, metrics.MaxConsecutiveLosses)
	fmt.Printf("Fees paid:             %s %s\n", funds.Fees().StringFixed(2), cfg.QuoteAsset)
	if monthly := metrics.GetMonthlyReturns(); len(monthly) > 0 {
		fmt.Println("\nMonthly returns:")
		for _, m := range monthly {
			fmt.Printf("  %s  %+.2f\n", m.Month.Format("2006-01"), m.Return)
		}
	}
}
