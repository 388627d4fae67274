package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"cryptoStalkerBot/config"
	"cryptoStalkerBot/internal/adapters/binancebroker"
	"cryptoStalkerBot/internal/adapters/logger"
	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/utils"
)

// Fetches recent candles from Binance and saves them as a CSV that
// paper_trader can replay.
func main() {
	entryAsset := flag.String("pair", "ETH", "base asset to fetch")
	limit := flag.Int("limit", 1500, "number of candles")
	outFile := flag.String("out", "", "output CSV path (default data/<symbol>_<period>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	pair, err := domain.NewPair(domain.Asset(*entryAsset), domain.Asset(cfg.QuoteAsset))
	if err != nil {
		log.Fatalf("FATAL: Invalid pair: %v", err)
	}

	// 3. Initialize Exchange Broker (Binance Adapter)
	broker, err := binancebroker.New(binancebroker.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance broker")
		log.Fatalf("FATAL: Failed to initialize Binance broker: %v", err)
	}

	candles, err := broker.RequestMarketPrice(ctx, pair, cfg.Period, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching candles")
		log.Fatalf("Error fetching candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{
		"pair":   pair.String(),
		"period": cfg.Period,
		"count":  len(candles),
	})

	filename := *outFile
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s.csv", pair.Symbol(), cfg.Period)
	}
	if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved candles", map[string]interface{}{"filename": filename})
}
