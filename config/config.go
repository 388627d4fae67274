package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/adapters/logger"
	"cryptoStalkerBot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Allocator Parameters
	QuoteAsset     string      // capital asset of the parent pool, e.g. "USDT"
	Pairs          []string    // base assets to stalk, e.g. "ETH,BTC,SOL"
	MaxSlots       int         // concurrently active strategies
	InitialCapital decimal.Decimal
	StrategyName   string
	Cooldown       time.Duration // blacklist interval after a crashed child
	DeleteTimeout  time.Duration // bound on waiting for a forced unwind

	// Engine Parameters
	Period             string        // candle period, e.g. "1m"
	CycleInterval      time.Duration // sleep between trade cycles
	BrokerTimeout      time.Duration // per-call broker timeout
	SecureStopPct      float64       // protective stop distance below entry
	SecureLimitPct     float64       // limit distance below the stop
	Strict             bool          // propagate unexpected errors and halt
	MaxNetworkFailures int           // consecutive failures before an engine is fatal

	// Strategy Parameters
	StrategyRSIPeriod     int
	StrategyRSIOverbought float64
	StrategyRSIOversold   float64
	StrategyTakeProfitPct float64

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Allocator Parameters
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	if cfg.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}

	pairsStr := getEnv("PAIRS", "ETH")
	for _, p := range strings.Split(pairsStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == cfg.QuoteAsset {
			errs = append(errs, fmt.Sprintf("PAIRS entry %q equals QUOTE_ASSET", p))
			continue
		}
		cfg.Pairs = append(cfg.Pairs, p)
	}
	if len(cfg.Pairs) == 0 {
		errs = append(errs, "PAIRS must name at least one base asset")
	}

	cfg.MaxSlots, err = getEnvAsIntRequired("MAX_SLOTS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SLOTS: %v", err))
	} else if cfg.MaxSlots <= 0 {
		errs = append(errs, "MAX_SLOTS must be positive")
	}

	capitalStr := getEnv("INITIAL_CAPITAL", "1000")
	cfg.InitialCapital, err = decimal.NewFromString(capitalStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL %q: %v", capitalStr, err))
	} else if !cfg.InitialCapital.IsPositive() {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	cfg.StrategyName = getEnv("STRATEGY", "momentum")
	if cfg.StrategyName == "" {
		errs = append(errs, "STRATEGY must be set")
	}

	cooldownSeconds := getEnvAsInt("COOLDOWN_SECONDS", 300)
	if cooldownSeconds <= 0 {
		errs = append(errs, "COOLDOWN_SECONDS must be positive")
	}
	cfg.Cooldown = time.Duration(cooldownSeconds) * time.Second

	deleteTimeoutSeconds := getEnvAsInt("DELETE_TIMEOUT_SECONDS", 30)
	if deleteTimeoutSeconds <= 0 {
		errs = append(errs, "DELETE_TIMEOUT_SECONDS must be positive")
	}
	cfg.DeleteTimeout = time.Duration(deleteTimeoutSeconds) * time.Second

	// Engine Parameters
	cfg.Period = getEnv("PERIOD", "1m")
	if _, ok := periodDurations[cfg.Period]; !ok {
		errs = append(errs, fmt.Sprintf("unsupported PERIOD %q", cfg.Period))
	}

	cycleSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 5)
	if cycleSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleSeconds) * time.Second

	brokerTimeoutSeconds := getEnvAsInt("BROKER_TIMEOUT_SECONDS", 10)
	if brokerTimeoutSeconds <= 0 {
		errs = append(errs, "BROKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.BrokerTimeout = time.Duration(brokerTimeoutSeconds) * time.Second

	cfg.SecureStopPct, err = getEnvAsFloatRequired("SECURE_STOP_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SECURE_STOP_PCT: %v", err))
	} else if cfg.SecureStopPct <= 0 || cfg.SecureStopPct >= 1.0 {
		errs = append(errs, "SECURE_STOP_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.SecureLimitPct, err = getEnvAsFloatRequired("SECURE_LIMIT_PCT", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SECURE_LIMIT_PCT: %v", err))
	} else if cfg.SecureLimitPct < 0 || cfg.SecureLimitPct >= 1.0 {
		errs = append(errs, "SECURE_LIMIT_PCT must be between 0.0 (inclusive) and 1.0 (exclusive)")
	}

	cfg.Strict = getEnvAsBool("STRICT_MODE", false)

	cfg.MaxNetworkFailures = getEnvAsInt("MAX_NETWORK_FAILURES", 5)
	if cfg.MaxNetworkFailures <= 0 {
		errs = append(errs, "MAX_NETWORK_FAILURES must be positive")
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)
	cfg.StrategyTakeProfitPct = getEnvAsFloat("STRATEGY_TAKE_PROFIT_PCT", 0.03)

	if cfg.StrategyRSIPeriod <= 0 {
		errs = append(errs, "STRATEGY_RSI_PERIOD must be positive")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if cfg.StrategyTakeProfitPct <= 0 {
		errs = append(errs, "STRATEGY_TAKE_PROFIT_PCT must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/stalker_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// periodDurations maps the supported candle periods to their duration.
var periodDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// PeriodDuration returns the configured candle period as a duration.
func (c *Config) PeriodDuration() time.Duration {
	return periodDurations[c.Period]
}

// PairList resolves the configured base assets against the quote asset.
func (c *Config) PairList() ([]domain.Pair, error) {
	pairs := make([]domain.Pair, 0, len(c.Pairs))
	for _, left := range c.Pairs {
		pair, err := domain.NewPair(domain.Asset(left), domain.Asset(c.QuoteAsset))
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
