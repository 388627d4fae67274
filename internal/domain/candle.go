package domain

import "time"

// Indicators carries pre-computed technical indicator values for one candle.
// The engine consumes these as opaque derived series; how they are computed is
// up to the feed that produced the candle.
type Indicators struct {
	RSI        float64 // Relative Strength Index
	SuperTrend float64 // SuperTrend line value
	TrendUp    bool    // SuperTrend direction
	PSAR       float64 // Parabolic SAR value
	KeltnerLow float64 // Lower Keltner channel band
	KeltnerUp  float64 // Upper Keltner channel band
	MACD       float64 // MACD line
	MACDSignal float64 // MACD signal line
}

// Candle represents a single OHLCV data point for a pair and period.
type Candle struct {
	OpenTime   time.Time  // Start time of the interval
	CloseTime  time.Time  // End time of the interval
	Pair       Pair       // Trading pair
	Period     string     // Candle period (e.g., "1m", "1h")
	Open       float64    // Opening price
	High       float64    // Highest price
	Low        float64    // Lowest price
	Close      float64    // Closing price
	Volume     float64    // Trading volume
	IsFinal    bool       // Whether this candle is final for the interval
	Indicators Indicators // Derived indicator values, if populated
}

// CandleSource is the narrow view of a market feed that domain logic needs:
// an append-only, time-ordered candle series per pair.
type CandleSource interface {
	// Latest returns the most recent candle for the pair, if any.
	Latest(pair Pair) (Candle, bool)
	// Range returns all candles whose close time falls in [since, until].
	Range(pair Pair, since, until time.Time) []Candle
	// SamplingInterval returns the feed's candle period as a duration.
	SamplingInterval() time.Duration
}
