package indicators

import (
	"math"

	"cryptoStalkerBot/internal/domain"
)

// ATR implements the Average True Range with Wilder's smoothing.
type ATR struct {
	Period int
}

// RequiredDataPoints returns the minimum number of candles needed.
func (a ATR) RequiredDataPoints() int { return a.Period + 1 }

// Calculate computes the ATR over the candle window.
func (a ATR) Calculate(candles []domain.Candle) (float64, error) {
	if err := needAtLeast(candles, a.RequiredDataPoints(), "ATR"); err != nil {
		return 0, err
	}
	series := trueRanges(candles)
	atr := 0.0
	for _, tr := range series[:a.Period] {
		atr += tr
	}
	atr /= float64(a.Period)
	for _, tr := range series[a.Period:] {
		atr = (atr*float64(a.Period-1) + tr) / float64(a.Period)
	}
	return atr, nil
}

// trueRanges returns the per-candle true range: the greatest of the
// high-low span and the gaps from the previous close.
func trueRanges(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	out[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}
