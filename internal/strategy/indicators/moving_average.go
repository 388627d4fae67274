package indicators

import "cryptoStalkerBot/internal/domain"

// SMA implements the Simple Moving Average over closing prices.
type SMA struct {
	Period int
}

// RequiredDataPoints returns the minimum number of candles needed.
func (s SMA) RequiredDataPoints() int { return s.Period }

// Calculate computes the SMA over the last Period candles.
func (s SMA) Calculate(candles []domain.Candle) (float64, error) {
	if err := needAtLeast(candles, s.Period, "SMA"); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, c := range candles[len(candles)-s.Period:] {
		sum += c.Close
	}
	return sum / float64(s.Period), nil
}

// EMA implements the Exponential Moving Average over closing prices, seeded
// with an SMA of the first Period values.
type EMA struct {
	Period int
}

// RequiredDataPoints returns the minimum number of candles needed.
func (e EMA) RequiredDataPoints() int { return e.Period }

// Calculate computes the EMA over the whole candle window.
func (e EMA) Calculate(candles []domain.Candle) (float64, error) {
	if err := needAtLeast(candles, e.Period, "EMA"); err != nil {
		return 0, err
	}
	prices := closes(candles)
	return emaSeries(prices, e.Period)[len(prices)-1], nil
}

// emaSeries computes the full EMA series for a price slice. The first
// Period-1 entries repeat the SMA seed.
func emaSeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	seed := 0.0
	for _, p := range prices[:period] {
		seed += p
	}
	seed /= float64(period)
	multiplier := 2.0 / (float64(period) + 1)
	for i := range prices {
		if i < period {
			out[i] = seed
			continue
		}
		out[i] = (prices[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}
