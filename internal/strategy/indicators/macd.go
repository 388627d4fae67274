package indicators

import "cryptoStalkerBot/internal/domain"

// MACD implements the Moving Average Convergence Divergence line and its
// signal line.
type MACD struct {
	FastPeriod   int // e.g., 12
	SlowPeriod   int // e.g., 26
	SignalPeriod int // e.g., 9
}

// RequiredDataPoints returns the minimum number of candles needed.
func (m MACD) RequiredDataPoints() int { return m.SlowPeriod + m.SignalPeriod }

// Calculate returns the current MACD line value.
func (m MACD) Calculate(candles []domain.Candle) (float64, error) {
	line, _, err := m.Lines(candles)
	return line, err
}

// Lines returns the current MACD line and signal line values.
func (m MACD) Lines(candles []domain.Candle) (line, signal float64, err error) {
	if err := needAtLeast(candles, m.RequiredDataPoints(), "MACD"); err != nil {
		return 0, 0, err
	}
	prices := closes(candles)
	fast := emaSeries(prices, m.FastPeriod)
	slow := emaSeries(prices, m.SlowPeriod)
	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = fast[i] - slow[i]
	}
	signalSeries := emaSeries(macd, m.SignalPeriod)
	return macd[len(macd)-1], signalSeries[len(signalSeries)-1], nil
}
