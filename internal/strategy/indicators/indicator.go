// Package indicators computes the derived series the strategies consume.
// Everything operates on closed candles; values land on domain.Indicators via
// Enrich so the rest of the system treats them as opaque fields.
package indicators

import (
	"fmt"

	"cryptoStalkerBot/internal/domain"
)

// Indicator computes one scalar value from a candle window.
type Indicator interface {
	// Calculate computes the indicator value over the given candles,
	// most recent last.
	Calculate(candles []domain.Candle) (float64, error)

	// RequiredDataPoints returns the minimum number of candles needed.
	RequiredDataPoints() int
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func needAtLeast(candles []domain.Candle, n int, name string) error {
	if len(candles) < n {
		return fmt.Errorf("not enough data (%d) to calculate %s (need %d)", len(candles), name, n)
	}
	return nil
}
