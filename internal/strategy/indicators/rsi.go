package indicators

import "cryptoStalkerBot/internal/domain"

// RSI implements the Relative Strength Index using Wilder's smoothing.
type RSI struct {
	Period int
}

// RequiredDataPoints returns the minimum number of candles needed.
// RSI looks one step further back than its period.
func (r RSI) RequiredDataPoints() int { return r.Period + 1 }

// Calculate computes the RSI value over the candle window.
func (r RSI) Calculate(candles []domain.Candle) (float64, error) {
	if err := needAtLeast(candles, r.RequiredDataPoints(), "RSI"); err != nil {
		return 0, err
	}
	prices := closes(candles)

	changes := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes = append(changes, prices[i]-prices[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < r.Period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(r.Period)
	avgLoss /= float64(r.Period)

	// Wilder's smoothing over the remainder of the window.
	for i := r.Period; i < len(changes); i++ {
		gain, loss := 0.0, 0.0
		if changes[i] > 0 {
			gain = changes[i]
		} else {
			loss = -changes[i]
		}
		avgGain = (avgGain*float64(r.Period-1) + gain) / float64(r.Period)
		avgLoss = (avgLoss*float64(r.Period-1) + loss) / float64(r.Period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // neutral if no change
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi, nil
}
