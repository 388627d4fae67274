package indicators

import "cryptoStalkerBot/internal/domain"

// SuperTrend implements the SuperTrend overlay: an ATR band around the candle
// midpoint that flips direction when price crosses it.
type SuperTrend struct {
	Period     int     // ATR period, e.g., 10
	Multiplier float64 // band width in ATRs, e.g., 3
}

// RequiredDataPoints returns the minimum number of candles needed.
func (s SuperTrend) RequiredDataPoints() int { return s.Period + 1 }

// Calculate returns the current SuperTrend line value.
func (s SuperTrend) Calculate(candles []domain.Candle) (float64, error) {
	line, _, err := s.Line(candles)
	return line, err
}

// Line returns the current SuperTrend value and whether the trend is up
// (price above the line).
func (s SuperTrend) Line(candles []domain.Candle) (line float64, up bool, err error) {
	if err := needAtLeast(candles, s.RequiredDataPoints(), "SuperTrend"); err != nil {
		return 0, false, err
	}
	trs := trueRanges(candles)

	// Seed ATR, then walk the window candle by candle carrying the bands.
	atr := 0.0
	for _, tr := range trs[:s.Period] {
		atr += tr
	}
	atr /= float64(s.Period)

	var finalUpper, finalLower float64
	up = true
	for i := s.Period; i < len(candles); i++ {
		atr = (atr*float64(s.Period-1) + trs[i]) / float64(s.Period)
		mid := (candles[i].High + candles[i].Low) / 2
		upper := mid + s.Multiplier*atr
		lower := mid - s.Multiplier*atr
		prevClose := candles[i-1].Close

		// Bands only ratchet in the trend's favor.
		if i > s.Period {
			if upper < finalUpper || prevClose > finalUpper {
				finalUpper = upper
			}
			if lower > finalLower || prevClose < finalLower {
				finalLower = lower
			}
		} else {
			finalUpper, finalLower = upper, lower
		}

		if up {
			if candles[i].Close < finalLower {
				up = false
			}
		} else {
			if candles[i].Close > finalUpper {
				up = true
			}
		}
		if up {
			line = finalLower
		} else {
			line = finalUpper
		}
	}
	return line, up, nil
}
