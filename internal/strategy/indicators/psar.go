package indicators

import "cryptoStalkerBot/internal/domain"

// PSAR implements Wilder's Parabolic Stop and Reverse.
type PSAR struct {
	Step float64 // acceleration step, e.g., 0.02
	Max  float64 // acceleration cap, e.g., 0.2
}

// RequiredDataPoints returns the minimum number of candles needed.
func (p PSAR) RequiredDataPoints() int { return 2 }

// Calculate returns the current PSAR value.
func (p PSAR) Calculate(candles []domain.Candle) (float64, error) {
	if err := needAtLeast(candles, p.RequiredDataPoints(), "PSAR"); err != nil {
		return 0, err
	}

	rising := candles[1].Close >= candles[0].Close
	sar := candles[0].Low
	ep := candles[0].High
	if !rising {
		sar = candles[0].High
		ep = candles[0].Low
	}
	af := p.Step

	for i := 1; i < len(candles); i++ {
		sar = sar + af*(ep-sar)
		if rising {
			if candles[i].Low < sar {
				// Reverse to falling.
				rising = false
				sar = ep
				ep = candles[i].Low
				af = p.Step
				continue
			}
			if candles[i].High > ep {
				ep = candles[i].High
				af += p.Step
				if af > p.Max {
					af = p.Max
				}
			}
		} else {
			if candles[i].High > sar {
				// Reverse to rising.
				rising = true
				sar = ep
				ep = candles[i].High
				af = p.Step
				continue
			}
			if candles[i].Low < ep {
				ep = candles[i].Low
				af += p.Step
				if af > p.Max {
					af = p.Max
				}
			}
		}
	}
	return sar, nil
}
