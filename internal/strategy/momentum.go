package strategy

import (
	"context"
	"fmt"

	"cryptoStalkerBot/internal/ports"
)

func init() {
	Register("momentum", func(cfg Config, logger ports.Logger) (Strategy, error) {
		return NewMomentum(cfg, logger)
	})
}

// Momentum trades oversold bounces confirmed by trend direction. It consumes
// indicator values already present on the candles; it never computes them.
//
// Entry: RSI below the oversold threshold while the SuperTrend direction is
// up and MACD is above its signal line. Exit: RSI above the overbought
// threshold, the PSAR flipping above price, or the take-profit target.
// While holding it keeps exactly one protective stop-limit order open.
type Momentum struct {
	cfg    Config
	logger ports.Logger
}

// NewMomentum creates a momentum strategy instance.
func NewMomentum(cfg Config, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds (overbought must be > oversold, between 0-100)")
	}
	if cfg.TakeProfitPct <= 0 {
		return nil, fmt.Errorf("take profit target must be positive")
	}
	return &Momentum{cfg: cfg, logger: logger}, nil
}

// RequiredDataPoints returns the minimum candle history the rules need.
// RSI looks one step further back than its period.
func (m *Momentum) RequiredDataPoints() int {
	return m.cfg.RSIPeriod + 1
}

// Decide evaluates the rules against the snapshot. Pure: no side effects.
func (m *Momentum) Decide(ctx context.Context, snap Snapshot) ([]Action, error) {
	if len(snap.Candles) < m.RequiredDataPoints() {
		return nil, nil // not enough history yet, hold still
	}
	latest := snap.Candles[len(snap.Candles)-1]
	ind := latest.Indicators

	if !snap.Holding {
		if ind.RSI < m.cfg.RSIOversold && ind.TrendUp && ind.MACD > ind.MACDSignal {
			return []Action{Buy}, nil
		}
		return nil, nil
	}

	// Holding: check exits first, then make sure a protective order exists.
	exit := ind.RSI > m.cfg.RSIOverbought ||
		(ind.PSAR > 0 && ind.PSAR > snap.CurrentPrice) ||
		(snap.EntryPrice > 0 && snap.CurrentPrice >= snap.EntryPrice*(1+m.cfg.TakeProfitPct))
	if exit {
		if snap.HasSecure {
			return []Action{CancelSecure, Sell}, nil
		}
		return []Action{Sell}, nil
	}
	if !snap.HasSecure {
		return []Action{PlaceSecure}, nil
	}
	return nil, nil
}
