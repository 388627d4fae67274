package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade pairs exactly one buy order with at most one closing sell order for
// the same pair. It is created when the buy order is submitted and archived
// once both legs executed.
type Trade struct {
	ID       string
	Pair     Pair
	Buy      *Order
	Sell     *Order
	OpenedAt time.Time
}

// NewTrade creates a trade around its buy leg.
func NewTrade(buy *Order) (*Trade, error) {
	if buy == nil {
		return nil, fmt.Errorf("%w: trade requires a buy order", ErrValidation)
	}
	if buy.Move != MoveBuy {
		return nil, fmt.Errorf("%w: trade buy leg must be a buy order, got %s", ErrValidation, buy.Move)
	}
	return &Trade{
		ID:       uuid.NewString(),
		Pair:     buy.Pair,
		Buy:      buy,
		OpenedAt: time.Now().UTC(),
	}, nil
}

// AttachSell attaches or replaces the closing sell leg. A later attach
// replaces an earlier sell that never executed (e.g., a canceled secure
// order superseded by a market sell).
func (t *Trade) AttachSell(sell *Order) error {
	if sell == nil {
		return fmt.Errorf("%w: nil sell order", ErrValidation)
	}
	if sell.Move != MoveSell {
		return fmt.Errorf("%w: trade sell leg must be a sell order, got %s", ErrValidation, sell.Move)
	}
	if sell.Pair != t.Pair {
		return fmt.Errorf("%w: sell pair %s does not match trade pair %s", ErrValidation, sell.Pair, t.Pair)
	}
	if t.Sell != nil && t.Sell.IsCompleted() {
		return fmt.Errorf("%w: trade %s already closed", ErrState, t.ID)
	}
	t.Sell = sell
	return nil
}

// HasPosition reports whether the buy leg executed and no sell leg has
// executed yet, i.e. the trade currently holds the left asset.
func (t *Trade) HasPosition() bool {
	return t.Buy.IsCompleted() && (t.Sell == nil || !t.Sell.IsCompleted())
}

// IsClosed reports whether both legs executed.
func (t *Trade) IsClosed() bool {
	return t.Buy.IsCompleted() && t.Sell != nil && t.Sell.IsCompleted()
}

// RealizedPnL returns the right-asset profit of a closed trade, net of both
// legs' fees. Zero for an open trade.
func (t *Trade) RealizedPnL() decimal.Decimal {
	if !t.IsClosed() {
		return decimal.Zero
	}
	pnl := t.Sell.ExecutedAmount.Value.Sub(t.Buy.ExecutedAmount.Value)
	if buyFee, err := t.Buy.FeeIn(t.Pair.Right); err == nil {
		pnl = pnl.Sub(buyFee.Value)
	}
	if sellFee, err := t.Sell.FeeIn(t.Pair.Right); err == nil {
		pnl = pnl.Sub(sellFee.Value)
	}
	return pnl
}

// ExtremePrices returns the lowest low and highest high observed by the feed
// across [since, until]. When the window is shorter than one feed sampling
// interval there is nothing to observe; both values are NaN and the caller
// must treat them as unknown, not zero.
func (t *Trade) ExtremePrices(src CandleSource, since, until time.Time) (low, high float64) {
	if until.Sub(since) < src.SamplingInterval() {
		return math.NaN(), math.NaN()
	}
	candles := src.Range(t.Pair, since, until)
	if len(candles) == 0 {
		return math.NaN(), math.NaN()
	}
	low, high = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}
	return low, high
}
