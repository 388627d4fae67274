package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedBuy(t *testing.T, pair Pair, amount, price, qty string) *Order {
	t.Helper()
	order, err := NewOrder(Market, MoveBuy, pair, OrderParams{Amount: NewPrice(pair.Right, dec(amount))})
	require.NoError(t, err)
	require.NoError(t, order.MarkSubmitted())
	require.NoError(t, order.ApplyTerminalState(StatusCompleted, time.Now().UTC(),
		NewPrice(pair.Right, dec(price)), NewPrice(pair.Left, dec(qty)), NewPrice(pair.Right, dec(amount)), Price{}))
	return order
}

func completedSell(t *testing.T, pair Pair, qty, price, amount string) *Order {
	t.Helper()
	order, err := NewOrder(Market, MoveSell, pair, OrderParams{Quantity: NewPrice(pair.Left, dec(qty))})
	require.NoError(t, err)
	require.NoError(t, order.MarkSubmitted())
	require.NoError(t, order.ApplyTerminalState(StatusCompleted, time.Now().UTC(),
		NewPrice(pair.Right, dec(price)), NewPrice(pair.Left, dec(qty)), NewPrice(pair.Right, dec(amount)), Price{}))
	return order
}

func TestNewTradeRequiresBuyLeg(t *testing.T) {
	pair := testPair(t)
	sell, err := NewOrder(Market, MoveSell, pair, OrderParams{Quantity: NewPrice("BTC", dec("1"))})
	require.NoError(t, err)

	_, err = NewTrade(sell)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewTrade(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTradeHasPositionAndIsClosed(t *testing.T) {
	pair := testPair(t)

	buy, err := NewOrder(Market, MoveBuy, pair, OrderParams{Amount: NewPrice("USDT", dec("100"))})
	require.NoError(t, err)
	trade, err := NewTrade(buy)
	require.NoError(t, err)

	// Buy not yet executed: no position.
	assert.False(t, trade.HasPosition())
	assert.False(t, trade.IsClosed())

	require.NoError(t, buy.MarkSubmitted())
	require.NoError(t, buy.ApplyTerminalState(StatusCompleted, time.Now().UTC(),
		NewPrice("USDT", dec("10000")), NewPrice("BTC", dec("0.01")), NewPrice("USDT", dec("100")), Price{}))
	assert.True(t, trade.HasPosition())
	assert.False(t, trade.IsClosed())

	sell := completedSell(t, pair, "0.01", "11000", "110")
	require.NoError(t, trade.AttachSell(sell))
	assert.False(t, trade.HasPosition())
	assert.True(t, trade.IsClosed())
	assert.True(t, trade.RealizedPnL().Equal(dec("10")))
}

func TestTradeAttachSellValidation(t *testing.T) {
	pair := testPair(t)
	otherPair, err := NewPair("ETH", "USDT")
	require.NoError(t, err)

	trade, err := NewTrade(completedBuy(t, pair, "100", "10000", "0.01"))
	require.NoError(t, err)

	// Wrong move.
	wrongMove, err := NewOrder(Market, MoveBuy, pair, OrderParams{Amount: NewPrice("USDT", dec("50"))})
	require.NoError(t, err)
	assert.ErrorIs(t, trade.AttachSell(wrongMove), ErrValidation)

	// Pair mismatch.
	wrongPair, err := NewOrder(Market, MoveSell, otherPair, OrderParams{Quantity: NewPrice("ETH", dec("1"))})
	require.NoError(t, err)
	assert.ErrorIs(t, trade.AttachSell(wrongPair), ErrValidation)

	// Replacing a non-executed sell is allowed (secure order superseded by market sell).
	secure, err := NewOrder(StopLimit, MoveSell, pair, OrderParams{
		Quantity: NewPrice("BTC", dec("0.01")),
		Stop:     NewPrice("USDT", dec("9500")),
		Limit:    NewPrice("USDT", dec("9490")),
	})
	require.NoError(t, err)
	require.NoError(t, trade.AttachSell(secure))
	market, err := NewOrder(Market, MoveSell, pair, OrderParams{Quantity: NewPrice("BTC", dec("0.01"))})
	require.NoError(t, err)
	require.NoError(t, trade.AttachSell(market))

	// But not once the attached sell executed.
	closed, err := NewTrade(completedBuy(t, pair, "100", "10000", "0.01"))
	require.NoError(t, err)
	require.NoError(t, closed.AttachSell(completedSell(t, pair, "0.01", "11000", "110")))
	assert.ErrorIs(t, closed.AttachSell(market), ErrState)
}

type stubCandleSource struct {
	candles  []Candle
	interval time.Duration
}

func (s *stubCandleSource) Latest(pair Pair) (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

func (s *stubCandleSource) Range(pair Pair, since, until time.Time) []Candle {
	var out []Candle
	for _, c := range s.candles {
		if !c.CloseTime.Before(since) && !c.CloseTime.After(until) {
			out = append(out, c)
		}
	}
	return out
}

func (s *stubCandleSource) SamplingInterval() time.Duration { return s.interval }

func TestTradeExtremePrices(t *testing.T) {
	pair := testPair(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &stubCandleSource{
		interval: time.Minute,
		candles: []Candle{
			{Pair: pair, CloseTime: base.Add(1 * time.Minute), Low: 9900, High: 10100},
			{Pair: pair, CloseTime: base.Add(2 * time.Minute), Low: 9800, High: 10050},
			{Pair: pair, CloseTime: base.Add(3 * time.Minute), Low: 9950, High: 10200},
		},
	}

	trade, err := NewTrade(completedBuy(t, pair, "100", "10000", "0.01"))
	require.NoError(t, err)

	low, high := trade.ExtremePrices(src, base, base.Add(3*time.Minute))
	assert.Equal(t, 9800.0, low)
	assert.Equal(t, 10200.0, high)

	// Holding window shorter than one sampling interval: unknown, not zero.
	low, high = trade.ExtremePrices(src, base, base.Add(30*time.Second))
	assert.True(t, math.IsNaN(low))
	assert.True(t, math.IsNaN(high))
}
