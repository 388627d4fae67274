package paperbroker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoStalkerBot/internal/adapters/feed"
	"cryptoStalkerBot/internal/domain"
)

func testPair(t *testing.T) domain.Pair {
	t.Helper()
	pair, err := domain.NewPair("ETH", "USDT")
	require.NoError(t, err)
	return pair
}

func newVenue(t *testing.T, feeRate string) (*Broker, *feed.Feed) {
	t.Helper()
	f, err := feed.New(feed.Config{SamplingInterval: time.Minute})
	require.NoError(t, err)
	b, err := New(Config{FeeRate: decimal.RequireFromString(feeRate)}, f)
	require.NoError(t, err)
	return b, f
}

func push(t *testing.T, f *feed.Feed, pair domain.Pair, i int, low, close float64) {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.Append(domain.Candle{
		Pair: pair, Period: "1m",
		OpenTime:  base.Add(time.Duration(i) * time.Minute),
		CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		Open:      close, High: close + 1, Low: low, Close: close,
		Volume: 10, IsFinal: true,
	}))
}

func marketBuy(t *testing.T, pair domain.Pair, amount string) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.Market, domain.MoveBuy, pair, domain.OrderParams{
		Amount: domain.NewPrice(pair.Right, decimal.RequireFromString(amount)),
	})
	require.NoError(t, err)
	require.NoError(t, order.MarkSubmitted())
	return order
}

func stopLimitSell(t *testing.T, pair domain.Pair, qty, stop, limit string) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.StopLimit, domain.MoveSell, pair, domain.OrderParams{
		Quantity: domain.NewPrice(pair.Left, decimal.RequireFromString(qty)),
		Stop:     domain.NewPrice(pair.Right, decimal.RequireFromString(stop)),
		Limit:    domain.NewPrice(pair.Right, decimal.RequireFromString(limit)),
	})
	require.NoError(t, err)
	require.NoError(t, order.MarkSubmitted())
	return order
}

func TestMarketOrderFillsAtLatestClose(t *testing.T) {
	b, f := newVenue(t, "0.001")
	pair := testPair(t)
	push(t, f, pair, 0, 99, 100)

	report, err := b.Execute(context.Background(), marketBuy(t, pair, "1000"))
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, domain.StatusCompleted, report.Status)
	assert.True(t, report.ExecutionPrice.Value.Equal(decimal.NewFromInt(100)))
	assert.True(t, report.ExecutedQuantity.Value.Equal(decimal.NewFromInt(10)), "1000/100")
	assert.True(t, report.Fee.Value.Equal(decimal.NewFromInt(1)), "0.1% of 1000")
}

func TestMarketOrderWithoutPriceFails(t *testing.T) {
	b, _ := newVenue(t, "0")
	_, err := b.Execute(context.Background(), marketBuy(t, testPair(t), "1000"))
	assert.True(t, domain.IsExecutionFailure(err))
}

func TestStopLimitRestsUntilTriggered(t *testing.T) {
	b, f := newVenue(t, "0")
	pair := testPair(t)
	ctx := context.Background()
	push(t, f, pair, 0, 99, 100)

	order := stopLimitSell(t, pair, "10", "98", "97.9")
	report, err := b.Execute(ctx, order)
	require.NoError(t, err)
	assert.Nil(t, report, "stop order rests")

	// Price holds above the stop: still resting.
	status, err := b.Status(ctx, order)
	require.NoError(t, err)
	assert.Nil(t, status)

	// A candle trades through the stop: fills at the limit price.
	push(t, f, pair, 1, 97, 98.5)
	status, err = b.Status(ctx, order)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, domain.StatusCompleted, status.Status)
	assert.True(t, status.ExecutionPrice.Value.Equal(decimal.RequireFromString("97.9")))

	// Replayed status returns the same terminal report.
	again, err := b.Status(ctx, order)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, status.ExecutionPrice, again.ExecutionPrice)
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	b, f := newVenue(t, "0")
	pair := testPair(t)
	ctx := context.Background()
	push(t, f, pair, 0, 99, 100)

	order := stopLimitSell(t, pair, "10", "98", "98")
	_, err := b.Execute(ctx, order)
	require.NoError(t, err)

	req, err := order.Cancel()
	require.NoError(t, err)
	report, err := b.Cancel(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, report.Status)

	// The canceled order never fills, even through its trigger.
	push(t, f, pair, 1, 90, 95)
	status, err := b.Status(ctx, order)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, domain.StatusCanceled, status.Status)
}

func TestCancelUnknownOrderFails(t *testing.T) {
	b, _ := newVenue(t, "0")
	_, err := b.Cancel(context.Background(), domain.CancelRequest{OrderID: "missing", Symbol: "ETHUSDT"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteIsIdempotentByOrderID(t *testing.T) {
	b, f := newVenue(t, "0")
	pair := testPair(t)
	ctx := context.Background()
	push(t, f, pair, 0, 99, 100)

	order := marketBuy(t, pair, "1000")
	first, err := b.Execute(ctx, order)
	require.NoError(t, err)

	// The same submission replayed (e.g. after a timed-out response) must
	// not fill twice.
	push(t, f, pair, 1, 199, 200)
	second, err := b.Execute(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, first.ExecutionPrice, second.ExecutionPrice)
	assert.Equal(t, first.ExecutedQuantity, second.ExecutedQuantity)
}

func TestTradeFee(t *testing.T) {
	b, _ := newVenue(t, "0.00075")
	rates, err := b.TradeFee(context.Background(), testPair(t))
	require.NoError(t, err)
	assert.True(t, rates.Taker.Equal(decimal.RequireFromString("0.00075")))
}
