package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
	"cryptoStalkerBot/internal/strategy"
	"cryptoStalkerBot/internal/wallet"
)

// --- Mocks ---

type mockBroker struct {
	ExecuteFunc func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error)
	StatusFunc  func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error)
	CancelFunc  func(ctx context.Context, req domain.CancelRequest) (*ports.ExecutionReport, error)

	executed []*domain.Order
	canceled []domain.CancelRequest
}

func (m *mockBroker) Execute(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	m.executed = append(m.executed, order)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, order)
	}
	return fillReport(order, "1000"), nil
}

func (m *mockBroker) Status(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, order)
	}
	return nil, nil
}

func (m *mockBroker) Cancel(ctx context.Context, req domain.CancelRequest) (*ports.ExecutionReport, error) {
	m.canceled = append(m.canceled, req)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, req)
	}
	return &ports.ExecutionReport{OrderID: req.OrderID, Status: domain.StatusCanceled, ExecutedAt: time.Now().UTC()}, nil
}

func (m *mockBroker) RequestMarketPrice(ctx context.Context, pair domain.Pair, period string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (m *mockBroker) TradeFee(ctx context.Context, pair domain.Pair) (ports.FeeRates, error) {
	return ports.FeeRates{Maker: decimal.NewFromFloat(0.001), Taker: decimal.NewFromFloat(0.001)}, nil
}

type mockFeed struct {
	candles []domain.Candle
}

func (m *mockFeed) Latest(pair domain.Pair) (domain.Candle, bool) {
	if len(m.candles) == 0 {
		return domain.Candle{}, false
	}
	return m.candles[len(m.candles)-1], true
}

func (m *mockFeed) Range(pair domain.Pair, since, until time.Time) []domain.Candle {
	return m.candles
}

func (m *mockFeed) History(pair domain.Pair, n int) []domain.Candle {
	if n >= len(m.candles) {
		return m.candles
	}
	return m.candles[len(m.candles)-n:]
}

func (m *mockFeed) SamplingInterval() time.Duration { return time.Minute }

type mockSink struct {
	reports []error
	origins []string
}

func (m *mockSink) ReportError(ctx context.Context, err error, origin string) {
	m.reports = append(m.reports, err)
	m.origins = append(m.origins, origin)
}

type mockSnapshots struct {
	saved int
	err   error
}

func (m *mockSnapshots) SaveSnapshot(ctx context.Context, kind, id string, version int, payload interface{}) error {
	m.saved++
	return m.err
}

func (m *mockSnapshots) LoadSnapshot(ctx context.Context, kind, id string, out interface{}) (int, error) {
	return 0, fmt.Errorf("no snapshot for %s/%s: %w", kind, id, domain.ErrNotFound)
}

// scriptedStrategy returns one queued action slice per Decide call.
type scriptedStrategy struct {
	script [][]strategy.Action
	errs   []error
	calls  int
}

func (s *scriptedStrategy) RequiredDataPoints() int { return 1 }

func (s *scriptedStrategy) Decide(ctx context.Context, snap strategy.Snapshot) ([]strategy.Action, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i < len(s.script) {
		return s.script[i], err
	}
	return nil, err
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// --- Helpers ---

func testPair(t *testing.T) domain.Pair {
	t.Helper()
	pair, err := domain.NewPair("ETH", "USDT")
	require.NoError(t, err)
	return pair
}

func fillReport(order *domain.Order, price string) *ports.ExecutionReport {
	px := decimal.RequireFromString(price)
	var qty, amount decimal.Decimal
	if !order.Quantity.IsZero() {
		qty = order.Quantity.Value
		amount = qty.Mul(px)
	} else {
		amount = order.Amount.Value
		qty = amount.Div(px)
	}
	return &ports.ExecutionReport{
		OrderID:          order.ID,
		Status:           domain.StatusCompleted,
		ExecutedAt:       time.Now().UTC(),
		ExecutionPrice:   domain.NewPrice(order.Pair.Right, px),
		ExecutedQuantity: domain.NewPrice(order.Pair.Left, qty),
		ExecutedAmount:   domain.NewPrice(order.Pair.Right, amount),
		Fee:              domain.NewPrice(order.Pair.Right, amount.Mul(decimal.NewFromFloat(0.001))),
	}
}

func failReport(order *domain.Order) *ports.ExecutionReport {
	return &ports.ExecutionReport{OrderID: order.ID, Status: domain.StatusFailed, ExecutedAt: time.Now().UTC()}
}

func testCandles(pair domain.Pair, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = domain.Candle{
			Pair: pair, Period: "1m",
			OpenTime: base.Add(time.Duration(i) * time.Minute), CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 100, IsFinal: true,
		}
	}
	return out
}

type fixture struct {
	trader *Trader
	broker *mockBroker
	feed   *mockFeed
	wallet *wallet.Wallet
	sink   *mockSink
	snaps  *mockSnapshots
	strat  *scriptedStrategy
}

func newFixture(t *testing.T, capital string, script ...[]strategy.Action) *fixture {
	t.Helper()
	pair := testPair(t)
	w, err := wallet.New(pair.Right, decimal.RequireFromString(capital))
	require.NoError(t, err)

	f := &fixture{
		broker: &mockBroker{},
		feed:   &mockFeed{candles: testCandles(pair, 1000, 1000, 1000)},
		wallet: w,
		sink:   &mockSink{},
		snaps:  &mockSnapshots{},
		strat:  &scriptedStrategy{script: script},
	}
	f.trader, err = New(Config{
		Pair:          pair,
		Period:        "1m",
		CycleInterval: time.Millisecond,
		SecureStopPct: 0.02,
		Strict:        false,
	}, Deps{
		Logger: nopLogger{}, Broker: f.broker, Feed: f.feed,
		Wallet: f.wallet, Strategy: f.strat, Snapshots: f.snaps, Sink: f.sink,
	})
	require.NoError(t, err)
	return f
}

func runCycle(t *testing.T, f *fixture) {
	t.Helper()
	stopped, err := f.trader.Cycle(context.Background())
	require.NoError(t, err)
	require.False(t, stopped)
}

// --- Tests ---

func TestNewValidation(t *testing.T) {
	pair := testPair(t)
	w, err := wallet.New(pair.Right, decimal.NewFromInt(100))
	require.NoError(t, err)
	deps := Deps{
		Logger: nopLogger{}, Broker: &mockBroker{}, Feed: &mockFeed{},
		Wallet: w, Strategy: &scriptedStrategy{}, Sink: &mockSink{},
	}

	_, err = New(Config{CycleInterval: time.Second, SecureStopPct: 0.02}, deps)
	assert.ErrorIs(t, err, domain.ErrValidation, "missing pair")

	_, err = New(Config{Pair: pair, SecureStopPct: 0.02}, deps)
	assert.ErrorIs(t, err, domain.ErrValidation, "missing interval")

	_, err = New(Config{Pair: pair, CycleInterval: time.Second, SecureStopPct: 1.5}, deps)
	assert.ErrorIs(t, err, domain.ErrValidation, "stop distance out of range")

	_, err = New(Config{Pair: pair, CycleInterval: time.Second, SecureStopPct: 0.02}, Deps{})
	assert.Error(t, err, "missing dependencies")
}

func TestBuyCycleReachesHolding(t *testing.T) {
	f := newFixture(t, "1000", []strategy.Action{strategy.Buy})

	runCycle(t, f)

	assert.Equal(t, StateHolding, f.trader.State())
	require.Len(t, f.broker.executed, 1)
	buy := f.broker.executed[0]
	assert.Equal(t, domain.MoveBuy, buy.Move)
	assert.Equal(t, domain.Market, buy.Type)
	// 1000 / 1.001, truncated: the taker fee is reserved up front.
	assert.True(t, buy.Amount.Value.Equal(decimal.RequireFromString("999.000999")),
		"sized net of the taker fee: %s", buy.Amount.Value)

	// Capital moved into the position; amount plus fee stays within it.
	fee := buy.Amount.Value.Mul(decimal.NewFromFloat(0.001))
	assert.True(t, buy.Amount.Value.Add(fee).LessThanOrEqual(decimal.NewFromInt(1000)))
	assert.False(t, f.wallet.BuyCapital().IsNegative(),
		"fill fee must not overdraw the wallet: %s", f.wallet.BuyCapital())
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsPositive())
	assert.Equal(t, 1, f.snaps.saved, "cycle checkpoints the wallet")
}

func TestSecurePlacedWhileHolding(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.PlaceSecure},
	)

	runCycle(t, f)
	// The secure must not fill instantly; it stays submitted.
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return nil, nil
	}
	runCycle(t, f)

	require.Len(t, f.broker.executed, 2)
	secure := f.broker.executed[1]
	assert.Equal(t, domain.StopLimit, secure.Type)
	assert.Equal(t, domain.MoveSell, secure.Move)
	assert.Equal(t, domain.StatusSubmitted, secure.Status)

	// Stop sits below the entry price by the configured distance.
	entry := f.broker.executed[0].ExecutionPrice.Value
	wantStop := entry.Mul(decimal.NewFromFloat(0.98))
	assert.True(t, secure.StopPrice.Value.Equal(wantStop),
		"stop %s want %s", secure.StopPrice.Value, wantStop)
}

func TestSellClosesTradeAndSettlesOnce(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.Sell},
	)

	runCycle(t, f)
	// Sell fills at a higher price.
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return fillReport(order, "1100"), nil
	}
	runCycle(t, f)

	assert.Equal(t, StateIdle, f.trader.State())
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsZero())
	assert.True(t, f.wallet.BuyCapital().GreaterThan(decimal.NewFromInt(1000)),
		"capital grew: %s", f.wallet.BuyCapital())

	trades := f.trader.ClosedTrades()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].IsClosed())
	assert.True(t, trades[0].RealizedPnL().IsPositive())

	// A replayed status report for the same sell must not settle twice.
	sell := f.broker.executed[1]
	before := f.wallet.BuyCapital()
	require.NoError(t, f.trader.applyReport(context.Background(), sell, fillReport(sell, "1100")))
	assert.True(t, f.wallet.BuyCapital().Equal(before), "replayed fill changed the wallet")
}

func TestSellCancelsSecureFirst(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.PlaceSecure},
		[]strategy.Action{strategy.CancelSecure, strategy.Sell},
	)

	runCycle(t, f)
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		if order.Type == domain.StopLimit {
			return nil, nil // secure rests on the book
		}
		return fillReport(order, "1050"), nil
	}
	runCycle(t, f)
	runCycle(t, f)

	require.Len(t, f.broker.canceled, 1)
	assert.Equal(t, f.broker.executed[1].ID, f.broker.canceled[0].OrderID)
	assert.Equal(t, StateIdle, f.trader.State())
	require.Len(t, f.trader.ClosedTrades(), 1)
}

func TestFailedBuyIsDropped(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.Buy},
	)
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return failReport(order), nil
	}

	runCycle(t, f)

	assert.Equal(t, StateIdle, f.trader.State(), "failed buy returns the engine to idle")
	assert.True(t, f.wallet.BuyCapital().Equal(decimal.NewFromInt(1000)), "capital untouched")
	assert.Empty(t, f.trader.ClosedTrades())

	// Next cycle is free to buy again.
	f.broker.ExecuteFunc = nil
	runCycle(t, f)
	assert.Equal(t, StateHolding, f.trader.State())
}

func TestFailedMarketSellRetriedImmediately(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.Sell},
	)

	runCycle(t, f)
	sells := 0
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		sells++
		if sells == 1 {
			return failReport(order), nil
		}
		return fillReport(order, "990"), nil
	}
	runCycle(t, f)

	assert.Equal(t, 2, sells, "failed market sell resubmitted inside the same cycle")
	assert.Equal(t, StateIdle, f.trader.State())
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsZero())
}

func TestRejectedSellRetriesAreBounded(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.Sell},
		[]strategy.Action{strategy.Sell},
	)

	runCycle(t, f)
	sells := 0
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		sells++
		return failReport(order), nil
	}
	runCycle(t, f)

	// The venue rejects every sell; the cycle must give up after a fixed
	// number of attempts instead of resubmitting forever.
	assert.Equal(t, maxSellAttempts, sells, "retries bounded within one cycle")
	assert.Equal(t, StateHolding, f.trader.State(), "position kept for the next attempt")
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsPositive())
	require.NotEmpty(t, f.sink.reports, "exhausted retries reported")
	assert.Contains(t, f.sink.origins[len(f.sink.origins)-1], "execute")

	// The next cycle starts a fresh bounded attempt; once the venue accepts,
	// the trade closes normally.
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return fillReport(order, "990"), nil
	}
	runCycle(t, f)
	assert.Equal(t, StateIdle, f.trader.State())
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsZero())
}

func TestFailedSecureResubmittedNextCycle(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.PlaceSecure},
		[]strategy.Action{strategy.PlaceSecure},
	)

	runCycle(t, f)
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return failReport(order), nil
	}
	runCycle(t, f) // secure fails, slot cleared
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return nil, nil
	}
	runCycle(t, f) // fresh secure goes out

	stopLimits := 0
	for _, o := range f.broker.executed {
		if o.Type == domain.StopLimit {
			stopLimits++
		}
	}
	assert.Equal(t, 2, stopLimits)
	last := f.broker.executed[len(f.broker.executed)-1]
	assert.Equal(t, domain.StatusSubmitted, last.Status)
}

func TestNetworkFailureLeavesOrderSubmitted(t *testing.T) {
	f := newFixture(t, "1000", []strategy.Action{strategy.Buy})
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return nil, &domain.NetworkFailure{Op: "create order", Err: context.DeadlineExceeded}
	}

	runCycle(t, f)

	require.Len(t, f.broker.executed, 1)
	assert.Equal(t, domain.StatusSubmitted, f.broker.executed[0].Status,
		"timed-out submit is not assumed failed")

	// The next refresh observes the fill instead of re-submitting.
	f.broker.ExecuteFunc = nil
	f.broker.StatusFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return fillReport(order, "1000"), nil
	}
	runCycle(t, f)
	assert.Len(t, f.broker.executed, 1, "no duplicate submission")
	assert.Equal(t, StateHolding, f.trader.State())
}

func TestConsecutiveNetworkFailuresAreFatal(t *testing.T) {
	f := newFixture(t, "1000", []strategy.Action{strategy.Buy})
	f.trader.cfg.MaxNetworkFailures = 3
	netErr := &domain.NetworkFailure{Op: "create order", Err: context.DeadlineExceeded}
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return nil, netErr
	}
	f.broker.StatusFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		return nil, netErr
	}

	var err error
	for i := 0; i < 3; i++ {
		_, err = f.trader.Cycle(context.Background())
	}
	require.Error(t, err)
	assert.True(t, domain.IsNetworkFailure(err))
	assert.NotEmpty(t, f.sink.reports, "fatal failure reported to the sink")
}

func TestDecideErrorNonStrictContinues(t *testing.T) {
	f := newFixture(t, "1000")
	f.strat.errs = []error{fmt.Errorf("indicator window too short")}

	stopped, err := f.trader.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
	require.Len(t, f.sink.reports, 1)
	assert.Contains(t, f.sink.origins[0], "decide")
}

func TestDecideErrorStrictPropagates(t *testing.T) {
	f := newFixture(t, "1000")
	f.trader.cfg.Strict = true
	f.strat.errs = []error{fmt.Errorf("indicator window too short")}

	_, err := f.trader.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indicator window too short")
	assert.Empty(t, f.sink.reports, "strict mode propagates instead of reporting")
}

func TestStopUnwindsHeldPosition(t *testing.T) {
	f := newFixture(t, "1000",
		[]strategy.Action{strategy.Buy},
		[]strategy.Action{strategy.PlaceSecure},
	)

	runCycle(t, f)
	f.broker.ExecuteFunc = func(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
		if order.Type == domain.StopLimit {
			return nil, nil
		}
		return fillReport(order, "1000"), nil
	}
	runCycle(t, f)

	f.trader.Stop()
	f.broker.ExecuteFunc = nil // market sell fills
	stopped, err := f.trader.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, StateStopped, f.trader.State())
	assert.True(t, f.wallet.Position(f.trader.Pair()).IsZero(), "position unwound before stopping")
	require.Len(t, f.broker.canceled, 1, "open secure canceled during unwind")
}

func TestStopWhileIdleStopsImmediately(t *testing.T) {
	f := newFixture(t, "1000")
	f.trader.Stop()
	stopped, err := f.trader.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- f.trader.Run(ctx) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	<-f.trader.Done()
}

func TestNoBuyWithoutCapital(t *testing.T) {
	f := newFixture(t, "0", []strategy.Action{strategy.Buy})
	runCycle(t, f)
	assert.Empty(t, f.broker.executed, "no order without capital")
	assert.Equal(t, StateIdle, f.trader.State())
}

func TestCheckpointFailureDoesNotHaltCycle(t *testing.T) {
	f := newFixture(t, "1000", []strategy.Action{strategy.Buy})
	f.snaps.err = fmt.Errorf("disk full")
	runCycle(t, f)
	assert.Equal(t, StateHolding, f.trader.State(), "cycle completed despite checkpoint failure")
}
