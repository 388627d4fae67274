// Package engine implements the per-pair trading engine: one running
// instance per (strategy, pair) that owns a wallet, issues orders against the
// broker and walks the Refresh→Decide→Execute→Settle→Checkpoint cycle once
// per polling tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
	"cryptoStalkerBot/internal/strategy"
	"cryptoStalkerBot/internal/wallet"
)

// State represents the engine's position in its trade cycle.
type State string

const (
	StateIdle         State = "IDLE"
	StateOrderPending State = "HAS_ORDER_PENDING"
	StateHolding      State = "HOLDING_POSITION"
	StateSellPending  State = "SELL_PENDING"
	StateStopped      State = "STOPPED"
)

// maxSellAttempts bounds how many times a venue-rejected market sell is
// resubmitted within one cycle before the failure goes to the sink and the
// next decide pass issues a fresh sell.
const maxSellAttempts = 3

// errSellRejected marks a market sell the venue rejected outright. Only the
// bounded loop in submitMarketSell reacts to it; it never escapes a cycle.
var errSellRejected = errors.New("market sell rejected")

// Config holds the per-engine trading parameters.
type Config struct {
	Pair           domain.Pair
	Period         string        // candle period, e.g. "1m"
	CycleInterval  time.Duration // sleep between trade cycles
	BrokerTimeout  time.Duration // timeout applied to each broker call
	SecureStopPct  float64       // protective stop distance below entry, e.g. 0.02
	SecureLimitPct float64       // limit distance below the stop, e.g. 0.001
	// Strict propagates any unexpected decision error and halts the engine,
	// surfacing logic defects before capital is at risk. In normal mode the
	// error is reported to the sink and the polling loop continues.
	Strict bool
	// MaxNetworkFailures is the number of consecutive broker failures after
	// which the engine gives up. Zero means 5.
	MaxNetworkFailures int
}

// Trader runs the decision-and-execution loop for one pair.
type Trader struct {
	cfg       Config
	logger    ports.Logger
	broker    ports.Broker
	feed      ports.MarketFeed
	wallet    *wallet.Wallet
	strat     strategy.Strategy
	snapshots ports.SnapshotRepository // optional
	sink      ports.ErrorSink

	mu          sync.Mutex
	state       State
	trade       *domain.Trade
	secure      *domain.Order
	archive     []*domain.Trade
	netFailures int
	stopping    bool
	taker       decimal.Decimal // cached venue taker rate
	takerKnown  bool
	done        chan struct{}
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Logger    ports.Logger
	Broker    ports.Broker
	Feed      ports.MarketFeed
	Wallet    *wallet.Wallet
	Strategy  strategy.Strategy
	Snapshots ports.SnapshotRepository // may be nil; checkpointing is skipped
	Sink      ports.ErrorSink
}

// New creates an engine instance.
func New(cfg Config, deps Deps) (*Trader, error) {
	if deps.Logger == nil || deps.Broker == nil || deps.Feed == nil || deps.Wallet == nil || deps.Strategy == nil || deps.Sink == nil {
		return nil, fmt.Errorf("missing required dependencies for trader engine")
	}
	if cfg.Pair.IsZero() {
		return nil, fmt.Errorf("%w: trader requires a pair", domain.ErrValidation)
	}
	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("%w: cycle interval must be positive", domain.ErrValidation)
	}
	if cfg.SecureStopPct <= 0 || cfg.SecureStopPct >= 1 {
		return nil, fmt.Errorf("%w: secure stop distance must be between 0 and 1", domain.ErrValidation)
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	if cfg.MaxNetworkFailures <= 0 {
		cfg.MaxNetworkFailures = 5
	}
	if cfg.Period == "" {
		cfg.Period = "1m"
	}
	return &Trader{
		cfg:    cfg,
		logger: deps.Logger, broker: deps.Broker, feed: deps.Feed,
		wallet: deps.Wallet, strat: deps.Strategy,
		snapshots: deps.Snapshots, sink: deps.Sink,
		state: StateIdle,
		done:  make(chan struct{}),
	}, nil
}

// Pair returns the engine's trading pair.
func (t *Trader) Pair() domain.Pair { return t.cfg.Pair }

// Wallet returns the engine's capital pool.
func (t *Trader) Wallet() *wallet.Wallet { return t.wallet }

// State returns the engine's current state.
func (t *Trader) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ClosedTrades returns the archived closed trades.
func (t *Trader) ClosedTrades() []*domain.Trade {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.Trade(nil), t.archive...)
}

// Stop requests a cooperative stop. The flag is checked at the top of each
// cycle; a held position is unwound with a forced sell before the loop ends.
func (t *Trader) Stop() {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
}

// Done is closed when Run has exited.
func (t *Trader) Done() <-chan struct{} { return t.done }

// Run drives the trade cycle until the engine is stopped or fails fatally.
// Context cancellation counts as a stop request.
func (t *Trader) Run(ctx context.Context) error {
	defer close(t.done)
	t.logger.Info(ctx, "Trader engine starting", map[string]interface{}{
		"pair": t.cfg.Pair.String(), "interval": t.cfg.CycleInterval.String(),
	})
	ticker := time.NewTicker(t.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if stopped, err := t.Cycle(ctx); err != nil {
			t.setState(StateStopped)
			t.logger.Error(ctx, err, "Trader engine halted", map[string]interface{}{"pair": t.cfg.Pair.String()})
			return err
		} else if stopped {
			t.logger.Info(ctx, "Trader engine stopped", map[string]interface{}{"pair": t.cfg.Pair.String()})
			return nil
		}
		select {
		case <-ctx.Done():
			t.mu.Lock()
			aborting := t.stopping
			t.mu.Unlock()
			if aborting {
				// Cancellation after a stop request is the hard abort: the
				// owner gave up waiting for the unwind.
				t.setState(StateStopped)
				return ctx.Err()
			}
			t.Stop()
		case <-ticker.C:
		}
	}
}

// Cycle executes one pass of the trade cycle: refresh open orders, decide,
// execute the actions, checkpoint. Returns stopped=true once the engine has
// fully wound down after a stop request; a non-nil error is fatal for this
// engine instance only.
func (t *Trader) Cycle(ctx context.Context) (stopped bool, err error) {
	t.mu.Lock()
	stopping := t.stopping
	t.mu.Unlock()

	// Refresh: observe every non-terminal order and settle new fills.
	if err := t.refresh(ctx); err != nil {
		if domain.IsNetworkFailure(err) {
			return false, t.recordNetworkFailure(ctx, err)
		}
		return t.boundary(ctx, err, "refresh")
	}
	t.resetNetworkFailures()

	// Decide: pure rule evaluation, or the forced unwind when stopping.
	actions, err := t.decide(ctx, stopping)
	if err != nil {
		return t.boundary(ctx, err, "decide")
	}

	// Execute the actions in order.
	if err := t.execute(ctx, actions); err != nil {
		if domain.IsNetworkFailure(err) {
			return false, t.recordNetworkFailure(ctx, err)
		}
		return t.boundary(ctx, err, "execute")
	}

	// Checkpoint never blocks the next cycle on failure.
	t.checkpoint(ctx)

	if stopping && t.unwound() {
		t.setState(StateStopped)
		return true, nil
	}
	return false, nil
}

// boundary is the single recover-vs-propagate decision point for cycle
// errors. Strict mode propagates; normal mode reports and keeps polling.
func (t *Trader) boundary(ctx context.Context, err error, step string) (bool, error) {
	origin := fmt.Sprintf("engine[%s].%s", t.cfg.Pair, step)
	if t.cfg.Strict {
		return false, fmt.Errorf("%s: %w", origin, err)
	}
	t.logger.Error(ctx, err, "Trade cycle step failed, continuing", map[string]interface{}{
		"pair": t.cfg.Pair.String(), "step": step,
	})
	t.sink.ReportError(ctx, err, origin)
	return false, nil
}

func (t *Trader) recordNetworkFailure(ctx context.Context, err error) error {
	t.mu.Lock()
	t.netFailures++
	failures := t.netFailures
	t.mu.Unlock()
	if failures >= t.cfg.MaxNetworkFailures {
		fatal := fmt.Errorf("broker unreachable for %d consecutive cycles: %w", failures, err)
		t.sink.ReportError(ctx, fatal, fmt.Sprintf("engine[%s]", t.cfg.Pair))
		return fatal
	}
	t.logger.Warn(ctx, "Broker unreachable, will retry next cycle", map[string]interface{}{
		"pair": t.cfg.Pair.String(), "consecutiveFailures": failures, "error": err.Error(),
	})
	return nil
}

func (t *Trader) resetNetworkFailures() {
	t.mu.Lock()
	t.netFailures = 0
	t.mu.Unlock()
}

func (t *Trader) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// unwound reports whether no position is held and no order is in flight.
func (t *Trader) unwound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trade == nil || (!t.trade.HasPosition() && t.trade.Buy.IsTerminal())
}

// refresh asks the broker for the status of every non-terminal order and
// applies observed terminal states. Settlement happens here: a completed fill
// updates the wallet exactly once.
func (t *Trader) refresh(ctx context.Context) error {
	for _, order := range t.openOrders() {
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.BrokerTimeout)
		report, err := t.broker.Status(callCtx, order)
		cancel()
		if err != nil {
			// Left submitted on purpose: re-observed next refresh, never
			// assumed failed, so a timed-out call cannot double-submit.
			return err
		}
		if report == nil || !report.Status.IsTerminal() {
			continue
		}
		if err := t.applyReport(ctx, order, report); err != nil {
			if errors.Is(err, errSellRejected) {
				// A resting sell died on the venue; drive the bounded
				// resubmission from here.
				if err := t.submitMarketSell(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}
	return nil
}

func (t *Trader) openOrders() []*domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var open []*domain.Order
	add := func(o *domain.Order) {
		if o != nil && o.Status == domain.StatusSubmitted {
			open = append(open, o)
		}
	}
	if t.trade != nil {
		add(t.trade.Buy)
		add(t.trade.Sell)
	}
	if t.secure != nil && (t.trade == nil || t.secure != t.trade.Sell) {
		add(t.secure)
	}
	return open
}

// applyReport copies a terminal execution report onto the order and runs the
// per-order-kind settlement and retry policy.
func (t *Trader) applyReport(ctx context.Context, order *domain.Order, report *ports.ExecutionReport) error {
	if order.IsTerminal() {
		return nil // already applied on a previous observation
	}
	if err := order.ApplyTerminalState(report.Status, report.ExecutedAt,
		report.ExecutionPrice, report.ExecutedQuantity, report.ExecutedAmount, report.Fee); err != nil {
		return err
	}
	t.logger.Info(ctx, "Order reached terminal state", map[string]interface{}{
		"pair": t.cfg.Pair.String(), "orderID": order.ID, "move": string(order.Move),
		"type": string(order.Type), "status": string(order.Status),
	})

	switch order.Status {
	case domain.StatusCompleted:
		return t.settle(ctx, order)
	case domain.StatusCanceled:
		t.mu.Lock()
		if t.secure == order {
			t.secure = nil
		}
		t.mu.Unlock()
		return nil
	case domain.StatusFailed, domain.StatusExpired:
		return t.retryAfterFailure(ctx, order)
	}
	return nil
}

// settle applies a completed order to the wallet and advances the engine
// state machine. Settling is idempotent by order id.
func (t *Trader) settle(ctx context.Context, order *domain.Order) error {
	tx, err := t.wallet.SettleOrder(order)
	if err != nil {
		return err
	}
	if tx == nil {
		return nil // replayed fill, already applied
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if order.Move == domain.MoveBuy {
		t.state = StateHolding
		return nil
	}
	// A completed sell closes the trade.
	if t.secure == order {
		t.secure = nil
	}
	if t.trade != nil && t.trade.Sell == order {
		t.archive = append(t.archive, t.trade)
		t.trade = nil
		t.state = StateIdle
	}
	return nil
}

// retryAfterFailure applies the per-order-kind policy: failed buys are
// dropped, failed market sells are flagged for the bounded retry loop in
// submitMarketSell, failed secure orders are resubmitted on the next cycle.
func (t *Trader) retryAfterFailure(ctx context.Context, order *domain.Order) error {
	switch {
	case order.Move == domain.MoveBuy:
		// Capital remains available for the next cycle.
		t.mu.Lock()
		if t.trade != nil && t.trade.Buy == order {
			t.trade = nil
			t.state = StateIdle
		}
		t.mu.Unlock()
		t.logger.Warn(ctx, "Buy order failed, dropped", map[string]interface{}{
			"pair": t.cfg.Pair.String(), "orderID": order.ID,
		})
		return nil

	case order.Type == domain.Market:
		// The position is still held. Signal the bounded retry loop; never
		// resubmit from here, the failure may repeat indefinitely.
		t.mu.Lock()
		if t.state == StateSellPending {
			t.state = StateHolding
		}
		t.mu.Unlock()
		t.logger.Warn(ctx, "Market sell failed", map[string]interface{}{
			"pair": t.cfg.Pair.String(), "orderID": order.ID,
		})
		return fmt.Errorf("%w: order %s ended %s", errSellRejected, order.ID, order.Status)

	default:
		// Secure order: a fresh one is placed by the next decide pass.
		t.mu.Lock()
		if t.secure == order {
			t.secure = nil
		}
		t.mu.Unlock()
		t.logger.Warn(ctx, "Secure order failed, will resubmit next cycle", map[string]interface{}{
			"pair": t.cfg.Pair.String(), "orderID": order.ID,
		})
		return nil
	}
}

// decide builds the strategy snapshot and evaluates the rules. When the
// engine is stopping with a held position it forces the unwind instead.
func (t *Trader) decide(ctx context.Context, stopping bool) ([]strategy.Action, error) {
	t.mu.Lock()
	holding := t.trade != nil && t.trade.HasPosition()
	hasSecure := t.secure != nil && t.secure.Status == domain.StatusSubmitted
	sellInFlight := t.state == StateSellPending
	var entry float64
	if holding {
		entry, _ = t.trade.Buy.ExecutionPrice.Value.Float64()
	}
	t.mu.Unlock()

	if stopping {
		if holding && !sellInFlight {
			if hasSecure {
				return []strategy.Action{strategy.CancelSecure, strategy.Sell}, nil
			}
			return []strategy.Action{strategy.Sell}, nil
		}
		return nil, nil
	}
	if sellInFlight {
		return nil, nil // wait for the close to settle
	}

	candles := t.feed.History(t.cfg.Pair, t.strat.RequiredDataPoints())
	if len(candles) == 0 {
		return nil, nil
	}
	snap := strategy.Snapshot{
		Candles:      candles,
		CurrentPrice: candles[len(candles)-1].Close,
		Holding:      holding,
		HasSecure:    hasSecure,
		EntryPrice:   entry,
	}
	return t.strat.Decide(ctx, snap)
}

// execute applies the decided actions in order.
func (t *Trader) execute(ctx context.Context, actions []strategy.Action) error {
	for _, action := range actions {
		var err error
		switch action {
		case strategy.Buy:
			err = t.submitBuy(ctx)
		case strategy.PlaceSecure:
			err = t.placeSecure(ctx)
		case strategy.Sell:
			err = t.submitMarketSell(ctx)
		case strategy.CancelSecure:
			err = t.cancelSecure(ctx)
		default:
			err = fmt.Errorf("%w: unknown action %s", domain.ErrValidation, action)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// submitBuy creates and submits a market buy sized from the wallet's buy
// capital net of the venue's taker fee, wrapping it in a fresh trade.
func (t *Trader) submitBuy(ctx context.Context) error {
	t.mu.Lock()
	busy := t.trade != nil
	t.mu.Unlock()
	if busy {
		return nil // a trade is already in flight
	}
	capital := t.wallet.BuyCapital()
	if !capital.IsPositive() {
		t.logger.Debug(ctx, "No buy capital available", map[string]interface{}{"pair": t.cfg.Pair.String()})
		return nil
	}
	rate, err := t.takerFeeRate(ctx)
	if err != nil {
		return err
	}
	amount := capital
	if rate.IsPositive() {
		// The fill fee is charged on top of the amount; reserve it so the
		// wallet cannot be overdrawn.
		amount = capital.Div(decimal.NewFromInt(1).Add(rate)).RoundDown(8)
	}
	if !amount.IsPositive() {
		return nil
	}
	order, err := domain.NewOrder(domain.Market, domain.MoveBuy, t.cfg.Pair, domain.OrderParams{
		Amount: domain.NewPrice(t.cfg.Pair.Right, amount),
	})
	if err != nil {
		return err
	}
	trade, err := domain.NewTrade(order)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.trade = trade
	t.state = StateOrderPending
	t.mu.Unlock()
	return t.submit(ctx, order)
}

// placeSecure submits a protective stop-limit sell covering the whole held
// position.
func (t *Trader) placeSecure(ctx context.Context) error {
	t.mu.Lock()
	trade := t.trade
	hasSecure := t.secure != nil
	t.mu.Unlock()
	if trade == nil || !trade.HasPosition() || hasSecure {
		return nil
	}
	qty := t.wallet.Position(t.cfg.Pair)
	if !qty.IsPositive() {
		return nil
	}
	entry := trade.Buy.ExecutionPrice.Value
	stop := entry.Mul(decimal.NewFromFloat(1 - t.cfg.SecureStopPct))
	limit := stop
	if t.cfg.SecureLimitPct > 0 {
		limit = stop.Mul(decimal.NewFromFloat(1 - t.cfg.SecureLimitPct))
	}
	order, err := domain.NewOrder(domain.StopLimit, domain.MoveSell, t.cfg.Pair, domain.OrderParams{
		Quantity: domain.NewPrice(t.cfg.Pair.Left, qty),
		Stop:     domain.NewPrice(t.cfg.Pair.Right, stop),
		Limit:    domain.NewPrice(t.cfg.Pair.Right, limit),
	})
	if err != nil {
		return err
	}
	if err := trade.AttachSell(order); err != nil {
		return err
	}
	t.mu.Lock()
	t.secure = order
	t.mu.Unlock()
	return t.submit(ctx, order)
}

// submitMarketSell closes the whole held position at market. A venue
// rejection is retried up to maxSellAttempts within the cycle; on exhaustion
// the failure is reported to the sink and the position stays held, so the
// next decide pass issues a fresh sell.
func (t *Trader) submitMarketSell(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := t.placeMarketSell(ctx)
		if !errors.Is(err, errSellRejected) {
			return err
		}
		if attempt >= maxSellAttempts {
			t.sink.ReportError(ctx, fmt.Errorf("market sell rejected %d times: %w", attempt, err),
				fmt.Sprintf("engine[%s].execute", t.cfg.Pair))
			return nil
		}
		t.logger.Warn(ctx, "Retrying market sell", map[string]interface{}{
			"pair": t.cfg.Pair.String(), "attempt": attempt + 1,
		})
	}
}

func (t *Trader) placeMarketSell(ctx context.Context) error {
	t.mu.Lock()
	trade := t.trade
	t.mu.Unlock()
	if trade == nil || !trade.HasPosition() {
		return nil
	}
	qty := t.wallet.Position(t.cfg.Pair)
	if !qty.IsPositive() {
		return nil
	}
	order, err := domain.NewOrder(domain.Market, domain.MoveSell, t.cfg.Pair, domain.OrderParams{
		Quantity: domain.NewPrice(t.cfg.Pair.Left, qty),
	})
	if err != nil {
		return err
	}
	if err := trade.AttachSell(order); err != nil {
		return err
	}
	t.mu.Lock()
	t.state = StateSellPending
	t.mu.Unlock()
	return t.submit(ctx, order)
}

// takerFeeRate returns the venue's taker fee fraction, fetched once and
// cached for the engine's lifetime.
func (t *Trader) takerFeeRate(ctx context.Context) (decimal.Decimal, error) {
	t.mu.Lock()
	if t.takerKnown {
		rate := t.taker
		t.mu.Unlock()
		return rate, nil
	}
	t.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, t.cfg.BrokerTimeout)
	fees, err := t.broker.TradeFee(callCtx, t.cfg.Pair)
	cancel()
	if err != nil {
		return decimal.Decimal{}, err
	}
	t.mu.Lock()
	t.taker = fees.Taker
	t.takerKnown = true
	t.mu.Unlock()
	return fees.Taker, nil
}

// cancelSecure cancels the open protective order if it is still cancelable.
func (t *Trader) cancelSecure(ctx context.Context) error {
	t.mu.Lock()
	secure := t.secure
	t.mu.Unlock()
	if secure == nil {
		return nil
	}
	req, err := secure.Cancel()
	if err != nil {
		if errors.Is(err, domain.ErrState) {
			return nil // already terminal or never submitted
		}
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.BrokerTimeout)
	report, err := t.broker.Cancel(callCtx, req)
	cancel()
	if err != nil {
		return err
	}
	if report != nil && report.Status.IsTerminal() {
		return t.applyReport(ctx, secure, report)
	}
	return nil
}

// submit marks the order submitted and hands it to the broker, applying any
// immediately observed terminal state (market orders usually fill at once).
func (t *Trader) submit(ctx context.Context, order *domain.Order) error {
	if err := order.MarkSubmitted(); err != nil {
		return err
	}
	t.logger.Info(ctx, "Submitting order", map[string]interface{}{
		"pair": t.cfg.Pair.String(), "orderID": order.ID,
		"move": string(order.Move), "type": string(order.Type),
	})
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.BrokerTimeout)
	report, err := t.broker.Execute(callCtx, order)
	cancel()
	if err != nil {
		if domain.IsNetworkFailure(err) {
			// Left submitted: re-observed next refresh, never re-submitted.
			return err
		}
		// Venue rejected the order outright.
		if applyErr := order.ApplyTerminalState(domain.StatusFailed, time.Now().UTC(),
			domain.Price{}, domain.Price{}, domain.Price{}, domain.Price{}); applyErr != nil {
			return applyErr
		}
		return t.retryAfterFailure(ctx, order)
	}
	if report != nil && report.Status.IsTerminal() {
		return t.applyReport(ctx, order, report)
	}
	return nil
}

// checkpoint persists the wallet snapshot for observability. Failures are
// logged and never block the next cycle.
func (t *Trader) checkpoint(ctx context.Context) {
	if t.snapshots == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.BrokerTimeout)
	defer cancel()
	snap := t.wallet.Snapshot()
	if err := t.snapshots.SaveSnapshot(callCtx, "wallet", t.cfg.Pair.Symbol(), wallet.SnapshotVersion, snap); err != nil {
		t.logger.Warn(ctx, "Checkpoint failed", map[string]interface{}{
			"pair": t.cfg.Pair.String(), "error": err.Error(),
		})
	}
}
