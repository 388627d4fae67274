// Package paperbroker simulates a venue against an in-memory market feed.
// Market orders fill at the latest observed close; stop orders rest until a
// candle trades through their trigger. Fills are deterministic, which makes
// the paper runner's results reproducible for a given candle series.
package paperbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
)

// Config holds the simulation parameters.
type Config struct {
	// FeeRate is applied to every fill's notional, charged in the right
	// asset. Zero means fee-free simulation.
	FeeRate decimal.Decimal
}

// Broker is a simulated ports.Broker. Safe for concurrent use.
type Broker struct {
	cfg  Config
	feed ports.MarketFeed

	mu      sync.Mutex
	resting map[string]*domain.Order        // submitted stop orders by id
	fills   map[string]ports.ExecutionReport // terminal reports by order id
}

// New creates a paper broker reading prices from the feed.
func New(cfg Config, feed ports.MarketFeed) (*Broker, error) {
	if feed == nil {
		return nil, fmt.Errorf("paper broker requires a market feed")
	}
	if cfg.FeeRate.IsNegative() {
		return nil, fmt.Errorf("%w: fee rate cannot be negative", domain.ErrValidation)
	}
	return &Broker{
		cfg: cfg, feed: feed,
		resting: make(map[string]*domain.Order),
		fills:   make(map[string]ports.ExecutionReport),
	}, nil
}

// Execute simulates order submission. Market orders fill immediately at the
// latest close; stop and stop-limit orders rest until triggered and return a
// nil report, leaving the order submitted.
func (b *Broker) Execute(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", domain.ErrValidation)
	}
	b.mu.Lock()
	if report, done := b.fills[order.ID]; done {
		b.mu.Unlock()
		return &report, nil
	}
	b.mu.Unlock()

	switch order.Type {
	case domain.Market:
		latest, ok := b.feed.Latest(order.Pair)
		if !ok {
			return nil, &domain.ExecutionFailure{OrderID: order.ID, Pair: order.Pair,
				Err: fmt.Errorf("no market price observed for %s", order.Pair)}
		}
		report := b.fill(order, decimal.NewFromFloat(latest.Close), latest.CloseTime)
		return &report, nil
	case domain.Stop, domain.StopLimit:
		b.mu.Lock()
		b.resting[order.ID] = order
		b.mu.Unlock()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: order type %s not supported by the paper venue", domain.ErrValidation, order.Type)
	}
}

// Status reports the order's terminal state if it has one, evaluating resting
// stop orders against the latest candle first. Reports are idempotent by
// order id.
func (b *Broker) Status(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", domain.ErrValidation)
	}
	b.mu.Lock()
	if report, done := b.fills[order.ID]; done {
		b.mu.Unlock()
		return &report, nil
	}
	resting, isResting := b.resting[order.ID]
	b.mu.Unlock()
	if !isResting {
		return nil, nil
	}

	latest, ok := b.feed.Latest(resting.Pair)
	if !ok {
		return nil, nil
	}
	if !triggered(resting, latest) {
		return nil, nil
	}
	px := resting.StopPrice.Value
	if resting.Type == domain.StopLimit {
		px = resting.LimitPrice.Value
	}
	report := b.fill(resting, px, latest.CloseTime)
	b.mu.Lock()
	delete(b.resting, resting.ID)
	b.mu.Unlock()
	return &report, nil
}

// Cancel removes a resting order from the simulated book.
func (b *Broker) Cancel(ctx context.Context, req domain.CancelRequest) (*ports.ExecutionReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if report, done := b.fills[req.OrderID]; done {
		return &report, nil
	}
	if _, ok := b.resting[req.OrderID]; !ok {
		return nil, fmt.Errorf("%w: order %s is not resting on the paper book", domain.ErrNotFound, req.OrderID)
	}
	delete(b.resting, req.OrderID)
	report := ports.ExecutionReport{
		OrderID: req.OrderID, Status: domain.StatusCanceled, ExecutedAt: time.Now().UTC(),
	}
	b.fills[req.OrderID] = report
	return &report, nil
}

// RequestMarketPrice returns the latest cached candles for the pair.
func (b *Broker) RequestMarketPrice(ctx context.Context, pair domain.Pair, period string, limit int) ([]domain.Candle, error) {
	return b.feed.History(pair, limit), nil
}

// TradeFee returns the flat simulated fee rate for both sides.
func (b *Broker) TradeFee(ctx context.Context, pair domain.Pair) (ports.FeeRates, error) {
	return ports.FeeRates{Maker: b.cfg.FeeRate, Taker: b.cfg.FeeRate}, nil
}

// fill produces and records a completed report at the given price.
func (b *Broker) fill(order *domain.Order, px decimal.Decimal, at time.Time) ports.ExecutionReport {
	var qty, amount decimal.Decimal
	if !order.Quantity.IsZero() {
		qty = order.Quantity.Value
		amount = qty.Mul(px)
	} else {
		amount = order.Amount.Value
		qty = amount.Div(px)
	}
	report := ports.ExecutionReport{
		OrderID:          order.ID,
		Status:           domain.StatusCompleted,
		ExecutedAt:       at,
		ExecutionPrice:   domain.NewPrice(order.Pair.Right, px),
		ExecutedQuantity: domain.NewPrice(order.Pair.Left, qty),
		ExecutedAmount:   domain.NewPrice(order.Pair.Right, amount),
		Fee:              domain.NewPrice(order.Pair.Right, amount.Mul(b.cfg.FeeRate)),
	}
	b.mu.Lock()
	b.fills[order.ID] = report
	b.mu.Unlock()
	return report
}

// triggered reports whether the latest candle traded through the stop. A sell
// stop triggers when the low touches it, a buy stop when the high does.
func triggered(order *domain.Order, candle domain.Candle) bool {
	stop, _ := order.StopPrice.Value.Float64()
	if order.Move == domain.MoveSell {
		return candle.Low <= stop
	}
	return candle.High >= stop
}
