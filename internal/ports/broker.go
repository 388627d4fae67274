package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
)

// ExecutionReport carries the venue's observed state for one order. A report
// with a non-terminal status means the order is still working on the venue.
type ExecutionReport struct {
	OrderID          string
	Status           domain.OrderStatus
	ExecutedAt       time.Time
	ExecutionPrice   domain.Price // right asset per unit of left
	ExecutedQuantity domain.Price // left asset
	ExecutedAmount   domain.Price // right asset
	Fee              domain.Price // either leg of the pair
}

// FeeRates holds the venue's maker/taker fee fractions for a pair.
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Broker defines the interface for submitting orders to a trading venue.
// The core never depends on a specific venue's wire format, only on this
// contract. Implementations must be idempotent by order id: re-submitting an
// order the venue already accepted returns its current state rather than
// placing a duplicate. Calls carry an explicit timeout via ctx; on timeout
// the order is left submitted and re-observed on the next refresh.
type Broker interface {
	// Execute submits the order and returns the venue's first observation of
	// it. Market orders typically come back completed immediately.
	Execute(ctx context.Context, order *domain.Order) (*ExecutionReport, error)

	// Status returns the venue's current state for a previously submitted
	// order. Used by the engine's refresh step.
	Status(ctx context.Context, order *domain.Order) (*ExecutionReport, error)

	// Cancel asks the venue to cancel an open order.
	Cancel(ctx context.Context, req domain.CancelRequest) (*ExecutionReport, error)

	// RequestMarketPrice retrieves up to limit recent candles for the pair
	// and period.
	RequestMarketPrice(ctx context.Context, pair domain.Pair, period string, limit int) ([]domain.Candle, error)

	// TradeFee returns the venue's maker/taker fee rates for the pair.
	TradeFee(ctx context.Context, pair domain.Pair) (FeeRates, error)
}
