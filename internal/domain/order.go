package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType represents the kind of exchange instruction.
type OrderType string

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"
)

// OrderMove represents the direction of an order.
type OrderMove string

const (
	MoveBuy  OrderMove = "BUY"
	MoveSell OrderMove = "SELL"
)

// OrderStatus represents the lifecycle state of an order. Transitions are
// monotonic: created → submitted → one of the terminal statuses.
type OrderStatus string

const (
	StatusCreated   OrderStatus = "created"
	StatusSubmitted OrderStatus = "submitted"
	StatusCompleted OrderStatus = "completed"
	StatusCanceled  OrderStatus = "canceled"
	StatusFailed    OrderStatus = "failed"
	StatusExpired   OrderStatus = "expired"
)

// IsTerminal reports whether the status permits no further mutation.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// OrderParams holds the sizing and trigger parameters for a new order.
// A zero-value Price means "not set".
type OrderParams struct {
	Quantity Price // left-asset size
	Amount   Price // right-asset size
	Stop     Price // stop trigger, right asset
	Limit    Price // limit price, right asset
}

// CancelRequest is the payload handed to the broker to cancel an open order.
type CancelRequest struct {
	OrderID string
	Symbol  string
}

// Order represents one exchange-bound instruction and its observed outcome.
type Order struct {
	ID         string
	Type       OrderType
	Move       OrderMove
	Pair       Pair
	Quantity   Price // requested left-asset size (zero if amount-sized)
	Amount     Price // requested right-asset size (zero if quantity-sized)
	StopPrice  Price
	LimitPrice Price
	Status     OrderStatus
	CreatedAt  time.Time

	// Execution outcome, populated when a terminal state is applied.
	ExecutedAt       time.Time
	ExecutionPrice   Price // right asset per unit of left asset
	ExecutedQuantity Price // left asset
	ExecutedAmount   Price // right asset
	fee              Price // as reported by the venue, in either leg
}

// NewOrder creates an order with validated parameters.
func NewOrder(typ OrderType, move OrderMove, pair Pair, params OrderParams) (*Order, error) {
	if move != MoveBuy && move != MoveSell {
		return nil, fmt.Errorf("%w: unknown order move %q", ErrValidation, move)
	}
	switch typ {
	case Market, Limit, Stop, StopLimit:
	default:
		return nil, fmt.Errorf("%w: unknown order type %q", ErrValidation, typ)
	}
	if pair.IsZero() {
		return nil, fmt.Errorf("%w: order requires a pair", ErrValidation)
	}
	if !params.Quantity.IsZero() && params.Quantity.Asset != pair.Left {
		return nil, fmt.Errorf("%w: quantity asset %s does not match pair left %s", ErrValidation, params.Quantity.Asset, pair.Left)
	}
	if !params.Amount.IsZero() && params.Amount.Asset != pair.Right {
		return nil, fmt.Errorf("%w: amount asset %s does not match pair right %s", ErrValidation, params.Amount.Asset, pair.Right)
	}
	if !params.Stop.IsZero() && params.Stop.Asset != pair.Right {
		return nil, fmt.Errorf("%w: stop asset %s does not match pair right %s", ErrValidation, params.Stop.Asset, pair.Right)
	}
	if !params.Limit.IsZero() && params.Limit.Asset != pair.Right {
		return nil, fmt.Errorf("%w: limit asset %s does not match pair right %s", ErrValidation, params.Limit.Asset, pair.Right)
	}
	hasQty := !params.Quantity.IsZero()
	hasAmount := !params.Amount.IsZero()
	if typ == Market && hasQty == hasAmount {
		return nil, fmt.Errorf("%w: market order requires exactly one of quantity or amount", ErrValidation)
	}
	if typ != Market && !hasQty && !hasAmount {
		return nil, fmt.Errorf("%w: %s order requires a quantity or amount", ErrValidation, typ)
	}
	if (typ == Stop || typ == StopLimit) && params.Stop.IsZero() {
		return nil, fmt.Errorf("%w: %s order requires a stop price", ErrValidation, typ)
	}
	if (typ == Limit || typ == StopLimit) && params.Limit.IsZero() {
		return nil, fmt.Errorf("%w: %s order requires a limit price", ErrValidation, typ)
	}

	return &Order{
		ID:         uuid.NewString(),
		Type:       typ,
		Move:       move,
		Pair:       pair,
		Quantity:   params.Quantity,
		Amount:     params.Amount,
		StopPrice:  params.Stop,
		LimitPrice: params.Limit,
		Status:     StatusCreated,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// MarkSubmitted transitions the order from created to submitted.
func (o *Order) MarkSubmitted() error {
	if o.Status != StatusCreated {
		return fmt.Errorf("%w: cannot submit order %s in status %s", ErrState, o.ID, o.Status)
	}
	o.Status = StatusSubmitted
	return nil
}

// ApplyTerminalState records the observed outcome of the order. It fails with
// ErrState if the order already reached a terminal status, keeping terminal
// orders immutable.
func (o *Order) ApplyTerminalState(status OrderStatus, executedAt time.Time, execPrice, execQty, execAmount, fee Price) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is already %s", ErrState, o.ID, o.Status)
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", ErrValidation, status)
	}
	if status == StatusCompleted {
		if execPrice.Asset != o.Pair.Right {
			return fmt.Errorf("%w: execution price asset %s does not match pair right %s", ErrValidation, execPrice.Asset, o.Pair.Right)
		}
		if execQty.Asset != o.Pair.Left {
			return fmt.Errorf("%w: executed quantity asset %s does not match pair left %s", ErrValidation, execQty.Asset, o.Pair.Left)
		}
		if execAmount.Asset != o.Pair.Right {
			return fmt.Errorf("%w: executed amount asset %s does not match pair right %s", ErrValidation, execAmount.Asset, o.Pair.Right)
		}
		if !fee.IsZero() && fee.Asset != o.Pair.Left && fee.Asset != o.Pair.Right {
			return fmt.Errorf("%w: fee asset %s does not belong to pair %s", ErrValidation, fee.Asset, o.Pair)
		}
	}
	o.Status = status
	o.ExecutedAt = executedAt
	o.ExecutionPrice = execPrice
	o.ExecutedQuantity = execQty
	o.ExecutedAmount = execAmount
	o.fee = fee
	return nil
}

// Cancel produces the cancellation payload for the broker. Only legal while
// the order is submitted.
func (o *Order) Cancel() (CancelRequest, error) {
	if o.Status != StatusSubmitted {
		return CancelRequest{}, fmt.Errorf("%w: cannot cancel order %s in status %s", ErrState, o.ID, o.Status)
	}
	return CancelRequest{OrderID: o.ID, Symbol: o.Pair.Symbol()}, nil
}

// IsTerminal reports whether the order reached a terminal status.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// IsCompleted reports whether the order filled successfully.
func (o *Order) IsCompleted() bool {
	return o.Status == StatusCompleted
}

// FeeIn returns the paid fee expressed in the requested leg of the pair,
// converting through the execution price when the venue reported it in the
// other leg. Fees are therefore always retrievable in both legs.
func (o *Order) FeeIn(asset Asset) (Price, error) {
	if asset != o.Pair.Left && asset != o.Pair.Right {
		return Price{}, fmt.Errorf("%w: asset %s does not belong to pair %s", ErrValidation, asset, o.Pair)
	}
	if o.fee.IsZero() {
		return Price{Asset: asset, Value: decimal.Zero}, nil
	}
	if o.fee.Asset == asset {
		return o.fee, nil
	}
	if o.ExecutionPrice.Value.IsZero() {
		return Price{}, fmt.Errorf("%w: order %s has no execution price to convert the fee", ErrState, o.ID)
	}
	if asset == o.Pair.Right {
		// left-asset fee → right asset
		return Price{Asset: asset, Value: o.fee.Value.Mul(o.ExecutionPrice.Value)}, nil
	}
	// right-asset fee → left asset
	return Price{Asset: asset, Value: o.fee.Value.Div(o.ExecutionPrice.Value)}, nil
}
