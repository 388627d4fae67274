// Package binancebroker adapts the Binance futures API to ports.Broker.
// Orders are tagged with the domain order id as the client order id, so a
// fill can be re-observed idempotently after a timed-out submission.
package binancebroker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// quantityPrecision truncates computed base quantities. Venue step sizes
	// vary per symbol; this stays under the finest one Binance uses.
	quantityPrecision = 6
)

// Broker implements ports.Broker on the go-binance futures client.
type Broker struct {
	client *futures.Client
	logger ports.Logger

	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds the venue connection parameters.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger

	ReconnectDelay       time.Duration // stream reconnect base delay
	MaxReconnectAttempts int           // stream reconnects before giving up
}

// New creates a Binance broker adapter.
func New(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the Binance broker")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Broker will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance broker configured", map[string]interface{}{"baseURL": client.BaseURL})

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Broker{
		client: client, logger: cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil
}

// Execute submits the order to the venue. A response observed in a terminal
// state (market fills report FILLED synchronously) is returned as a report; a
// resting order returns nil and is observed via Status.
func (b *Broker) Execute(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	op := "Execute"
	svc := b.client.NewCreateOrderService().
		Symbol(order.Pair.Symbol()).
		Side(sideOf(order.Move)).
		NewClientOrderID(order.ID)

	switch order.Type {
	case domain.Market:
		qty, err := b.marketQuantity(ctx, order)
		if err != nil {
			return nil, err
		}
		svc = svc.Type(futures.OrderTypeMarket).Quantity(qty)
	case domain.Limit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(order.Quantity.Value.String()).
			Price(order.LimitPrice.Value.String())
	case domain.Stop:
		svc = svc.Type(futures.OrderTypeStopMarket).
			Quantity(order.Quantity.Value.String()).
			StopPrice(order.StopPrice.Value.String())
	case domain.StopLimit:
		svc = svc.Type(futures.OrderTypeStop).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(order.Quantity.Value.String()).
			Price(order.LimitPrice.Value.String()).
			StopPrice(order.StopPrice.Value.String())
	default:
		return nil, fmt.Errorf("%w: order type %s not supported by the venue adapter", domain.ErrValidation, order.Type)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, b.classify(ctx, err, op, order)
	}
	b.logger.Info(ctx, "Order submitted to venue", map[string]interface{}{
		"symbol": order.Pair.Symbol(), "orderID": order.ID,
		"venueOrderID": resp.OrderID, "status": string(resp.Status),
	})
	if !terminal(resp.Status) {
		return nil, nil
	}
	return b.report(ctx, order, resp.OrderID, resp.Status, resp.UpdateTime)
}

// Status fetches the order's current state by client order id and returns a
// report once it is terminal.
func (b *Broker) Status(ctx context.Context, order *domain.Order) (*ports.ExecutionReport, error) {
	op := "Status"
	venueOrder, err := b.client.NewGetOrderService().
		Symbol(order.Pair.Symbol()).
		OrigClientOrderID(order.ID).
		Do(ctx)
	if err != nil {
		return nil, b.classify(ctx, err, op, order)
	}
	if !terminal(venueOrder.Status) {
		return nil, nil
	}
	return b.report(ctx, order, venueOrder.OrderID, venueOrder.Status, venueOrder.UpdateTime)
}

// Cancel revokes an open order by client order id.
func (b *Broker) Cancel(ctx context.Context, req domain.CancelRequest) (*ports.ExecutionReport, error) {
	op := "Cancel"
	resp, err := b.client.NewCancelOrderService().
		Symbol(req.Symbol).
		OrigClientOrderID(req.OrderID).
		Do(ctx)
	if err != nil {
		return nil, b.classify(ctx, err, op, nil)
	}
	b.logger.Info(ctx, "Order canceled on venue", map[string]interface{}{
		"symbol": req.Symbol, "orderID": req.OrderID,
	})
	return &ports.ExecutionReport{
		OrderID:    req.OrderID,
		Status:     statusOf(resp.Status),
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// RequestMarketPrice fetches the most recent candles for the pair.
func (b *Broker) RequestMarketPrice(ctx context.Context, pair domain.Pair, period string, limit int) ([]domain.Candle, error) {
	op := "RequestMarketPrice"
	klines, err := b.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(period).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, b.classify(ctx, err, op, nil)
	}
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k, pair, period)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// TradeFee fetches the account's commission rates for the symbol.
func (b *Broker) TradeFee(ctx context.Context, pair domain.Pair) (ports.FeeRates, error) {
	op := "TradeFee"
	rate, err := b.client.NewCommissionRateService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return ports.FeeRates{}, b.classify(ctx, err, op, nil)
	}
	maker, err := decimal.NewFromString(rate.MakerCommissionRate)
	if err != nil {
		return ports.FeeRates{}, fmt.Errorf("%s: parsing maker rate %q: %w", op, rate.MakerCommissionRate, err)
	}
	taker, err := decimal.NewFromString(rate.TakerCommissionRate)
	if err != nil {
		return ports.FeeRates{}, fmt.Errorf("%s: parsing taker rate %q: %w", op, rate.TakerCommissionRate, err)
	}
	return ports.FeeRates{Maker: maker, Taker: taker}, nil
}

// marketQuantity sizes a market order in the base asset. Amount-sized buys
// are converted through the latest mark price, since the venue only accepts
// base quantities.
func (b *Broker) marketQuantity(ctx context.Context, order *domain.Order) (string, error) {
	if !order.Quantity.IsZero() {
		return order.Quantity.Value.String(), nil
	}
	tickers, err := b.client.NewPremiumIndexService().Symbol(order.Pair.Symbol()).Do(ctx)
	if err != nil {
		return "", b.classify(ctx, err, "GetMarkPrice", order)
	}
	if len(tickers) == 0 {
		return "", &domain.ExecutionFailure{OrderID: order.ID, Pair: order.Pair,
			Err: fmt.Errorf("no mark price for %s", order.Pair.Symbol())}
	}
	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil || !price.IsPositive() {
		return "", &domain.ExecutionFailure{OrderID: order.ID, Pair: order.Pair,
			Err: fmt.Errorf("unusable mark price %q for %s", tickers[0].MarkPrice, order.Pair.Symbol())}
	}
	return order.Amount.Value.Div(price).Truncate(quantityPrecision).String(), nil
}

// report assembles a terminal execution report, pulling the realized fills
// and commissions from the account trade list.
func (b *Broker) report(ctx context.Context, order *domain.Order, venueOrderID int64, status futures.OrderStatusType, updatedAtMs int64) (*ports.ExecutionReport, error) {
	rep := &ports.ExecutionReport{
		OrderID:    order.ID,
		Status:     statusOf(status),
		ExecutedAt: time.UnixMilli(updatedAtMs).UTC(),
	}
	if rep.Status != domain.StatusCompleted {
		return rep, nil
	}

	trades, err := b.client.NewListAccountTradeService().
		Symbol(order.Pair.Symbol()).
		OrderID(venueOrderID).
		Do(ctx)
	if err != nil {
		return nil, b.classify(ctx, err, "ListAccountTrades", order)
	}
	qty, quote, fee := decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range trades {
		q, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing trade quantity %q: %w", t.Quantity, err)
		}
		amt, err := decimal.NewFromString(t.QuoteQuantity)
		if err != nil {
			return nil, fmt.Errorf("parsing trade quote quantity %q: %w", t.QuoteQuantity, err)
		}
		com, err := decimal.NewFromString(t.Commission)
		if err != nil {
			return nil, fmt.Errorf("parsing trade commission %q: %w", t.Commission, err)
		}
		qty = qty.Add(q)
		quote = quote.Add(amt)
		fee = fee.Add(com)
	}
	if !qty.IsPositive() {
		return nil, &domain.ExecutionFailure{OrderID: order.ID, Pair: order.Pair,
			Err: fmt.Errorf("venue reported FILLED with no trades for order %d", venueOrderID)}
	}
	rep.ExecutionPrice = domain.NewPrice(order.Pair.Right, quote.Div(qty))
	rep.ExecutedQuantity = domain.NewPrice(order.Pair.Left, qty)
	rep.ExecutedAmount = domain.NewPrice(order.Pair.Right, quote)
	rep.Fee = domain.NewPrice(order.Pair.Right, fee)
	return rep, nil
}

// classify maps venue and transport errors onto the domain error taxonomy:
// unreachable/timeout becomes NetworkFailure, a venue rejection becomes
// ExecutionFailure, everything parameter-shaped becomes ErrValidation.
func (b *Broker) classify(ctx context.Context, err error, op string, order *domain.Order) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": op, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		b.logger.Error(ctx, err, op+" failed with API error", fields)
		switch apiErr.Code {
		case -1003, -1021: // rate limited, recv window
			return &domain.NetworkFailure{Op: op, Err: err}
		case -2013: // order does not exist
			return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116,
			-1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrValidation, err)
		case -2019, -3005, -3041:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrInsufficientFunds, err)
		default:
			if order != nil {
				return &domain.ExecutionFailure{OrderID: order.ID, Pair: order.Pair, Err: err}
			}
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	// Non-API errors are transport-level: timeouts, cancellations, refused
	// or reset connections. All of them read as "venue unreachable".
	b.logger.Error(ctx, err, op+" failed", fields)
	return &domain.NetworkFailure{Op: op, Err: err}
}

func sideOf(move domain.OrderMove) futures.SideType {
	if move == domain.MoveBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// terminal reports whether the venue status will not change anymore.
func terminal(status futures.OrderStatusType) bool {
	switch status {
	case futures.OrderStatusTypeFilled, futures.OrderStatusTypeCanceled,
		futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return true
	}
	return false
}

func statusOf(status futures.OrderStatusType) domain.OrderStatus {
	switch status {
	case futures.OrderStatusTypeFilled:
		return domain.StatusCompleted
	case futures.OrderStatusTypeCanceled:
		return domain.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return domain.StatusFailed
	case futures.OrderStatusTypeExpired:
		return domain.StatusExpired
	default:
		return domain.StatusSubmitted
	}
}

func translateKline(k *futures.Kline, pair domain.Pair, period string) (domain.Candle, error) {
	if k == nil {
		return domain.Candle{}, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing open price %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing high price %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing low price %q: %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing close price %q: %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing volume %q: %w", k.Volume, err)
	}
	return domain.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Pair:      pair,
		Period:    period,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true,
	}, nil
}
