package binancebroker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"cryptoStalkerBot/internal/domain"
)

// StreamCandles subscribes to the kline websocket for the pair and delivers
// every candle (final and in-progress) to the handler. Dropped connections
// are re-dialed with exponential backoff; the attempt counter resets after a
// healthy connection. The call blocks until the context is canceled or the
// reconnect budget is exhausted.
func (b *Broker) StreamCandles(ctx context.Context, pair domain.Pair, period string, handler func(domain.Candle)) error {
	op := "StreamCandles"
	boff := &backoff.Backoff{
		Min:    b.reconnectDelay,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	wsHandler := func(event *futures.WsKlineEvent) {
		candle, err := translateWsKline(event, pair)
		if err != nil {
			b.logger.Error(ctx, err, op+": dropping untranslatable kline event", map[string]interface{}{
				"symbol": pair.Symbol(),
			})
			return
		}
		handler(candle)
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streamErrs := make(chan error, 1)
		wsErrHandler := func(err error) {
			select {
			case streamErrs <- err:
			default:
			}
		}
		doneCh, stopCh, err := futures.WsKlineServe(pair.Symbol(), period, wsHandler, wsErrHandler)
		if err != nil {
			attempt++
			if attempt >= b.maxReconnectAttempts {
				return &domain.NetworkFailure{Op: op,
					Err: fmt.Errorf("giving up after %d connection attempts: %w", attempt, err)}
			}
			delay := boff.Duration()
			b.logger.Warn(ctx, op+": connection failed, retrying", map[string]interface{}{
				"symbol": pair.Symbol(), "attempt": attempt, "delay": delay.String(), "error": err.Error(),
			})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.logger.Info(ctx, op+": websocket connected", map[string]interface{}{
			"symbol": pair.Symbol(), "period": period,
		})
		attempt = 0
		boff.Reset()

		select {
		case <-doneCh:
			b.logger.Warn(ctx, op+": websocket closed, reconnecting", map[string]interface{}{
				"symbol": pair.Symbol(),
			})
		case err := <-streamErrs:
			b.logger.Warn(ctx, op+": websocket error, reconnecting", map[string]interface{}{
				"symbol": pair.Symbol(), "error": err.Error(),
			})
			close(stopCh)
			<-doneCh
		case <-ctx.Done():
			close(stopCh)
			<-doneCh
			return ctx.Err()
		}
	}
}

func translateWsKline(event *futures.WsKlineEvent, pair domain.Pair) (domain.Candle, error) {
	if event == nil {
		return domain.Candle{}, fmt.Errorf("received nil kline event")
	}
	k := event.Kline
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
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Pair:      pair,
		Period:    k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}
