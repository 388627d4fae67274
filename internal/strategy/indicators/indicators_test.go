package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoStalkerBot/internal/domain"
)

func fromCloses(prices ...float64) []domain.Candle {
	candles := make([]domain.Candle, len(prices))
	for i, p := range prices {
		candles[i] = domain.Candle{Open: p, High: p + 1, Low: p - 1, Close: p, IsFinal: true}
	}
	return candles
}

func TestRSI(t *testing.T) {
	rsi := RSI{Period: 14}

	_, err := rsi.Calculate(fromCloses(1, 2, 3))
	assert.Error(t, err, "insufficient data must fail")

	// Monotonically rising prices: RSI pegged at the top.
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	v, err := rsi.Calculate(fromCloses(rising...))
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	// Flat prices: neutral.
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	v, err = rsi.Calculate(fromCloses(flat...))
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	// Falling prices: pinned low.
	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	v, err = rsi.Calculate(fromCloses(falling...))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestSMAAndEMA(t *testing.T) {
	sma := SMA{Period: 3}
	v, err := sma.Calculate(fromCloses(1, 2, 3, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, 4.0, v) // (3+4+5)/3

	_, err = sma.Calculate(fromCloses(1, 2))
	assert.Error(t, err)

	ema := EMA{Period: 3}
	v, err = ema.Calculate(fromCloses(1, 2, 3, 4, 5))
	require.NoError(t, err)
	// Seed SMA(1,2,3)=2, then 4 and 5 pull it up; must sit between SMA seed and last price.
	assert.Greater(t, v, 2.0)
	assert.Less(t, v, 5.0)
}

func TestATR(t *testing.T) {
	atr := ATR{Period: 3}
	candles := []domain.Candle{
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
		{High: 14, Low: 12, Close: 13},
		{High: 15, Low: 13, Close: 14},
	}
	v, err := atr.Calculate(candles)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 0.01)

	_, err = atr.Calculate(candles[:2])
	assert.Error(t, err)
}

func TestMACDCrossesZeroOnTrendChange(t *testing.T) {
	macd := MACD{FastPeriod: 3, SlowPeriod: 6, SignalPeriod: 3}

	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + 2*float64(i)
	}
	line, signal, err := macd.Lines(fromCloses(rising...))
	require.NoError(t, err)
	assert.Greater(t, line, 0.0, "rising prices keep the fast EMA above the slow one")
	assert.Greater(t, signal, 0.0)

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 200 - 2*float64(i)
	}
	line, _, err = macd.Lines(fromCloses(falling...))
	require.NoError(t, err)
	assert.Less(t, line, 0.0)
}

func TestSuperTrendDirection(t *testing.T) {
	st := SuperTrend{Period: 3, Multiplier: 3}

	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + 3*float64(i)
	}
	line, up, err := st.Line(fromCloses(rising...))
	require.NoError(t, err)
	assert.True(t, up)
	assert.Less(t, line, rising[len(rising)-1], "in an uptrend the line trails below price")

	falling := make([]float64, 15)
	for i := range falling {
		falling[i] = 200 - 3*float64(i)
	}
	_, up, err = st.Line(fromCloses(falling...))
	require.NoError(t, err)
	assert.False(t, up)
}

func TestPSARTrailsTrend(t *testing.T) {
	psar := PSAR{Step: 0.02, Max: 0.2}

	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + 2*float64(i)
	}
	v, err := psar.Calculate(fromCloses(rising...))
	require.NoError(t, err)
	assert.Less(t, v, rising[len(rising)-1], "in an uptrend the SAR trails below price")

	_, err = psar.Calculate(fromCloses(100))
	assert.Error(t, err)
}

func TestEnricherFillsLatestCandle(t *testing.T) {
	cfg := DefaultEnricherConfig()
	e := NewEnricher(cfg)

	prices := make([]float64, e.RequiredDataPoints()+5)
	for i := range prices {
		prices[i] = 100 + float64(i%7) + float64(i)/3
	}
	ind := e.Enrich(fromCloses(prices...))

	assert.Greater(t, ind.RSI, 0.0)
	assert.NotZero(t, ind.SuperTrend)
	assert.NotZero(t, ind.PSAR)
	assert.NotZero(t, ind.KeltnerLow)
	assert.Greater(t, ind.KeltnerUp, ind.KeltnerLow)

	// A too-short window leaves the series zero rather than failing.
	short := e.Enrich(fromCloses(prices[:3]...))
	assert.Zero(t, short.RSI)
}
