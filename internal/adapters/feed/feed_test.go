package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/strategy/indicators"
)

func testPair(t *testing.T) domain.Pair {
	t.Helper()
	pair, err := domain.NewPair("ETH", "USDT")
	require.NoError(t, err)
	return pair
}

func candleAt(pair domain.Pair, i int, close float64, final bool) domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return domain.Candle{
		Pair: pair, Period: "1m",
		OpenTime:  base.Add(time.Duration(i) * time.Minute),
		CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		Open:      close, High: close + 1, Low: close - 1, Close: close,
		Volume: 10, IsFinal: final,
	}
}

func newFeed(t *testing.T, cfg Config) *Feed {
	t.Helper()
	if cfg.SamplingInterval == 0 {
		cfg.SamplingInterval = time.Minute
	}
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func TestNewRequiresInterval(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAppendKeepsTimeOrder(t *testing.T) {
	f := newFeed(t, Config{})
	pair := testPair(t)

	require.NoError(t, f.Append(candleAt(pair, 0, 100, true)))
	require.NoError(t, f.Append(candleAt(pair, 1, 101, true)))

	err := f.Append(candleAt(pair, 1, 99, true))
	assert.ErrorIs(t, err, domain.ErrState, "out-of-order candle accepted")

	latest, ok := f.Latest(pair)
	require.True(t, ok)
	assert.Equal(t, 101.0, latest.Close)
}

func TestNonFinalCandleReplacedInPlace(t *testing.T) {
	f := newFeed(t, Config{})
	pair := testPair(t)

	require.NoError(t, f.Append(candleAt(pair, 0, 100, true)))
	require.NoError(t, f.Append(candleAt(pair, 1, 101, false)))
	require.NoError(t, f.Append(candleAt(pair, 1, 102, false)))
	require.NoError(t, f.Append(candleAt(pair, 1, 103, true)))

	assert.Equal(t, 2, f.Size(pair), "in-progress interval duplicated")
	latest, ok := f.Latest(pair)
	require.True(t, ok)
	assert.Equal(t, 103.0, latest.Close)
	assert.True(t, latest.IsFinal)
}

func TestHistorySkipsNonFinal(t *testing.T) {
	f := newFeed(t, Config{})
	pair := testPair(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.Append(candleAt(pair, i, 100+float64(i), true)))
	}
	require.NoError(t, f.Append(candleAt(pair, 5, 110, false)))

	all := f.History(pair, 0)
	assert.Len(t, all, 5)
	last2 := f.History(pair, 2)
	require.Len(t, last2, 2)
	assert.Equal(t, 103.0, last2[0].Close)
	assert.Equal(t, 104.0, last2[1].Close)
}

func TestRangeFiltersByCloseTime(t *testing.T) {
	f := newFeed(t, Config{})
	pair := testPair(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, f.Append(candleAt(pair, i, 100, true)))
	}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got := f.Range(pair, base.Add(3*time.Minute), base.Add(6*time.Minute))
	assert.Len(t, got, 4, "close times at minutes 3,4,5,6")
}

func TestCacheTrimmedToMaxSize(t *testing.T) {
	f := newFeed(t, Config{MaxCacheSize: 3})
	pair := testPair(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, f.Append(candleAt(pair, i, 100+float64(i), true)))
	}
	assert.Equal(t, 3, f.Size(pair))
	oldest := f.History(pair, 0)[0]
	assert.Equal(t, 107.0, oldest.Close, "oldest candles dropped first")
}

func TestEnricherFillsIndicators(t *testing.T) {
	enricher := indicators.NewEnricher(indicators.DefaultEnricherConfig())
	f := newFeed(t, Config{Enricher: enricher})
	pair := testPair(t)

	for i := 0; i < enricher.RequiredDataPoints()+5; i++ {
		require.NoError(t, f.Append(candleAt(pair, i, 100+float64(i%7), true)))
	}

	latest, ok := f.Latest(pair)
	require.True(t, ok)
	assert.NotZero(t, latest.Indicators.RSI)
	assert.NotZero(t, latest.Indicators.SuperTrend)
	assert.NotZero(t, latest.Indicators.KeltnerUp)
}

func TestPairsIsolated(t *testing.T) {
	f := newFeed(t, Config{})
	eth := testPair(t)
	btc, err := domain.NewPair("BTC", "USDT")
	require.NoError(t, err)

	require.NoError(t, f.Append(candleAt(eth, 0, 100, true)))
	_, ok := f.Latest(btc)
	assert.False(t, ok)
	assert.Equal(t, 0, f.Size(btc))
}
