// Package feed provides an in-memory, append-only candle series per pair. It
// backs both the live engines (fed from a broker stream) and the paper runner
// (fed from replayed history).
package feed

import (
	"fmt"
	"sync"
	"time"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/strategy/indicators"
)

const defaultMaxCacheSize = 1000

// Config holds the feed parameters.
type Config struct {
	// SamplingInterval is the candle period as a duration, e.g. time.Minute.
	SamplingInterval time.Duration
	// MaxCacheSize caps the candles retained per pair. Zero means 1000.
	MaxCacheSize int
	// Enricher, when set, fills the indicator fields of every final candle
	// on append.
	Enricher *indicators.Enricher
}

// Feed is a time-ordered candle cache. Safe for concurrent use. It satisfies
// both ports.MarketFeed and domain.CandleSource.
type Feed struct {
	cfg    Config
	mu     sync.RWMutex
	series map[domain.Pair][]domain.Candle
}

// New creates an empty feed.
func New(cfg Config) (*Feed, error) {
	if cfg.SamplingInterval <= 0 {
		return nil, fmt.Errorf("%w: feed requires a positive sampling interval", domain.ErrValidation)
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = defaultMaxCacheSize
	}
	return &Feed{cfg: cfg, series: make(map[domain.Pair][]domain.Candle)}, nil
}

// Append adds a candle to its pair's series. A non-final candle replaces a
// previous non-final candle for the same interval; a candle older than the
// latest final one is rejected to keep the series time-ordered.
func (f *Feed) Append(candle domain.Candle) error {
	if candle.Pair.IsZero() {
		return fmt.Errorf("%w: candle requires a pair", domain.ErrValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	series := f.series[candle.Pair]

	if n := len(series); n > 0 {
		last := series[n-1]
		if !last.IsFinal && !candle.OpenTime.After(last.OpenTime) {
			// In-progress interval updated in place.
			series = series[:n-1]
		} else if !candle.OpenTime.After(last.OpenTime) {
			return fmt.Errorf("%w: candle at %s is not after the latest at %s",
				domain.ErrState, candle.OpenTime.Format(time.RFC3339), last.OpenTime.Format(time.RFC3339))
		}
	}

	series = append(series, candle)
	if candle.IsFinal && f.cfg.Enricher != nil {
		series[len(series)-1].Indicators = f.cfg.Enricher.Enrich(finalOnly(series))
	}
	if len(series) > f.cfg.MaxCacheSize {
		series = append(series[:0:0], series[len(series)-f.cfg.MaxCacheSize:]...)
	}
	f.series[candle.Pair] = series
	return nil
}

// Latest returns the most recent candle for the pair, if any.
func (f *Feed) Latest(pair domain.Pair) (domain.Candle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	series := f.series[pair]
	if len(series) == 0 {
		return domain.Candle{}, false
	}
	return series[len(series)-1], true
}

// Range returns the candles whose close time falls in [since, until].
func (f *Feed) Range(pair domain.Pair, since, until time.Time) []domain.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []domain.Candle
	for _, c := range f.series[pair] {
		if c.CloseTime.Before(since) || c.CloseTime.After(until) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// History returns the last n final candles for the pair, oldest first.
func (f *Feed) History(pair domain.Pair, n int) []domain.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	finals := finalOnly(f.series[pair])
	if n <= 0 || n >= len(finals) {
		return finals
	}
	return finals[len(finals)-n:]
}

// SamplingInterval returns the candle period as a duration.
func (f *Feed) SamplingInterval() time.Duration { return f.cfg.SamplingInterval }

// Size returns the number of cached candles for the pair.
func (f *Feed) Size(pair domain.Pair) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.series[pair])
}

func finalOnly(series []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(series))
	for _, c := range series {
		if c.IsFinal {
			out = append(out, c)
		}
	}
	return out
}
