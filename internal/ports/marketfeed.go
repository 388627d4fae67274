package ports

import (
	"time"

	"cryptoStalkerBot/internal/domain"
)

// MarketFeed produces an append-only, time-ordered candle series per pair.
// Indicator values on the candles are treated as already computed; where they
// come from is the feed's concern.
type MarketFeed interface {
	// Latest returns the most recent candle for the pair, if any.
	Latest(pair domain.Pair) (domain.Candle, bool)
	// Range returns all candles whose close time falls in [since, until].
	Range(pair domain.Pair, since, until time.Time) []domain.Candle
	// History returns up to n most recent candles, oldest first.
	History(pair domain.Pair, n int) []domain.Candle
	// SamplingInterval returns the feed's candle period as a duration.
	SamplingInterval() time.Duration
}
