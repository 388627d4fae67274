package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
)

// Action is one symbolic decision step. The engine executes actions in the
// order the strategy returned them.
type Action int

const (
	// Buy opens a new position sized from the wallet's buy capital.
	Buy Action = iota
	// PlaceSecure places a protective stop-limit sell over the held position.
	PlaceSecure
	// Sell closes the held position with a market sell.
	Sell
	// CancelSecure cancels the open protective order, if still cancelable.
	CancelSecure
)

// String returns the symbolic name of the action.
func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case PlaceSecure:
		return "PLACE_SECURE"
	case Sell:
		return "SELL"
	case CancelSecure:
		return "CANCEL_SECURE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Snapshot is the read-only view of an engine's state a strategy decides on.
type Snapshot struct {
	Candles      []domain.Candle // time-ordered, most recent last
	CurrentPrice float64         // latest close
	Holding      bool            // an executed buy with no executed sell
	HasSecure    bool            // a protective order is currently open
	EntryPrice   float64         // execution price of the open buy, if holding
}

// Strategy evaluates buy/sell/secure rules for one engine instance. Decide
// must be pure: same snapshot, same actions, no side effects.
type Strategy interface {
	// RequiredDataPoints returns the minimum candle history the rules need.
	RequiredDataPoints() int

	// Decide returns the ordered actions to apply this cycle. An empty slice
	// means hold still.
	Decide(ctx context.Context, snap Snapshot) ([]Action, error)
}

// Constructor builds a strategy from its config.
type Constructor func(cfg Config, logger ports.Logger) (Strategy, error)

// Config holds parameters shared by the registered strategies. Individual
// strategies use the subset they care about.
type Config struct {
	RSIPeriod     int     // e.g., 14
	RSIOverbought float64 // e.g., 70.0
	RSIOversold   float64 // e.g., 30.0
	TakeProfitPct float64 // exit target above entry, e.g. 0.03
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register maps a strategy name to its constructor. Call from package init;
// registering a duplicate name panics.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = ctor
}

// New builds the named strategy. Fails with ErrNotFound for an unknown name.
func New(name string, cfg Config, logger ports.Logger) (Strategy, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q (registered: %v)", domain.ErrNotFound, name, Names())
	}
	return ctor(cfg, logger)
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
