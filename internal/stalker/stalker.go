// Package stalker implements the multi-strategy allocator: a bounded set of
// trader engines, one per pair, funded from one parent wallet. Slot
// management is serialized per pair through a waiting room so concurrent
// callers never manage the same child at once.
package stalker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/engine"
	"cryptoStalkerBot/internal/ports"
	"cryptoStalkerBot/internal/strategy"
	"cryptoStalkerBot/internal/waitingroom"
	"cryptoStalkerBot/internal/wallet"
)

// Config holds the allocator's parameters. Engine is the per-child template;
// its Pair field is filled in per slot.
type Config struct {
	MaxSlots       int
	StrategyName   string
	StrategyConfig strategy.Config
	Engine         engine.Config
	// DeleteTimeout bounds how long DeleteActiveStrategy waits for a child's
	// forced unwind to settle. Zero means 30s.
	DeleteTimeout time.Duration
	// Cooldown is how long a pair stays blacklisted after its child crashed
	// or failed to unwind cleanly. Zero means 5m.
	Cooldown time.Duration
	// TicketPoll is the waiting-room polling interval. Zero means 10ms.
	TicketPoll time.Duration
	// WatchInterval is how often the crash watcher scans the children.
	// Zero means 5s.
	WatchInterval time.Duration
}

// Deps bundles the allocator's collaborators, shared by every child engine.
type Deps struct {
	Logger    ports.Logger
	Broker    ports.Broker
	Feed      ports.MarketFeed
	Snapshots ports.SnapshotRepository // may be nil
	Sink      ports.ErrorSink
	Parent    *wallet.Wallet
}

// child is one occupied slot.
type child struct {
	pair     domain.Pair
	trader   *engine.Trader
	runCtx   context.Context
	cancel   context.CancelFunc
	finished chan struct{} // closed when the engine's Run returned
	runErr   error         // valid after finished is closed
	reaping  bool          // a delete or reap is already in progress
}

// Stalker manages up to MaxSlots concurrently active trader engines against a
// shared capital pool. Safe for concurrent use.
type Stalker struct {
	cfg    Config
	logger ports.Logger
	broker ports.Broker
	feed   ports.MarketFeed
	snaps  ports.SnapshotRepository
	sink   ports.ErrorSink
	parent *wallet.Wallet
	rooms  *waitingroom.Rooms

	mu        sync.Mutex
	children  map[string]*child    // keyed by pair symbol
	blacklist map[string]time.Time // pair symbol -> earliest re-add time
	wg        sync.WaitGroup
	now       func() time.Time
}

// New creates an allocator.
func New(cfg Config, deps Deps) (*Stalker, error) {
	if deps.Logger == nil || deps.Broker == nil || deps.Feed == nil || deps.Sink == nil || deps.Parent == nil {
		return nil, fmt.Errorf("missing required dependencies for stalker")
	}
	if cfg.MaxSlots <= 0 {
		return nil, fmt.Errorf("%w: max slots must be positive", domain.ErrValidation)
	}
	if cfg.StrategyName == "" {
		return nil, fmt.Errorf("%w: stalker requires a strategy name", domain.ErrValidation)
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.TicketPoll <= 0 {
		cfg.TicketPoll = 10 * time.Millisecond
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 5 * time.Second
	}
	return &Stalker{
		cfg:    cfg,
		logger: deps.Logger, broker: deps.Broker, feed: deps.Feed,
		snaps: deps.Snapshots, sink: deps.Sink, parent: deps.Parent,
		rooms:     waitingroom.New(),
		children:  make(map[string]*child),
		blacklist: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Parent returns the shared capital pool.
func (s *Stalker) Parent() *wallet.Wallet { return s.parent }

// ActiveCount returns the number of occupied slots.
func (s *Stalker) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// ActivePairs returns the pairs with an active engine.
func (s *Stalker) ActivePairs() []domain.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Pair, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c.pair)
	}
	return out
}

// Trader returns the active engine for a pair, if any.
func (s *Stalker) Trader(pair domain.Pair) (*engine.Trader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[pair.Symbol()]
	if !ok {
		return nil, false
	}
	return c.trader, true
}

// room returns the waiting-room name serializing management of one pair.
func room(pair domain.Pair) string { return "manage:" + pair.Symbol() }

// AddActiveStrategy allocates a slot for the pair, funds a fresh child wallet
// from the parent pool and starts a trader engine on it.
//
// The allocation is parent.BuyCapital() divided by the number of still-free
// slots, so capital reclaimed from earlier deletions flows into later
// allocations. Residual dust the parent holds for the pair from a previous
// cycle is handed to the child along with the capital.
func (s *Stalker) AddActiveStrategy(ctx context.Context, pair domain.Pair) (*engine.Trader, error) {
	if pair.IsZero() {
		return nil, fmt.Errorf("%w: add requires a pair", domain.ErrValidation)
	}
	if pair.Right != s.parent.Asset() {
		return nil, fmt.Errorf("%w: pair %s is not quoted in the pool asset %s", domain.ErrValidation, pair, s.parent.Asset())
	}
	ticket, err := s.rooms.Await(ctx, room(pair), s.cfg.TicketPoll)
	if err != nil {
		return nil, err
	}
	defer s.rooms.TreatTicket(room(pair), ticket)

	// One critical section from the slot check through the funding transfer:
	// two concurrent adds on different pairs must not both read the pool
	// before either withdrawal lands.
	s.mu.Lock()
	if until, banned := s.blacklist[pair.Symbol()]; banned {
		if s.now().Before(until) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: pair %s is cooling down until %s", domain.ErrState, pair, until.Format(time.RFC3339))
		}
		delete(s.blacklist, pair.Symbol())
	}
	if _, exists := s.children[pair.Symbol()]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: pair %s already has an active strategy", domain.ErrValidation, pair)
	}
	active := len(s.children)
	if active >= s.cfg.MaxSlots {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no free slot (%d/%d active)", domain.ErrCapacity, active, s.cfg.MaxSlots)
	}

	freeSlots := int64(s.cfg.MaxSlots - active)
	perSlot := s.parent.BuyCapital().Div(decimal.NewFromInt(freeSlots))
	if !perSlot.IsPositive() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: parent pool has no capital to allocate", domain.ErrInsufficientFunds)
	}
	dust := s.parent.Position(pair)

	c, err := s.spawn(pair, perSlot, dust)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.children[pair.Symbol()] = c
	active = len(s.children)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.runErr = c.trader.Run(c.runCtx)
		close(c.finished)
	}()

	s.logger.Info(ctx, "Strategy activated", map[string]interface{}{
		"pair": pair.String(), "strategy": s.cfg.StrategyName,
		"allocated": perSlot.String(), "dust": dust.String(),
		"active": active, "maxSlots": s.cfg.MaxSlots,
	})
	return c.trader, nil
}

// spawn funds the child wallet and builds the engine. Called with s.mu held;
// the caller registers the child and starts its Run goroutine.
func (s *Stalker) spawn(pair domain.Pair, capital, dust decimal.Decimal) (*child, error) {
	strat, err := strategy.New(s.cfg.StrategyName, s.cfg.StrategyConfig, s.logger)
	if err != nil {
		return nil, err
	}

	out, err := s.parent.TransferOut(pair,
		domain.NewPrice(pair.Right, capital), domain.NewPrice(pair.Left, dust))
	if err != nil {
		return nil, err
	}
	// Past this point a failure must hand the capital back to the pool.
	refund := func() {
		_, _ = s.parent.TransferIn(pair, domain.NewPrice(pair.Right, capital),
			domain.NewPrice(pair.Left, dust), domain.Price{}, out.ID)
	}
	cw, err := wallet.New(pair.Right, capital, out.ID)
	if err != nil {
		refund()
		return nil, err
	}
	if dust.IsPositive() {
		if _, err := cw.TransferIn(pair, domain.Price{},
			domain.NewPrice(pair.Left, dust), domain.Price{}, out.ID); err != nil {
			refund()
			return nil, err
		}
	}

	engCfg := s.cfg.Engine
	engCfg.Pair = pair
	trader, err := engine.New(engCfg, engine.Deps{
		Logger: s.logger, Broker: s.broker, Feed: s.feed,
		Wallet: cw, Strategy: strat, Snapshots: s.snaps, Sink: s.sink,
	})
	if err != nil {
		refund()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &child{
		pair: pair, trader: trader,
		runCtx: runCtx, cancel: cancel,
		finished: make(chan struct{}),
	}, nil
}

// DeleteActiveStrategy stops the pair's engine, waits (bounded) for its
// forced unwind, moves the child wallet's remaining capital, residual
// position and accumulated fee back to the parent pool as linked
// transactions, and frees the slot.
func (s *Stalker) DeleteActiveStrategy(ctx context.Context, pair domain.Pair) error {
	ticket, err := s.rooms.Await(ctx, room(pair), s.cfg.TicketPoll)
	if err != nil {
		return err
	}
	defer s.rooms.TreatTicket(room(pair), ticket)

	s.mu.Lock()
	c, ok := s.children[pair.Symbol()]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: no active strategy for pair %s", domain.ErrValidation, pair)
	}
	c.reaping = true
	s.mu.Unlock()

	c.trader.Stop()
	clean := true
	select {
	case <-c.finished:
	case <-time.After(s.cfg.DeleteTimeout):
		// The unwind did not settle in time. Cut the engine loose and
		// reclaim what the ledger shows; the pair cools down before reuse.
		clean = false
		c.cancel()
		<-c.finished
	}
	if c.runErr != nil {
		clean = false
	}

	if err := s.reclaim(ctx, c); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.children, pair.Symbol())
	if !clean {
		s.blacklist[pair.Symbol()] = s.now().Add(s.cfg.Cooldown)
	}
	s.mu.Unlock()
	c.cancel()

	s.logger.Info(ctx, "Strategy deactivated", map[string]interface{}{
		"pair": pair.String(), "cleanShutdown": clean,
	})
	return nil
}

// reclaim moves everything the child wallet still holds back to the parent.
func (s *Stalker) reclaim(ctx context.Context, c *child) error {
	cw := c.trader.Wallet()
	spot := cw.BuyCapital()
	dust := cw.Position(c.pair)
	fees := cw.Fees()
	if spot.IsNegative() {
		// Fees can leave the spot marginally below zero; nothing to move.
		spot = decimal.Zero
	}
	if spot.IsZero() && dust.IsZero() {
		return nil
	}
	out, err := cw.TransferOut(c.pair,
		domain.NewPrice(c.pair.Right, spot), domain.NewPrice(c.pair.Left, dust))
	if err != nil {
		return err
	}
	if _, err := s.parent.TransferIn(c.pair,
		domain.NewPrice(c.pair.Right, spot), domain.NewPrice(c.pair.Left, dust),
		domain.NewPrice(c.pair.Right, fees), out.ID); err != nil {
		return err
	}
	s.logger.Info(ctx, "Capital reclaimed", map[string]interface{}{
		"pair": c.pair.String(), "spot": spot.String(),
		"dust": dust.String(), "fees": fees.String(),
	})
	return nil
}

// Run watches the children and reaps engines whose Run loop returned on its
// own (a fatal per-engine failure). The crashed pair's capital is reclaimed
// and the pair is blacklisted for the cool-down interval. With a strict
// engine configuration a child crash is fatal for the allocator too, and Run
// returns the child's error after the reap. Otherwise Run returns when the
// context is canceled; it does not stop the children itself.
func (s *Stalker) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.reapCrashed(ctx); err != nil {
				return err
			}
		}
	}
}

// reapCrashed scans for children whose engine has exited without a pending
// delete and tears them down. In strict mode the first crash comes back as
// an error once every crashed child has been reclaimed.
func (s *Stalker) reapCrashed(ctx context.Context) error {
	s.mu.Lock()
	var crashed []*child
	for _, c := range s.children {
		select {
		case <-c.finished:
			if !c.reaping {
				c.reaping = true
				crashed = append(crashed, c)
			}
		default:
		}
	}
	s.mu.Unlock()

	var fatal error
	for _, c := range crashed {
		ticket, err := s.rooms.Await(ctx, room(c.pair), s.cfg.TicketPoll)
		if err != nil {
			// Leave the child for the next scan; the flag must come back
			// down or it is never reaped.
			s.mu.Lock()
			c.reaping = false
			s.mu.Unlock()
			continue
		}
		if c.runErr != nil {
			s.sink.ReportError(ctx, c.runErr, fmt.Sprintf("stalker[%s]", c.pair))
			s.logger.Error(ctx, c.runErr, "Child engine crashed, reclaiming slot", map[string]interface{}{
				"pair": c.pair.String(),
			})
			if s.cfg.Engine.Strict && fatal == nil {
				fatal = fmt.Errorf("strict engine for %s crashed: %w", c.pair, c.runErr)
			}
		}
		if err := s.reclaim(ctx, c); err != nil {
			s.logger.Error(ctx, err, "Reclaim after crash failed", map[string]interface{}{
				"pair": c.pair.String(),
			})
		}
		s.mu.Lock()
		delete(s.children, c.pair.Symbol())
		s.blacklist[c.pair.Symbol()] = s.now().Add(s.cfg.Cooldown)
		s.mu.Unlock()
		c.cancel()
		s.rooms.TreatTicket(room(c.pair), ticket)
	}
	return fatal
}

// Shutdown stops every active child in parallel and reclaims their capital.
func (s *Stalker) Shutdown(ctx context.Context) error {
	var pairs []domain.Pair
	s.mu.Lock()
	for _, c := range s.children {
		pairs = append(pairs, c.pair)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(pairs))
	for i, pair := range pairs {
		wg.Add(1)
		go func(i int, pair domain.Pair) {
			defer wg.Done()
			errs[i] = s.DeleteActiveStrategy(ctx, pair)
		}(i, pair)
	}
	wg.Wait()
	s.wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("shutdown of %s: %w", pairs[i], err)
		}
	}
	return nil
}
