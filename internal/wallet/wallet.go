// Package wallet implements the capital ledger: an append-only transaction
// log with lazily recomputed balance aggregates on top of it.
package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoStalkerBot/internal/domain"
)

// Wallet owns a chronologically-ordered collection of transactions for one
// capital pool. Aggregates (spot balance, per-pair positions, fee total) are
// cached and recomputed once per mutation, not per read. Safe for concurrent
// use.
type Wallet struct {
	mu      sync.Mutex
	right   domain.Asset
	initial decimal.Decimal
	txs     []*domain.Transaction

	// Orders already settled, for replay idempotence.
	applied map[string]struct{}

	dirty     bool
	spot      decimal.Decimal
	positions map[domain.Pair]decimal.Decimal
	fees      decimal.Decimal
}

// New creates a wallet holding capital in the given right asset. A non-zero
// initial capital is recorded as the wallet's first deposit.
func New(right domain.Asset, initial decimal.Decimal, linked ...string) (*Wallet, error) {
	if right == "" {
		return nil, fmt.Errorf("%w: wallet requires a capital asset", domain.ErrValidation)
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial capital cannot be negative", domain.ErrValidation)
	}
	w := &Wallet{
		right:   right,
		initial: initial,
		applied: make(map[string]struct{}),
		dirty:   true,
	}
	if initial.IsPositive() {
		tx, err := domain.NewTransaction(domain.TxDeposit, domain.Pair{},
			domain.NewPrice(right, initial), domain.Price{}, domain.Price{}, time.Time{}, linked...)
		if err != nil {
			return nil, err
		}
		w.txs = append(w.txs, tx)
	}
	return w, nil
}

// Asset returns the wallet's capital (right) asset.
func (w *Wallet) Asset() domain.Asset { return w.right }

// InitialCapital returns the capital the wallet was created with.
func (w *Wallet) InitialCapital() decimal.Decimal { return w.initial }

// RecordBuy appends a buy transaction and invalidates the cached aggregates.
func (w *Wallet) RecordBuy(tx *domain.Transaction) error {
	return w.record(tx, domain.TxBuy)
}

// RecordSell appends a sell transaction and invalidates the cached aggregates.
func (w *Wallet) RecordSell(tx *domain.Transaction) error {
	return w.record(tx, domain.TxSell)
}

func (w *Wallet) record(tx *domain.Transaction, want domain.TransactionType) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", domain.ErrValidation)
	}
	if tx.Type != want {
		return fmt.Errorf("%w: expected %s transaction, got %s", domain.ErrValidation, want, tx.Type)
	}
	if tx.RightAmount.Asset != w.right {
		return fmt.Errorf("%w: transaction right asset %s does not match wallet asset %s", domain.ErrValidation, tx.RightAmount.Asset, w.right)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txs = append(w.txs, tx)
	w.dirty = true
	return nil
}

// SettleOrder converts a completed order into a ledger entry. Settling the
// same order id twice is a no-op: the fill must not be double-counted.
func (w *Wallet) SettleOrder(order *domain.Order) (*domain.Transaction, error) {
	if order == nil || !order.IsCompleted() {
		return nil, fmt.Errorf("%w: only completed orders settle against the wallet", domain.ErrState)
	}
	w.mu.Lock()
	if _, done := w.applied[order.ID]; done {
		w.mu.Unlock()
		return nil, nil
	}
	w.mu.Unlock()

	fee, err := order.FeeIn(order.Pair.Right)
	if err != nil {
		return nil, err
	}
	typ := domain.TxBuy
	if order.Move == domain.MoveSell {
		typ = domain.TxSell
	}
	tx, err := domain.NewTransaction(typ, order.Pair, order.ExecutedAmount, order.ExecutedQuantity, fee, order.ExecutedAt)
	if err != nil {
		return nil, err
	}
	tx.OrderID = order.ID

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.applied[order.ID]; done {
		return nil, nil
	}
	w.applied[order.ID] = struct{}{}
	w.txs = append(w.txs, tx)
	w.dirty = true
	return tx, nil
}

// Deposit adds right-asset capital, optionally linked to the transaction that
// funded it (e.g., a parent wallet's withdrawal).
func (w *Wallet) Deposit(amount domain.Price, linked ...string) (*domain.Transaction, error) {
	if amount.Asset != w.right || !amount.Value.IsPositive() {
		return nil, fmt.Errorf("%w: deposit requires a positive %s amount", domain.ErrValidation, w.right)
	}
	tx, err := domain.NewTransaction(domain.TxDeposit, domain.Pair{}, amount, domain.Price{}, domain.Price{}, time.Time{}, linked...)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txs = append(w.txs, tx)
	w.dirty = true
	return tx, nil
}

// Withdraw removes right-asset capital. Fails with ErrInsufficientFunds when
// the amount exceeds the current spot balance.
func (w *Wallet) Withdraw(amount domain.Price, linked ...string) (*domain.Transaction, error) {
	if amount.Asset != w.right || !amount.Value.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal requires a positive %s amount", domain.ErrValidation, w.right)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	if amount.Value.GreaterThan(w.spot) {
		return nil, fmt.Errorf("%w: cannot withdraw %s, spot balance is %s %s", domain.ErrInsufficientFunds, amount, w.spot, w.right)
	}
	tx, err := domain.NewTransaction(domain.TxWithdrawal, domain.Pair{}, amount, domain.Price{}, domain.Price{}, time.Time{}, linked...)
	if err != nil {
		return nil, err
	}
	w.txs = append(w.txs, tx)
	w.dirty = true
	return tx, nil
}

// TransferIn records an inbound transfer for a pair: right-asset capital plus
// a residual left-asset balance, with the source's accumulated fee carried on
// the entry for roll-up. The fee is informational here; it was already
// deducted from the transferred capital at the source.
func (w *Wallet) TransferIn(pair domain.Pair, right, left, fee domain.Price, linked ...string) (*domain.Transaction, error) {
	tx, err := domain.NewTransaction(domain.TxDeposit, pair, right, left, fee, time.Time{}, linked...)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txs = append(w.txs, tx)
	w.dirty = true
	return tx, nil
}

// TransferOut records an outbound transfer for a pair: right-asset capital
// plus a residual left-asset balance handed to another wallet. Fails with
// ErrInsufficientFunds when the right amount exceeds the spot balance or the
// left amount exceeds the held position.
func (w *Wallet) TransferOut(pair domain.Pair, right, left domain.Price, linked ...string) (*domain.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	if !right.IsZero() && right.Value.GreaterThan(w.spot) {
		return nil, fmt.Errorf("%w: cannot transfer %s, spot balance is %s %s", domain.ErrInsufficientFunds, right, w.spot, w.right)
	}
	if !left.IsZero() && left.Value.GreaterThan(w.positions[pair]) {
		return nil, fmt.Errorf("%w: cannot transfer %s, position is %s %s", domain.ErrInsufficientFunds, left, w.positions[pair], pair.Left)
	}
	tx, err := domain.NewTransaction(domain.TxWithdrawal, pair, right, left, domain.Price{}, time.Time{}, linked...)
	if err != nil {
		return nil, err
	}
	w.txs = append(w.txs, tx)
	w.dirty = true
	return tx, nil
}

// BuyCapital returns the spendable right-asset amount: initial capital plus
// the net effect of every completed transaction. This is the amount available
// to fund the next buy order.
func (w *Wallet) BuyCapital() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	return w.spot
}

// Spot is an alias for the right-asset balance.
func (w *Wallet) Spot() decimal.Decimal { return w.BuyCapital() }

// Position returns the held left-asset balance for a pair.
func (w *Wallet) Position(pair domain.Pair) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	return w.positions[pair]
}

// Positions returns a copy of every non-zero held left-asset balance.
func (w *Wallet) Positions() map[domain.Pair]decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	out := make(map[domain.Pair]decimal.Decimal, len(w.positions))
	for pair, qty := range w.positions {
		if !qty.IsZero() {
			out[pair] = qty
		}
	}
	return out
}

// Fees returns the cumulative fees recorded across the ledger, in the right
// asset.
func (w *Wallet) Fees() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recompute()
	return w.fees
}

// PositionValue values every held left-asset balance at the latest observed
// close price, summed in the right asset. Pairs with no observed candle yet
// contribute nothing.
func (w *Wallet) PositionValue(src domain.CandleSource) decimal.Decimal {
	total := decimal.Zero
	for pair, qty := range w.Positions() {
		candle, ok := src.Latest(pair)
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(decimal.NewFromFloat(candle.Close)))
	}
	return total
}

// ROI returns (buyCapital + positionValue − initialCapital) / initialCapital,
// or zero for a wallet created without capital.
func (w *Wallet) ROI(src domain.CandleSource) decimal.Decimal {
	if w.initial.IsZero() {
		return decimal.Zero
	}
	current := w.BuyCapital().Add(w.PositionValue(src))
	return current.Sub(w.initial).Div(w.initial)
}

// Transactions returns the ledger in chronological order.
func (w *Wallet) Transactions() []*domain.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*domain.Transaction(nil), w.txs...)
}

// recompute rebuilds the cached aggregates. Callers must hold w.mu.
func (w *Wallet) recompute() {
	if !w.dirty {
		return
	}
	spot := decimal.Zero
	fees := decimal.Zero
	positions := make(map[domain.Pair]decimal.Decimal)
	for _, tx := range w.txs {
		switch tx.Type {
		case domain.TxDeposit:
			spot = spot.Add(tx.RightAmount.Value)
			if !tx.LeftAmount.IsZero() {
				positions[tx.Pair] = positions[tx.Pair].Add(tx.LeftAmount.Value)
			}
		case domain.TxWithdrawal:
			spot = spot.Sub(tx.RightAmount.Value)
			if !tx.LeftAmount.IsZero() {
				positions[tx.Pair] = positions[tx.Pair].Sub(tx.LeftAmount.Value)
			}
		case domain.TxBuy:
			spot = spot.Sub(tx.RightAmount.Value).Sub(tx.Fee.Value)
			positions[tx.Pair] = positions[tx.Pair].Add(tx.LeftAmount.Value)
		case domain.TxSell:
			spot = spot.Add(tx.RightAmount.Value).Sub(tx.Fee.Value)
			positions[tx.Pair] = positions[tx.Pair].Sub(tx.LeftAmount.Value)
		}
		fees = fees.Add(tx.Fee.Value)
	}
	w.spot = spot
	w.fees = fees
	w.positions = positions
	w.dirty = false
}
