package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of ledger entry.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxBuy        TransactionType = "buy"
	TxSell       TransactionType = "sell"
)

// Transaction is an immutable ledger entry. The right amount is always in the
// pair's right asset, the left amount in the pair's left asset and the fee in
// the right asset. LinkedIDs ties reversing or paired entries together, e.g. a
// parent withdrawal with the child deposit it funded.
type Transaction struct {
	ID          string
	Type        TransactionType
	Pair        Pair
	RightAmount Price
	LeftAmount  Price
	Fee         Price
	CreatedAt   time.Time
	ExecutedAt  time.Time
	LinkedIDs   []string
	OrderID     string // originating order for buy/sell entries, if any
}

// NewTransaction creates a ledger entry with validated leg assets.
func NewTransaction(typ TransactionType, pair Pair, right, left, fee Price, executedAt time.Time, linked ...string) (*Transaction, error) {
	switch typ {
	case TxDeposit, TxWithdrawal, TxBuy, TxSell:
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, typ)
	}
	// A cash-only deposit or withdrawal is not tied to a pair; anything that
	// touches a left asset is.
	if pair.IsZero() {
		if typ == TxBuy || typ == TxSell || !left.IsZero() {
			return nil, fmt.Errorf("%w: transaction requires a pair", ErrValidation)
		}
		return &Transaction{
			ID:          uuid.NewString(),
			Type:        typ,
			RightAmount: right,
			Fee:         fee,
			CreatedAt:   time.Now().UTC(),
			ExecutedAt:  orNow(executedAt),
			LinkedIDs:   append([]string(nil), linked...),
		}, nil
	}
	if !right.IsZero() && right.Asset != pair.Right {
		return nil, fmt.Errorf("%w: right amount asset %s does not match pair right %s", ErrValidation, right.Asset, pair.Right)
	}
	if !left.IsZero() && left.Asset != pair.Left {
		return nil, fmt.Errorf("%w: left amount asset %s does not match pair left %s", ErrValidation, left.Asset, pair.Left)
	}
	if !fee.IsZero() && fee.Asset != pair.Right {
		return nil, fmt.Errorf("%w: fee asset %s does not match pair right %s", ErrValidation, fee.Asset, pair.Right)
	}
	return &Transaction{
		ID:          uuid.NewString(),
		Type:        typ,
		Pair:        pair,
		RightAmount: right,
		LeftAmount:  left,
		Fee:         fee,
		CreatedAt:   time.Now().UTC(),
		ExecutedAt:  orNow(executedAt),
		LinkedIDs:   append([]string(nil), linked...),
	}, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
