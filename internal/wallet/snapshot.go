package wallet

import (
	"time"

	"cryptoStalkerBot/internal/domain"
)

// SnapshotVersion tags persisted wallet snapshots so older payloads can be
// migrated forward on load.
const SnapshotVersion = 1

// SnapshotTransaction is the serialized form of one ledger entry. Decimals
// are strings to survive JSON round-trips without precision loss.
type SnapshotTransaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Pair        string    `json:"pair,omitempty"`
	RightAmount string    `json:"right_amount"`
	LeftAmount  string    `json:"left_amount,omitempty"`
	Fee         string    `json:"fee,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
	LinkedIDs   []string  `json:"linked_ids,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
}

// Snapshot is the persisted point-in-time state of a wallet.
type Snapshot struct {
	Version        int                   `json:"version"`
	Asset          string                `json:"asset"`
	InitialCapital string                `json:"initial_capital"`
	Spot           string                `json:"spot"`
	Fees           string                `json:"fees"`
	Positions      map[string]string     `json:"positions,omitempty"`
	Transactions   []SnapshotTransaction `json:"transactions"`
	TakenAt        time.Time             `json:"taken_at"`
}

// Snapshot captures the wallet's current state for the persistence
// collaborator.
func (w *Wallet) Snapshot() Snapshot {
	w.mu.Lock()
	w.recompute()
	spot := w.spot
	fees := w.fees
	positions := make(map[string]string, len(w.positions))
	for pair, qty := range w.positions {
		if !qty.IsZero() {
			positions[pair.String()] = qty.String()
		}
	}
	txs := append([]*domain.Transaction(nil), w.txs...)
	w.mu.Unlock()

	snap := Snapshot{
		Version:        SnapshotVersion,
		Asset:          string(w.right),
		InitialCapital: w.initial.String(),
		Spot:           spot.String(),
		Fees:           fees.String(),
		Positions:      positions,
		TakenAt:        time.Now().UTC(),
	}
	for _, tx := range txs {
		st := SnapshotTransaction{
			ID:          tx.ID,
			Type:        string(tx.Type),
			RightAmount: tx.RightAmount.Value.String(),
			ExecutedAt:  tx.ExecutedAt,
			LinkedIDs:   tx.LinkedIDs,
			OrderID:     tx.OrderID,
		}
		if !tx.Pair.IsZero() {
			st.Pair = tx.Pair.String()
		}
		if !tx.LeftAmount.IsZero() {
			st.LeftAmount = tx.LeftAmount.Value.String()
		}
		if !tx.Fee.IsZero() {
			st.Fee = tx.Fee.Value.String()
		}
		snap.Transactions = append(snap.Transactions, st)
	}
	return snap
}
