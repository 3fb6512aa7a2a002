package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent is one entry in a transaction's append-only status
// history. Seq reflects insertion order and breaks created_at ties.
type StatusEvent struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	TransactionID uuid.UUID         `json:"transaction_id" db:"transaction_id"`
	Status        TransactionStatus `json:"status" db:"status"`
	Reference     string            `json:"reference,omitempty" db:"reference"`
	Seq           int64             `json:"-" db:"seq"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// WalletTransaction records one intended money movement. The amount is
// signed: negative means money leaves the wallet. Amount, wallet and
// past events are never edited; state changes only by appending events.
type WalletTransaction struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	WalletID  uuid.UUID     `json:"wallet_id" db:"wallet_id"`
	Amount    Money         `json:"amount" db:"-"`
	Reference string        `json:"reference,omitempty" db:"reference"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	Statuses  []StatusEvent `json:"statuses"`
}

// CurrentStatus is the status of the most recently appended event.
// A persisted transaction always has at least the initial PENDING one.
func (t *WalletTransaction) CurrentStatus() TransactionStatus {
	if len(t.Statuses) == 0 {
		return StatusNone
	}
	return t.Statuses[len(t.Statuses)-1].Status
}

func (t *WalletTransaction) Direction() Direction {
	if t.Amount.IsNegative() {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// Countable reports whether the transaction currently contributes to
// the wallet balance.
func (t *WalletTransaction) Countable() bool {
	return Countable(t.Direction(), t.CurrentStatus())
}

// CountableDelta is the signed balance change implied by moving the
// transaction from its current status to the given one. Zero when
// countability does not change.
func (t *WalletTransaction) CountableDelta(to TransactionStatus) Money {
	delta := ZeroMoney(t.Amount.Currency)
	if Countable(t.Direction(), t.CurrentStatus()) {
		delta = delta.Sub(t.Amount)
	}
	if Countable(t.Direction(), to) {
		delta = delta.Add(t.Amount)
	}
	return delta
}
