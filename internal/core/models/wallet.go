package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds the balance of one owner in one currency. There is at
// most one wallet per (owner, currency) pair; wallets are created
// lazily on first use and never deleted.
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Currency  string    `json:"currency" db:"currency"`
	// Balance is the cached sum of countable transaction amounts. It is
	// maintained transactionally on every status transition and must
	// always agree with a recompute over the transaction history.
	Balance   Money     `json:"balance" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
