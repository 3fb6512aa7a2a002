package models

import (
	"errors"
	"fmt"
)

// TransactionStatus is a lifecycle stage of a wallet transaction.
type TransactionStatus string

const (
	StatusPending      TransactionStatus = "PENDING"
	StatusFinalized    TransactionStatus = "FINALIZED"
	StatusCancellation TransactionStatus = "CANCELLATION"
)

// StatusNone marks a transaction that has no status event yet. Only
// valid as the source of the very first transition.
const StatusNone TransactionStatus = ""

var ErrInvalidTransition = errors.New("invalid status transition")

// allowedTransitions lists the legal next statuses per current status.
// CANCELLATION is terminal, FINALIZED is reachable from PENDING only.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusNone:         {StatusPending},
	StatusPending:      {StatusFinalized, StatusCancellation},
	StatusFinalized:    {StatusCancellation},
	StatusCancellation: {},
}

// ValidTransactionStatus reports whether s names a known status.
func ValidTransactionStatus(s TransactionStatus) bool {
	switch s {
	case StatusPending, StatusFinalized, StatusCancellation:
		return true
	}
	return false
}

// ValidateTransition checks that moving from one status to another is
// legal. Pure function, called before any state is mutated.
func ValidateTransition(from, to TransactionStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	label := string(from)
	if from == StatusNone {
		label = "none"
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, label, to)
}

// Direction tells whether a transaction moves money into or out of its
// wallet. It is derived from the sign of the amount, never stored.
type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

func ValidDirection(d Direction) bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

// Countable reports whether a transaction in the given status counts
// toward the wallet balance. Outgoing money is reserved while PENDING
// so concurrent withdrawals cannot spend the same funds twice; incoming
// money counts only once FINALIZED.
func Countable(direction Direction, status TransactionStatus) bool {
	switch direction {
	case DirectionOutgoing:
		return status == StatusPending || status == StatusFinalized
	case DirectionIncoming:
		return status == StatusFinalized
	}
	return false
}
