package repository

import (
	"context"
	"errors"

	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/google/uuid"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// TransactionFilter narrows ListTransactions results. Nil fields mean
// no filtering; Limit 0 means no upper bound.
type TransactionFilter struct {
	Status    *models.TransactionStatus
	Direction *models.Direction
	Start     int
	Limit     int
}

// TransactionSpec describes one transaction to create. The amount is
// signed; a negative amount is checked against the wallet balance
// before anything is written.
type TransactionSpec struct {
	OwnerID   string
	Amount    models.Money
	Reference string
}

// LedgerRepository is the storage collaborator of the ledger. Each
// method is one atomic unit against the store: for the multi-spec and
// multi-id variants either every write lands or none does.
type LedgerRepository interface {
	// GetOrCreateWallet resolves the wallet for (owner, currency),
	// creating it with a zero balance when absent.
	GetOrCreateWallet(ctx context.Context, ownerID, currency string) (*models.Wallet, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)

	// ListTransactions returns a wallet's transactions newest first.
	ListTransactions(ctx context.Context, walletID uuid.UUID, filter TransactionFilter) ([]*models.WalletTransaction, error)

	TransactionsByReference(ctx context.Context, reference string) ([]*models.WalletTransaction, error)

	// Balance returns the wallet balance. With cached true it reads the
	// maintained counter; otherwise it recomputes from the countable
	// transaction history. The two must always agree.
	Balance(ctx context.Context, walletID uuid.UUID, cached bool) (models.Money, error)

	// CreateTransactions atomically creates the given transactions in
	// PENDING status. Specs with a negative amount fail with
	// ErrInsufficientFunds when the amount exceeds the wallet balance.
	CreateTransactions(ctx context.Context, specs []TransactionSpec) ([]*models.WalletTransaction, error)

	// TransitionStatus atomically appends a status event to each of the
	// given transactions, in order. Any illegal transition aborts the
	// whole batch with models.ErrInvalidTransition.
	TransitionStatus(ctx context.Context, ids []uuid.UUID, to models.TransactionStatus, reference string) ([]*models.WalletTransaction, error)

	// SetBalance adjusts the wallet for (owner, currency) to the target
	// balance with one compensating PENDING transaction. The balance
	// read and the write happen in the same store transaction, so a
	// concurrent operation cannot land between them. Returns the
	// adjustment (nil when the wallet already sits on the target) and
	// the applied delta.
	SetBalance(ctx context.Context, ownerID string, target models.Money, reference string) (*models.WalletTransaction, models.Money, error)

	// TotalBalance sums all wallet balances in a currency, skipping the
	// given owners.
	TotalBalance(ctx context.Context, currency string, excludeOwners []string) (models.Money, error)
}
