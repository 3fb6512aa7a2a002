package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/walletd/internal/core/cache"
	"github.com/Nzyazin/walletd/internal/core/logger"
	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/Nzyazin/walletd/internal/core/repository"
	"github.com/google/uuid"
)

// LedgerUsecase exposes the wallet ledger operations. Every call is a
// single atomic unit against the store; none are retried internally.
type LedgerUsecase interface {
	GetBalance(ctx context.Context, ownerID, currency string, cached bool) (*models.Wallet, models.Money, error)
	ListTransactions(ctx context.Context, ownerID, currency string, filter repository.TransactionFilter) ([]*models.WalletTransaction, error)
	Deposit(ctx context.Context, ownerID string, amount models.Money, reference string) (*models.WalletTransaction, error)
	Withdraw(ctx context.Context, ownerID string, amount models.Money, reference string) (*models.WalletTransaction, error)
	Transfer(ctx context.Context, debtorID, creditorID string, amount models.Money, reference string) (*models.WalletTransaction, *models.WalletTransaction, error)
	FinalizeTransaction(ctx context.Context, id uuid.UUID, reference string) (*models.WalletTransaction, error)
	FinalizeTransactions(ctx context.Context, ids []uuid.UUID, reference string) ([]*models.WalletTransaction, error)
	CancelTransaction(ctx context.Context, id uuid.UUID, reference string) (*models.WalletTransaction, error)
	SetBalance(ctx context.Context, ownerID string, target models.Money, reference string) (*models.WalletTransaction, models.Money, error)
	TransactionsByReference(ctx context.Context, reference string) ([]*models.WalletTransaction, error)
	TotalBalance(ctx context.Context, currency string, excludeOwners []string) (models.Money, error)
}

type ledgerUsecase struct {
	repo  repository.LedgerRepository
	cache *cache.BalanceCache
	log   logger.Logger
}

// NewLedgerUsecase builds the ledger service. The balance cache is
// optional; pass nil to read balances from the store only.
func NewLedgerUsecase(repo repository.LedgerRepository, balanceCache *cache.BalanceCache, log logger.Logger) LedgerUsecase {
	return &ledgerUsecase{repo: repo, cache: balanceCache, log: log}
}

func (uc *ledgerUsecase) GetBalance(ctx context.Context, ownerID, currency string, cached bool) (*models.Wallet, models.Money, error) {
	wallet, err := uc.repo.GetOrCreateWallet(ctx, ownerID, currency)
	if err != nil {
		return nil, models.Money{}, fmt.Errorf("get wallet: %w", err)
	}

	if cached {
		if balance, ok := uc.cache.Get(ctx, wallet.ID); ok {
			return wallet, balance, nil
		}
	}

	balance, err := uc.repo.Balance(ctx, wallet.ID, cached)
	if err != nil {
		return nil, models.Money{}, fmt.Errorf("get balance: %w", err)
	}
	if cached {
		uc.cache.Put(ctx, wallet.ID, balance)
	}
	return wallet, balance, nil
}

func (uc *ledgerUsecase) ListTransactions(ctx context.Context, ownerID, currency string, filter repository.TransactionFilter) ([]*models.WalletTransaction, error) {
	wallet, err := uc.repo.GetOrCreateWallet(ctx, ownerID, currency)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	trxs, err := uc.repo.ListTransactions(ctx, wallet.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return trxs, nil
}

func (uc *ledgerUsecase) Deposit(ctx context.Context, ownerID string, amount models.Money, reference string) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	trxs, err := uc.repo.CreateTransactions(ctx, []repository.TransactionSpec{
		{OwnerID: ownerID, Amount: amount, Reference: reference},
	})
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	trx := trxs[0]

	uc.cache.Invalidate(ctx, trx.WalletID)
	uc.log.Info("Deposit created",
		logger.StringField("owner_id", ownerID),
		logger.StringField("amount", amount.String()),
		logger.StringField("transaction_id", trx.ID.String()),
	)
	return trx, nil
}

func (uc *ledgerUsecase) Withdraw(ctx context.Context, ownerID string, amount models.Money, reference string) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	trxs, err := uc.repo.CreateTransactions(ctx, []repository.TransactionSpec{
		{OwnerID: ownerID, Amount: amount.Neg(), Reference: reference},
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			uc.log.Warn("Insufficient funds",
				logger.StringField("owner_id", ownerID),
				logger.StringField("requested", amount.String()),
			)
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	trx := trxs[0]

	uc.cache.Invalidate(ctx, trx.WalletID)
	uc.log.Info("Withdrawal created",
		logger.StringField("owner_id", ownerID),
		logger.StringField("amount", amount.String()),
		logger.StringField("transaction_id", trx.ID.String()),
	)
	return trx, nil
}

func (uc *ledgerUsecase) Transfer(ctx context.Context, debtorID, creditorID string, amount models.Money, reference string) (*models.WalletTransaction, *models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	trxs, err := uc.repo.CreateTransactions(ctx, []repository.TransactionSpec{
		{OwnerID: debtorID, Amount: amount.Neg(), Reference: reference},
		{OwnerID: creditorID, Amount: amount, Reference: reference},
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			uc.log.Warn("Transfer rejected, insufficient funds",
				logger.StringField("debtor_id", debtorID),
				logger.StringField("amount", amount.String()),
			)
			return nil, nil, ErrInsufficientFunds
		}
		return nil, nil, fmt.Errorf("transfer: %w", err)
	}
	withdrawal, deposit := trxs[0], trxs[1]

	uc.cache.Invalidate(ctx, withdrawal.WalletID, deposit.WalletID)
	uc.log.Info("Transfer created",
		logger.StringField("debtor_id", debtorID),
		logger.StringField("creditor_id", creditorID),
		logger.StringField("amount", amount.String()),
	)
	return withdrawal, deposit, nil
}

func (uc *ledgerUsecase) FinalizeTransaction(ctx context.Context, id uuid.UUID, reference string) (*models.WalletTransaction, error) {
	trxs, err := uc.FinalizeTransactions(ctx, []uuid.UUID{id}, reference)
	if err != nil {
		return nil, err
	}
	return trxs[0], nil
}

// FinalizeTransactions moves the whole batch to FINALIZED; the optional
// reference is recorded on each appended status event.
func (uc *ledgerUsecase) FinalizeTransactions(ctx context.Context, ids []uuid.UUID, reference string) ([]*models.WalletTransaction, error) {
	trxs, err := uc.repo.TransitionStatus(ctx, ids, models.StatusFinalized, reference)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	uc.invalidateWallets(ctx, trxs)
	uc.log.Info("Transactions finalized", logger.IntField("count", len(trxs)))
	return trxs, nil
}

func (uc *ledgerUsecase) CancelTransaction(ctx context.Context, id uuid.UUID, reference string) (*models.WalletTransaction, error) {
	trxs, err := uc.repo.TransitionStatus(ctx, []uuid.UUID{id}, models.StatusCancellation, reference)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	trx := trxs[0]

	uc.cache.Invalidate(ctx, trx.WalletID)
	uc.log.Info("Transaction cancelled",
		logger.StringField("transaction_id", trx.ID.String()),
		logger.StringField("amount", trx.Amount.String()),
	)
	return trx, nil
}

// SetBalance adjusts the wallet to the target balance with a single
// compensating deposit or withdrawal, created by the repository in the
// same store transaction that reads the current balance. Returns the
// adjustment transaction (nil when none was needed) and the applied
// delta.
func (uc *ledgerUsecase) SetBalance(ctx context.Context, ownerID string, target models.Money, reference string) (*models.WalletTransaction, models.Money, error) {
	trx, delta, err := uc.repo.SetBalance(ctx, ownerID, target, reference)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, models.Money{}, ErrInsufficientFunds
		}
		return nil, models.Money{}, fmt.Errorf("set balance: %w", err)
	}
	if trx == nil {
		return nil, delta, nil
	}

	uc.cache.Invalidate(ctx, trx.WalletID)
	uc.log.Info("Balance adjusted",
		logger.StringField("owner_id", ownerID),
		logger.StringField("target", target.String()),
		logger.StringField("delta", delta.String()),
	)
	return trx, delta, nil
}

func (uc *ledgerUsecase) TransactionsByReference(ctx context.Context, reference string) ([]*models.WalletTransaction, error) {
	trxs, err := uc.repo.TransactionsByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("transactions by reference: %w", err)
	}
	return trxs, nil
}

func (uc *ledgerUsecase) TotalBalance(ctx context.Context, currency string, excludeOwners []string) (models.Money, error) {
	total, err := uc.repo.TotalBalance(ctx, currency, excludeOwners)
	if err != nil {
		return models.Money{}, fmt.Errorf("total balance: %w", err)
	}
	return total, nil
}

func (uc *ledgerUsecase) invalidateWallets(ctx context.Context, trxs []*models.WalletTransaction) {
	seen := make(map[uuid.UUID]struct{}, len(trxs))
	ids := make([]uuid.UUID, 0, len(trxs))
	for _, trx := range trxs {
		if _, ok := seen[trx.WalletID]; ok {
			continue
		}
		seen[trx.WalletID] = struct{}{}
		ids = append(ids, trx.WalletID)
	}
	uc.cache.Invalidate(ctx, ids...)
}
