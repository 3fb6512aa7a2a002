// Package memory provides a mutex-guarded in-memory implementation of
// the ledger repository, useful for unit tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/Nzyazin/walletd/internal/core/repository"
	"github.com/google/uuid"
)

type memoryLedgerRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
	byOwner map[string]uuid.UUID
	trxs    map[uuid.UUID]*models.WalletTransaction
	order   []uuid.UUID
	seq     int64
}

func NewMemoryLedgerRepo() repository.LedgerRepository {
	return &memoryLedgerRepo{
		wallets: make(map[uuid.UUID]*models.Wallet),
		byOwner: make(map[string]uuid.UUID),
		trxs:    make(map[uuid.UUID]*models.WalletTransaction),
	}
}

func ownerKey(ownerID, currency string) string {
	return ownerID + "\x00" + currency
}

func (r *memoryLedgerRepo) GetOrCreateWallet(_ context.Context, ownerID, currency string) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneWallet(r.getOrCreateWalletLocked(ownerID, currency)), nil
}

func (r *memoryLedgerRepo) getOrCreateWalletLocked(ownerID, currency string) *models.Wallet {
	if id, ok := r.byOwner[ownerKey(ownerID, currency)]; ok {
		return r.wallets[id]
	}
	now := time.Now().UTC()
	wallet := &models.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Currency:  currency,
		Balance:   models.ZeroMoney(currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.wallets[wallet.ID] = wallet
	r.byOwner[ownerKey(ownerID, currency)] = wallet.ID
	return wallet
}

func (r *memoryLedgerRepo) GetTransaction(_ context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trx, ok := r.trxs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrTransactionNotFound, id)
	}
	return cloneTrx(trx), nil
}

func (r *memoryLedgerRepo) ListTransactions(_ context.Context, walletID uuid.UUID, filter repository.TransactionFilter) ([]*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.wallets[walletID]; !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrWalletNotFound, walletID)
	}

	var matched []*models.WalletTransaction
	for i := len(r.order) - 1; i >= 0; i-- {
		trx := r.trxs[r.order[i]]
		if trx.WalletID != walletID {
			continue
		}
		if filter.Status != nil && trx.CurrentStatus() != *filter.Status {
			continue
		}
		if filter.Direction != nil && trx.Direction() != *filter.Direction {
			continue
		}
		matched = append(matched, trx)
	}

	start := filter.Start
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	result := make([]*models.WalletTransaction, 0, end-start)
	for _, trx := range matched[start:end] {
		result = append(result, cloneTrx(trx))
	}
	return result, nil
}

func (r *memoryLedgerRepo) TransactionsByReference(_ context.Context, reference string) ([]*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.WalletTransaction
	for i := len(r.order) - 1; i >= 0; i-- {
		trx := r.trxs[r.order[i]]
		if trx.Reference == reference && reference != "" {
			result = append(result, cloneTrx(trx))
		}
	}
	return result, nil
}

func (r *memoryLedgerRepo) Balance(_ context.Context, walletID uuid.UUID, cached bool) (models.Money, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallet, ok := r.wallets[walletID]
	if !ok {
		return models.Money{}, fmt.Errorf("%w: %s", repository.ErrWalletNotFound, walletID)
	}
	if cached {
		return wallet.Balance, nil
	}

	balance := models.ZeroMoney(wallet.Currency)
	for _, id := range r.order {
		trx := r.trxs[id]
		if trx.WalletID == walletID && trx.Countable() {
			balance = balance.Add(trx.Amount)
		}
	}
	return balance, nil
}

func (r *memoryLedgerRepo) CreateTransactions(_ context.Context, specs []repository.TransactionSpec) ([]*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stage everything first so a failed spec leaves nothing behind.
	type stagedWallet struct {
		wallet  *models.Wallet
		created bool
		balance models.Money
	}
	staged := make(map[string]*stagedWallet)
	seq := r.seq
	now := time.Now().UTC()

	var created []*models.WalletTransaction
	for _, spec := range specs {
		key := ownerKey(spec.OwnerID, spec.Amount.Currency)
		sw, ok := staged[key]
		if !ok {
			sw = &stagedWallet{}
			if id, exists := r.byOwner[key]; exists {
				sw.wallet = r.wallets[id]
				sw.balance = sw.wallet.Balance
			} else {
				sw.wallet = &models.Wallet{
					ID:        uuid.New(),
					OwnerID:   spec.OwnerID,
					Currency:  spec.Amount.Currency,
					Balance:   models.ZeroMoney(spec.Amount.Currency),
					CreatedAt: now,
					UpdatedAt: now,
				}
				sw.created = true
				sw.balance = sw.wallet.Balance
			}
			staged[key] = sw
		}

		if spec.Amount.IsNegative() && spec.Amount.Neg().GreaterThan(sw.balance) {
			return nil, repository.ErrInsufficientFunds
		}

		seq++
		trx := &models.WalletTransaction{
			ID:        uuid.New(),
			WalletID:  sw.wallet.ID,
			Amount:    spec.Amount,
			Reference: spec.Reference,
			CreatedAt: now,
		}
		trx.Statuses = append(trx.Statuses, models.StatusEvent{
			ID:            uuid.New(),
			TransactionID: trx.ID,
			Status:        models.StatusPending,
			Seq:           seq,
			CreatedAt:     now,
		})
		if trx.Countable() {
			sw.balance = sw.balance.Add(trx.Amount)
		}
		created = append(created, trx)
	}

	// Commit.
	r.seq = seq
	for _, sw := range staged {
		if sw.created {
			r.wallets[sw.wallet.ID] = sw.wallet
			r.byOwner[ownerKey(sw.wallet.OwnerID, sw.wallet.Currency)] = sw.wallet.ID
		}
		sw.wallet.Balance = sw.balance
		sw.wallet.UpdatedAt = now
	}
	result := make([]*models.WalletTransaction, 0, len(created))
	for _, trx := range created {
		r.trxs[trx.ID] = trx
		r.order = append(r.order, trx.ID)
		result = append(result, cloneTrx(trx))
	}
	return result, nil
}

func (r *memoryLedgerRepo) TransitionStatus(_ context.Context, ids []uuid.UUID, to models.TransactionStatus, reference string) ([]*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole batch before mutating anything.
	projected := make(map[uuid.UUID]models.TransactionStatus)
	for _, id := range ids {
		trx, ok := r.trxs[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", repository.ErrTransactionNotFound, id)
		}
		from, seen := projected[id]
		if !seen {
			from = trx.CurrentStatus()
		}
		if err := models.ValidateTransition(from, to); err != nil {
			return nil, err
		}
		projected[id] = to
	}

	now := time.Now().UTC()
	result := make([]*models.WalletTransaction, 0, len(ids))
	for _, id := range ids {
		trx := r.trxs[id]
		delta := trx.CountableDelta(to)
		r.seq++
		trx.Statuses = append(trx.Statuses, models.StatusEvent{
			ID:            uuid.New(),
			TransactionID: id,
			Status:        to,
			Reference:     reference,
			Seq:           r.seq,
			CreatedAt:     now,
		})
		if !delta.IsZero() {
			wallet := r.wallets[trx.WalletID]
			wallet.Balance = wallet.Balance.Add(delta)
			wallet.UpdatedAt = now
		}
		result = append(result, cloneTrx(trx))
	}
	return result, nil
}

func (r *memoryLedgerRepo) SetBalance(_ context.Context, ownerID string, target models.Money, reference string) (*models.WalletTransaction, models.Money, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallet := r.getOrCreateWalletLocked(ownerID, target.Currency)
	delta := target.Sub(wallet.Balance)
	if delta.IsZero() {
		return nil, delta, nil
	}
	if delta.IsNegative() && delta.Neg().GreaterThan(wallet.Balance) {
		return nil, models.Money{}, repository.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	r.seq++
	trx := &models.WalletTransaction{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Amount:    delta,
		Reference: reference,
		CreatedAt: now,
	}
	trx.Statuses = append(trx.Statuses, models.StatusEvent{
		ID:            uuid.New(),
		TransactionID: trx.ID,
		Status:        models.StatusPending,
		Seq:           r.seq,
		CreatedAt:     now,
	})
	if trx.Countable() {
		wallet.Balance = wallet.Balance.Add(trx.Amount)
		wallet.UpdatedAt = now
	}
	r.trxs[trx.ID] = trx
	r.order = append(r.order, trx.ID)
	return cloneTrx(trx), delta, nil
}

func (r *memoryLedgerRepo) TotalBalance(_ context.Context, currency string, excludeOwners []string) (models.Money, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := make(map[string]struct{}, len(excludeOwners))
	for _, owner := range excludeOwners {
		excluded[owner] = struct{}{}
	}

	total := models.ZeroMoney(currency)
	for _, wallet := range r.wallets {
		if wallet.Currency != currency {
			continue
		}
		if _, skip := excluded[wallet.OwnerID]; skip {
			continue
		}
		total = total.Add(wallet.Balance)
	}
	return total, nil
}

func cloneWallet(w *models.Wallet) *models.Wallet {
	cp := *w
	return &cp
}

func cloneTrx(t *models.WalletTransaction) *models.WalletTransaction {
	cp := *t
	cp.Statuses = append([]models.StatusEvent(nil), t.Statuses...)
	return &cp
}
