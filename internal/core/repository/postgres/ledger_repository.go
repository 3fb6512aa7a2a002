package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/walletd/internal/core/logger"
	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/Nzyazin/walletd/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// countableSQL selects transactions that currently contribute to the
// balance: outgoing while PENDING or FINALIZED, incoming only once
// FINALIZED. The alias t must refer to wallet_transactions.
const countableSQL = `
    ((t.amount < 0 AND (
        SELECT s.status FROM wallet_transaction_status_events s
        WHERE s.transaction_id = t.id ORDER BY s.seq DESC LIMIT 1
     ) IN ('PENDING', 'FINALIZED'))
     OR
     (t.amount >= 0 AND (
        SELECT s.status FROM wallet_transaction_status_events s
        WHERE s.transaction_id = t.id ORDER BY s.seq DESC LIMIT 1
     ) = 'FINALIZED'))`

const currentStatusSQL = `
    (SELECT s.status FROM wallet_transaction_status_events s
     WHERE s.transaction_id = t.id ORDER BY s.seq DESC LIMIT 1)`

type walletRow struct {
	ID        uuid.UUID       `db:"id"`
	OwnerID   string          `db:"owner_id"`
	Currency  string          `db:"currency"`
	Balance   decimal.Decimal `db:"balance"`
	CreatedAt sql.NullTime    `db:"created_at"`
	UpdatedAt sql.NullTime    `db:"updated_at"`
}

type trxRow struct {
	ID        uuid.UUID       `db:"id"`
	WalletID  uuid.UUID       `db:"wallet_id"`
	Amount    decimal.Decimal `db:"amount"`
	Currency  string          `db:"currency"`
	Reference sql.NullString  `db:"reference"`
	CreatedAt sql.NullTime    `db:"created_at"`
}

type eventRow struct {
	Seq           int64          `db:"seq"`
	ID            uuid.UUID      `db:"id"`
	TransactionID uuid.UUID      `db:"transaction_id"`
	Status        string         `db:"status"`
	Reference     sql.NullString `db:"reference"`
	CreatedAt     sql.NullTime   `db:"created_at"`
}

type postgresLedgerRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresLedgerRepo(db *sqlx.DB, log logger.Logger) repository.LedgerRepository {
	return &postgresLedgerRepo{db: db, log: log}
}

func (r *postgresLedgerRepo) GetOrCreateWallet(ctx context.Context, ownerID, currency string) (*models.Wallet, error) {
	const insertQuery = `
        INSERT INTO wallets (id, owner_id, currency, balance, created_at, updated_at)
        VALUES ($1, $2, $3, 0, NOW(), NOW())
        ON CONFLICT (owner_id, currency) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insertQuery, uuid.New(), ownerID, currency); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var row walletRow
	const selectQuery = `
        SELECT id, owner_id, currency, balance, created_at, updated_at
        FROM wallets WHERE owner_id = $1 AND currency = $2`
	if err := r.db.GetContext(ctx, &row, selectQuery, ownerID, currency); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return row.toModel(), nil
}

func (r *postgresLedgerRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var row trxRow
	const query = `
        SELECT id, wallet_id, amount, currency, reference, created_at
        FROM wallet_transactions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repository.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return r.attachEvents(ctx, r.db, []trxRow{row})
}

func (r *postgresLedgerRepo) ListTransactions(ctx context.Context, walletID uuid.UUID, filter repository.TransactionFilter) ([]*models.WalletTransaction, error) {
	query := `
        SELECT t.id, t.wallet_id, t.amount, t.currency, t.reference, t.created_at
        FROM wallet_transactions t
        WHERE t.wallet_id = $1`
	args := []interface{}{walletID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND %s = $%d", currentStatusSQL, len(args))
	}
	if filter.Direction != nil {
		if *filter.Direction == models.DirectionOutgoing {
			query += " AND t.amount < 0"
		} else {
			query += " AND t.amount >= 0"
		}
	}
	query += " ORDER BY t.created_at DESC, t.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Start > 0 {
		args = append(args, filter.Start)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []trxRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	trxs, err := r.attachEventsAll(ctx, r.db, rows)
	if err != nil {
		return nil, err
	}
	return trxs, nil
}

func (r *postgresLedgerRepo) TransactionsByReference(ctx context.Context, reference string) ([]*models.WalletTransaction, error) {
	const query = `
        SELECT id, wallet_id, amount, currency, reference, created_at
        FROM wallet_transactions WHERE reference = $1
        ORDER BY created_at DESC, id`
	var rows []trxRow
	if err := r.db.SelectContext(ctx, &rows, query, reference); err != nil {
		return nil, fmt.Errorf("transactions by reference: %w", err)
	}
	return r.attachEventsAll(ctx, r.db, rows)
}

func (r *postgresLedgerRepo) Balance(ctx context.Context, walletID uuid.UUID, cached bool) (models.Money, error) {
	var wallet walletRow
	const walletQuery = `SELECT id, owner_id, currency, balance FROM wallets WHERE id = $1`
	if err := r.db.GetContext(ctx, &wallet, walletQuery, walletID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Money{}, fmt.Errorf("%w: %s", repository.ErrWalletNotFound, walletID)
		}
		return models.Money{}, fmt.Errorf("get wallet: %w", err)
	}
	if cached {
		return models.NewMoney(wallet.Balance, wallet.Currency), nil
	}

	var sum decimal.Decimal
	query := `
        SELECT COALESCE(SUM(t.amount), 0) FROM wallet_transactions t
        WHERE t.wallet_id = $1 AND ` + countableSQL
	if err := r.db.GetContext(ctx, &sum, query, walletID); err != nil {
		return models.Money{}, fmt.Errorf("recompute balance: %w", err)
	}
	return models.NewMoney(sum, wallet.Currency), nil
}

// CreateTransactions runs as one store transaction. Concurrent
// operations on the same wallet serialize on the wallet row lock taken
// by lockWallet, so the balance-check-then-insert below cannot race.
func (r *postgresLedgerRepo) CreateTransactions(ctx context.Context, specs []repository.TransactionSpec) (result []*models.WalletTransaction, err error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		r.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	for _, spec := range specs {
		wallet, werr := r.lockWallet(ctx, tx, spec.OwnerID, spec.Amount.Currency)
		if werr != nil {
			err = werr
			return nil, err
		}

		if spec.Amount.IsNegative() && spec.Amount.Neg().GreaterThan(models.NewMoney(wallet.Balance, wallet.Currency)) {
			err = repository.ErrInsufficientFunds
			return nil, err
		}

		trx, cerr := r.insertTransaction(ctx, tx, wallet, spec)
		if cerr != nil {
			err = cerr
			return nil, err
		}
		result = append(result, trx)
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	isCommitted = true
	return result, nil
}

func (r *postgresLedgerRepo) TransitionStatus(ctx context.Context, ids []uuid.UUID, to models.TransactionStatus, reference string) (result []*models.WalletTransaction, err error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		r.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	for _, id := range ids {
		trx, terr := r.transitionOne(ctx, tx, id, to, reference)
		if terr != nil {
			err = terr
			return nil, err
		}
		result = append(result, trx)
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	isCommitted = true
	return result, nil
}

// SetBalance computes the delta against the FOR UPDATE-locked wallet
// row and writes the compensating transaction before releasing the
// lock, so the wallet cannot drift off the target mid-operation.
func (r *postgresLedgerRepo) SetBalance(ctx context.Context, ownerID string, target models.Money, reference string) (trx *models.WalletTransaction, delta models.Money, err error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		r.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return nil, models.Money{}, fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	wallet, werr := r.lockWallet(ctx, tx, ownerID, target.Currency)
	if werr != nil {
		err = werr
		return nil, models.Money{}, err
	}

	balance := models.NewMoney(wallet.Balance, wallet.Currency)
	delta = target.Sub(balance)
	if delta.IsNegative() && delta.Neg().GreaterThan(balance) {
		err = repository.ErrInsufficientFunds
		return nil, models.Money{}, err
	}

	if !delta.IsZero() {
		trx, err = r.insertTransaction(ctx, tx, wallet, repository.TransactionSpec{
			OwnerID:   ownerID,
			Amount:    delta,
			Reference: reference,
		})
		if err != nil {
			return nil, models.Money{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return nil, models.Money{}, fmt.Errorf("commit failed: %w", err)
	}
	isCommitted = true
	return trx, delta, nil
}

func (r *postgresLedgerRepo) TotalBalance(ctx context.Context, currency string, excludeOwners []string) (models.Money, error) {
	query := `SELECT COALESCE(SUM(balance), 0) FROM wallets WHERE currency = ?`
	args := []interface{}{currency}
	if len(excludeOwners) > 0 {
		query += ` AND owner_id NOT IN (?)`
		var err error
		query, args, err = sqlx.In(query, currency, excludeOwners)
		if err != nil {
			return models.Money{}, fmt.Errorf("total balance: %w", err)
		}
	}
	query = r.db.Rebind(query)

	var sum decimal.Decimal
	if err := r.db.GetContext(ctx, &sum, query, args...); err != nil {
		return models.Money{}, fmt.Errorf("total balance: %w", err)
	}
	return models.NewMoney(sum, currency), nil
}

// lockWallet resolves the wallet for (owner, currency) inside the
// given transaction, creating it if needed, and locks its row so the
// balance check below cannot race a concurrent operation.
func (r *postgresLedgerRepo) lockWallet(ctx context.Context, tx *sqlx.Tx, ownerID, currency string) (*walletRow, error) {
	const insertQuery = `
        INSERT INTO wallets (id, owner_id, currency, balance, created_at, updated_at)
        VALUES ($1, $2, $3, 0, NOW(), NOW())
        ON CONFLICT (owner_id, currency) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertQuery, uuid.New(), ownerID, currency); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var row walletRow
	const selectQuery = `
        SELECT id, owner_id, currency, balance, created_at, updated_at
        FROM wallets WHERE owner_id = $1 AND currency = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, selectQuery, ownerID, currency); err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &row, nil
}

func (r *postgresLedgerRepo) insertTransaction(ctx context.Context, tx *sqlx.Tx, wallet *walletRow, spec repository.TransactionSpec) (*models.WalletTransaction, error) {
	trx := &models.WalletTransaction{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Amount:    spec.Amount,
		Reference: spec.Reference,
	}

	const insertTrx = `
        INSERT INTO wallet_transactions (id, wallet_id, amount, currency, reference, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
        RETURNING created_at`
	if err := tx.GetContext(ctx, &trx.CreatedAt, insertTrx,
		trx.ID, trx.WalletID, trx.Amount.Amount, trx.Amount.Currency, trx.Reference); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	event, err := r.insertEvent(ctx, tx, trx.ID, models.StatusPending, "")
	if err != nil {
		return nil, err
	}
	trx.Statuses = append(trx.Statuses, *event)

	// A pending outgoing transaction counts immediately; keep the
	// cached wallet balance in step within the same store transaction.
	if trx.Countable() {
		if err := r.applyBalanceDelta(ctx, tx, wallet.ID, trx.Amount.Amount); err != nil {
			return nil, err
		}
	}
	return trx, nil
}

func (r *postgresLedgerRepo) transitionOne(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, to models.TransactionStatus, reference string) (*models.WalletTransaction, error) {
	var row trxRow
	const lockTrx = `
        SELECT id, wallet_id, amount, currency, reference, created_at
        FROM wallet_transactions WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, lockTrx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repository.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("lock transaction: %w", err)
	}

	var events []eventRow
	const eventsQuery = `
        SELECT seq, id, transaction_id, status, reference, created_at
        FROM wallet_transaction_status_events
        WHERE transaction_id = $1 ORDER BY seq`
	if err := tx.SelectContext(ctx, &events, eventsQuery, id); err != nil {
		return nil, fmt.Errorf("load status events: %w", err)
	}
	trx := row.toModel(events)

	if err := models.ValidateTransition(trx.CurrentStatus(), to); err != nil {
		return nil, err
	}
	delta := trx.CountableDelta(to)

	event, err := r.insertEvent(ctx, tx, id, to, reference)
	if err != nil {
		return nil, err
	}
	trx.Statuses = append(trx.Statuses, *event)

	if !delta.IsZero() {
		if err := r.applyBalanceDelta(ctx, tx, trx.WalletID, delta.Amount); err != nil {
			return nil, err
		}
	}
	return trx, nil
}

func (r *postgresLedgerRepo) insertEvent(ctx context.Context, tx *sqlx.Tx, trxID uuid.UUID, status models.TransactionStatus, reference string) (*models.StatusEvent, error) {
	event := models.StatusEvent{
		ID:            uuid.New(),
		TransactionID: trxID,
		Status:        status,
		Reference:     reference,
	}
	const query = `
        INSERT INTO wallet_transaction_status_events (id, transaction_id, status, reference, created_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
        RETURNING seq, created_at`
	row := tx.QueryRowxContext(ctx, query, event.ID, trxID, string(status), reference)
	if err := row.Scan(&event.Seq, &event.CreatedAt); err != nil {
		return nil, fmt.Errorf("append status event: %w", err)
	}
	return &event, nil
}

func (r *postgresLedgerRepo) applyBalanceDelta(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, delta decimal.Decimal) error {
	const query = `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, delta, walletID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (r *postgresLedgerRepo) attachEvents(ctx context.Context, q sqlx.QueryerContext, rows []trxRow) (*models.WalletTransaction, error) {
	trxs, err := r.attachEventsAll(ctx, q, rows)
	if err != nil {
		return nil, err
	}
	return trxs[0], nil
}

func (r *postgresLedgerRepo) attachEventsAll(ctx context.Context, q sqlx.QueryerContext, rows []trxRow) ([]*models.WalletTransaction, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err := sqlx.In(`
        SELECT seq, id, transaction_id, status, reference, created_at
        FROM wallet_transaction_status_events
        WHERE transaction_id IN (?) ORDER BY seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("load status events: %w", err)
	}
	query = r.db.Rebind(query)

	var events []eventRow
	if err := sqlx.SelectContext(ctx, q, &events, query, args...); err != nil {
		return nil, fmt.Errorf("load status events: %w", err)
	}

	byTrx := make(map[uuid.UUID][]eventRow, len(rows))
	for _, event := range events {
		byTrx[event.TransactionID] = append(byTrx[event.TransactionID], event)
	}

	result := make([]*models.WalletTransaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toModel(byTrx[row.ID]))
	}
	return result, nil
}

func (w *walletRow) toModel() *models.Wallet {
	return &models.Wallet{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Currency:  w.Currency,
		Balance:   models.NewMoney(w.Balance, w.Currency),
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
}

func (t *trxRow) toModel(events []eventRow) *models.WalletTransaction {
	trx := &models.WalletTransaction{
		ID:        t.ID,
		WalletID:  t.WalletID,
		Amount:    models.NewMoney(t.Amount, t.Currency),
		Reference: t.Reference.String,
		CreatedAt: t.CreatedAt.Time,
	}
	for _, event := range events {
		trx.Statuses = append(trx.Statuses, models.StatusEvent{
			ID:            event.ID,
			TransactionID: event.TransactionID,
			Status:        models.TransactionStatus(event.Status),
			Reference:     event.Reference.String,
			Seq:           event.Seq,
			CreatedAt:     event.CreatedAt.Time,
		})
	}
	return trx
}
