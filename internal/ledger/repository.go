package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coinledger/backend/internal/models"
)

// WalletPgRepo stores wallets keyed by (user_id, currency_type).
type WalletPgRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletPgRepo {
	return &WalletPgRepo{pool: pool}
}

// GetForUpdate locks the wallet row for (userID, currencyType), creating it
// with a zero balance if it does not exist yet. Call within a transaction;
// the lock scope is exactly the composite key, so other currency types and
// other users proceed independently.
func (r *WalletPgRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currencyType string) (*models.Wallet, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, currency_type, balance, locked_balance)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id, currency_type) DO NOTHING
	`, userID, currencyType)
	if err != nil {
		return nil, err
	}
	var w models.Wallet
	err = tx.QueryRow(ctx, `
		SELECT user_id, currency_type, balance, locked_balance, updated_at
		FROM wallets WHERE user_id = $1 AND currency_type = $2
		FOR UPDATE
	`, userID, currencyType).Scan(&w.UserID, &w.CurrencyType, &w.Balance, &w.LockedBalance, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateBalance sets the wallet balance. Call after GetForUpdate in the same tx.
func (r *WalletPgRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currencyType string, balance int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $3, updated_at = now()
		WHERE user_id = $1 AND currency_type = $2
	`, userID, currencyType, balance)
	return err
}

func (r *WalletPgRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Wallet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, currency_type, balance, locked_balance, updated_at
		FROM wallets WHERE user_id = $1 ORDER BY currency_type
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWallets(rows)
}

// ListByUserTx lists the user's wallets inside the given transaction.
// Used by account cleanup to find balances to zero.
func (r *WalletPgRepo) ListByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.Wallet, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id, currency_type, balance, locked_balance, updated_at
		FROM wallets WHERE user_id = $1 ORDER BY currency_type
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWallets(rows)
}

func scanWallets(rows pgx.Rows) ([]*models.Wallet, error) {
	var list []*models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.UserID, &w.CurrencyType, &w.Balance, &w.LockedBalance, &w.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &w)
	}
	return list, rows.Err()
}

// HistoryPgRepo stores the append-only wallet history. Entries are never
// updated or deleted.
type HistoryPgRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryPgRepo {
	return &HistoryPgRepo{pool: pool}
}

// CreateTx inserts a history entry inside the given transaction.
func (r *HistoryPgRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.HistoryEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_history (id, user_id, currency_type, change_method, delta, balance_before, balance_after, source_type, batch_id, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, e.ID, e.UserID, e.CurrencyType, e.ChangeMethod, e.Delta, e.BalanceBefore, e.BalanceAfter, e.SourceType, e.BatchID, e.Reason, e.Metadata).Scan(&e.CreatedAt)
}

// ListBatchKeys returns one key per batch for the user, newest batch first.
// Entries without a batch_id are singleton batches keyed by their own id.
func (r *HistoryPgRepo) ListBatchKeys(ctx context.Context, userID uuid.UUID, limit, offset int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(batch_id::text, id::text) AS batch_key
		FROM wallet_history
		WHERE user_id = $1
		GROUP BY batch_key
		ORDER BY MAX(created_at) DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListByBatchKeys returns all entries belonging to the given batch keys in
// commit order (oldest first).
func (r *HistoryPgRepo) ListByBatchKeys(ctx context.Context, userID uuid.UUID, keys []string) ([]*models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, currency_type, change_method, delta, balance_before, balance_after, source_type, batch_id, reason, metadata, created_at
		FROM wallet_history
		WHERE user_id = $1 AND COALESCE(batch_id::text, id::text) = ANY($2)
		ORDER BY created_at ASC, id ASC
	`, userID, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByUser returns the user's history entries newest first, paginated.
func (r *HistoryPgRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, currency_type, change_method, delta, balance_before, balance_after, source_type, batch_id, reason, metadata, created_at
		FROM wallet_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]*models.HistoryEntry, error) {
	var list []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.CurrencyType, &e.ChangeMethod, &e.Delta, &e.BalanceBefore, &e.BalanceAfter, &e.SourceType, &e.BatchID, &e.Reason, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
