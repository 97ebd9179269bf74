package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coinledger/backend/internal/models"
)

const columns = `id, user_id, idempotency_key, currency_type, credit_amount, payment_amount,
	payment_method, payment_provider, payment_session_id, transaction_id, status,
	redirect_url, error_code, error_message, webhook_signature, history_entry_id,
	completed_at, paid_at, expires_at, created_at, updated_at`

// Repository stores purchase requests. Status transitions go through the
// state-checked UPDATE methods so a row can never leave a terminal state.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, p *models.PurchaseRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO purchase_requests (id, user_id, idempotency_key, currency_type, credit_amount, payment_amount, payment_method, payment_provider, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.IdempotencyKey, p.CurrencyType, p.CreditAmount, p.PaymentAmount, p.PaymentMethod, p.PaymentProvider, p.Status, p.ExpiresAt).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetByUserAndKey returns the request for (userID, idempotencyKey), or nil
// if none exists.
func (r *Repository) GetByUserAndKey(ctx context.Context, userID uuid.UUID, key string) (*models.PurchaseRequest, error) {
	p, err := scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+columns+` FROM purchase_requests WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+columns+` FROM purchase_requests WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the request row. Call within a transaction.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseRequest, error) {
	return scanRequest(tx.QueryRow(ctx, `
		SELECT `+columns+` FROM purchase_requests WHERE id = $1 FOR UPDATE
	`, id))
}

// GetBySessionIDForUpdate locks the request row owning the provider
// session. Call within a transaction.
func (r *Repository) GetBySessionIDForUpdate(ctx context.Context, tx pgx.Tx, sessionID string) (*models.PurchaseRequest, error) {
	return scanRequest(tx.QueryRow(ctx, `
		SELECT `+columns+` FROM purchase_requests WHERE payment_session_id = $1 FOR UPDATE
	`, sessionID))
}

// MarkProcessingTx transitions pending -> processing and records the
// provider session. Call after GetByIDForUpdate in the same tx.
func (r *Repository) MarkProcessingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, sessionID, redirectURL string) error {
	_, err := tx.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $2, payment_session_id = $3, redirect_url = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, id, models.PurchaseStatusProcessing, sessionID, redirectURL, models.PurchaseStatusPending)
	return err
}

// MarkFailedTx transitions a non-terminal request to failed.
func (r *Repository) MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorCode, errorMessage string) error {
	_, err := tx.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $2, error_code = $3, error_message = $4, updated_at = now()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, models.PurchaseStatusFailed, errorCode, errorMessage,
		models.PurchaseStatusPending, models.PurchaseStatusProcessing)
	return err
}

// MarkCompletedTx transitions a non-terminal request to completed and
// links the single history entry produced by the credit.
func (r *Repository) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id, historyEntryID uuid.UUID, transactionID, signature string, paidAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $2, history_entry_id = $3, transaction_id = $4, webhook_signature = $5,
			paid_at = $6, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($7, $8)
	`, id, models.PurchaseStatusCompleted, historyEntryID, transactionID, signature, paidAt,
		models.PurchaseStatusPending, models.PurchaseStatusProcessing)
	return err
}

// ExpireOverdue transitions every pending/processing request past its
// expires_at to expired. Returns the number of rows transitioned.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $1, updated_at = now()
		WHERE status IN ($2, $3) AND expires_at < $4
	`, models.PurchaseStatusExpired, models.PurchaseStatusPending, models.PurchaseStatusProcessing, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpireActiveByUserTx expires every pending/processing request of the
// user inside the given transaction. Used by account cleanup.
func (r *Repository) ExpireActiveByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, errorMessage string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $2, error_message = $3, updated_at = now()
		WHERE user_id = $1 AND status IN ($4, $5)
	`, userID, models.PurchaseStatusExpired, errorMessage,
		models.PurchaseStatusPending, models.PurchaseStatusProcessing)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns the user's purchase requests newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.PurchaseRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+` FROM purchase_requests
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PurchaseRequest
	for rows.Next() {
		p, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.PurchaseRequest, error) {
	var p models.PurchaseRequest
	err := row.Scan(&p.ID, &p.UserID, &p.IdempotencyKey, &p.CurrencyType, &p.CreditAmount, &p.PaymentAmount,
		&p.PaymentMethod, &p.PaymentProvider, &p.PaymentSessionID, &p.TransactionID, &p.Status,
		&p.RedirectURL, &p.ErrorCode, &p.ErrorMessage, &p.WebhookSignature, &p.HistoryEntryID,
		&p.CompletedAt, &p.PaidAt, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
