// Package cleanup runs the ordered handler sequence executed when an
// account is deleted: mark the user withdrawn, zero wallet balances,
// expire open purchase requests. Everything runs in one transaction.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coinledger/backend/internal/ledger"
	"github.com/coinledger/backend/internal/models"
)

// Handler is one cleanup step. Required handlers abort the whole cleanup
// transaction on failure; optional handlers run in a savepoint so their
// failure is logged and the rest commits anyway.
type Handler struct {
	Name     string
	Required bool
	Run      func(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Orchestrator executes the handler list in order. The list is built once
// at startup so the ordering stays auditable.
type Orchestrator struct {
	pool     TxBeginner
	handlers []Handler
	log      *slog.Logger
}

func NewOrchestrator(pool TxBeginner, handlers []Handler, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{pool: pool, handlers: handlers, log: log}
}

// CleanupAccount runs all handlers for the user inside one transaction.
// If any required handler fails, nothing commits — including work done by
// optional handlers that already ran.
func (o *Orchestrator) CleanupAccount(ctx context.Context, userID uuid.UUID) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, h := range o.handlers {
		if h.Required {
			if err := h.Run(ctx, tx, userID); err != nil {
				return fmt.Errorf("cleanup handler %s: %w", h.Name, err)
			}
			continue
		}
		// Optional handlers run inside a savepoint so a failed statement
		// cannot poison the outer transaction.
		sub, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		if err := h.Run(ctx, sub, userID); err != nil {
			o.log.Warn("optional cleanup handler failed", "handler", h.Name, "user_id", userID, "error", err)
			_ = sub.Rollback(ctx)
			continue
		}
		if err := sub.Commit(ctx); err != nil {
			o.log.Warn("optional cleanup handler commit failed", "handler", h.Name, "user_id", userID, "error", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.log.Info("account cleanup committed", "user_id", userID)
	return nil
}

// UserWithdrawer marks a user account withdrawn.
type UserWithdrawer interface {
	MarkWithdrawnTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

// WalletLister lists a user's wallets inside a transaction.
type WalletLister interface {
	ListByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.Wallet, error)
}

// LedgerWriter zeroes balances through the ledger so every zeroing leaves
// a history entry.
type LedgerWriter interface {
	ApplyChangeTx(ctx context.Context, tx pgx.Tx, c ledger.Change) (*models.HistoryEntry, error)
}

// PurchaseExpirer expires a user's open purchase requests.
type PurchaseExpirer interface {
	ExpireActiveByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, errorMessage string) (int64, error)
}

// DefaultHandlers builds the production handler list: required handlers
// first, in order, then the optional ones.
func DefaultHandlers(users UserWithdrawer, wallets WalletLister, writer LedgerWriter, purchases PurchaseExpirer) []Handler {
	return []Handler{
		{
			Name:     "mark_user_withdrawn",
			Required: true,
			Run: func(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
				return users.MarkWithdrawnTx(ctx, tx, userID)
			},
		},
		{
			Name:     "zero_wallet_balances",
			Required: true,
			Run: func(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
				list, err := wallets.ListByUserTx(ctx, tx, userID)
				if err != nil {
					return err
				}
				for _, w := range list {
					if w.Balance == 0 {
						continue
					}
					_, err := writer.ApplyChangeTx(ctx, tx, ledger.Change{
						UserID:       userID,
						CurrencyType: w.CurrencyType,
						Method:       models.ChangeMethodSet,
						Amount:       0,
						SourceType:   models.SourceSystem,
						Reason:       "account cleanup",
					})
					if err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name:     "expire_open_purchases",
			Required: false,
			Run: func(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
				_, err := purchases.ExpireActiveByUserTx(ctx, tx, userID, "cancelled by account cleanup")
				return err
			},
		},
	}
}
