package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coinledger/backend/internal/models"
)

// ErrInsufficientBalance is returned when a decrement would drive the
// wallet balance negative. No history entry is written in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidAmount is returned for a non-positive increment/decrement
// amount or a negative set target. Rejected before any lock is taken.
var ErrInvalidAmount = errors.New("invalid amount")

// Change describes one balance mutation. Amount is non-negative; the sign
// is implied by Method. For ChangeMethodSet, Amount is the absolute target
// balance. BatchID, when set, correlates several changes into one logical
// operation for later reconstruction.
type Change struct {
	UserID       uuid.UUID
	CurrencyType string
	Method       string
	Amount       int64
	SourceType   string
	Reason       string
	Metadata     map[string]any
	BatchID      *uuid.UUID
}

// WalletRepo is the minimal wallet storage interface for the writer.
type WalletRepo interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currencyType string) (*models.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currencyType string, balance int64) error
}

// HistoryRepo is the minimal history storage interface for the writer.
type HistoryRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.HistoryEntry) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the ledger writer: the only component allowed to mutate
// wallets. Every mutation produces exactly one wallet update and one
// history entry inside one transaction.
type Service struct {
	pool    TxBeginner
	wallets WalletRepo
	history HistoryRepo
}

func NewService(pool TxBeginner, wallets WalletRepo, history HistoryRepo) *Service {
	return &Service{pool: pool, wallets: wallets, history: history}
}

// NewBatchID mints a correlation id for callers grouping several changes
// into one logical operation.
func NewBatchID() uuid.UUID { return uuid.New() }

// ApplyChange validates and applies one balance mutation in its own
// transaction. Callers that need all-or-nothing semantics across several
// changes must use ApplyChangeTx inside one outer transaction instead.
func (s *Service) ApplyChange(ctx context.Context, c Change) (*models.HistoryEntry, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entry, err := s.apply(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyChangeTx applies one balance mutation inside the caller's
// transaction. The wallet row is locked for the duration, so concurrent
// changes for the same (user, currency type) cannot interleave.
func (s *Service) ApplyChangeTx(ctx context.Context, tx pgx.Tx, c Change) (*models.HistoryEntry, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, c)
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, c Change) (*models.HistoryEntry, error) {
	w, err := s.wallets.GetForUpdate(ctx, tx, c.UserID, c.CurrencyType)
	if err != nil {
		return nil, err
	}

	before := w.Balance
	var after int64
	switch c.Method {
	case models.ChangeMethodIncrement:
		after = before + c.Amount
	case models.ChangeMethodDecrement:
		if before < c.Amount {
			return nil, ErrInsufficientBalance
		}
		after = before - c.Amount
	case models.ChangeMethodSet:
		after = c.Amount
	}

	if err := s.wallets.UpdateBalance(ctx, tx, c.UserID, c.CurrencyType, after); err != nil {
		return nil, err
	}

	entry := &models.HistoryEntry{
		ID:            uuid.New(),
		UserID:        c.UserID,
		CurrencyType:  c.CurrencyType,
		ChangeMethod:  c.Method,
		Delta:         after - before,
		BalanceBefore: before,
		BalanceAfter:  after,
		SourceType:    c.SourceType,
		BatchID:       c.BatchID,
		Reason:        c.Reason,
		Metadata:      c.Metadata,
	}
	if err := s.history.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func validate(c Change) error {
	switch c.Method {
	case models.ChangeMethodIncrement, models.ChangeMethodDecrement:
		if c.Amount <= 0 {
			return ErrInvalidAmount
		}
	case models.ChangeMethodSet:
		if c.Amount < 0 {
			return ErrInvalidAmount
		}
	default:
		return ErrInvalidAmount
	}
	return nil
}
