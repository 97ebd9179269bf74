package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coinledger/backend/internal/ledger"
	"github.com/coinledger/backend/internal/models"
	"github.com/coinledger/backend/internal/payment"
)

// ErrInvalidRequest is returned for a create call with a non-positive
// amount or a missing idempotency key.
var ErrInvalidRequest = errors.New("invalid purchase request")

// ErrStaleTransition is returned when a caller-driven transition targets a
// request that is not in the expected source state. Webhook-driven
// transitions never surface it; they no-op instead.
var ErrStaleTransition = errors.New("purchase request is not in the expected state")

// ErrProviderSession wraps any provider failure during session creation.
// The request is marked failed before this is returned.
var ErrProviderSession = errors.New("provider session failed")

// Repo is the minimal purchase storage interface for the state machine.
type Repo interface {
	Create(ctx context.Context, p *models.PurchaseRequest) error
	GetByUserAndKey(ctx context.Context, userID uuid.UUID, key string) (*models.PurchaseRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PurchaseRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PurchaseRequest, error)
	GetBySessionIDForUpdate(ctx context.Context, tx pgx.Tx, sessionID string) (*models.PurchaseRequest, error)
	MarkProcessingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, sessionID, redirectURL string) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorCode, errorMessage string) error
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id, historyEntryID uuid.UUID, transactionID, signature string, paidAt *time.Time) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.PurchaseRequest, error)
}

// LedgerWriter is the ledger surface the state machine credits through.
type LedgerWriter interface {
	ApplyChangeTx(ctx context.Context, tx pgx.Tx, c ledger.Change) (*models.HistoryEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config is the settlement policy.
type Config struct {
	TTL             time.Duration
	PaymentCurrency string
	SuccessURL      string
	CancelURL       string
}

// Service owns the purchase request lifecycle. It is the only writer of
// purchase_requests and calls the ledger exactly once, on the completed
// transition.
type Service struct {
	pool     TxBeginner
	repo     Repo
	provider payment.Provider
	writer   LedgerWriter
	cfg      Config
	log      *slog.Logger
}

func NewService(pool TxBeginner, repo Repo, provider payment.Provider, writer LedgerWriter, cfg Config, log *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, provider: provider, writer: writer, cfg: cfg, log: log}
}

// CreateParams describes one logical purchase attempt.
type CreateParams struct {
	CurrencyType   string
	CreditAmount   int64
	PaymentAmount  int64
	PaymentMethod  string
	IdempotencyKey string
}

// Create inserts a new pending request, or returns the existing row
// unchanged when the same (user, idempotency key) was already submitted.
// The bool result reports whether a new row was created.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, params CreateParams) (*models.PurchaseRequest, bool, error) {
	if params.CreditAmount <= 0 || params.PaymentAmount <= 0 || params.IdempotencyKey == "" || params.CurrencyType == "" {
		return nil, false, ErrInvalidRequest
	}
	existing, err := s.repo.GetByUserAndKey(ctx, userID, params.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	p := &models.PurchaseRequest{
		ID:              uuid.New(),
		UserID:          userID,
		IdempotencyKey:  params.IdempotencyKey,
		CurrencyType:    params.CurrencyType,
		CreditAmount:    params.CreditAmount,
		PaymentAmount:   params.PaymentAmount,
		PaymentMethod:   params.PaymentMethod,
		PaymentProvider: s.provider.Name(),
		Status:          models.PurchaseStatusPending,
		ExpiresAt:       time.Now().Add(s.cfg.TTL),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a concurrent race on the idempotency key; return the winner.
			winner, getErr := s.repo.GetByUserAndKey(ctx, userID, params.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, err
	}
	return p, true, nil
}

// Get returns one purchase request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PurchaseRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the user's purchase requests newest first. page is 1-based.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page, limit int) ([]*models.PurchaseRequest, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit, (page-1)*limit)
}

// BeginProviderSession transitions pending -> processing: it opens the
// provider session first, without holding any row lock, then records the
// session under the lock. A provider failure marks the request failed and
// returns ErrProviderSession to the caller.
func (s *Service) BeginProviderSession(ctx context.Context, id uuid.UUID) (*models.PurchaseRequest, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PurchaseStatusPending {
		return nil, ErrStaleTransition
	}

	sess, err := s.provider.CreateSession(ctx, payment.SessionParams{
		RequestID:  p.ID,
		UserID:     p.UserID,
		Amount:     p.PaymentAmount,
		Currency:   s.cfg.PaymentCurrency,
		Method:     p.PaymentMethod,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	})
	if err != nil {
		s.log.Error("provider session creation failed", "purchase_id", p.ID, "error", err)
		if failErr := s.failRequest(ctx, p.ID, "provider_session_error", err.Error()); failErr != nil {
			s.log.Error("mark purchase failed", "purchase_id", p.ID, "error", failErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderSession, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	locked, err := s.repo.GetByIDForUpdate(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if locked.Status != models.PurchaseStatusPending {
		return nil, ErrStaleTransition
	}
	if err := s.repo.MarkProcessingTx(ctx, tx, p.ID, sess.SessionID, sess.RedirectURL); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	locked.Status = models.PurchaseStatusProcessing
	locked.PaymentSessionID = &sess.SessionID
	locked.RedirectURL = &sess.RedirectURL
	return locked, nil
}

// HandleWebhook verifies the provider callback and applies the matching
// transition. Duplicate or out-of-order deliveries are no-ops: the credit
// is gated by the state check under the row lock, so it happens at most
// once per request no matter how many times the webhook is delivered.
func (s *Service) HandleWebhook(ctx context.Context, r *http.Request) error {
	res, err := s.provider.VerifyWebhook(r)
	if err != nil {
		return err
	}
	if res.SessionID == "" {
		s.log.Warn("webhook without session id ignored")
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetBySessionIDForUpdate(ctx, tx, res.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Warn("webhook for unknown session ignored", "session_id", res.SessionID)
			return nil
		}
		return err
	}
	if models.PurchaseTerminal(p.Status) {
		s.log.Info("stale webhook ignored", "purchase_id", p.ID, "status", p.Status)
		return nil
	}

	if res.Success {
		entry, err := s.writer.ApplyChangeTx(ctx, tx, ledger.Change{
			UserID:       p.UserID,
			CurrencyType: p.CurrencyType,
			Method:       models.ChangeMethodIncrement,
			Amount:       p.CreditAmount,
			SourceType:   models.SourceUserAction,
			Reason:       "currency purchase",
			Metadata: map[string]any{
				"purchase_request_id": p.ID.String(),
				"payment_provider":    p.PaymentProvider,
				"transaction_id":      res.TransactionID,
			},
		})
		if err != nil {
			return err
		}
		if err := s.repo.MarkCompletedTx(ctx, tx, p.ID, entry.ID, res.TransactionID, res.Signature, res.PaidAt); err != nil {
			return err
		}
		s.log.Info("purchase completed", "purchase_id", p.ID, "credit_amount", p.CreditAmount)
	} else {
		if err := s.repo.MarkFailedTx(ctx, tx, p.ID, res.ErrorCode, res.ErrorMessage); err != nil {
			return err
		}
		s.log.Info("purchase failed", "purchase_id", p.ID, "error_code", res.ErrorCode)
	}
	return tx.Commit(ctx)
}

// ExpireOverdue sweeps pending/processing requests past their expires_at
// into expired. No ledger effect.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.repo.ExpireOverdue(ctx, time.Now())
}

func (s *Service) failRequest(ctx context.Context, id uuid.UUID, code, message string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := s.repo.GetByIDForUpdate(ctx, tx, id); err != nil {
		return err
	}
	if err := s.repo.MarkFailedTx(ctx, tx, id, code, message); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
