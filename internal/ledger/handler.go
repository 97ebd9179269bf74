package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/coinledger/backend/internal/middleware"
	"github.com/coinledger/backend/internal/models"
)

// WalletLister is the read interface for wallet balances.
type WalletLister interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Wallet, error)
}

// BatchSummarizer is the read interface for history batch summaries.
type BatchSummarizer interface {
	SummarizeBatches(ctx context.Context, userID uuid.UUID, page, limit int) ([]*models.BatchSummary, error)
}

// HistoryLister is the read interface for raw history entries.
type HistoryLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.HistoryEntry, error)
}

// ChangeApplier is the ledger writer surface exposed to trusted callers.
type ChangeApplier interface {
	ApplyChange(ctx context.Context, c Change) (*models.HistoryEntry, error)
}

// Handler serves wallet read endpoints and the admin grant endpoint.
type Handler struct {
	wallets WalletLister
	history HistoryLister
	batches BatchSummarizer
	writer  ChangeApplier
	log     *slog.Logger
}

func NewHandler(wallets WalletLister, history HistoryLister, batches BatchSummarizer, writer ChangeApplier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{wallets: wallets, history: history, batches: batches, writer: writer, log: log}
}

// GetBalances handles GET /api/v1/wallet/balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	wallets, err := h.wallets.ListByUserID(r.Context(), p.UserID)
	if err != nil {
		h.log.Error("list wallets", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if wallets == nil {
		wallets = []*models.Wallet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": wallets})
}

// ListHistoryBatches handles GET /api/v1/wallet/history/batches?page=&limit=.
func (h *Handler) ListHistoryBatches(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	summaries, err := h.batches.SummarizeBatches(r.Context(), p.UserID, page, limit)
	if err != nil {
		h.log.Error("summarize batches", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "limit": limit, "batches": summaries})
}

// ListHistory handles GET /api/v1/wallet/history?page=&limit= — the raw
// entry feed, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	entries, err := h.history.ListByUser(r.Context(), p.UserID, limit, (page-1)*limit)
	if err != nil {
		h.log.Error("list history", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "limit": limit, "entries": entries})
}

type grantRequest struct {
	UserID       string         `json:"user_id"`
	CurrencyType string         `json:"currency_type"`
	ChangeMethod string         `json:"change_method"`
	Amount       int64          `json:"amount"`
	Reason       string         `json:"reason"`
	Metadata     map[string]any `json:"metadata"`
	BatchID      string         `json:"batch_id"`
}

// CreateGrant handles POST /api/v1/admin/grants — the trusted direct
// applyChange surface. Admin role is enforced by middleware.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	if req.CurrencyType == "" {
		http.Error(w, `{"error":"currency_type is required"}`, http.StatusBadRequest)
		return
	}
	var batchID *uuid.UUID
	if req.BatchID != "" {
		id, err := uuid.Parse(req.BatchID)
		if err != nil {
			http.Error(w, `{"error":"invalid batch_id"}`, http.StatusBadRequest)
			return
		}
		batchID = &id
	}

	entry, err := h.writer.ApplyChange(r.Context(), Change{
		UserID:       userID,
		CurrencyType: req.CurrencyType,
		Method:       req.ChangeMethod,
		Amount:       req.Amount,
		SourceType:   models.SourceAdminAction,
		Reason:       req.Reason,
		Metadata:     req.Metadata,
		BatchID:      batchID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		case errors.Is(err, ErrInsufficientBalance):
			http.Error(w, `{"error":"insufficient balance"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("apply grant", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
