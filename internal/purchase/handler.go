package purchase

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coinledger/backend/internal/middleware"
	"github.com/coinledger/backend/internal/models"
)

// Handler serves the purchase endpoints and the inbound webhook.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

type createRequest struct {
	CurrencyType   string `json:"currency_type"`
	CreditAmount   int64  `json:"credit_amount"`
	PaymentAmount  int64  `json:"payment_amount"`
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Create handles POST /api/v1/purchases. Submitting the same idempotency
// key twice returns the existing request with 200 instead of a duplicate.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	pr, created, err := h.svc.Create(r.Context(), p.UserID, CreateParams{
		CurrencyType:   req.CurrencyType,
		CreditAmount:   req.CreditAmount,
		PaymentAmount:  req.PaymentAmount,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, `{"error":"invalid purchase request"}`, http.StatusBadRequest)
			return
		}
		h.log.Error("create purchase", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, pr)
}

// List handles GET /api/v1/purchases?page=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.svc.List(r.Context(), p.UserID, page, limit)
	if err != nil {
		h.log.Error("list purchases", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.PurchaseRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "limit": limit, "purchases": list})
}

// Get handles GET /api/v1/purchases/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid purchase id"}`, http.StatusBadRequest)
		return
	}
	pr, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"purchase not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get purchase", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if pr.UserID != p.UserID && p.Role != models.RoleAdmin {
		http.Error(w, `{"error":"purchase not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type sessionResponse struct {
	PurchaseID  string `json:"purchase_id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// BeginSession handles POST /api/v1/purchases/{id}/session.
func (h *Handler) BeginSession(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid purchase id"}`, http.StatusBadRequest)
		return
	}
	pr, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"purchase not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get purchase", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if pr.UserID != p.UserID {
		http.Error(w, `{"error":"purchase not found"}`, http.StatusNotFound)
		return
	}

	pr, err = h.svc.BeginProviderSession(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleTransition):
			http.Error(w, `{"error":"purchase is not pending"}`, http.StatusConflict)
		case errors.Is(err, ErrProviderSession):
			// Do not leak provider internals to the user.
			http.Error(w, `{"error":"purchase failed, please retry"}`, http.StatusBadGateway)
		default:
			h.log.Error("begin provider session", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	redirect := ""
	if pr.RedirectURL != nil {
		redirect = *pr.RedirectURL
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		PurchaseID:  pr.ID.String(),
		Status:      pr.Status,
		RedirectURL: redirect,
	})
}

// Webhook handles POST /api/v1/webhooks/payment. Duplicate and stale
// deliveries answer 200 so the provider does not retry them.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.HandleWebhook(r.Context(), r); err != nil {
		h.log.Error("webhook handling failed", "error", err)
		http.Error(w, `{"error":"invalid webhook"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
