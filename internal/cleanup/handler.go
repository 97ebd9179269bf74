package cleanup

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coinledger/backend/internal/middleware"
)

// HTTPHandler exposes the account-deletion flow.
type HTTPHandler struct {
	orch *Orchestrator
	log  *slog.Logger
}

func NewHTTPHandler(orch *Orchestrator, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{orch: orch, log: log}
}

// CleanupAccount handles POST /api/v1/account/cleanup. A failure leaves
// the account untouched so the flow can be retried.
func (h *HTTPHandler) CleanupAccount(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := h.orch.CleanupAccount(r.Context(), p.UserID); err != nil {
		h.log.Error("account cleanup failed", "user_id", p.UserID, "error", err)
		http.Error(w, `{"error":"account cleanup failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "withdrawn"})
}
