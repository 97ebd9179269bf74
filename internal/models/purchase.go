package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase request lifecycle. Transitions are monotonic:
// pending -> processing -> {completed | failed}, and pending|processing
// -> expired. Terminal states never transition again.
const (
	PurchaseStatusPending    = "pending"
	PurchaseStatusProcessing = "processing"
	PurchaseStatusCompleted  = "completed"
	PurchaseStatusFailed     = "failed"
	PurchaseStatusExpired    = "expired"
)

// PurchaseTerminal reports whether a status admits no further transition.
func PurchaseTerminal(status string) bool {
	return status == PurchaseStatusCompleted ||
		status == PurchaseStatusFailed ||
		status == PurchaseStatusExpired
}

// PurchaseRequest tracks one attempt to buy currency through an external
// payment provider. (user_id, idempotency_key) is unique so duplicate
// client submissions resolve to the same row. HistoryEntryID links the
// at-most-one ledger credit produced on completion.
type PurchaseRequest struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	IdempotencyKey   string     `json:"idempotency_key"`
	CurrencyType     string     `json:"currency_type"`
	CreditAmount     int64      `json:"credit_amount"`
	PaymentAmount    int64      `json:"payment_amount"`
	PaymentMethod    string     `json:"payment_method"`
	PaymentProvider  string     `json:"payment_provider"`
	PaymentSessionID *string    `json:"payment_session_id,omitempty"`
	TransactionID    *string    `json:"transaction_id,omitempty"`
	Status           string     `json:"status"`
	RedirectURL      *string    `json:"redirect_url,omitempty"`
	ErrorCode        *string    `json:"error_code,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	WebhookSignature *string    `json:"-"`
	HistoryEntryID   *uuid.UUID `json:"history_entry_id,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
