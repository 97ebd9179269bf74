// Package payment defines the abstract boundary to external payment
// rails. The settlement core never inspects provider payloads beyond the
// normalized Result a provider produces.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSignature is returned by providers when webhook verification
// fails. Callers normalize it into a failed Result rather than surfacing
// it to the webhook sender.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SessionParams carries everything a provider needs to open a hosted
// payment session.
type SessionParams struct {
	RequestID  uuid.UUID
	UserID     uuid.UUID
	Amount     int64
	Currency   string
	Method     string
	SuccessURL string
	CancelURL  string
}

// Session is the provider-side handle for one payment attempt.
type Session struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   *time.Time
}

// Result is the normalized outcome of webhook verification. SessionID
// identifies the purchase request; Success decides the transition.
type Result struct {
	Success       bool
	SessionID     string
	TransactionID string
	ErrorCode     string
	ErrorMessage  string
	PaidAt        *time.Time
	Signature     string
}

// Provider is the contract any concrete payment integration implements.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, p SessionParams) (*Session, error)
	VerifyWebhook(r *http.Request) (*Result, error)
}
