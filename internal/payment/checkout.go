package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const signatureHeader = "X-Checkout-Signature"

// CheckoutProvider integrates a hosted-checkout payment rail: sessions are
// created server-to-server, the user is redirected to the provider's page,
// and the outcome arrives on an HMAC-signed webhook.
type CheckoutProvider struct {
	baseURL       string
	apiKey        string
	webhookSecret []byte
	httpClient    *http.Client
}

func NewCheckoutProvider(baseURL, apiKey, webhookSecret string) *CheckoutProvider {
	return &CheckoutProvider{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: []byte(webhookSecret),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *CheckoutProvider) Name() string { return "checkout" }

type checkoutSessionRequest struct {
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Method     string `json:"method"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutSessionResponse struct {
	SessionID   string     `json:"session_id"`
	RedirectURL string     `json:"redirect_url"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CreateSession opens a hosted checkout session for the given amount.
func (p *CheckoutProvider) CreateSession(ctx context.Context, params SessionParams) (*Session, error) {
	body, err := json.Marshal(checkoutSessionRequest{
		Reference:  params.RequestID.String(),
		Amount:     params.Amount,
		Currency:   params.Currency,
		Method:     params.Method,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout session returned status %d", resp.StatusCode)
	}
	var out checkoutSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("checkout session response: %w", err)
	}
	if out.SessionID == "" || out.RedirectURL == "" {
		return nil, fmt.Errorf("checkout session response missing session_id or redirect_url")
	}
	return &Session{SessionID: out.SessionID, RedirectURL: out.RedirectURL, ExpiresAt: out.ExpiresAt}, nil
}

type checkoutWebhookPayload struct {
	Event         string     `json:"event"`
	SessionID     string     `json:"session_id"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	ErrorCode     string     `json:"error_code"`
	ErrorMessage  string     `json:"error_message"`
	PaidAt        *time.Time `json:"paid_at"`
}

// VerifyWebhook checks the HMAC-SHA256 signature over the raw body and
// normalizes the payload. A bad signature is not an error to the caller:
// it becomes a failed Result so the webhook sender is never told to retry.
func (p *CheckoutProvider) VerifyWebhook(r *http.Request) (*Result, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var payload checkoutWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("checkout webhook payload: %w", err)
	}

	sig := r.Header.Get(signatureHeader)
	if !p.validSignature(body, sig) {
		return &Result{
			Success:      false,
			SessionID:    payload.SessionID,
			ErrorCode:    "invalid_signature",
			ErrorMessage: ErrInvalidSignature.Error(),
			Signature:    sig,
		}, nil
	}

	res := &Result{
		SessionID:     payload.SessionID,
		TransactionID: payload.TransactionID,
		PaidAt:        payload.PaidAt,
		Signature:     sig,
	}
	if payload.Status == "paid" {
		res.Success = true
	} else {
		res.ErrorCode = payload.ErrorCode
		if res.ErrorCode == "" {
			res.ErrorCode = "payment_failed"
		}
		res.ErrorMessage = payload.ErrorMessage
	}
	return res, nil
}

func (p *CheckoutProvider) validSignature(body []byte, sig string) bool {
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, p.webhookSecret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}

// Sign computes the webhook signature for a raw body. Exposed for tests
// and for local provider simulators.
func (p *CheckoutProvider) Sign(body []byte) string {
	mac := hmac.New(sha256.New, p.webhookSecret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
