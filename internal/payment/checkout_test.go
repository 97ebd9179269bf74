package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCreateSession(t *testing.T) {
	var gotReq checkoutSessionRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(checkoutSessionResponse{
			SessionID:   "sess_42",
			RedirectURL: "https://pay.example.com/s/sess_42",
		})
	}))
	defer server.Close()

	p := NewCheckoutProvider(server.URL, "sk_test_123", "whsec")
	reqID := uuid.New()
	sess, err := p.CreateSession(context.Background(), SessionParams{
		RequestID: reqID,
		Amount:    600,
		Currency:  "jpy",
		Method:    "card",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.SessionID != "sess_42" || sess.RedirectURL != "https://pay.example.com/s/sess_42" {
		t.Errorf("session: %+v", sess)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotReq.Reference != reqID.String() || gotReq.Amount != 600 || gotReq.Currency != "jpy" {
		t.Errorf("session request: %+v", gotReq)
	}
}

func TestCreateSessionErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewCheckoutProvider(server.URL, "sk", "whsec")
	if _, err := p.CreateSession(context.Background(), SessionParams{RequestID: uuid.New(), Amount: 100}); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestCreateSessionMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(checkoutSessionResponse{SessionID: "sess_1"})
	}))
	defer server.Close()

	p := NewCheckoutProvider(server.URL, "sk", "whsec")
	if _, err := p.CreateSession(context.Background(), SessionParams{RequestID: uuid.New(), Amount: 100}); err == nil {
		t.Fatal("expected error for response missing redirect_url")
	}
}

func signedWebhook(p *CheckoutProvider, body []byte) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	r.Header.Set(signatureHeader, p.Sign(body))
	return r
}

func TestVerifyWebhookPaid(t *testing.T) {
	p := NewCheckoutProvider("https://checkout.example.com", "sk", "whsec")
	body := []byte(`{"event":"payment.updated","session_id":"sess_1","transaction_id":"txn_7","status":"paid","paid_at":"2026-08-29T12:00:00Z"}`)

	res, err := p.VerifyWebhook(signedWebhook(p, body))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if !res.Success {
		t.Error("paid webhook should succeed")
	}
	if res.SessionID != "sess_1" || res.TransactionID != "txn_7" {
		t.Errorf("result: %+v", res)
	}
	if res.PaidAt == nil {
		t.Error("paid_at not parsed")
	}
}

func TestVerifyWebhookFailedPayment(t *testing.T) {
	p := NewCheckoutProvider("https://checkout.example.com", "sk", "whsec")
	body := []byte(`{"session_id":"sess_1","status":"failed","error_code":"card_declined","error_message":"insufficient funds"}`)

	res, err := p.VerifyWebhook(signedWebhook(p, body))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if res.Success {
		t.Error("failed webhook should not succeed")
	}
	if res.ErrorCode != "card_declined" || res.ErrorMessage != "insufficient funds" {
		t.Errorf("result: %+v", res)
	}
}

func TestVerifyWebhookBadSignature(t *testing.T) {
	p := NewCheckoutProvider("https://checkout.example.com", "sk", "whsec")
	body := []byte(`{"session_id":"sess_1","status":"paid"}`)

	cases := map[string]string{
		"missing":  "",
		"garbage":  "deadbeef",
		"otherkey": NewCheckoutProvider("", "", "other").Sign(body),
	}
	for name, sig := range cases {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
		if sig != "" {
			r.Header.Set(signatureHeader, sig)
		}
		res, err := p.VerifyWebhook(r)
		if err != nil {
			t.Fatalf("%s: bad signature must not error, got %v", name, err)
		}
		if res.Success || res.ErrorCode != "invalid_signature" {
			t.Errorf("%s: expected failed result with invalid_signature, got %+v", name, res)
		}
		if res.SessionID != "sess_1" {
			t.Errorf("%s: session id should still be surfaced for logging, got %q", name, res.SessionID)
		}
	}
}

func TestVerifyWebhookTamperedBody(t *testing.T) {
	p := NewCheckoutProvider("https://checkout.example.com", "sk", "whsec")
	body := []byte(`{"session_id":"sess_1","status":"failed"}`)
	sig := p.Sign(body)

	tampered := []byte(strings.Replace(string(body), "failed", "paid", 1))
	r := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(tampered))
	r.Header.Set(signatureHeader, sig)

	res, err := p.VerifyWebhook(r)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if res.Success || res.ErrorCode != "invalid_signature" {
		t.Errorf("tampered body accepted: %+v", res)
	}
}
