package router

import (
	"net/http"

	"github.com/coinledger/backend/internal/auth"
	"github.com/coinledger/backend/internal/cleanup"
	"github.com/coinledger/backend/internal/ledger"
	"github.com/coinledger/backend/internal/middleware"
	"github.com/coinledger/backend/internal/purchase"
)

// New returns an http.Handler serving the API under /api/v1.
// The webhook endpoint is unauthenticated: the provider proves itself via
// the webhook signature, not a bearer token.
func New(
	authHandler *auth.Handler,
	walletHandler *ledger.Handler,
	purchaseHandler *purchase.Handler,
	cleanupHandler *cleanup.HTTPHandler,
	authMW func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	mux.Handle("GET "+base+"/wallet/balances", authMW(http.HandlerFunc(walletHandler.GetBalances)))
	mux.Handle("GET "+base+"/wallet/history", authMW(http.HandlerFunc(walletHandler.ListHistory)))
	mux.Handle("GET "+base+"/wallet/history/batches", authMW(http.HandlerFunc(walletHandler.ListHistoryBatches)))

	mux.Handle("POST "+base+"/admin/grants", authMW(middleware.RequireAdmin(http.HandlerFunc(walletHandler.CreateGrant))))

	mux.Handle("POST "+base+"/purchases", authMW(http.HandlerFunc(purchaseHandler.Create)))
	mux.Handle("GET "+base+"/purchases", authMW(http.HandlerFunc(purchaseHandler.List)))
	mux.Handle("GET "+base+"/purchases/{id}", authMW(http.HandlerFunc(purchaseHandler.Get)))
	mux.Handle("POST "+base+"/purchases/{id}/session", authMW(http.HandlerFunc(purchaseHandler.BeginSession)))

	mux.HandleFunc("POST "+base+"/webhooks/payment", purchaseHandler.Webhook)

	mux.Handle("POST "+base+"/account/cleanup", authMW(http.HandlerFunc(cleanupHandler.CleanupAccount)))

	return mux
}
