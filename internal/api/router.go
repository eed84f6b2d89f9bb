package api

import (
	"net/http"

	"florahub-be/internal/auth"
	"florahub-be/internal/logger"
	"florahub-be/internal/middleware"
	"florahub-be/internal/webhook"

	"github.com/gorilla/mux"
)

// NewRouter wires the HTTP surface. Provider callbacks stay outside the
// role-gated subtree: they authenticate by signature, not by token.
func NewRouter(h *Handler, wh *webhook.Handler, jwtSecret string) *mux.Router {
	r := mux.NewRouter()

	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(mux.MiddlewareFunc(middleware.AuthMiddleware(jwtSecret)))
	r.Use(middleware.RateLimitMiddleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)

	r.HandleFunc("/payment/vnpay/callback", wh.VNPayIPN).Methods(http.MethodGet)
	r.HandleFunc("/webhook/payos", wh.PayOSWebhook).Methods(http.MethodPost)

	buyer := middleware.RequireRole(auth.RoleBuyer)
	farmer := middleware.RequireRole(auth.RoleFarmer)
	anyUser := middleware.RequireRole(auth.RoleBuyer, auth.RoleFarmer)
	admin := middleware.RequireRole(auth.RoleAdmin)

	r.Handle("/checkout", buyer(http.HandlerFunc(h.Checkout))).Methods(http.MethodPost)

	r.Handle("/orders/{id:[0-9]+}", anyUser(http.HandlerFunc(h.GetOrder))).Methods(http.MethodGet)
	r.Handle("/orders/{id:[0-9]+}/history", anyUser(http.HandlerFunc(h.GetOrderHistory))).Methods(http.MethodGet)
	r.Handle("/orders/{id:[0-9]+}/transaction", anyUser(http.HandlerFunc(h.GetOrderTransaction))).Methods(http.MethodGet)
	r.Handle("/orders/{id:[0-9]+}/status", anyUser(http.HandlerFunc(h.UpdateOrderStatus))).Methods(http.MethodPost)
	r.Handle("/orders/{id:[0-9]+}/review", buyer(http.HandlerFunc(h.CreateReview))).Methods(http.MethodPost)
	r.Handle("/orders/{id:[0-9]+}/review", anyUser(http.HandlerFunc(h.GetReview))).Methods(http.MethodGet)

	r.Handle("/wallet", farmer(http.HandlerFunc(h.GetWallet))).Methods(http.MethodGet)
	r.Handle("/wallet/transactions", farmer(http.HandlerFunc(h.GetWalletTransactions))).Methods(http.MethodGet)

	r.Handle("/metrics", admin(http.HandlerFunc(h.GetMetrics))).Methods(http.MethodGet)

	return r
}
