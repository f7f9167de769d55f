package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/stkpay/golang_services/internal/payment_service/middleware"
)

// RouterConfig controls operator route protection.
type RouterConfig struct {
	// OperatorSecret enables bearer token auth on replay and admin routes when set.
	OperatorSecret string
}

// NewRouter mounts the payment API.
//
//	POST /api/v1/payments/stk-push
//	POST /api/v1/payments/callback
//	POST /api/v1/payments/replay/{checkoutRequestID}
//	GET  /api/v1/payments/transactions/{transactionID}
//	POST /api/v1/admin/transactions/{transactionID}/retry
func NewRouter(h *PaymentHandler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(RequestObserver(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	operatorOnly := func(r chi.Router) {
		if cfg.OperatorSecret != "" {
			r.Use(middleware.OperatorAuth(cfg.OperatorSecret, logger))
		}
	}

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/stk-push", h.InitiatePayment)
		r.Post("/callback", h.HandleCallback)
		r.Get("/transactions/{transactionID}", h.GetTransaction)
		r.Group(func(r chi.Router) {
			operatorOnly(r)
			r.Post("/replay/{checkoutRequestID}", h.ReplayCallback)
		})
	})
	r.Route("/api/v1/admin", func(r chi.Router) {
		operatorOnly(r)
		r.Post("/transactions/{transactionID}/retry", h.RetryTransaction)
	})
	return r
}
