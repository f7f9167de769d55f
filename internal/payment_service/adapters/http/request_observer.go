package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route patterns mapped to the payment operation they serve. Anything else, including
// requests rejected before routing completes, is reported as "unmatched".
var operationsByPattern = map[string]string{
	"/healthz":                                          "health",
	"/api/v1/payments/stk-push":                         "stk_push",
	"/api/v1/payments/callback":                         "callback",
	"/api/v1/payments/transactions/{transactionID}":     "get_transaction",
	"/api/v1/payments/replay/{checkoutRequestID}":       "replay",
	"/api/v1/admin/transactions/{transactionID}/retry": "retry",
}

var (
	apiRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "api_requests_total",
			Help:      "Total number of payment API requests, by operation and response class.",
		},
		[]string{"operation", "outcome"}, // outcome="2xx", "4xx" or "5xx"
	)

	apiRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of payment API requests, by operation.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

// RequestObserver logs every request with slog and records it against the payment
// operation it hit. The callback operation is the one to watch: the gateway expects
// it to answer 2xx quickly whatever the payload.
func RequestObserver(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			operation := operationOf(r)
			outcome := outcomeOf(status)
			elapsed := time.Since(start)
			apiRequestsCounter.WithLabelValues(operation, outcome).Inc()
			apiRequestDurationHist.WithLabelValues(operation).Observe(elapsed.Seconds())

			level := slog.LevelInfo
			if outcome == "5xx" {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "HTTP request",
				slog.String("operation", operation),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", status),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
				slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
				slog.String("remote_ip", r.RemoteAddr),
			)
		}
		return http.HandlerFunc(fn)
	}
}

func operationOf(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if op, ok := operationsByPattern[rctx.RoutePattern()]; ok {
		return op
	}
	return "unmatched"
}

func outcomeOf(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
