package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "callbacks_total",
			Help:      "Total number of gateway callbacks received, by disposition.",
		},
		[]string{"disposition"},
	)

	statusTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "status_transitions_total",
			Help:      "Total number of conditional status writes, by target status and result.",
		},
		[]string{"to", "result"}, // result="applied" or "skipped"
	)

	reprocessAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "reprocess_attempts_total",
			Help:      "Total number of reprocessing attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	callbackEnqueueDropsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "callback_enqueue_drops_total",
			Help:      "Total number of webhook callbacks acknowledged without a reprocessing message because the queue was full or failing.",
		},
	)

	deadLettersCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "dead_letters_total",
			Help:      "Total number of callback messages dead-lettered after exhausting retries.",
		},
	)

	gatewayRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of push requests to the payment gateway.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	reconcilePendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payments",
			Name:      "reconcile_pending_transactions",
			Help:      "Number of PENDING transactions seen by the last reconciliation pass.",
		},
	)

	reconcileStaleGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payments",
			Name:      "reconcile_stale_transactions",
			Help:      "Number of PENDING transactions older than the staleness threshold in the last pass.",
		},
	)

	reconcileDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
