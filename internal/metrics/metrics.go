package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 对账入口
const (
	PathConfirm = "confirm"
	PathWebhook = "webhook"
	PathSweep   = "sweep"
)

// 对账结果
const (
	OutcomeCreated          = "created"
	OutcomeCredited         = "credited"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeFailed           = "failed"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
	OutcomeIgnored          = "ignored"
)

var (
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recharge_reconcile_total",
		Help: "Reconciliation attempts, labeled by entry path and outcome",
	}, []string{"path", "outcome"})

	IntentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recharge_intent_total",
		Help: "Gateway order creation attempts, labeled by outcome",
	}, []string{"outcome"})

	CreditedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recharge_credited_amount_total",
		Help: "Sum of amounts credited to wallets by recharge reconciliation",
	})

	SignatureMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recharge_signature_mismatch_total",
		Help: "Rejected gateway signatures, labeled by entry path",
	}, []string{"path"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recharge_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recharge_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recharge_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	SweepResumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recharge_sweep_resumed_total",
		Help: "Recharge requests picked up by the processing sweep",
	})
)
