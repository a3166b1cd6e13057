package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payment_commands_total",
		Help: "Payment commands processed, labeled by command and outcome",
	}, []string{"command", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_provider_request_duration_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"provider", "operation", "outcome"})

	IdempotencyLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_idempotency_lookups_total",
		Help: "Idempotency cache lookups, labeled by result (hit, pending, miss, expired, error)",
	}, []string{"result"})

	IdempotencySwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_idempotency_swept_total",
		Help: "Expired idempotency records removed by the sweeper",
	})

	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_ledger_postings_total",
		Help: "Ledger RecordTransaction calls, labeled by direction and result (recorded, duplicate)",
	}, []string{"direction", "result"})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outbox_events_total",
		Help: "Outbox dispatch attempts, labeled by result",
	}, []string{"result"})

	DriftInconsistencies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_ledger_drift_inconsistencies",
		Help: "Inconsistencies found by the last balance verification",
	})
)

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "settlement_http_request_duration_seconds",
	Help:    "HTTP request latency, labeled by method, route and status",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})
