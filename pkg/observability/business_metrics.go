package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	settlementBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_batches_total",
		Help: "Settlement batch status transitions",
	}, []string{
		"payment_method", // instant_transfer_gateway, cash, check, ...
		"status",         // CREATED, SUBMITTED, PROCESSING, PAID, FAILED, REJECTED, CANCELLED
	})

	settlementAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_amount_total",
		Help: "Sum of batch totals reaching a terminal status",
	}, []string{
		"payment_method",
		"status",
	})

	harvestRecordsPricedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_records_priced_total",
		Help: "Harvest records priced or repriced",
	})

	gatewaySubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gateway_submissions_total",
		Help: "Settlement network submissions by outcome",
	}, []string{
		"outcome", // accepted, rejected, not_sent, unknown_outcome
	})

	gatewaySubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_gateway_submission_duration_seconds",
		Help:    "Settlement network submit round-trip time",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"outcome",
	})

	gatewayLineRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gateway_line_rejections_total",
		Help: "Transfer lines rejected by the settlement network",
	}, []string{
		"error_code",
	})

	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliations_total",
		Help: "Reconciliation deliveries by source and result",
	}, []string{
		"source", // webhook, poll
		"result", // applied, duplicate, conflict, pending, error
	})

	reconciliationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_reconciliation_conflicts_total",
		Help: "Terminal outcomes that disagreed with an already stored terminal status",
	})

	staleBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_stale_batches",
		Help: "CREATED batches whose submission lease expired without a definitive outcome",
	})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{
		"dependency",
	})
)

// RecordBatchTransition counts a batch entering status. Terminal statuses also add the amount.
func RecordBatchTransition(method, status string, amount decimal.Decimal, terminal bool) {
	settlementBatchesTotal.WithLabelValues(method, status).Inc()
	if terminal {
		settlementAmountTotal.WithLabelValues(method, status).Add(amount.InexactFloat64())
	}
}

// RecordRecordPriced counts a pricing operation
func RecordRecordPriced() {
	harvestRecordsPricedTotal.Inc()
}

// RecordGatewaySubmission records one submit round trip
func RecordGatewaySubmission(outcome string, durationSeconds float64) {
	gatewaySubmissionsTotal.WithLabelValues(outcome).Inc()
	gatewaySubmissionDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordLineRejection counts a rejected transfer line
func RecordLineRejection(errorCode string) {
	if errorCode == "" {
		errorCode = "unspecified"
	}
	gatewayLineRejectionsTotal.WithLabelValues(errorCode).Inc()
}

// RecordReconciliation counts a reconciliation delivery
func RecordReconciliation(source, result string) {
	reconciliationsTotal.WithLabelValues(source, result).Inc()
}

// RecordReconciliationConflict counts a conflicting terminal outcome
func RecordReconciliationConflict() {
	reconciliationConflictsTotal.Inc()
}

// SetStaleBatches sets the stale batch gauge
func SetStaleBatches(count int) {
	staleBatches.Set(float64(count))
}

// SetCircuitBreakerState publishes the breaker state for dependency
func SetCircuitBreakerState(dependency string, state int) {
	circuitBreakerState.WithLabelValues(dependency).Set(float64(state))
}
