package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	betOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_bet_operations_total",
			Help: "Bet lifecycle operations by operation and result",
		},
		[]string{"op", "result"},
	)

	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_settlements_total",
			Help: "Settlements by provenance and result",
		},
		[]string{"resolved_by", "result"},
	)

	settlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wager_settlement_duration_ms",
			Help:    "Settlement transaction duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"resolved_by"},
	)

	outboxPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_outbox_publish_total",
			Help: "Outbox messages published by result",
		},
		[]string{"result"},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "fail"
	}
	return "success"
}

// RecordBetOp counts a lifecycle operation outcome.
func RecordBetOp(op string, err error) {
	betOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// RecordSettlement counts a settlement outcome and observes its duration.
func RecordSettlement(resolvedBy string, err error, started time.Time) {
	settlementTotal.WithLabelValues(resolvedBy, resultLabel(err)).Inc()
	settlementDuration.WithLabelValues(resolvedBy).Observe(float64(time.Since(started).Milliseconds()))
}

// RecordOutboxPublish counts an outbox publish attempt.
func RecordOutboxPublish(err error) {
	outboxPublishTotal.WithLabelValues(resultLabel(err)).Inc()
}
