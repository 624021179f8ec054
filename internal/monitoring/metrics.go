// Package monitoring exposes Prometheus metrics for queue operations and
// outbound notifications.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_notifications_total",
			Help: "Outbound notifications by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	waitingLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_length",
			Help: "Current waiting-queue length per service point",
		},
		[]string{"point_id"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_operation_duration_seconds",
			Help:    "Duration of queue operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func OperationSucceeded(operation string) {
	operationsTotal.WithLabelValues(operation, "ok").Inc()
}

func OperationFailed(operation string) {
	operationsTotal.WithLabelValues(operation, "error").Inc()
}

func ObserveOperationDuration(operation string, seconds float64) {
	operationDuration.WithLabelValues(operation).Observe(seconds)
}

func NotificationSent(kind string) {
	notificationsTotal.WithLabelValues(kind, "sent").Inc()
}

func NotificationFailed(kind string) {
	notificationsTotal.WithLabelValues(kind, "failed").Inc()
}

func SetWaitingLength(pointID string, length int) {
	waitingLength.WithLabelValues(pointID).Set(float64(length))
}
