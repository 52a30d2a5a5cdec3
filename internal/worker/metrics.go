// Prometheus instrumentation for the delivery worker. Outcome labels are a
// small fixed set, keeping cardinality bounded.
package worker

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeDelivered      = "delivered"
	outcomeFailed         = "failed"
	outcomeSkippedInvalid = "skipped_invalid"
)

var (
	// deliveryAttempts counts finished delivery attempts by outcome. A task
	// retired without a mailer call (invalid recipient) counts as
	// skipped_invalid.
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_attempts_total",
			Help: "Total delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// workerErrors counts unexpected worker iteration failures (storage
	// outages and the like) that trigger backoff.
	workerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_worker_errors_total",
			Help: "Total unexpected delivery worker errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryAttempts, workerErrors)
}
