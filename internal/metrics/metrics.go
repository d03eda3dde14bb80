// Package metrics holds the Prometheus collectors of the identity service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
	OutcomeRetried  = "retried"
	OutcomeDropped  = "dropped"
	OutcomeEnqueued = "enqueued"
)

// AuthEvents counts auth flow outcomes by operation.
// Use Register to register this with a Prometheus registry.
var AuthEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_auth_events_total",
		Help: "Total number of auth operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// Notifications counts ticket notification deliveries by dispatch mode.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_notifications_total",
		Help: "Total number of ticket notifications by dispatch mode and outcome",
	},
	[]string{"mode", "outcome"},
)

// DeliveryDuration observes how long a synchronous mail send took.
var DeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "storefront_notification_delivery_seconds",
		Help:    "Notification delivery duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"mode"},
)

// Register registers the collectors with reg. Panics on duplicate
// registration, following prometheus convention.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(AuthEvents, Notifications, DeliveryDuration)
}

// RecordAuth increments the auth counter.
//   - operation: register, login, refresh, logout, verify_request, verify_email,
//     ticket_read, ticket_update
//   - outcome: one of the Outcome* constants
func RecordAuth(operation, outcome string) {
	AuthEvents.WithLabelValues(operation, outcome).Inc()
}

func RecordNotification(mode, outcome string) {
	Notifications.WithLabelValues(mode, outcome).Inc()
}

func RecordDelivery(mode string, d time.Duration) {
	DeliveryDuration.WithLabelValues(mode).Observe(d.Seconds())
}
