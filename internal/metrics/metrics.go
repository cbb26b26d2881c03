package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduka_webhook_events_total",
		Help: "Inbound webhook deliveries by platform and processing outcome",
	}, []string{"platform", "outcome"})

	subscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eduka_subscriptions_expired_total",
		Help: "Subscriptions transitioned to expired by the sweeper",
	})

	pendingPlansExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eduka_pending_plans_expired_total",
		Help: "Pending plans transitioned to expired by the sweeper",
	})

	pendingPlansActivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eduka_pending_plans_activated_total",
		Help: "Pending plans converted to subscriptions at signup",
	})
)

// WebhookProcessed records one webhook delivery outcome.
func WebhookProcessed(platform, outcome string) {
	webhookEvents.WithLabelValues(platform, outcome).Inc()
}

// SweepCompleted records the row counts of one sweeper run.
func SweepCompleted(expiredSubscriptions, expiredPendingPlans int) {
	subscriptionsExpired.Add(float64(expiredSubscriptions))
	pendingPlansExpired.Add(float64(expiredPendingPlans))
}

// PendingPlansActivated records pending plans converted during signup.
func PendingPlansActivated(count int) {
	pendingPlansActivated.Add(float64(count))
}
