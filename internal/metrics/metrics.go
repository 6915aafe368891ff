package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharetips_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerPostingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_ledger_postings_total",
			Help: "Ledger operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	LedgerPostingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharetips_ledger_posting_duration_seconds",
			Help:    "Time from lock request to commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CommissionCentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharetips_commission_cents_total",
			Help: "Commission collected in minor units",
		},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_purchases_total",
			Help: "Ticket purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	SubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_subscriptions_total",
			Help: "Subscription lifecycle events",
		},
		[]string{"event"},
	)

	AccessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_access_decisions_total",
			Help: "Access decisions by access type",
		},
		[]string{"access_type"},
	)

	OutboxMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharetips_outbox_messages_total",
			Help: "Outbox publish attempts by result",
		},
		[]string{"status"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordPosting(operation, outcome string, seconds float64) {
	LedgerPostingsTotal.WithLabelValues(operation, outcome).Inc()
	LedgerPostingDuration.WithLabelValues(operation).Observe(seconds)
}

func RecordCommission(cents int64) {
	if cents > 0 {
		CommissionCentsTotal.Add(float64(cents))
	}
}

func RecordPurchase(outcome string) {
	PurchasesTotal.WithLabelValues(outcome).Inc()
}

func RecordSubscription(event string, n int64) {
	if n > 0 {
		SubscriptionsTotal.WithLabelValues(event).Add(float64(n))
	}
}

func RecordAccess(accessType string) {
	AccessDecisionsTotal.WithLabelValues(accessType).Inc()
}

func RecordOutbox(status string) {
	OutboxMessagesTotal.WithLabelValues(status).Inc()
}
