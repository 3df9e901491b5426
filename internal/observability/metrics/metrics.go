// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	PaymentsCaptured     *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	WebhookRetries       prometheus.Counter
	PayoutRuns           *prometheus.CounterVec
	PayoutRecordsSettled prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepay_payments_captured_total",
			Help: "Client charge attempts by result.",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepay_webhook_events_total",
			Help: "Processor webhook events by type and result.",
		}, []string{"event_type", "result"}),
		WebhookRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carepay_webhook_retries_total",
			Help: "Webhook events routed to the retry queue.",
		}),
		PayoutRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carepay_payout_runs_total",
			Help: "Payout batch runs by result.",
		}, []string{"result"}),
		PayoutRecordsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carepay_payout_records_settled_total",
			Help: "Time-tracking records settled by payouts.",
		}),
	}
	reg.MustRegister(
		m.PaymentsCaptured,
		m.WebhookEvents,
		m.WebhookRetries,
		m.PayoutRuns,
		m.PayoutRecordsSettled,
	)
	return m
}

var Module = fx.Module("metrics",
	fx.Provide(func() *Metrics {
		return New(prometheus.DefaultRegisterer)
	}),
)
