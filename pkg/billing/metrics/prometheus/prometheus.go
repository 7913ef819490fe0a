// Package prommetrics implements billing.Metrics using Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements billing.Metrics using Prometheus collectors.
type Metrics struct {
	webhookEventsTotal     *prometheus.CounterVec
	webhookDuration        *prometheus.HistogramVec
	processorCallsTotal    *prometheus.CounterVec
	processorCallDuration  *prometheus.HistogramVec
	subscriptionOpsTotal   *prometheus.CounterVec
	notificationsTotal     *prometheus.CounterVec
	syncRunsTotal          *prometheus.CounterVec
	syncEntitiesReconciled prometheus.Counter
}

// NewMetrics creates a Prometheus metrics implementation registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook deliveries processed, by outcome.",
		}, []string{"event_type", "outcome"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "End-to-end duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		processorCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "processor_calls_total",
			Help:      "Total number of outbound payment processor API calls.",
		}, []string{"op", "status"}),

		processorCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "processor_call_duration_seconds",
			Help:      "Duration of payment processor API calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		subscriptionOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "subscription_operations_total",
			Help:      "Total number of application-initiated subscription operations.",
		}, []string{"op", "status"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "notifications_total",
			Help:      "Total number of outbound notification attempts.",
		}, []string{"template", "status"}),

		syncRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sync_runs_total",
			Help:      "Total number of subscription reconciliation sweeps.",
		}, []string{"status"}),

		syncEntitiesReconciled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sync_entities_reconciled_total",
			Help:      "Total number of entities whose billing state differed from the processor.",
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordWebhookDuration(eventType string, duration time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordProcessorCall(op, status string) {
	m.processorCallsTotal.WithLabelValues(op, status).Inc()
}

func (m *Metrics) RecordProcessorCallDuration(op string, duration time.Duration) {
	m.processorCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordSubscriptionOp(op, status string) {
	m.subscriptionOpsTotal.WithLabelValues(op, status).Inc()
}

func (m *Metrics) RecordNotification(template, status string) {
	m.notificationsTotal.WithLabelValues(template, status).Inc()
}

func (m *Metrics) RecordSyncRun(status string, changed int) {
	m.syncRunsTotal.WithLabelValues(status).Inc()
	m.syncEntitiesReconciled.Add(float64(changed))
}
