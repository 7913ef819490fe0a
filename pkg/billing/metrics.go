package billing

import "time"

// Metrics defines the interface for tracking billing operations.
// All methods are optional - the service falls back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook delivery.
	// outcome: one of the Outcome values ("success", "customer_not_found", ...)
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookDuration records how long a webhook delivery took end to end.
	RecordWebhookDuration(eventType string, duration time.Duration)

	// RecordProcessorCall records an outbound call to the payment processor.
	// op: the operation name (e.g. "update_subscription")
	// status: "ok" or "error"
	RecordProcessorCall(op, status string)

	// RecordProcessorCallDuration records how long a processor call took.
	RecordProcessorCallDuration(op string, duration time.Duration)

	// RecordSubscriptionOp records a subscription operation initiated by
	// application code. op: "create", "change" or "cancel".
	RecordSubscriptionOp(op, status string)

	// RecordNotification records an outbound notification attempt.
	RecordNotification(template, status string)

	// RecordSyncRun records a reconciliation sweep.
	RecordSyncRun(status string, changed int)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                         {}
func (n *NoopMetrics) RecordWebhookDuration(_ string, _ time.Duration)        {}
func (n *NoopMetrics) RecordProcessorCall(_, _ string)                        {}
func (n *NoopMetrics) RecordProcessorCallDuration(_ string, _ time.Duration)  {}
func (n *NoopMetrics) RecordSubscriptionOp(_, _ string)                       {}
func (n *NoopMetrics) RecordNotification(_, _ string)                         {}
func (n *NoopMetrics) RecordSyncRun(_ string, _ int)                          {}
