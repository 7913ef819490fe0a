package billing

import "context"

// Notification templates sent by this package.
const (
	TemplatePaymentProblem       = "payment-problem"
	TemplatePaymentReceived      = "payment-received"
	TemplateSubscriptionCanceled = "subscription-canceled"
	TemplateTrialWillEnd         = "trial-will-end"
	TemplateTrialEnded           = "trial-ended"
)

// Notifier delivers a templated notification to the entity's owner. It is
// fire-and-forget from this package's perspective: send failures are logged
// and never fail the operation that triggered them.
type Notifier interface {
	SendEmail(ctx context.Context, e *Entity, template string, params map[string]interface{}) error
}

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

func (n *NoopNotifier) SendEmail(_ context.Context, _ *Entity, _ string, _ map[string]interface{}) error {
	return nil
}
