package billing

import "context"

// Processor subscription statuses as reported by the payment processor.
const (
	SubStatusActive   = "active"
	SubStatusTrialing = "trialing"
	SubStatusPastDue  = "past_due"
	SubStatusCanceled = "canceled"
	SubStatusUnpaid   = "unpaid"
)

// Processor is the client for the external payment processor's customer and
// subscription API. All calls are synchronous; timeouts and transport
// concerns belong to the implementation. Failures must wrap ErrProcessor, or
// ErrCardDeclined for card problems the customer can act on.
type Processor interface {
	RetrieveCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	UpdateSubscription(ctx context.Context, customerID string, params SubscriptionParams) (*ProcessorSubscription, error)
	CancelSubscription(ctx context.Context, customerID string, params CancelParams) (*ProcessorSubscription, error)
	RetrieveEvent(ctx context.Context, id string) (*Event, error)
	SetDefaultSource(ctx context.Context, customerID, token string) error
}

// Customer is the processor's view of a customer.
type Customer struct {
	ID            string
	Email         string
	DefaultSource string

	// Subscription is the customer's current subscription, nil when none.
	// Only one subscription per customer is used.
	Subscription *ProcessorSubscription
}

// CustomerParams creates a new processor customer.
type CustomerParams struct {
	Email       string
	Description string
	Metadata    map[string]string
}

// SubscriptionParams creates or updates the customer's subscription.
type SubscriptionParams struct {
	Plan string

	// Source is an optional card token; it becomes the customer's new
	// default source.
	Source string

	// TrialEndNow immediately ends (skips) the trial period. When false,
	// a non-zero TrialEnd preserves an existing trial boundary.
	TrialEndNow bool
	TrialEnd    int64

	// Prorate defaults to true when nil.
	Prorate *bool

	// Extra is passed through to the processor untouched.
	Extra map[string]interface{}
}

// CancelParams controls subscription cancellation.
type CancelParams struct {
	// AtPeriodEnd leaves the subscription active until the current billing
	// period ends instead of canceling immediately.
	AtPeriodEnd bool
}

// ProcessorSubscription is the processor's view of a subscription.
type ProcessorSubscription struct {
	ID                string
	Status            string // one of the SubStatus constants
	Plan              string
	PeriodEnd         int64 // unix seconds
	TrialEnd          int64
	CanceledAt        int64
	CancelAtPeriodEnd bool
}

// Event is a processor event after server-side re-fetch (or, for
// non-retrievable types, as delivered). Exactly one of Charge and
// Subscription is set for the event types this package handles.
type Event struct {
	ID       string
	Type     string
	Livemode bool
	Created  int64

	// Account is the connected-account id; non-empty marks an event for a
	// connected account, which this package does not handle.
	Account string

	// Customer is the processor customer id extracted from the event's
	// nested object, used to resolve the local entity.
	Customer string

	Charge       *Charge
	Subscription *ProcessorSubscription
}

// Charge is the nested object of charge.succeeded / charge.failed events.
type Charge struct {
	ID             string
	Customer       string
	Amount         int64 // minor units
	Created        int64
	Description    string
	FailureMessage string

	// SourceType is the payment source type; only "card" charges are
	// recorded in billing history.
	SourceType   string
	CardLast4    string
	CardBrand    string
	CardExpMonth int64
	CardExpYear  int64
}
