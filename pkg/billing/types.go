// Package billing keeps a local billable entity record consistent with a
// payment processor's view of the customer's subscription. Application code
// drives plan changes through a Subscription manager; the processor pushes
// out-of-band state changes through a webhook Dispatcher. Both paths persist
// through the same guarded entity update contract.
package billing

// Status is the derived state of an entity's subscription.
type Status string

const (
	StatusNotSubscribed Status = "not_subscribed"
	StatusTrialing      Status = "trialing"
	StatusActive        Status = "active"
	StatusPastDue       Status = "past_due"
	StatusCanceled      Status = "canceled"
	StatusUnpaid        Status = "unpaid"
)

// Entity is the local billing record for one billable account. It carries no
// behavior of its own; all mutations go through ApplyUpdate and an
// EntityStore. The entity is created and owned by the surrounding
// application - this package only ever updates existing records.
type Entity struct {
	ID    string
	Email string

	// Plan is the currently active plan id, empty when unsubscribed.
	Plan string

	// CustomerID is the processor's customer id, created lazily on the
	// first subscribe.
	CustomerID string

	// Timestamps are unix seconds; zero means unset.
	RenewsNext        int64
	TrialEnds         int64
	CanceledAt        int64
	LastTrialReminder int64

	PastDue  bool
	Canceled bool

	// NotCharged exempts the entity from billing. It can only be changed
	// through Service.SetNotCharged.
	NotCharged bool
}

// Update is a field-level partial update to an Entity. Nil fields are left
// untouched by the store.
type Update struct {
	Plan              *string
	CustomerID        *string
	RenewsNext        *int64
	TrialEnds         *int64
	PastDue           *bool
	Canceled          *bool
	CanceledAt        *int64
	NotCharged        *bool
	LastTrialReminder *int64
}

// IsZero reports whether the update carries no fields.
func (u Update) IsZero() bool {
	return u.Plan == nil && u.CustomerID == nil && u.RenewsNext == nil &&
		u.TrialEnds == nil && u.PastDue == nil && u.Canceled == nil &&
		u.CanceledAt == nil && u.NotCharged == nil && u.LastTrialReminder == nil
}

// HistoryRecord is one row of billing history, written once per processed
// charge event and immutable thereafter.
type HistoryRecord struct {
	ID            string
	EntityID      string
	PaymentTime   int64
	Amount        float64 // major units; the processor reports minor units
	CustomerID    string
	TransactionID string
	Description   string
	Success       bool
	Error         string
}

func ptr[T any](v T) *T {
	return &v
}
