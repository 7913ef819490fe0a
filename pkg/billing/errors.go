package billing

import "errors"

var (
	// ErrMissingDependency is returned by NewService when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("billing: missing required dependency")

	// ErrInvalidSubscriptionState is returned when an operation is not
	// allowed in the entity's current subscription status. These are
	// routine precondition failures and are never logged.
	ErrInvalidSubscriptionState = errors.New("operation not allowed in current subscription state")

	// ErrProcessor wraps any failure reported by the payment processor
	// that is not a card problem.
	ErrProcessor = errors.New("payment processor error")

	// ErrCardDeclined wraps processor failures the cardholder can act on
	// (declined or invalid card).
	ErrCardDeclined = errors.New("card declined")

	// ErrUnexpectedSubscriptionStatus is returned when the processor call
	// succeeded but reported a subscription state the operation cannot
	// accept (e.g. an incomplete subscription after create).
	ErrUnexpectedSubscriptionStatus = errors.New("processor returned an unexpected subscription status")

	// ErrPlanMismatch is returned by Change when the processor confirmed
	// a plan other than the one requested.
	ErrPlanMismatch = errors.New("processor confirmed a different plan than requested")

	// ErrNotChargedImmutable is the notCharged guard: the flag indicates a
	// programming error when set through a generic field update.
	ErrNotChargedImmutable = errors.New("not_charged can only be changed through SetNotCharged")

	// ErrEntityNotFound is returned by entity stores when no record
	// matches the lookup.
	ErrEntityNotFound = errors.New("billable entity not found")
)
