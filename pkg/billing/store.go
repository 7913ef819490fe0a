package billing

import "context"

// EntityStore persists billable entities with field-level partial updates.
// Implementations provide last-write-wins semantics; callers that need
// stronger guarantees add optimistic versioning at this boundary.
type EntityStore interface {
	// GetByCustomerID resolves the entity carrying the given processor
	// customer id. Returns ErrEntityNotFound when no entity matches.
	GetByCustomerID(ctx context.Context, customerID string) (*Entity, error)

	// Update persists only the non-nil fields of u for e.
	Update(ctx context.Context, e *Entity, u Update) error

	// TrialsEndingSoon returns non-canceled entities whose trial ends
	// within [start, end] and that have never been sent a reminder.
	TrialsEndingSoon(ctx context.Context, start, end int64) ([]*Entity, error)

	// EndedTrials returns non-canceled entities whose trial has ended
	// (0 < trial_ends < now), with no renewal scheduled, and no reminder
	// sent since the trial ended.
	EndedTrials(ctx context.Context, now int64) ([]*Entity, error)

	// ListSubscribed returns reconciliation candidates: entities with a
	// processor customer that are neither canceled nor exempt from
	// charging.
	ListSubscribed(ctx context.Context) ([]*Entity, error)
}

// HistoryStore persists immutable billing history records.
type HistoryStore interface {
	Create(ctx context.Context, rec *HistoryRecord) error
}

// ProcessedEventStore remembers webhook event ids so redelivered events can
// be dropped before their handler runs. Optional; the processor may deliver
// the same event more than once.
type ProcessedEventStore interface {
	// MarkProcessed records the event id and reports whether this was the
	// first time it was seen.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)

	// Forget releases a previously marked event id. The dispatcher calls
	// it when a handler fails, so the processor's retry of that delivery
	// is handled instead of dropped as a duplicate.
	Forget(ctx context.Context, eventID string) error
}
