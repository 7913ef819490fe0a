package billing

// ApplyUpdate validates u against e, applies it to the in-memory entity, and
// returns the effective update for persistence. Every mutating entity
// operation in this package starts here, so the invariants hold no matter
// which path (API-initiated or webhook-driven) produced the update:
//
//   - NotCharged never changes through a generic field update; only
//     Service.SetNotCharged may flip it.
//   - CanceledAt is stamped exactly once, when Canceled transitions
//     false to true and the update carries no timestamp of its own.
func ApplyUpdate(e *Entity, u Update, now int64) (Update, error) {
	if u.NotCharged != nil {
		return Update{}, ErrNotChargedImmutable
	}

	if u.Canceled != nil && *u.Canceled && !e.Canceled && u.CanceledAt == nil {
		u.CanceledAt = ptr(now)
	}

	applyFields(e, u)
	return u, nil
}

// applyFields copies the non-nil fields of u onto e. It performs no
// validation; callers outside SetNotCharged must go through ApplyUpdate.
func applyFields(e *Entity, u Update) {
	if u.Plan != nil {
		e.Plan = *u.Plan
	}
	if u.CustomerID != nil {
		e.CustomerID = *u.CustomerID
	}
	if u.RenewsNext != nil {
		e.RenewsNext = *u.RenewsNext
	}
	if u.TrialEnds != nil {
		e.TrialEnds = *u.TrialEnds
	}
	if u.PastDue != nil {
		e.PastDue = *u.PastDue
	}
	if u.Canceled != nil {
		e.Canceled = *u.Canceled
	}
	if u.CanceledAt != nil {
		e.CanceledAt = *u.CanceledAt
	}
	if u.NotCharged != nil {
		e.NotCharged = *u.NotCharged
	}
	if u.LastTrialReminder != nil {
		e.LastTrialReminder = *u.LastTrialReminder
	}
}
