package billing

import "context"

// Subscription manages one entity's subscription against a desired plan. The
// plan may differ from the entity's stored plan: it represents the plan the
// caller wants to operate on, and Status reports not_subscribed until the
// two agree.
type Subscription struct {
	svc    *Service
	entity *Entity
	plan   string
}

// Subscription returns a manager for the entity bound to the given plan.
// An empty plan defaults to the entity's stored plan.
func (s *Service) Subscription(e *Entity, plan string) *Subscription {
	if plan == "" {
		plan = e.Plan
	}
	return &Subscription{svc: s, entity: e, plan: plan}
}

// Plan returns the plan this manager operates on.
func (s *Subscription) Plan() string {
	return s.plan
}

// Status derives the subscription status from entity state. Pure; evaluated
// in strict priority order, first match wins.
func (s *Subscription) Status() Status {
	e := s.entity
	now := s.svc.now().Unix()

	if e.Canceled {
		return StatusCanceled
	}

	// The stored plan must match this manager's plan for any non-canceled
	// status to apply.
	if s.plan == "" || e.Plan != s.plan {
		return StatusNotSubscribed
	}

	if e.TrialEnds > now {
		return StatusTrialing
	}

	// Exempt entities are always active once subscribed, unless trialing
	// or canceled above.
	if e.NotCharged {
		return StatusActive
	}

	if e.RenewsNext > now {
		return StatusActive
	}

	if e.PastDue {
		return StatusPastDue
	}

	// The processor occasionally lags on renewals, leaving renews_next in
	// the past. Treat a stale but non-zero renewal as active until told
	// otherwise.
	if e.RenewsNext > 0 {
		return StatusActive
	}

	// Trial over, nothing scheduled, not canceled: unpaid.
	return StatusUnpaid
}

// Active reports whether the subscription is in a billable state.
func (s *Subscription) Active() bool {
	switch s.Status() {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Canceled reports whether the subscription has been canceled.
func (s *Subscription) Canceled() bool {
	return s.Status() == StatusCanceled
}

// Trialing reports whether the subscription is in a trial period.
func (s *Subscription) Trialing() bool {
	return s.Status() == StatusTrialing
}

// CreateParams holds optional arguments for Create.
type CreateParams struct {
	// Token is an optional card token; it becomes the customer's default
	// source.
	Token string

	// SkipTrial immediately ends the trial period for the new
	// subscription.
	SkipTrial bool

	// Extra is passed through to the processor untouched.
	Extra map[string]interface{}
}

// Create subscribes the entity to the manager's plan. It is only allowed
// when there is no live subscription (not_subscribed or canceled); an
// existing subscription must go through Change instead. No local state is
// written unless the processor confirms an active or trialing subscription.
func (s *Subscription) Create(ctx context.Context, params CreateParams) error {
	if s.plan == "" {
		return ErrInvalidSubscriptionState
	}
	if st := s.Status(); st != StatusNotSubscribed && st != StatusCanceled {
		return ErrInvalidSubscriptionState
	}

	customer, err := s.svc.customer(ctx, s.entity)
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("create", "error")
		return err
	}

	sub, err := s.svc.updateSubscription(ctx, customer.ID, SubscriptionParams{
		Plan:        s.plan,
		Source:      params.Token,
		TrialEndNow: params.SkipTrial,
		Extra:       params.Extra,
	})
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("create", "error")
		return err
	}

	if err := s.applySubscriptionState(ctx, sub, s.plan); err != nil {
		s.svc.metrics.RecordSubscriptionOp("create", "error")
		return err
	}

	s.svc.metrics.RecordSubscriptionOp("create", "ok")
	return nil
}

// ChangeParams holds optional arguments for Change.
type ChangeParams struct {
	// SkipTrial immediately ends the trial period; otherwise an active
	// trial keeps its current end date.
	SkipTrial bool

	// Prorate defaults to true when nil.
	Prorate *bool

	// Extra is passed through to the processor untouched.
	Extra map[string]interface{}
}

// Change moves the entity to a different plan. It is only allowed on a live,
// chargeable subscription. The processor must confirm both an
// active/trialing status and the requested plan id before any local state is
// written; on success this manager's plan becomes the new plan.
func (s *Subscription) Change(ctx context.Context, plan string, params ChangeParams) error {
	if plan == "" || s.entity.NotCharged {
		return ErrInvalidSubscriptionState
	}
	switch s.Status() {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid:
	default:
		return ErrInvalidSubscriptionState
	}

	customer, err := s.svc.customer(ctx, s.entity)
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("change", "error")
		return err
	}

	req := SubscriptionParams{
		Plan:    plan,
		Prorate: params.Prorate,
		Extra:   params.Extra,
	}
	if req.Prorate == nil {
		req.Prorate = ptr(true)
	}
	if params.SkipTrial {
		req.TrialEndNow = true
	} else if s.Trialing() {
		// Keep the same trial end date across the plan change.
		req.TrialEnd = s.entity.TrialEnds
	}

	sub, err := s.svc.updateSubscription(ctx, customer.ID, req)
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("change", "error")
		return err
	}

	// An ambiguous processor response carrying a different plan must not
	// be applied locally.
	if sub.Plan != plan {
		s.svc.metrics.RecordSubscriptionOp("change", "error")
		return ErrPlanMismatch
	}

	if err := s.applySubscriptionState(ctx, sub, plan); err != nil {
		s.svc.metrics.RecordSubscriptionOp("change", "error")
		return err
	}

	s.plan = plan
	s.svc.metrics.RecordSubscriptionOp("change", "ok")
	return nil
}

// Cancel ends the subscription. Entities without a processor customer, and
// exempt entities, are canceled purely locally with no processor call. With
// atPeriodEnd the subscription stays nominally active until the period ends:
// only the cancellation timestamp is recorded, not the canceled flag.
func (s *Subscription) Cancel(ctx context.Context, atPeriodEnd bool) error {
	if !s.Active() {
		return ErrInvalidSubscriptionState
	}

	e := s.entity
	if e.CustomerID == "" || e.NotCharged {
		if err := s.cancelLocal(ctx); err != nil {
			s.svc.metrics.RecordSubscriptionOp("cancel", "error")
			return err
		}
		s.svc.metrics.RecordSubscriptionOp("cancel", "ok")
		return nil
	}

	sub, err := s.svc.cancelSubscription(ctx, e.CustomerID, CancelParams{AtPeriodEnd: atPeriodEnd})
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("cancel", "error")
		return err
	}

	now := s.svc.now().Unix()
	canceledAt := sub.CanceledAt
	if canceledAt == 0 {
		canceledAt = now
	}

	var u Update
	if atPeriodEnd {
		u = Update{CanceledAt: ptr(canceledAt)}
	} else {
		if sub.Status != SubStatusCanceled {
			s.svc.metrics.RecordSubscriptionOp("cancel", "error")
			return ErrUnexpectedSubscriptionStatus
		}
		u = Update{Canceled: ptr(true), CanceledAt: ptr(canceledAt)}
	}

	eff, err := ApplyUpdate(e, u, now)
	if err != nil {
		s.svc.metrics.RecordSubscriptionOp("cancel", "error")
		return err
	}
	if err := s.svc.entities.Update(ctx, e, eff); err != nil {
		s.svc.metrics.RecordSubscriptionOp("cancel", "error")
		return err
	}

	s.svc.metrics.RecordSubscriptionOp("cancel", "ok")
	return nil
}

// cancelLocal cancels with no processor involvement.
func (s *Subscription) cancelLocal(ctx context.Context) error {
	e := s.entity

	eff, err := ApplyUpdate(e, Update{Canceled: ptr(true)}, s.svc.now().Unix())
	if err != nil {
		return err
	}
	if err := s.svc.entities.Update(ctx, e, eff); err != nil {
		return err
	}

	if s.svc.cfg.Emails.SubscriptionCanceled {
		s.svc.notify(ctx, e, TemplateSubscriptionCanceled, map[string]interface{}{
			"subject": "Your subscription to " + s.svc.cfg.AppName + " has been canceled",
			"tags":    []string{"billing", "subscription-canceled"},
		})
	}

	return nil
}

// applySubscriptionState writes the local fields for a confirmed
// active/trialing subscription in a single store update.
func (s *Subscription) applySubscriptionState(ctx context.Context, sub *ProcessorSubscription, plan string) error {
	if sub.Status != SubStatusActive && sub.Status != SubStatusTrialing {
		return ErrUnexpectedSubscriptionStatus
	}

	u := Update{
		Plan:       ptr(plan),
		PastDue:    ptr(false),
		RenewsNext: ptr(sub.PeriodEnd),
		Canceled:   ptr(false),
		CanceledAt: ptr(int64(0)),
	}
	if sub.Status == SubStatusActive {
		u.TrialEnds = ptr(int64(0))
	}

	eff, err := ApplyUpdate(s.entity, u, s.svc.now().Unix())
	if err != nil {
		return err
	}
	return s.svc.entities.Update(ctx, s.entity, eff)
}
