package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sourceTypeCard is the only charge source recorded in billing history.
const sourceTypeCard = "card"

// paymentTimeLayout formats charge timestamps for notifications,
// e.g. "March 7, 2026 4:05 pm UTC".
const paymentTimeLayout = "January 2, 2006 3:04 pm MST"

func formatPaymentTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(paymentTimeLayout)
}

func formatAmount(minorUnits int64) string {
	return fmt.Sprintf("%.2f", float64(minorUnits)/100)
}

// handleChargeFailed records a failed charge in billing history and notifies
// the entity's owner about the payment problem.
func (s *Service) handleChargeFailed(ctx context.Context, event *Event, e *Entity) error {
	charge := event.Charge
	if charge == nil || charge.SourceType != sourceTypeCard {
		// Only card charges are handled; anything else is a no-op.
		return nil
	}

	description := charge.Description
	if description == "" {
		description = e.Plan
	}

	rec := &HistoryRecord{
		ID:            uuid.NewString(),
		EntityID:      e.ID,
		PaymentTime:   charge.Created,
		Amount:        float64(charge.Amount) / 100,
		CustomerID:    charge.Customer,
		TransactionID: charge.ID,
		Description:   description,
		Success:       false,
		Error:         charge.FailureMessage,
	}
	if err := s.history.Create(ctx, rec); err != nil {
		return fmt.Errorf("record failed charge: %w", err)
	}

	if s.cfg.Emails.FailedPayment {
		s.notify(ctx, e, TemplatePaymentProblem, map[string]interface{}{
			"subject":       "Declined charge for " + s.cfg.AppName,
			"timestamp":     charge.Created,
			"payment_time":  formatPaymentTime(charge.Created),
			"amount":        formatAmount(charge.Amount),
			"description":   description,
			"card_last4":    charge.CardLast4,
			"card_expires":  fmt.Sprintf("%d/%d", charge.CardExpMonth, charge.CardExpYear),
			"card_type":     charge.CardBrand,
			"error_message": charge.FailureMessage,
			"tags":          []string{"billing", "charge-failed"},
		})
	}

	return nil
}

// handleChargeSucceeded records a successful charge in billing history and
// sends a receipt.
func (s *Service) handleChargeSucceeded(ctx context.Context, event *Event, e *Entity) error {
	charge := event.Charge
	if charge == nil || charge.SourceType != sourceTypeCard {
		return nil
	}

	description := charge.Description
	if description == "" {
		description = e.Plan
	}

	rec := &HistoryRecord{
		ID:            uuid.NewString(),
		EntityID:      e.ID,
		PaymentTime:   charge.Created,
		Amount:        float64(charge.Amount) / 100,
		CustomerID:    charge.Customer,
		TransactionID: charge.ID,
		Description:   description,
		Success:       true,
	}
	if err := s.history.Create(ctx, rec); err != nil {
		return fmt.Errorf("record charge: %w", err)
	}

	if s.cfg.Emails.PaymentReceipt {
		s.notify(ctx, e, TemplatePaymentReceived, map[string]interface{}{
			"subject":      "Payment receipt on " + s.cfg.AppName,
			"timestamp":    charge.Created,
			"payment_time": formatPaymentTime(charge.Created),
			"amount":       formatAmount(charge.Amount),
			"description":  description,
			"card_last4":   charge.CardLast4,
			"card_expires": fmt.Sprintf("%d/%d", charge.CardExpMonth, charge.CardExpYear),
			"card_type":    charge.CardBrand,
			"tags":         []string{"billing", "payment-received"},
		})
	}

	return nil
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, event *Event, e *Entity) error {
	return s.handleSubscriptionUpdated(ctx, event, e)
}

// handleSubscriptionUpdated reconciles the entity with the processor's
// reported subscription state in a single persisted update.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *Event, e *Entity) error {
	sub := event.Subscription
	if sub == nil {
		return fmt.Errorf("event %s has no subscription payload", event.ID)
	}

	u := Update{
		PastDue: ptr(sub.Status == SubStatusPastDue),
		Plan:    ptr(sub.Plan),
	}

	switch sub.Status {
	case SubStatusTrialing, SubStatusActive, SubStatusPastDue:
		u.RenewsNext = ptr(sub.PeriodEnd)
		u.Canceled = ptr(false)
		u.CanceledAt = ptr(int64(0))
	}

	// Outside trialing/unpaid the trial is definitively over.
	if sub.Status != SubStatusTrialing && sub.Status != SubStatusUnpaid {
		u.TrialEnds = ptr(int64(0))
	}

	eff, err := ApplyUpdate(e, u, s.now().Unix())
	if err != nil {
		return err
	}
	return s.entities.Update(ctx, e, eff)
}

// handleSubscriptionDeleted marks the entity canceled, stamping the
// processor's cancellation timestamp when it reported one.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *Event, e *Entity) error {
	u := Update{Canceled: ptr(true)}
	if event.Subscription != nil && event.Subscription.CanceledAt > 0 {
		u.CanceledAt = ptr(event.Subscription.CanceledAt)
	}

	eff, err := ApplyUpdate(e, u, s.now().Unix())
	if err != nil {
		return err
	}
	if err := s.entities.Update(ctx, e, eff); err != nil {
		return err
	}

	if s.cfg.Emails.SubscriptionCanceled {
		s.notify(ctx, e, TemplateSubscriptionCanceled, map[string]interface{}{
			"subject": "Your subscription to " + s.cfg.AppName + " has been canceled",
			"tags":    []string{"billing", "subscription-canceled"},
		})
	}

	return nil
}
