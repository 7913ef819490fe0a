package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/infusephp/billing/pkg/billing"
)

// RetrieveEvent fetches the confirmed copy of a webhook event and maps its
// nested object into the billing layer's shape.
func (c *Client) RetrieveEvent(ctx context.Context, id string) (*billing.Event, error) {
	evt, err := c.sc.V1Events.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classify(err)
	}

	out := &billing.Event{
		ID:       evt.ID,
		Type:     string(evt.Type),
		Livemode: evt.Livemode,
		Created:  evt.Created,
		Account:  evt.Account,
	}
	if evt.Data == nil {
		return out, nil
	}
	if err := decodeEventObject(out, evt.Data.Raw); err != nil {
		return nil, fmt.Errorf("stripe: event %s: %w", evt.ID, err)
	}
	return out, nil
}

// decodeEventObject fills in the event's Charge or Subscription from the raw
// nested object. Local payload structs are used instead of the SDK's types
// so fields that moved between API versions, like the billing period, keep
// decoding from the shape the event was serialized with.
func decodeEventObject(out *billing.Event, raw json.RawMessage) error {
	switch {
	case strings.HasPrefix(out.Type, "charge."):
		var p chargePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		out.Customer = p.Customer.ID
		out.Charge = p.charge()
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		out.Customer = p.Customer.ID
		out.Subscription = p.subscription()
	default:
		var p struct {
			Customer objectRef `json:"customer"`
		}
		if err := json.Unmarshal(raw, &p); err == nil {
			out.Customer = p.Customer.ID
		}
	}
	return nil
}

// objectRef decodes a Stripe reference that is delivered either as a bare id
// or as an expanded object.
type objectRef struct {
	ID string
}

func (r *objectRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type chargePayload struct {
	ID             string    `json:"id"`
	Customer       objectRef `json:"customer"`
	Amount         int64     `json:"amount"`
	Created        int64     `json:"created"`
	Description    string    `json:"description"`
	FailureMessage string    `json:"failure_message"`
	Source         struct {
		Object   string `json:"object"`
		Last4    string `json:"last4"`
		Brand    string `json:"brand"`
		ExpMonth int64  `json:"exp_month"`
		ExpYear  int64  `json:"exp_year"`
	} `json:"source"`
}

func (p chargePayload) charge() *billing.Charge {
	return &billing.Charge{
		ID:             p.ID,
		Customer:       p.Customer.ID,
		Amount:         p.Amount,
		Created:        p.Created,
		Description:    p.Description,
		FailureMessage: p.FailureMessage,
		SourceType:     p.Source.Object,
		CardLast4:      p.Source.Last4,
		CardBrand:      p.Source.Brand,
		CardExpMonth:   p.Source.ExpMonth,
		CardExpYear:    p.Source.ExpYear,
	}
}

type subscriptionPayload struct {
	ID                string    `json:"id"`
	Customer          objectRef `json:"customer"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  int64     `json:"current_period_end"`
	TrialEnd          int64     `json:"trial_end"`
	CanceledAt        int64     `json:"canceled_at"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p subscriptionPayload) subscription() *billing.ProcessorSubscription {
	out := &billing.ProcessorSubscription{
		ID:                p.ID,
		Status:            p.Status,
		PeriodEnd:         p.CurrentPeriodEnd,
		TrialEnd:          p.TrialEnd,
		CanceledAt:        p.CanceledAt,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		out.Plan = item.Price.ID
		// Newer API versions report the billing period on the item.
		if out.PeriodEnd == 0 {
			out.PeriodEnd = item.CurrentPeriodEnd
		}
	}
	return out
}

// SignatureVerifier returns a billing.SignatureVerifier checking deliveries
// against the endpoint's signing secret.
func SignatureVerifier(secret string) billing.SignatureVerifier {
	return func(payload []byte, sigHeader string) error {
		if _, err := stripe.ConstructEvent(payload, sigHeader, secret); err != nil {
			return fmt.Errorf("stripe: signature verification failed: %w", err)
		}
		return nil
	}
}
