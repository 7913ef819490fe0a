// Package stripe implements billing.Processor on the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/infusephp/billing/pkg/billing"
)

// SignatureHeader carries the webhook signature on inbound deliveries.
const SignatureHeader = "Stripe-Signature"

// Client implements billing.Processor using the Stripe v1 API. One customer
// maps to at most one subscription; when Stripe reports several, the most
// recently created non-canceled one wins.
type Client struct {
	sc *stripe.Client
}

// NewClient creates a Stripe-backed processor client.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe: %w: missing API key", billing.ErrMissingDependency)
	}
	return &Client{sc: stripe.NewClient(apiKey)}, nil
}

// RetrieveCustomer fetches the customer and its current subscription.
func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	cust, err := c.sc.V1Customers.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classify(err)
	}

	sub, err := c.currentSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &billing.Customer{
		ID:    cust.ID,
		Email: cust.Email,
	}
	if sub != nil {
		out.Subscription = &sub.ProcessorSubscription
	}
	if cust.DefaultSource != nil {
		out.DefaultSource = cust.DefaultSource.ID
	}
	return out, nil
}

// CreateCustomer creates a new Stripe customer.
func (c *Client) CreateCustomer(ctx context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	p := &stripe.CustomerCreateParams{
		Email:       stripe.String(params.Email),
		Description: stripe.String(params.Description),
	}
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}

	cust, err := c.sc.V1Customers.Create(ctx, p)
	if err != nil {
		return nil, classify(err)
	}
	return &billing.Customer{ID: cust.ID, Email: cust.Email}, nil
}

// UpdateSubscription moves the customer onto the given plan, creating the
// subscription when none exists yet.
func (c *Client) UpdateSubscription(
	ctx context.Context, customerID string, params billing.SubscriptionParams,
) (*billing.ProcessorSubscription, error) {
	if params.Source != "" {
		if err := c.SetDefaultSource(ctx, customerID, params.Source); err != nil {
			return nil, err
		}
	}

	existing, err := c.currentSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if existing == nil || existing.Status == billing.SubStatusCanceled {
		return c.createSubscription(ctx, customerID, params)
	}

	p := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{{
			ID:    stripe.String(existing.itemID),
			Price: stripe.String(params.Plan),
		}},
		ProrationBehavior: stripe.String(prorationBehavior(params.Prorate)),
	}
	applyTrial(&p.TrialEnd, &p.TrialEndNow, params)
	for k, v := range params.Extra {
		p.AddExtra(k, fmt.Sprint(v))
	}

	sub, err := c.sc.V1Subscriptions.Update(ctx, existing.ID, p)
	if err != nil {
		return nil, classify(err)
	}
	return mapSubscription(sub), nil
}

func (c *Client) createSubscription(
	ctx context.Context, customerID string, params billing.SubscriptionParams,
) (*billing.ProcessorSubscription, error) {
	p := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionCreateItemParams{{
			Price: stripe.String(params.Plan),
		}},
	}
	applyTrial(&p.TrialEnd, &p.TrialEndNow, params)
	for k, v := range params.Extra {
		p.AddExtra(k, fmt.Sprint(v))
	}

	sub, err := c.sc.V1Subscriptions.Create(ctx, p)
	if err != nil {
		return nil, classify(err)
	}
	return mapSubscription(sub), nil
}

// CancelSubscription cancels the customer's current subscription.
func (c *Client) CancelSubscription(
	ctx context.Context, customerID string, params billing.CancelParams,
) (*billing.ProcessorSubscription, error) {
	existing, err := c.currentSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("stripe: cancel: %w: customer %s has no subscription",
			billing.ErrInvalidSubscriptionState, customerID)
	}

	if params.AtPeriodEnd {
		sub, err := c.sc.V1Subscriptions.Update(ctx, existing.ID, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return nil, classify(err)
		}
		return mapSubscription(sub), nil
	}

	sub, err := c.sc.V1Subscriptions.Cancel(ctx, existing.ID, nil)
	if err != nil {
		return nil, classify(err)
	}
	return mapSubscription(sub), nil
}

// SetDefaultSource attaches a card token as the customer's default source.
func (c *Client) SetDefaultSource(ctx context.Context, customerID, token string) error {
	_, err := c.sc.V1Customers.Update(ctx, customerID, &stripe.CustomerUpdateParams{
		Source: stripe.String(token),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// indexedSubscription pairs the mapped subscription with the item id needed
// for plan changes.
type indexedSubscription struct {
	billing.ProcessorSubscription
	itemID string
}

// currentSubscription lists the customer's subscriptions and picks the one
// the billing layer should treat as current. Nil means the customer has
// never been subscribed or everything is canceled and gone.
func (c *Client) currentSubscription(ctx context.Context, customerID string) (*indexedSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}

	var best *indexedSubscription
	for sub, err := range c.sc.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, classify(err)
		}
		cand := &indexedSubscription{ProcessorSubscription: *mapSubscription(sub)}
		if sub.Items != nil && len(sub.Items.Data) > 0 {
			cand.itemID = sub.Items.Data[0].ID
		}
		if best == nil {
			best = cand
			continue
		}
		// A live subscription beats a canceled one regardless of age.
		if best.Status == billing.SubStatusCanceled && cand.Status != billing.SubStatusCanceled {
			best = cand
		}
	}
	return best, nil
}

func mapSubscription(sub *stripe.Subscription) *billing.ProcessorSubscription {
	out := &billing.ProcessorSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		TrialEnd:          sub.TrialEnd,
		CanceledAt:        sub.CanceledAt,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PeriodEnd = item.CurrentPeriodEnd
		if item.Price != nil {
			out.Plan = item.Price.ID
		}
	}
	return out
}

func prorationBehavior(prorate *bool) string {
	if prorate != nil && !*prorate {
		return "none"
	}
	return "create_prorations"
}

func applyTrial(trialEnd **int64, trialEndNow **bool, params billing.SubscriptionParams) {
	if params.TrialEndNow {
		*trialEndNow = stripe.Bool(true)
		return
	}
	if params.TrialEnd > 0 {
		*trialEnd = stripe.Int64(params.TrialEnd)
	}
}

// classify maps Stripe API failures onto the billing error taxonomy. Card
// problems the customer can fix become ErrCardDeclined; everything else is
// an ErrProcessor.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.DeclineCode != "" {
			return fmt.Errorf("stripe: %w: %s", billing.ErrCardDeclined, stripeErr.Msg)
		}
		return fmt.Errorf("stripe: %w: %s", billing.ErrProcessor, stripeErr.Msg)
	}
	return fmt.Errorf("stripe: %w: %v", billing.ErrProcessor, err)
}
