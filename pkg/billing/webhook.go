package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Outcome is the result of processing one webhook delivery. Outcomes are
// values, not errors: every one of them is a normal occurrence in a
// webhook's lifetime. The surrounding HTTP layer writes the outcome back as
// the response body; the processor treats any response as received.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeInvalidEvent      Outcome = "invalid_event"
	OutcomeLivemodeMismatch  Outcome = "livemode_mismatch"
	OutcomeConnectEvent      Outcome = "connect_event"
	OutcomeEventNotSupported Outcome = "event_not_supported"
	OutcomeCustomerNotFound  Outcome = "customer_not_found"
	OutcomeGenericError      Outcome = "generic_error"
)

// Envelope is the raw webhook payload as delivered by the processor. It is
// not trusted: apart from non-retrievable event types, the event is
// re-fetched from the processor before anything acts on it.
type Envelope struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Livemode bool          `json:"livemode"`
	Account  string        `json:"user_id,omitempty"`
	Data     *EnvelopeData `json:"data,omitempty"`
}

// EnvelopeData carries the event's nested object.
type EnvelopeData struct {
	Object json.RawMessage `json:"object"`
}

// event builds an Event straight from the envelope, for event types the
// processor cannot serve back through its API.
func (env Envelope) event() *Event {
	evt := &Event{
		ID:       env.ID,
		Type:     env.Type,
		Livemode: env.Livemode,
		Account:  env.Account,
	}
	if env.Data != nil {
		var obj struct {
			Customer string `json:"customer"`
		}
		if err := json.Unmarshal(env.Data.Object, &obj); err == nil {
			evt.Customer = obj.Customer
		}
	}
	return evt
}

// Handler processes one verified event against its resolved entity. A nil
// return maps to OutcomeSuccess; any error is logged and maps to
// OutcomeGenericError. Handlers must tolerate redelivery of the same event.
type Handler func(ctx context.Context, event *Event, e *Entity) error

// Dispatcher validates, authenticates and routes inbound webhook events to
// registered handlers. It is a pure routing state machine: no retries are
// attempted here, redelivery is the processor's job.
type Dispatcher struct {
	svc       *Service
	handlers  map[string]Handler
	processed ProcessedEventStore
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithProcessedEventStore enables dedup of redelivered events: a previously
// seen event id short-circuits to success before its handler runs.
func WithProcessedEventStore(store ProcessedEventStore) DispatcherOption {
	return func(d *Dispatcher) { d.processed = store }
}

// Event types the processor cannot serve back through its API; for these the
// envelope is treated as authoritative.
var nonRetrievableTypes = map[string]bool{
	"account.application.deauthorized": true,
}

// NewDispatcher creates a Dispatcher with the stock handler set installed.
func NewDispatcher(svc *Service, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc: svc,
		handlers: map[string]Handler{
			"charge.failed":                 svc.handleChargeFailed,
			"charge.succeeded":              svc.handleChargeSucceeded,
			"customer.subscription.created": svc.handleSubscriptionCreated,
			"customer.subscription.updated": svc.handleSubscriptionUpdated,
			"customer.subscription.deleted": svc.handleSubscriptionDeleted,
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// RegisterHandler installs or replaces the handler for an event type.
func (d *Dispatcher) RegisterHandler(eventType string, h Handler) {
	d.handlers[eventType] = h
}

// Handle processes one webhook delivery end to end and returns its outcome.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) Outcome {
	start := time.Now()
	outcome := d.handle(ctx, env)
	d.svc.metrics.RecordWebhookEvent(env.Type, string(outcome))
	d.svc.metrics.RecordWebhookDuration(env.Type, time.Since(start))
	return outcome
}

func (d *Dispatcher) handle(ctx context.Context, env Envelope) Outcome {
	if env.ID == "" {
		return OutcomeInvalidEvent
	}

	// Livemode must match the runtime exactly: production only accepts
	// live events, everything else only accepts test events.
	if env.Livemode != d.svc.cfg.Production() {
		return OutcomeLivemodeMismatch
	}

	// Connected-account events are out of scope.
	if env.Account != "" {
		return OutcomeConnectEvent
	}

	var event *Event
	if nonRetrievableTypes[env.Type] {
		event = env.event()
	} else {
		// Webhook payloads are spoofable. Re-fetch the event from the
		// processor and act only on the confirmed copy.
		start := time.Now()
		var err error
		event, err = d.svc.processor.RetrieveEvent(ctx, env.ID)
		d.svc.metrics.RecordProcessorCallDuration("retrieve_event", time.Since(start))
		if err != nil {
			d.svc.metrics.RecordProcessorCall("retrieve_event", "error")
			d.svc.logger.Error("failed to retrieve webhook event",
				Field{Key: "event_id", Value: env.ID},
				Field{Key: "event_type", Value: env.Type},
				Field{Key: "error", Value: err.Error()})
			return OutcomeGenericError
		}
		d.svc.metrics.RecordProcessorCall("retrieve_event", "ok")
	}

	entity, err := d.svc.entities.GetByCustomerID(ctx, event.Customer)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return OutcomeCustomerNotFound
		}
		d.svc.logger.Error("entity lookup failed",
			Field{Key: "event_id", Value: event.ID},
			Field{Key: "customer_id", Value: event.Customer},
			Field{Key: "error", Value: err.Error()})
		return OutcomeGenericError
	}

	handler, ok := d.handlers[event.Type]
	if !ok {
		return OutcomeEventNotSupported
	}

	if d.processed != nil {
		first, err := d.processed.MarkProcessed(ctx, event.ID)
		if err != nil {
			// Dedup is best-effort; a failing store must not block the
			// delivery since handlers tolerate redelivery anyway.
			d.svc.logger.Warn("processed-event store failed",
				Field{Key: "event_id", Value: event.ID},
				Field{Key: "error", Value: err.Error()})
		} else if !first {
			return OutcomeSuccess
		}
	}

	if err := handler(ctx, event, entity); err != nil {
		d.svc.logger.Error("webhook handler failed",
			Field{Key: "event_id", Value: event.ID},
			Field{Key: "event_type", Value: event.Type},
			Field{Key: "entity_id", Value: entity.ID},
			Field{Key: "error", Value: err.Error()})
		// The id was marked before the handler ran; release it so the
		// processor's retry of this delivery is not dropped as a duplicate.
		if d.processed != nil {
			if err := d.processed.Forget(ctx, event.ID); err != nil {
				d.svc.logger.Warn("processed-event store failed",
					Field{Key: "event_id", Value: event.ID},
					Field{Key: "error", Value: err.Error()})
			}
		}
		return OutcomeGenericError
	}

	return OutcomeSuccess
}
