package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infusephp/billing/pkg/billing"
	"github.com/infusephp/billing/storage/memory"
)

func seedEntity(env *testEnv) *billing.Entity {
	e := &billing.Entity{ID: "e1", Email: "owner@example.com", Plan: "gold", CustomerID: "cus_1"}
	env.store.Put(e)
	return e
}

func envelope(id, eventType string) billing.Envelope {
	return billing.Envelope{ID: id, Type: eventType}
}

func TestDispatcher_EmptyIDIsInvalid(t *testing.T) {
	env := newTestEnv(t, testConfig())
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeInvalidEvent, outcome)
	assert.Zero(t, env.processor.totalCalls())
}

func TestDispatcher_LivemodeMismatch(t *testing.T) {
	// Test environment only accepts test events.
	env := newTestEnv(t, testConfig())
	d := billing.NewDispatcher(env.svc)

	delivery := envelope("evt_1", "charge.succeeded")
	delivery.Livemode = true

	outcome := d.Handle(context.Background(), delivery)
	assert.Equal(t, billing.OutcomeLivemodeMismatch, outcome)
	assert.Zero(t, env.processor.totalCalls(), "mismatched events are dropped before any processor call")
}

func TestDispatcher_ProductionRequiresLivemode(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = billing.EnvProduction
	env := newTestEnv(t, cfg)
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeLivemodeMismatch, outcome)
}

func TestDispatcher_ConnectEvent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	d := billing.NewDispatcher(env.svc)

	delivery := envelope("evt_1", "charge.succeeded")
	delivery.Account = "acct_123"

	outcome := d.Handle(context.Background(), delivery)
	assert.Equal(t, billing.OutcomeConnectEvent, outcome)
	assert.Zero(t, env.processor.totalCalls())
}

func TestDispatcher_RetrieveFailureIsGenericError(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.processor.retrieveEventErr = errors.New("api down")
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeGenericError, outcome)
	assert.Equal(t, 1, env.processor.callCount("retrieve_event"))
}

func TestDispatcher_CustomerNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "charge.succeeded",
		Customer: "cus_unknown",
	}
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeCustomerNotFound, outcome)
}

func TestDispatcher_EventNotSupported(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "invoice.finalized",
		Customer: "cus_1",
	}
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "invoice.finalized"))
	assert.Equal(t, billing.OutcomeEventNotSupported, outcome)
}

func TestDispatcher_HandlerErrorIsGenericError(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "customer.subscription.updated",
		Customer: "cus_1",
		// No Subscription payload makes the stock handler fail.
	}
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "customer.subscription.updated"))
	assert.Equal(t, billing.OutcomeGenericError, outcome)
}

func TestDispatcher_Success(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "customer.subscription.deleted",
		Customer: "cus_1",
	}
	d := billing.NewDispatcher(env.svc)

	outcome := d.Handle(context.Background(), envelope("evt_1", "customer.subscription.deleted"))
	assert.Equal(t, billing.OutcomeSuccess, outcome)

	stored := env.store.Get("e1")
	assert.True(t, stored.Canceled)
}

func TestDispatcher_RegisterHandler(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "invoice.finalized",
		Customer: "cus_1",
	}
	d := billing.NewDispatcher(env.svc)

	var handled bool
	d.RegisterHandler("invoice.finalized", func(_ context.Context, event *billing.Event, e *billing.Entity) error {
		handled = true
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, "e1", e.ID)
		return nil
	})

	outcome := d.Handle(context.Background(), envelope("evt_1", "invoice.finalized"))
	assert.Equal(t, billing.OutcomeSuccess, outcome)
	assert.True(t, handled)
}

func TestDispatcher_DeduplicatesRedelivery(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	env.processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "charge.succeeded",
		Customer: "cus_1",
		Charge: &billing.Charge{
			ID:         "ch_1",
			Customer:   "cus_1",
			Amount:     1000,
			SourceType: "card",
		},
	}
	d := billing.NewDispatcher(env.svc, billing.WithProcessedEventStore(env.store))

	first := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	second := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))

	assert.Equal(t, billing.OutcomeSuccess, first)
	assert.Equal(t, billing.OutcomeSuccess, second)
	require.Len(t, env.store.History(), 1, "redelivered event must not write history twice")
}

// flakyHistoryStore fails the next n Create calls, then delegates.
type flakyHistoryStore struct {
	inner    billing.HistoryStore
	failures int
}

func (s *flakyHistoryStore) Create(ctx context.Context, rec *billing.HistoryRecord) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("history store unavailable")
	}
	return s.inner.Create(ctx, rec)
}

func TestDispatcher_HandlerFailureReleasesEventID(t *testing.T) {
	processor := newFakeProcessor()
	store := memory.New()
	history := &flakyHistoryStore{inner: store, failures: 1}

	svc, err := billing.NewService(testConfig(), processor, store, history,
		billing.WithClock(fixedClock))
	require.NoError(t, err)

	store.Put(&billing.Entity{ID: "e1", Email: "owner@example.com", Plan: "gold", CustomerID: "cus_1"})
	processor.event = &billing.Event{
		ID:       "evt_1",
		Type:     "charge.succeeded",
		Customer: "cus_1",
		Charge: &billing.Charge{
			ID:         "ch_1",
			Customer:   "cus_1",
			Amount:     1000,
			SourceType: "card",
		},
	}
	d := billing.NewDispatcher(svc, billing.WithProcessedEventStore(store))

	first := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeGenericError, first)
	assert.Empty(t, store.History(), "a failed delivery must leave no partial history")

	// The processor retries deliveries that got a 5xx. The failed attempt
	// must not have consumed the event id.
	second := d.Handle(context.Background(), envelope("evt_1", "charge.succeeded"))
	assert.Equal(t, billing.OutcomeSuccess, second)
	require.Len(t, store.History(), 1, "the retried delivery must be handled, not dropped as a duplicate")
}

func TestDispatcher_NonRetrievableTypeUsesEnvelope(t *testing.T) {
	env := newTestEnv(t, testConfig())
	seedEntity(env)
	d := billing.NewDispatcher(env.svc)

	var gotCustomer string
	d.RegisterHandler("account.application.deauthorized", func(_ context.Context, event *billing.Event, _ *billing.Entity) error {
		gotCustomer = event.Customer
		return nil
	})

	delivery := envelope("evt_1", "account.application.deauthorized")
	delivery.Data = &billing.EnvelopeData{Object: []byte(`{"customer":"cus_1"}`)}

	outcome := d.Handle(context.Background(), delivery)
	assert.Equal(t, billing.OutcomeSuccess, outcome)
	assert.Equal(t, "cus_1", gotCustomer)
	assert.Zero(t, env.processor.callCount("retrieve_event"), "non-retrievable types skip the re-fetch")
}
