package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/infusephp/billing/pkg/billing"
	"github.com/infusephp/billing/storage/memory"
)

func ptrTo[T any](v T) *T {
	return &v
}

// fakeProcessor is a scriptable billing.Processor that counts calls.
type fakeProcessor struct {
	mu sync.Mutex

	customer *billing.Customer
	sub      *billing.ProcessorSubscription
	event    *billing.Event

	retrieveCustomerErr error
	createCustomerErr   error
	updateErr           error
	cancelErr           error
	retrieveEventErr    error
	setSourceErr        error

	calls map[string]int

	lastSubscriptionParams billing.SubscriptionParams
	lastCancelParams       billing.CancelParams
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{calls: make(map[string]int)}
}

func (p *fakeProcessor) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
}

func (p *fakeProcessor) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProcessor) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func (p *fakeProcessor) RetrieveCustomer(_ context.Context, id string) (*billing.Customer, error) {
	p.record("retrieve_customer")
	if p.retrieveCustomerErr != nil {
		return nil, p.retrieveCustomerErr
	}
	if p.customer != nil {
		cp := *p.customer
		return &cp, nil
	}
	return &billing.Customer{ID: id, Subscription: p.sub}, nil
}

func (p *fakeProcessor) CreateCustomer(_ context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	p.record("create_customer")
	if p.createCustomerErr != nil {
		return nil, p.createCustomerErr
	}
	return &billing.Customer{ID: "cus_new", Email: params.Email}, nil
}

func (p *fakeProcessor) UpdateSubscription(_ context.Context, _ string, params billing.SubscriptionParams) (*billing.ProcessorSubscription, error) {
	p.record("update_subscription")
	p.mu.Lock()
	p.lastSubscriptionParams = params
	p.mu.Unlock()
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	if p.sub != nil {
		cp := *p.sub
		return &cp, nil
	}
	return &billing.ProcessorSubscription{
		ID:     "sub_1",
		Status: billing.SubStatusActive,
		Plan:   params.Plan,
	}, nil
}

func (p *fakeProcessor) CancelSubscription(_ context.Context, _ string, params billing.CancelParams) (*billing.ProcessorSubscription, error) {
	p.record("cancel_subscription")
	p.mu.Lock()
	p.lastCancelParams = params
	p.mu.Unlock()
	if p.cancelErr != nil {
		return nil, p.cancelErr
	}
	if p.sub != nil {
		cp := *p.sub
		return &cp, nil
	}
	return &billing.ProcessorSubscription{ID: "sub_1", Status: billing.SubStatusCanceled}, nil
}

func (p *fakeProcessor) RetrieveEvent(_ context.Context, id string) (*billing.Event, error) {
	p.record("retrieve_event")
	if p.retrieveEventErr != nil {
		return nil, p.retrieveEventErr
	}
	if p.event != nil {
		cp := *p.event
		return &cp, nil
	}
	return &billing.Event{ID: id}, nil
}

func (p *fakeProcessor) SetDefaultSource(_ context.Context, _, _ string) error {
	p.record("set_default_source")
	return p.setSourceErr
}

// recordingNotifier captures every notification instead of sending it.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []sentEmail
	err   error
}

type sentEmail struct {
	entityID string
	template string
	params   map[string]interface{}
}

func (n *recordingNotifier) SendEmail(_ context.Context, e *billing.Entity, template string, params map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sentEmail{entityID: e.ID, template: template, params: params})
	return nil
}

func (n *recordingNotifier) sent() []sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEmail(nil), n.sends...)
}

// testClock is a fixed time source.
var testNow = time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testNow
}

type testEnv struct {
	svc       *billing.Service
	processor *fakeProcessor
	store     *memory.Store
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T, cfg billing.Config) *testEnv {
	t.Helper()

	processor := newFakeProcessor()
	store := memory.New()
	notifier := &recordingNotifier{}

	svc, err := billing.NewService(cfg, processor, store, store,
		billing.WithNotifier(notifier),
		billing.WithClock(fixedClock),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	return &testEnv{svc: svc, processor: processor, store: store, notifier: notifier}
}

func testConfig() billing.Config {
	return billing.Config{
		Environment:       billing.EnvTest,
		AppName:           "Example App",
		TrialReminderDays: 3,
		Emails: billing.EmailFlags{
			FailedPayment:        true,
			PaymentReceipt:       true,
			SubscriptionCanceled: true,
			TrialEnded:           true,
			TrialWillEnd:         true,
		},
	}
}
