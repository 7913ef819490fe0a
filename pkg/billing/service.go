package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service binds the collaborators every billing operation needs. Construct
// one per process and hand out Subscription managers per entity.
type Service struct {
	processor Processor
	entities  EntityStore
	history   HistoryStore
	notifier  Notifier
	cfg       Config
	logger    Logger
	metrics   Metrics
	now       func() time.Time
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the notification sender.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing Service. processor, entities and history are
// required; logging, metrics and notifications default to no-ops.
func NewService(cfg Config, processor Processor, entities EntityStore, history HistoryStore, opts ...ServiceOption) (*Service, error) {
	if processor == nil {
		return nil, fmt.Errorf("%w: processor", ErrMissingDependency)
	}
	if entities == nil {
		return nil, fmt.Errorf("%w: entity store", ErrMissingDependency)
	}
	if history == nil {
		return nil, fmt.Errorf("%w: history store", ErrMissingDependency)
	}

	s := &Service{
		processor: processor,
		entities:  entities,
		history:   history,
		notifier:  &NoopNotifier{},
		cfg:       cfg,
		logger:    &NoopLogger{},
		metrics:   &NoopMetrics{},
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// SetNotCharged flips the charging exemption for an entity. This is the only
// path allowed to change the flag; ApplyUpdate rejects it everywhere else.
func (s *Service) SetNotCharged(ctx context.Context, e *Entity, notCharged bool) error {
	u := Update{NotCharged: ptr(notCharged)}
	applyFields(e, u)
	return s.entities.Update(ctx, e, u)
}

// SetDefaultCard replaces the customer's default payment source with the
// given card token, creating the processor customer first when needed.
func (s *Service) SetDefaultCard(ctx context.Context, e *Entity, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty card token", ErrInvalidSubscriptionState)
	}

	customer, err := s.customer(ctx, e)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.processor.SetDefaultSource(ctx, customer.ID, token)
	s.metrics.RecordProcessorCallDuration("set_default_source", time.Since(start))
	if err != nil {
		return s.processorErr("set_default_source", err)
	}
	s.metrics.RecordProcessorCall("set_default_source", "ok")
	return nil
}

// ExtendTrial pushes the entity's trial end forward by the given number of
// days. Only entities currently carrying a trial can be extended.
func (s *Service) ExtendTrial(ctx context.Context, e *Entity, days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: trial extension must be positive", ErrInvalidSubscriptionState)
	}
	if e.TrialEnds <= 0 {
		return ErrInvalidSubscriptionState
	}

	now := s.now().Unix()
	eff, err := ApplyUpdate(e, Update{TrialEnds: ptr(e.TrialEnds + int64(days)*86400)}, now)
	if err != nil {
		return err
	}
	return s.entities.Update(ctx, e, eff)
}

// customer retrieves the entity's processor customer, creating one and
// persisting its id on the entity the first time around.
func (s *Service) customer(ctx context.Context, e *Entity) (*Customer, error) {
	if e.CustomerID != "" {
		start := time.Now()
		customer, err := s.processor.RetrieveCustomer(ctx, e.CustomerID)
		s.metrics.RecordProcessorCallDuration("retrieve_customer", time.Since(start))
		if err != nil {
			return nil, s.processorErr("retrieve_customer", err)
		}
		s.metrics.RecordProcessorCall("retrieve_customer", "ok")
		return customer, nil
	}

	start := time.Now()
	customer, err := s.processor.CreateCustomer(ctx, CustomerParams{
		Email:       e.Email,
		Description: e.ID,
		Metadata:    map[string]string{"entity_id": e.ID},
	})
	s.metrics.RecordProcessorCallDuration("create_customer", time.Since(start))
	if err != nil {
		return nil, s.processorErr("create_customer", err)
	}
	s.metrics.RecordProcessorCall("create_customer", "ok")

	// Persist the new customer id right away so a later failure in the
	// same operation does not orphan the processor customer.
	eff, err := ApplyUpdate(e, Update{CustomerID: ptr(customer.ID)}, s.now().Unix())
	if err != nil {
		return nil, err
	}
	if err := s.entities.Update(ctx, e, eff); err != nil {
		return nil, err
	}

	return customer, nil
}

func (s *Service) updateSubscription(ctx context.Context, customerID string, params SubscriptionParams) (*ProcessorSubscription, error) {
	start := time.Now()
	sub, err := s.processor.UpdateSubscription(ctx, customerID, params)
	s.metrics.RecordProcessorCallDuration("update_subscription", time.Since(start))
	if err != nil {
		return nil, s.processorErr("update_subscription", err)
	}
	s.metrics.RecordProcessorCall("update_subscription", "ok")
	return sub, nil
}

func (s *Service) cancelSubscription(ctx context.Context, customerID string, params CancelParams) (*ProcessorSubscription, error) {
	start := time.Now()
	sub, err := s.processor.CancelSubscription(ctx, customerID, params)
	s.metrics.RecordProcessorCallDuration("cancel_subscription", time.Since(start))
	if err != nil {
		return nil, s.processorErr("cancel_subscription", err)
	}
	s.metrics.RecordProcessorCall("cancel_subscription", "ok")
	return sub, nil
}

// processorErr records and classifies a failed processor call. Card problems
// are the customer's to fix and log at debug; everything else is systemic
// and logs at error. The returned error always wraps ErrProcessor or
// ErrCardDeclined so callers can branch without knowing the transport.
func (s *Service) processorErr(op string, err error) error {
	s.metrics.RecordProcessorCall(op, "error")

	if !errors.Is(err, ErrProcessor) && !errors.Is(err, ErrCardDeclined) {
		err = fmt.Errorf("%s: %w", op, errors.Join(ErrProcessor, err))
	}

	if errors.Is(err, ErrCardDeclined) {
		s.logger.Debug("processor declined card",
			Field{Key: "op", Value: op},
			Field{Key: "error", Value: err.Error()})
	} else {
		s.logger.Error("processor call failed",
			Field{Key: "op", Value: op},
			Field{Key: "error", Value: err.Error()})
	}

	return err
}

// notify sends a templated notification and swallows delivery failures.
func (s *Service) notify(ctx context.Context, e *Entity, template string, params map[string]interface{}) {
	if err := s.notifier.SendEmail(ctx, e, template, params); err != nil {
		s.metrics.RecordNotification(template, "error")
		s.logger.Error("failed to send notification",
			Field{Key: "template", Value: template},
			Field{Key: "entity_id", Value: e.ID},
			Field{Key: "error", Value: err.Error()})
		return
	}
	s.metrics.RecordNotification(template, "ok")
}
