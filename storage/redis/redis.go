// Package redis provides a Redis-backed billing.ProcessedEventStore. Webhook
// event ids are remembered with a TTL so redelivered events can be dropped
// without an unbounded set.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infusephp/billing/pkg/billing"
)

const defaultEventTTL = 30 * 24 * time.Hour

// Store implements billing.ProcessedEventStore using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	eventTTL  time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithKeyPrefix overrides the key prefix, default "billing:event:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithEventTTL overrides how long processed event ids are remembered.
func WithEventTTL(ttl time.Duration) Option {
	return func(s *Store) { s.eventTTL = ttl }
}

// New creates a Redis-backed processed-event store.
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis: %w: missing client", billing.ErrMissingDependency)
	}

	s := &Store{
		client:    client,
		keyPrefix: "billing:event:",
		eventTTL:  defaultEventTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MarkProcessed implements billing.ProcessedEventStore. SET NX makes the
// first-seen check atomic across processes.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	first, err := s.client.SetNX(ctx, s.keyPrefix+eventID, 1, s.eventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark processed: %w", err)
	}
	return first, nil
}

// Forget implements billing.ProcessedEventStore.
func (s *Store) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("redis: forget event: %w", err)
	}
	return nil
}
