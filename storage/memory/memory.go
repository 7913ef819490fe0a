// Package memory provides in-memory implementations of the billing storage
// interfaces. Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/infusephp/billing/pkg/billing"
)

// Store implements billing.EntityStore, billing.HistoryStore and
// billing.ProcessedEventStore using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]*billing.Entity // keyed by entity id
	history   []*billing.HistoryRecord
	processed map[string]bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entities:  make(map[string]*billing.Entity),
		processed: make(map[string]bool),
	}
}

// Put inserts or replaces an entity record. The billing package never
// creates entities, so callers seed them here.
func (s *Store) Put(e *billing.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.entities[e.ID] = &cp
}

// Get returns a copy of the entity with the given id, or nil.
func (s *Store) Get(id string) *billing.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// GetByCustomerID implements billing.EntityStore.
func (s *Store) GetByCustomerID(_ context.Context, customerID string) (*billing.Entity, error) {
	if customerID == "" {
		return nil, billing.ErrEntityNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.CustomerID == customerID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, billing.ErrEntityNotFound
}

// Update implements billing.EntityStore.
func (s *Store) Update(_ context.Context, e *billing.Entity, u billing.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entities[e.ID]
	if !ok {
		return fmt.Errorf("update entity %s: %w", e.ID, billing.ErrEntityNotFound)
	}

	if u.Plan != nil {
		stored.Plan = *u.Plan
	}
	if u.CustomerID != nil {
		stored.CustomerID = *u.CustomerID
	}
	if u.RenewsNext != nil {
		stored.RenewsNext = *u.RenewsNext
	}
	if u.TrialEnds != nil {
		stored.TrialEnds = *u.TrialEnds
	}
	if u.PastDue != nil {
		stored.PastDue = *u.PastDue
	}
	if u.Canceled != nil {
		stored.Canceled = *u.Canceled
	}
	if u.CanceledAt != nil {
		stored.CanceledAt = *u.CanceledAt
	}
	if u.NotCharged != nil {
		stored.NotCharged = *u.NotCharged
	}
	if u.LastTrialReminder != nil {
		stored.LastTrialReminder = *u.LastTrialReminder
	}
	return nil
}

// TrialsEndingSoon implements billing.EntityStore.
func (s *Store) TrialsEndingSoon(_ context.Context, start, end int64) ([]*billing.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.Entity
	for _, e := range s.entities {
		if e.Canceled || e.LastTrialReminder != 0 {
			continue
		}
		if e.TrialEnds >= start && e.TrialEnds <= end {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// EndedTrials implements billing.EntityStore.
func (s *Store) EndedTrials(_ context.Context, now int64) ([]*billing.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.Entity
	for _, e := range s.entities {
		if e.Canceled || e.RenewsNext != 0 {
			continue
		}
		if e.TrialEnds > 0 && e.TrialEnds < now && e.LastTrialReminder < e.TrialEnds {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListSubscribed implements billing.EntityStore.
func (s *Store) ListSubscribed(_ context.Context) ([]*billing.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.Entity
	for _, e := range s.entities {
		if e.CustomerID == "" || e.Canceled || e.NotCharged {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Create implements billing.HistoryStore.
func (s *Store) Create(_ context.Context, rec *billing.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.history = append(s.history, &cp)
	return nil
}

// History returns a copy of all recorded history rows.
func (s *Store) History() []*billing.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*billing.HistoryRecord, 0, len(s.history))
	for _, rec := range s.history {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// MarkProcessed implements billing.ProcessedEventStore.
func (s *Store) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processed[eventID] {
		return false, nil
	}
	s.processed[eventID] = true
	return true, nil
}

// Forget implements billing.ProcessedEventStore.
func (s *Store) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, eventID)
	return nil
}

// Clear removes all data. Useful for testing.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[string]*billing.Entity)
	s.history = nil
	s.processed = make(map[string]bool)
}
