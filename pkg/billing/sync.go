package billing

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// syncConcurrency bounds parallel processor calls during a sweep.
const syncConcurrency = 4

// SyncSubscription re-derives the entity's billing fields from the
// processor's current view of the customer and reports whether anything
// differed. With dryRun the difference is computed but not persisted.
// Entities without a customer, canceled entities, and exempt entities are
// skipped.
func (s *Service) SyncSubscription(ctx context.Context, e *Entity, dryRun bool) (bool, error) {
	if e.CustomerID == "" || e.Canceled || e.NotCharged {
		return false, nil
	}

	customer, err := s.customer(ctx, e)
	if err != nil {
		return false, err
	}

	u := Update{}
	if sub := customer.Subscription; sub != nil {
		pastDue := sub.Status == SubStatusPastDue || sub.Status == SubStatusUnpaid || sub.Status == SubStatusCanceled
		if pastDue != e.PastDue {
			u.PastDue = ptr(pastDue)
		}
		if sub.PeriodEnd != e.RenewsNext {
			u.RenewsNext = ptr(sub.PeriodEnd)
		}
		if sub.Status == SubStatusCanceled && !e.Canceled {
			u.Canceled = ptr(true)
		}
	} else if !e.Canceled {
		// Nothing on the processor side means the subscription is gone.
		u.Canceled = ptr(true)
	}

	if u.IsZero() {
		return false, nil
	}
	if dryRun {
		s.logger.Info("subscription differs from processor",
			Field{Key: "entity_id", Value: e.ID},
			Field{Key: "customer_id", Value: e.CustomerID})
		return true, nil
	}

	eff, err := ApplyUpdate(e, u, s.now().Unix())
	if err != nil {
		return false, err
	}
	if err := s.entities.Update(ctx, e, eff); err != nil {
		return false, err
	}
	return true, nil
}

// SyncAllSubscriptions sweeps every reconciliation candidate and returns how
// many entities differed from the processor. Per-entity failures are logged
// and skipped so one bad record cannot stall the sweep.
func (s *Service) SyncAllSubscriptions(ctx context.Context, dryRun bool) (int, error) {
	entities, err := s.entities.ListSubscribed(ctx)
	if err != nil {
		s.metrics.RecordSyncRun("error", 0)
		return 0, err
	}

	var changed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, e := range entities {
		g.Go(func() error {
			diff, err := s.SyncSubscription(ctx, e, dryRun)
			if err != nil {
				s.logger.Error("subscription sync failed",
					Field{Key: "entity_id", Value: e.ID},
					Field{Key: "error", Value: err.Error()})
				return nil
			}
			if diff {
				changed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.RecordSyncRun("error", int(changed.Load()))
		return int(changed.Load()), err
	}

	s.metrics.RecordSyncRun("ok", int(changed.Load()))
	return int(changed.Load()), nil
}
