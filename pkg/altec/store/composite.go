package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mindforge/altec/pkg/altec/task"
)

// CompositeStore combines a durable Task store with an ephemeral lock
// store into the full StateStore contract, wrapping every call through a
// circuit breaker so a struggling backend fails fast per spec.md §4.1
// ("store unavailability causes all other components to fail-fast").
type CompositeStore struct {
	tasks   *PostgresTaskStore
	locks   *RedisLockStore
	breaker *gobreaker.CircuitBreaker[any]
}

// NewCompositeStore wires a durable task store and an ephemeral lock store
// behind one breaker. breakerTrips is the number of consecutive failures
// before the breaker opens.
func NewCompositeStore(tasks *PostgresTaskStore, locks *RedisLockStore, breakerTrips uint32) *CompositeStore {
	settings := gobreaker.Settings{
		Name: "altec-state-store",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
	}
	return &CompositeStore{
		tasks:   tasks,
		locks:   locks,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (c *CompositeStore) guard(fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return result, nil
}

func (c *CompositeStore) PutTaskIfAbsent(ctx context.Context, key task.Key, initial *task.Task) (PutResult, error) {
	v, err := c.guard(func() (any, error) {
		return c.tasks.PutTaskIfAbsent(ctx, key, initial)
	})
	if err != nil {
		return PutResult{}, err
	}
	return v.(PutResult), nil
}

func (c *CompositeStore) LoadTask(ctx context.Context, key task.Key) (*task.Task, error) {
	v, err := c.guard(func() (any, error) {
		return c.tasks.LoadTask(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*task.Task), nil
}

func (c *CompositeStore) UpdateTaskProgress(ctx context.Context, key task.Key, ownerWorker string, update ProgressUpdate) error {
	_, err := c.guard(func() (any, error) {
		return nil, c.tasks.UpdateTaskProgress(ctx, key, ownerWorker, update)
	})
	return err
}

func (c *CompositeStore) FinalizeTask(ctx context.Context, key task.Key, ownerWorker string, final Finalization) error {
	_, err := c.guard(func() (any, error) {
		if err := c.tasks.FinalizeTask(ctx, key, ownerWorker, final); err != nil {
			return nil, err
		}
		return nil, c.locks.ReleaseLock(ctx, key, ownerWorker)
	})
	return err
}

func (c *CompositeStore) MarkAbandoned(ctx context.Context, key task.Key) error {
	_, err := c.guard(func() (any, error) {
		return nil, c.tasks.MarkAbandoned(ctx, key)
	})
	return err
}

func (c *CompositeStore) RequestCancel(ctx context.Context, key task.Key) error {
	_, err := c.guard(func() (any, error) {
		return nil, c.tasks.RequestCancel(ctx, key)
	})
	return err
}

func (c *CompositeStore) MarkDeleted(ctx context.Context, key task.Key) error {
	_, err := c.guard(func() (any, error) {
		return nil, c.tasks.MarkDeleted(ctx, key)
	})
	return err
}

func (c *CompositeStore) TryAcquireLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (LockOutcome, error) {
	v, err := c.guard(func() (any, error) {
		return c.locks.TryAcquireLock(ctx, key, workerID, lease)
	})
	if err != nil {
		return LockOutcome{}, err
	}
	return v.(LockOutcome), nil
}

func (c *CompositeStore) ExtendLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (ExtendOutcome, error) {
	v, err := c.guard(func() (any, error) {
		return c.locks.ExtendLock(ctx, key, workerID, lease)
	})
	if err != nil {
		return ExtendOutcome{}, err
	}
	return v.(ExtendOutcome), nil
}

func (c *CompositeStore) ReleaseLock(ctx context.Context, key task.Key, workerID string) error {
	_, err := c.guard(func() (any, error) {
		return nil, c.locks.ReleaseLock(ctx, key, workerID)
	})
	return err
}

// ListExpiredLocks scans the durable store for RUNNING tasks whose policy
// lock lease has elapsed since their last update, per the rationale noted
// on RedisLockStore.ListExpiredLocks.
func (c *CompositeStore) ListExpiredLocks(ctx context.Context, now time.Time) ([]task.Key, error) {
	v, err := c.guard(func() (any, error) {
		return c.tasks.listRunningPastLease(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return v.([]task.Key), nil
}
