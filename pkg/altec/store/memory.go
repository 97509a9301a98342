package store

import (
	"context"
	"sync"
	"time"

	"github.com/mindforge/altec/pkg/altec/task"
)

type lockEntry struct {
	owner          string
	leaseDeadline  time.Time
}

// MemoryStore is an in-process StateStore double, used by admission and
// executor tests in place of the Postgres/Redis backends (spec.md §9
// notes this is explicitly how the lock-with-lease contract should be
// testable in isolation).
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[task.Key]*task.Task
	locks map[task.Key]lockEntry
}

// NewMemoryStore returns an empty in-memory StateStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[task.Key]*task.Task),
		locks: make(map[task.Key]lockEntry),
	}
}

func cloneTask(t *task.Task) *task.Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Checkpoint != nil {
		c.Checkpoint = append([]byte(nil), t.Checkpoint...)
	}
	return &c
}

func (m *MemoryStore) PutTaskIfAbsent(ctx context.Context, key task.Key, initial *task.Task) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tasks[key]; ok {
		return PutResult{Created: false, Existing: cloneTask(existing)}, nil
	}
	m.tasks[key] = cloneTask(initial)
	return PutResult{Created: true}, nil
}

func (m *MemoryStore) LoadTask(ctx context.Context, key task.Key) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) UpdateTaskProgress(ctx context.Context, key task.Key, ownerWorker string, update ProgressUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	if lock, held := m.locks[key]; !held || lock.owner != ownerWorker {
		return ErrNotOwner
	}
	t.PhaseCursor = update.PhaseCursor
	t.Checkpoint = update.Checkpoint
	t.ProgressPercent = update.ProgressPercent
	t.ProgressMessage = update.ProgressMessage
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FinalizeTask(ctx context.Context, key task.Key, ownerWorker string, final Finalization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	if lock, held := m.locks[key]; !held || lock.owner != ownerWorker {
		return ErrNotOwner
	}
	now := time.Now()
	t.Status = final.Status
	t.ResultRef = final.ResultRef
	t.Error = final.Error
	t.CompletedAt = now
	t.UpdatedAt = now
	if final.Status == task.StatusCompleted {
		t.ProgressPercent = 100
	}
	delete(m.locks, key)
	return nil
}

func (m *MemoryStore) MarkAbandoned(ctx context.Context, key task.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != task.StatusRunning {
		return nil
	}
	t.Status = task.StatusAbandoned
	t.Attempts++
	t.UpdatedAt = time.Now()
	delete(m.locks, key)
	return nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, key task.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	t.CancelRequested = true
	return nil
}

func (m *MemoryStore) MarkDeleted(ctx context.Context, key task.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[key]
	if !ok {
		return ErrTaskNotFound
	}
	t.Deleted = true
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TryAcquireLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (LockOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.locks[key]; ok && existing.owner != workerID && existing.leaseDeadline.After(now) {
		return LockOutcome{Acquired: false, HeldBy: existing.owner, Remaining: existing.leaseDeadline.Sub(now)}, nil
	}
	m.locks[key] = lockEntry{owner: workerID, leaseDeadline: now.Add(lease)}
	return LockOutcome{Acquired: true}, nil
}

func (m *MemoryStore) ExtendLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (ExtendOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if !ok || existing.owner != workerID {
		return ExtendOutcome{Lost: true}, nil
	}
	existing.leaseDeadline = time.Now().Add(lease)
	m.locks[key] = existing
	return ExtendOutcome{OK: true}, nil
}

func (m *MemoryStore) ReleaseLock(ctx context.Context, key task.Key, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[key]; ok && existing.owner == workerID {
		delete(m.locks, key)
	}
	return nil
}

func (m *MemoryStore) ListExpiredLocks(ctx context.Context, now time.Time) ([]task.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []task.Key
	for key, lock := range m.locks {
		if !lock.leaseDeadline.After(now) {
			expired = append(expired, key)
		}
	}
	return expired, nil
}
