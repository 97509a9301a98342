// Package store defines ALTEC's State Store port (C1): durable Task
// persistence plus ephemeral lock/heartbeat storage with per-key CAS.
// Concrete backends (Postgres, Redis) and an in-memory double for tests
// live alongside this file.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mindforge/altec/pkg/altec/task"
)

// ErrNotOwner is returned by UpdateTaskProgress/FinalizeTask when the
// caller's owner_worker no longer matches the current lock holder.
var ErrNotOwner = errors.New("caller is not the current lock owner")

// ErrTaskNotFound is returned by LoadTask for an unknown task key.
var ErrTaskNotFound = errors.New("task not found")

// ErrStoreUnavailable wraps any underlying transport/driver failure; per
// spec.md §4.1, all other components must fail-fast on this rather than
// retry internally.
var ErrStoreUnavailable = errors.New("state store unavailable")

// PutResult is the outcome of PutTaskIfAbsent.
type PutResult struct {
	Created  bool
	Existing *task.Task
}

// LockOutcome is the outcome of TryAcquireLock.
type LockOutcome struct {
	Acquired  bool
	HeldBy    string
	Remaining time.Duration
}

// ExtendOutcome is the outcome of ExtendLock.
type ExtendOutcome struct {
	OK   bool
	Lost bool
}

// ProgressUpdate carries the fields a phase commit writes to a Task row.
type ProgressUpdate struct {
	PhaseCursor     int
	Checkpoint      []byte
	ProgressPercent float64
	ProgressMessage string
}

// Finalization carries the terminal fields written at end of execution.
type Finalization struct {
	Status    task.Status // StatusCompleted or StatusFailed
	ResultRef string
	Error     *task.TaskError
}

// StateStore is ALTEC's C1 port. Implementations must offer per-key CAS
// and linearizable lock operations on a given task.Key.
type StateStore interface {
	// PutTaskIfAbsent atomically inserts a new Task for key, or returns the
	// existing live Task if one is already present.
	PutTaskIfAbsent(ctx context.Context, key task.Key, initial *task.Task) (PutResult, error)

	// LoadTask returns the current Task row for key.
	LoadTask(ctx context.Context, key task.Key) (*task.Task, error)

	// UpdateTaskProgress durably commits a phase boundary. Succeeds only if
	// ownerWorker matches the current lock holder; otherwise ErrNotOwner.
	UpdateTaskProgress(ctx context.Context, key task.Key, ownerWorker string, update ProgressUpdate) error

	// FinalizeTask atomically transitions a Task to COMPLETED or FAILED and
	// releases its lock.
	FinalizeTask(ctx context.Context, key task.Key, ownerWorker string, final Finalization) error

	// MarkAbandoned transitions a RUNNING Task to ABANDONED and increments
	// attempts; used by the reclaim sweeper.
	MarkAbandoned(ctx context.Context, key task.Key) error

	// RequestCancel sets the cancel flag on a Task; observed by the
	// executor's next heartbeat.
	RequestCancel(ctx context.Context, key task.Key) error

	// MarkDeleted tombstones a Task on explicit deletion of its underlying
	// resource. An in-flight execution observes the tombstone on its next
	// pre-phase check and aborts without finalizing (spec.md §4.2/§4.4).
	MarkDeleted(ctx context.Context, key task.Key) error

	// TryAcquireLock attempts to take the lock for key with the given lease.
	TryAcquireLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (LockOutcome, error)

	// ExtendLock refreshes the lease deadline for a held lock.
	ExtendLock(ctx context.Context, key task.Key, workerID string, lease time.Duration) (ExtendOutcome, error)

	// ReleaseLock releases the lock; a no-op if already released.
	ReleaseLock(ctx context.Context, key task.Key, workerID string) error

	// ListExpiredLocks returns the keys of Tasks whose lock lease has
	// expired as of now, for the reclaim sweeper.
	ListExpiredLocks(ctx context.Context, now time.Time) ([]task.Key, error)
}
