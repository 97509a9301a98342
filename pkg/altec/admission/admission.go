// Package admission implements ALTEC's Admission Guard (C2): it converts a
// submission into at most one running execution per task key, reclaims
// abandoned work, and reports the admission outcome back to the caller
// (spec.md §4.2).
package admission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

// Outcome is the result of a Submit call, mirroring the three-way contract
// in spec.md §4.2.
type Outcome struct {
	Kind      OutcomeKind
	TaskID    string
	Status    task.Status
	ResultRef string
}

// OutcomeKind distinguishes the three submission outcomes.
type OutcomeKind int

const (
	// Started means this call won the lock and dispatched a new execution.
	Started OutcomeKind = iota
	// Attached means an execution is already RUNNING; the caller should poll.
	Attached
	// SkippedRecentSuccess means a COMPLETED Task younger than the
	// staleness window already satisfies this request.
	SkippedRecentSuccess
)

// Dispatcher starts execution of an admitted Task. Guard calls it once a
// Task has transitioned to RUNNING and the lock is held; the executor
// package supplies the concrete implementation.
type Dispatcher func(ctx context.Context, t *task.Task, descriptor policy.Descriptor)

// Config tunes Guard's admission and reclaim policy.
type Config struct {
	OwnerID              string
	StalenessWindow      time.Duration
	MaxReclaimAttempts   int
	ReclaimSweepInterval time.Duration
}

// Guard is the Admission Guard (C2).
type Guard struct {
	store     store.StateStore
	estimator *policy.Estimator
	dispatch  Dispatcher
	cfg       Config
	logger    *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewGuard builds a Guard over a StateStore and Duration Estimator.
func NewGuard(st store.StateStore, estimator *policy.Estimator, dispatch Dispatcher, cfg Config, logger *zap.Logger) *Guard {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = time.Hour
	}
	if cfg.MaxReclaimAttempts <= 0 {
		cfg.MaxReclaimAttempts = 3
	}
	if cfg.ReclaimSweepInterval <= 0 {
		cfg.ReclaimSweepInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		store:     st,
		estimator: estimator,
		dispatch:  dispatch,
		cfg:       cfg,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Submit implements the spec.md §4.2 admission operation. segmentCount is
// the pipeline's own phase count for key.Kind, passed through to the
// estimator so Policy.SegmentCount matches the pipeline definition.
//
// Concurrent callers for the same key are not coalesced in-process: the
// store's own per-key CAS on PutTaskIfAbsent/TryAcquireLock is what
// produces the required one-started/one-attached split (invariant 5,
// scenario S2). Wrapping this in a singleflight.Group would hand every
// deduplicated caller the same winner's outcome, which breaks that
// invariant for a deployment where one Guard serves many concurrent
// HTTP requests.
func (g *Guard) Submit(ctx context.Context, key task.Key, descriptor policy.Descriptor, kind task.Kind, historicalSeconds []float64, segmentCount int, now time.Time) (Outcome, error) {
	return g.submitLocked(ctx, key, descriptor, kind, historicalSeconds, segmentCount, now)
}

func (g *Guard) submitLocked(ctx context.Context, key task.Key, descriptor policy.Descriptor, kind task.Kind, historicalSeconds []float64, segmentCount int, now time.Time) (Outcome, error) {
	initial := task.NewTask(key)
	put, err := g.store.PutTaskIfAbsent(ctx, key, initial)
	if err != nil {
		return Outcome{}, err
	}

	current := initial
	if !put.Created {
		current = put.Existing
	}

	if current.Deleted {
		// The underlying resource was deleted; the tombstoned Task is a
		// dead end (spec.md §4.2/§4.4: "Task becomes orphaned and is
		// GC'd") and is not resumed or re-run.
		return Outcome{Kind: Attached, TaskID: current.ID, Status: current.Status}, nil
	}

	switch current.Status {
	case task.StatusCompleted:
		if now.Sub(current.CompletedAt) < g.cfg.StalenessWindow {
			return Outcome{Kind: SkippedRecentSuccess, TaskID: current.ID, Status: current.Status, ResultRef: current.ResultRef}, nil
		}
		return g.startExecution(ctx, key, current, descriptor, kind, historicalSeconds, segmentCount, true)

	case task.StatusFailed:
		return g.startExecution(ctx, key, current, descriptor, kind, historicalSeconds, segmentCount, true)

	case task.StatusRunning:
		lockResult, err := g.store.TryAcquireLock(ctx, key, g.cfg.OwnerID, current.Policy.LockLease)
		if err != nil {
			return Outcome{}, err
		}
		if !lockResult.Acquired {
			return Outcome{Kind: Attached, TaskID: current.ID, Status: current.Status}, nil
		}
		// The lock had expired: the previous owner crashed. Reclaim if
		// permitted, otherwise finalize as too_many_reclaims. Resumption
		// keeps phase_cursor/checkpoint: that is the entire point of
		// checkpointed resumption (spec.md §4.4).
		if current.Attempts >= g.cfg.MaxReclaimAttempts {
			_ = g.store.FinalizeTask(ctx, key, g.cfg.OwnerID, store.Finalization{
				Status: task.StatusFailed,
				Error:  &task.TaskError{Kind: task.ErrTooManyReclaims, Message: "max reclaim attempts exceeded"},
			})
			return Outcome{Kind: Attached, TaskID: current.ID, Status: task.StatusFailed}, nil
		}
		if err := g.store.MarkAbandoned(ctx, key); err != nil {
			return Outcome{}, err
		}
		return g.startExecution(ctx, key, current, descriptor, kind, historicalSeconds, segmentCount, false)

	case task.StatusAbandoned:
		if current.Attempts >= g.cfg.MaxReclaimAttempts {
			_ = g.store.FinalizeTask(ctx, key, g.cfg.OwnerID, store.Finalization{
				Status: task.StatusFailed,
				Error:  &task.TaskError{Kind: task.ErrTooManyReclaims, Message: "max reclaim attempts exceeded"},
			})
			return Outcome{Kind: Attached, TaskID: current.ID, Status: task.StatusFailed}, nil
		}
		return g.startExecution(ctx, key, current, descriptor, kind, historicalSeconds, segmentCount, false)

	default: // PENDING: just created, or a prior call left it pending.
		return g.startExecution(ctx, key, current, descriptor, kind, historicalSeconds, segmentCount, true)
	}
}

// startExecution acquires the lock and transitions current to RUNNING. When
// resetCheckpoint is true (fresh submission, stale-success restart, or a
// re-submitted FAILED task) phase_cursor/checkpoint/attempts start over;
// when false (resuming an ABANDONED task) the existing phase_cursor and
// checkpoint are preserved so the executor resumes at the next phase.
func (g *Guard) startExecution(ctx context.Context, key task.Key, current *task.Task, descriptor policy.Descriptor, kind task.Kind, historicalSeconds []float64, segmentCount int, resetCheckpoint bool) (Outcome, error) {
	p := g.estimator.Estimate(kind, descriptor, historicalSeconds, segmentCount)

	lockResult, err := g.store.TryAcquireLock(ctx, key, g.cfg.OwnerID, p.LockLease)
	if err != nil {
		return Outcome{}, err
	}
	if !lockResult.Acquired {
		return Outcome{Kind: Attached, TaskID: current.ID, Status: current.Status}, nil
	}

	current.Policy = p
	current.Status = task.StatusRunning
	current.OwnerWorker = g.cfg.OwnerID
	current.StartedAt = time.Now()
	if resetCheckpoint {
		current.PhaseCursor = 0
		current.Checkpoint = nil
		current.Attempts = 0
	}

	update := store.ProgressUpdate{
		PhaseCursor:     current.PhaseCursor,
		Checkpoint:      current.Checkpoint,
		ProgressPercent: current.ProgressPercent,
		ProgressMessage: current.ProgressMessage,
	}
	if resetCheckpoint {
		update.ProgressPercent = 0
		update.ProgressMessage = ""
	}
	if err := g.store.UpdateTaskProgress(ctx, key, g.cfg.OwnerID, update); err != nil {
		g.logger.Warn("failed to persist initial progress row for started task",
			zap.String("task_id", current.ID), zap.Error(err))
	}

	if g.dispatch != nil {
		g.dispatch(ctx, current, descriptor)
	}
	return Outcome{Kind: Started, TaskID: current.ID, Status: task.StatusRunning}, nil
}

// Cancel requests cooperative cancellation of a Task's in-flight execution.
func (g *Guard) Cancel(ctx context.Context, key task.Key) error {
	return g.store.RequestCancel(ctx, key)
}

// MarkDeleted tombstones key's Task on explicit deletion of its underlying
// resource. An in-flight execution observes the tombstone on its next
// pre-phase check and aborts without finalizing (spec.md §4.2).
func (g *Guard) MarkDeleted(ctx context.Context, key task.Key) error {
	return g.store.MarkDeleted(ctx, key)
}

// StartReclaimSweeper runs the periodic sweep described in spec.md §4.2 in
// a background goroutine until Stop is called.
func (g *Guard) StartReclaimSweeper(ctx context.Context) {
	go g.reclaimSweepLoop(ctx)
}

func (g *Guard) reclaimSweepLoop(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.cfg.ReclaimSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweepOnce(ctx)
		}
	}
}

func (g *Guard) sweepOnce(ctx context.Context) {
	expired, err := g.store.ListExpiredLocks(ctx, time.Now())
	if err != nil {
		g.logger.Error("reclaim sweep failed to list expired locks", zap.Error(err))
		return
	}
	for _, key := range expired {
		current, err := g.store.LoadTask(ctx, key)
		if err != nil {
			g.logger.Warn("reclaim sweep failed to load task", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		if current.Status != task.StatusRunning {
			continue
		}
		if current.Attempts >= g.cfg.MaxReclaimAttempts {
			if err := g.store.FinalizeTask(ctx, key, current.OwnerWorker, store.Finalization{
				Status: task.StatusFailed,
				Error:  &task.TaskError{Kind: task.ErrTooManyReclaims, Message: "max reclaim attempts exceeded"},
			}); err != nil {
				g.logger.Warn("reclaim sweep failed to finalize task", zap.String("key", key.String()), zap.Error(err))
			}
			continue
		}
		if err := g.store.MarkAbandoned(ctx, key); err != nil {
			g.logger.Warn("reclaim sweep failed to mark task abandoned", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

// Stop halts the reclaim sweeper goroutine and waits for it to exit.
func (g *Guard) Stop() {
	close(g.stop)
	<-g.done
}
