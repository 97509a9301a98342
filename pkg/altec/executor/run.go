package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

var tracer = otel.Tracer("github.com/mindforge/altec/pkg/altec/executor")

// phaseError classifies a phase failure per spec.md §4.4's taxonomy.
type phaseError struct {
	kind task.ErrorKind
	err  error
}

func (e *phaseError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *phaseError) Unwrap() error { return e.err }

// Transient marks err as transient_upstream: the inner retry loop will
// retry it up to the configured bound before escalating to Permanent.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &phaseError{kind: task.ErrTransientUpstream, err: err}
}

// Permanent marks err as permanent_upstream: no retry, immediate FAILED.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &phaseError{kind: task.ErrPermanentUpstream, err: err}
}

func classify(err error) task.ErrorKind {
	var pe *phaseError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return task.ErrPermanentUpstream
}

// Runner executes pipelines registered in a Registry against a StateStore,
// implementing the C4 contract end to end.
type Runner struct {
	store       store.StateStore
	registry    *Registry
	ownerWorker string
	logger      *zap.Logger
	gpuSlots    *semaphore.Weighted

	innerRetryAttempts uint64
	progressThrottle   float64
	deadlineMultiplier float64
}

// RunnerConfig tunes a Runner's retry and concurrency behavior.
type RunnerConfig struct {
	OwnerWorker         string
	GPUSlots            int64 // 0 disables the limiter (unlimited)
	InnerRetryAttempts  uint64
	ProgressThrottlePct float64
	// DeadlineMultiplier bounds a Task's total execution time at
	// DeadlineMultiplier * Policy.PredictedSeconds (spec.md §4.4's
	// cancelled_by_deadline, configured as default_deadline_multiplier).
	// Zero defaults to 3.0.
	DeadlineMultiplier float64
}

// NewRunner builds a Runner over a Registry and StateStore.
func NewRunner(st store.StateStore, registry *Registry, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.InnerRetryAttempts == 0 {
		cfg.InnerRetryAttempts = 3
	}
	if cfg.DeadlineMultiplier <= 0 {
		cfg.DeadlineMultiplier = 3.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var sem *semaphore.Weighted
	if cfg.GPUSlots > 0 {
		sem = semaphore.NewWeighted(cfg.GPUSlots)
	}
	return &Runner{
		store:              st,
		registry:           registry,
		ownerWorker:        cfg.OwnerWorker,
		logger:             logger,
		gpuSlots:           sem,
		innerRetryAttempts: cfg.InnerRetryAttempts,
		progressThrottle:   cfg.ProgressThrottlePct,
		deadlineMultiplier: cfg.DeadlineMultiplier,
	}
}

// taskDeadline computes the absolute instant by which t must finalize
// (spec.md §4.4: cancelled_by_deadline at 3 × predicted_seconds, multiplier
// configurable via default_deadline_multiplier).
func taskDeadline(t *task.Task, multiplier float64) time.Time {
	started := t.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	predicted := t.Policy.PredictedSeconds
	if predicted <= 0 {
		// The estimator's own class minimums (spec.md §4.3, 15s floor for
		// S-class) never produce this; guard it anyway so an incompletely
		// populated Policy can't manifest as an instantly-expired deadline.
		predicted = 15
	}
	return started.Add(time.Duration(multiplier * predicted * float64(time.Second)))
}

// Run executes t's pipeline to completion, crash, or cancellation. It
// matches admission.Dispatcher's signature so a Runner can be wired
// directly as a Guard's dispatch callback (typically via `go runner.Run`).
func (r *Runner) Run(ctx context.Context, t *task.Task, descriptor policy.Descriptor) {
	key := t.Key
	pipeline, err := r.registry.Get(key.Kind)
	if err != nil {
		r.logger.Error("no pipeline registered for kind", zap.String("kind", string(key.Kind)), zap.Error(err))
		_ = r.store.FinalizeTask(ctx, key, r.ownerWorker, store.Finalization{
			Status: task.StatusFailed,
			Error:  &task.TaskError{Kind: task.ErrPermanentUpstream, Message: err.Error()},
		})
		return
	}

	deadlineCtx, cancelDeadline := context.WithDeadline(ctx, taskDeadline(t, r.deadlineMultiplier))
	defer cancelDeadline()

	runCtx, cancelRun := context.WithCancel(deadlineCtx)
	defer cancelRun()

	signal := newCancelSignal()
	heartbeatDone := make(chan struct{})
	go r.heartbeatLoop(runCtx, key, t.Policy.HeartbeatInterval, t.Policy.LockLease, signal, heartbeatDone)
	defer func() {
		cancelRun()
		<-heartbeatDone
	}()

	if semErr := r.acquireGPUIfNeeded(runCtx, key.Kind); semErr != nil {
		r.logger.Warn("gpu slot acquisition cancelled", zap.String("task_id", t.ID), zap.Error(semErr))
		return
	}
	defer r.releaseGPUIfNeeded(key.Kind)

	chk := t.Checkpoint
	segmentCount := len(pipeline.Phases)
	if segmentCount == 0 {
		segmentCount = t.Policy.SegmentCount
	}

	for i := t.PhaseCursor; i < len(pipeline.Phases); i++ {
		if deadlineCtx.Err() != nil {
			r.finalizeTimeout(ctx, key, t.ID)
			return
		}
		if signal.Cancelled() {
			r.handleCancellation(runCtx, key, signal)
			return
		}
		if r.resourceDeleted(runCtx, key) {
			r.logger.Info("task resource deleted, aborting without finalize", zap.String("task_id", t.ID))
			return
		}

		phase := pipeline.Phases[i]
		phaseCtx, span := tracer.Start(runCtx, "altec.executor.phase",
			trace.WithAttributes(
				attribute.String("altec.kind", string(key.Kind)),
				attribute.String("altec.phase", phase.Name),
				attribute.Int("altec.phase_index", i),
			))

		sink := newPhaseSink(runCtx, r.store, key, r.ownerWorker, i, segmentCount, r.progressThrottle, chk)
		next, err := r.runPhaseWithRetry(phaseCtx, phase, descriptor, chk, sink, signal)
		span.End()

		if err != nil {
			if deadlineCtx.Err() != nil {
				r.finalizeTimeout(ctx, key, t.ID)
				return
			}
			if signal.Cancelled() {
				r.handleCancellation(runCtx, key, signal)
				return
			}
			r.finalizeFailure(runCtx, key, err)
			return
		}

		chk = next
		update := store.ProgressUpdate{
			PhaseCursor:     i + 1,
			Checkpoint:      chk,
			ProgressPercent: float64(i+1) / float64(segmentCount) * 100,
			ProgressMessage: phase.Name + " done",
		}
		if err := r.store.UpdateTaskProgress(runCtx, key, r.ownerWorker, update); err != nil {
			if errors.Is(err, store.ErrNotOwner) {
				// Lost ownership between phase completion and commit; a
				// concurrent reclaim or finalize won the race.
				return
			}
			r.logger.Error("failed to commit phase boundary", zap.String("task_id", t.ID), zap.String("phase", phase.Name), zap.Error(err))
			return
		}
	}

	resultRef := ""
	if pipeline.ResultRef != nil {
		resultRef = pipeline.ResultRef(chk)
	}
	if err := r.store.FinalizeTask(runCtx, key, r.ownerWorker, store.Finalization{
		Status:    task.StatusCompleted,
		ResultRef: resultRef,
	}); err != nil && !errors.Is(err, store.ErrNotOwner) {
		r.logger.Error("failed to finalize completed task", zap.String("task_id", t.ID), zap.Error(err))
	}
}

func (r *Runner) runPhaseWithRetry(ctx context.Context, phase Phase, descriptor policy.Descriptor, chk []byte, sink ProgressSink, signal *cancelSignal) ([]byte, error) {
	base, err := retry.NewExponential(1 * time.Second)
	if err != nil {
		return nil, err
	}
	// innerRetryAttempts counts attempts, so the first try plus
	// innerRetryAttempts-1 retries.
	retries := uint64(0)
	if r.innerRetryAttempts > 1 {
		retries = r.innerRetryAttempts - 1
	}
	backoff := retry.WithMaxRetries(retries, base)

	var result []byte
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		next, phaseErr := phase.Run(ctx, descriptor, chk, sink, signal)
		if phaseErr == nil {
			result = next
			return nil
		}
		if classify(phaseErr) == task.ErrTransientUpstream {
			return retry.RetryableError(phaseErr)
		}
		return phaseErr
	})
	if err != nil && classify(err) == task.ErrTransientUpstream {
		return result, Permanent(err)
	}
	return result, err
}

// handleCancellation reacts to a fired cancelSignal. A lost lease means a
// sweeper already reclaimed the Task for a new owner: this run must not
// write anything further. A client-requested cancel is this owner's to
// finalize.
func (r *Runner) handleCancellation(ctx context.Context, key task.Key, signal *cancelSignal) {
	if signal.Reason() == task.ErrCancelledByReclaim {
		return
	}
	_ = r.store.FinalizeTask(ctx, key, r.ownerWorker, store.Finalization{
		Status: task.StatusFailed,
		Error:  &task.TaskError{Kind: task.ErrCancelledByClient, Message: "cancellation requested by client"},
	})
}

func (r *Runner) finalizeFailure(ctx context.Context, key task.Key, err error) {
	kind := classify(err)
	_ = r.store.FinalizeTask(ctx, key, r.ownerWorker, store.Finalization{
		Status: task.StatusFailed,
		Error:  &task.TaskError{Kind: kind, Message: err.Error()},
	})
}

// finalizeTimeout finalizes a Task FAILED with kind timeout once its
// deadline has fired (spec.md §4.4 cancelled_by_deadline). ctx is the
// caller's original, non-deadline-bound context: by the time this fires,
// runCtx (and everything derived from deadlineCtx) is already Done, so the
// finalize write itself must not be scoped to it.
func (r *Runner) finalizeTimeout(ctx context.Context, key task.Key, taskID string) {
	if err := r.store.FinalizeTask(ctx, key, r.ownerWorker, store.Finalization{
		Status: task.StatusFailed,
		Error:  &task.TaskError{Kind: task.ErrTimeout, Message: "task exceeded its deadline"},
	}); err != nil && !errors.Is(err, store.ErrNotOwner) {
		r.logger.Error("failed to finalize timed-out task", zap.String("task_id", taskID), zap.Error(err))
	}
}

// resourceDeleted reports whether key's Task has been tombstoned by an
// explicit resource deletion. Checked before each phase (spec.md §4.4): a
// tombstoned Task aborts without finalizing and is left for GC.
func (r *Runner) resourceDeleted(ctx context.Context, key task.Key) bool {
	current, err := r.store.LoadTask(ctx, key)
	if err != nil {
		return false
	}
	return current.Deleted
}

// heartbeatLoop extends the held lock on policy.HeartbeatInterval; if the
// lease is lost (a sweeper reclaimed us), or the Task's cancel flag has
// been set, it fires the run's cancel signal and exits (spec.md §4.4 step 1).
func (r *Runner) heartbeatLoop(ctx context.Context, key task.Key, interval, lease time.Duration, signal *cancelSignal, done chan struct{}) {
	defer close(done)
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := r.store.ExtendLock(ctx, key, r.ownerWorker, lease)
			if err != nil {
				r.logger.Warn("heartbeat failed to extend lock", zap.String("key", key.String()), zap.Error(err))
				continue
			}
			if outcome.Lost {
				signal.fire(task.ErrCancelledByReclaim)
				return
			}
			current, err := r.store.LoadTask(ctx, key)
			if err != nil {
				continue
			}
			if current.CancelRequested {
				signal.fire(task.ErrCancelledByClient)
				return
			}
		}
	}
}

func (r *Runner) acquireGPUIfNeeded(ctx context.Context, kind task.Kind) error {
	if r.gpuSlots == nil || !usesGPU(kind) {
		return nil
	}
	return r.gpuSlots.Acquire(ctx, 1)
}

func (r *Runner) releaseGPUIfNeeded(kind task.Kind) {
	if r.gpuSlots == nil || !usesGPU(kind) {
		return
	}
	r.gpuSlots.Release(1)
}

func usesGPU(kind task.Kind) bool {
	return kind == task.KindAudioTranscribe || kind == task.KindVideoDeep
}
