package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

func startRunningTask(t *testing.T, st *store.MemoryStore, kind task.Kind, owner string) *task.Task {
	t.Helper()
	key := task.Key{Kind: kind, ResourceID: "res-1"}
	tk := task.NewTask(key)
	tk.Policy = task.Policy{HeartbeatInterval: time.Hour, LockLease: time.Hour, SegmentCount: 2}
	_, err := st.PutTaskIfAbsent(context.Background(), key, tk)
	require.NoError(t, err)

	lockResult, err := st.TryAcquireLock(context.Background(), key, owner, time.Hour)
	require.NoError(t, err)
	require.True(t, lockResult.Acquired)

	tk.Status = task.StatusRunning
	tk.OwnerWorker = owner
	return tk
}

func TestRunner_Run_CompletesAllPhasesAndFinalizes(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)

	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "one", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				sink.Report(100, "phase one done")
				return []byte("chk1"), nil
			}},
			{Name: "two", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				assert.Equal(t, []byte("chk1"), prev)
				return []byte("chk2"), nil
			}},
		},
		ResultRef: func(finalCheckpoint []byte) string { return "result://" + string(finalCheckpoint) },
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "result://chk2", final.ResultRef)
	assert.Equal(t, 100.0, final.ProgressPercent)
	assert.Equal(t, 2, final.PhaseCursor)
}

func TestRunner_Run_ResumesFromPhaseCursor(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)
	tk.PhaseCursor = 1
	tk.Checkpoint = []byte("chk1")

	phaseOneCalled := false
	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "one", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				phaseOneCalled = true
				return []byte("chk1"), nil
			}},
			{Name: "two", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				assert.Equal(t, []byte("chk1"), prev)
				return []byte("chk2"), nil
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	assert.False(t, phaseOneCalled, "resumption must not re-run a phase already committed past phase_cursor")

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
}

func TestRunner_Run_RetriesTransientThenSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)

	attempts := 0
	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "flaky", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				attempts++
				if attempts < 2 {
					return nil, Transient(errors.New("upstream 503"))
				}
				return []byte("ok"), nil
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner, InnerRetryAttempts: 3}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	assert.Equal(t, 2, attempts)
	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
}

func TestRunner_Run_PermanentFailureFinalizesImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)

	attempts := 0
	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "doomed", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				attempts++
				return nil, Permanent(errors.New("bad request"))
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	assert.Equal(t, 1, attempts)
	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, task.ErrPermanentUpstream, final.Error.Kind)
}

func TestRunner_Run_ExhaustedTransientRetriesBecomesFailed(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)

	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "always-flaky", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				return nil, Transient(errors.New("still down"))
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner, InnerRetryAttempts: 2}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, task.ErrPermanentUpstream, final.Error.Kind)
}

func TestRunner_Run_ClientCancelFinalizesFailed(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)
	tk.Policy.HeartbeatInterval = 5 * time.Millisecond

	phaseStarted := make(chan struct{})
	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "slow", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				close(phaseStarted)
				select {
				case <-cancel.Done():
					return nil, errors.New("cancelled mid-phase")
				case <-time.After(time.Second):
					return []byte("too-late"), nil
				}
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), tk, policy.Descriptor{})
		close(done)
	}()

	<-phaseStarted
	require.NoError(t, st.RequestCancel(context.Background(), tk.Key))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not observe cancellation in time")
	}

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, task.ErrCancelledByClient, final.Error.Kind)
}

func TestRunner_Run_ExceedsDeadlineFinalizesTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)
	tk.Policy.PredictedSeconds = 0.01 // 10ms; 3x multiplier gives a 30ms deadline
	tk.StartedAt = time.Now()

	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "slow", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				<-ctx.Done()
				return nil, errors.New("deadline exceeded mid-phase")
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, task.ErrTimeout, final.Error.Kind)
}

func TestRunner_Run_ResourceDeletedAbortsWithoutFinalizing(t *testing.T) {
	st := store.NewMemoryStore()
	owner := "worker-a"
	tk := startRunningTask(t, st, task.KindImageAnalyze, owner)

	phaseTwoCalled := false
	registry := NewRegistry()
	require.NoError(t, registry.Register(task.KindImageAnalyze, Pipeline{
		Kind: task.KindImageAnalyze,
		Phases: []Phase{
			{Name: "one", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				require.NoError(t, st.MarkDeleted(ctx, tk.Key))
				return []byte("chk1"), nil
			}},
			{Name: "two", Run: func(ctx context.Context, d policy.Descriptor, prev []byte, sink ProgressSink, cancel CancelToken) ([]byte, error) {
				phaseTwoCalled = true
				return []byte("chk2"), nil
			}},
		},
	}))

	runner := NewRunner(st, registry, RunnerConfig{OwnerWorker: owner}, zap.NewNop())
	runner.Run(context.Background(), tk, policy.Descriptor{})

	assert.False(t, phaseTwoCalled, "a tombstoned task must abort before its next phase runs")

	final, err := st.LoadTask(context.Background(), tk.Key)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, final.Status, "resource_deleted aborts without finalizing; the task is left for GC")
	assert.Equal(t, 1, final.PhaseCursor)
	assert.True(t, final.Deleted)
}
