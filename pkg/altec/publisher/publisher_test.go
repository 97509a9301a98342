package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/session"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

func testRegistry() *executor.Registry {
	reg := executor.NewRegistry()
	_ = reg.Register(task.KindTextProfile, executor.Pipeline{
		Kind: task.KindTextProfile,
		Phases: []executor.Phase{
			{Name: "parse"},
			{Name: "extract_stats"},
			{Name: "finalize"},
		},
	})
	return reg
}

func TestPublisher_Poll_RunningTaskReportsCurrentPhaseAndProcessingTime(t *testing.T) {
	st := store.NewMemoryStore()
	key := task.Key{Kind: task.KindTextProfile, ResourceID: "doc-1"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	seed := task.NewTask(key)
	seed.Status = task.StatusRunning
	seed.PhaseCursor = 1
	seed.StartedAt = now.Add(-2 * time.Minute)
	seed.ProgressPercent = 33
	seed.ProgressMessage = "parse done"
	_, err := st.PutTaskIfAbsent(context.Background(), key, seed)
	require.NoError(t, err)

	pub := New(st, testRegistry(), nil)
	view, err := pub.Poll(context.Background(), key, now, "")
	require.NoError(t, err)

	require.Equal(t, task.StatusRunning, view.Status)
	require.Equal(t, "extract_stats", view.CurrentPhase)
	require.Equal(t, 2*time.Minute, view.ProcessingTime)
	require.Nil(t, view.Refresh)
}

func TestPublisher_Poll_TerminalTaskUsesCompletedAtForProcessingTime(t *testing.T) {
	st := store.NewMemoryStore()
	key := task.Key{Kind: task.KindTextProfile, ResourceID: "doc-2"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	seed := task.NewTask(key)
	seed.Status = task.StatusCompleted
	seed.StartedAt = now.Add(-10 * time.Minute)
	seed.CompletedAt = now.Add(-5 * time.Minute)
	seed.ResultRef = "result://doc-2"
	_, err := st.PutTaskIfAbsent(context.Background(), key, seed)
	require.NoError(t, err)

	pub := New(st, testRegistry(), nil)
	view, err := pub.Poll(context.Background(), key, now, "")
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, view.ProcessingTime)
	require.Equal(t, "result://doc-2", view.ResultRef)
}

func TestPublisher_Poll_RefreshesCredentialWhenPolicyCallsForIt(t *testing.T) {
	st := store.NewMemoryStore()
	key := task.Key{Kind: task.KindTextProfile, ResourceID: "doc-3"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	seed := task.NewTask(key)
	seed.Status = task.StatusRunning
	seed.StartedAt = now.Add(-30 * time.Minute)
	seed.Policy.ClientRefreshInterval = 10 * time.Minute
	_, err := st.PutTaskIfAbsent(context.Background(), key, seed)
	require.NoError(t, err)

	refresher, err := session.NewJWTRefresher([]byte("test-secret-test-secret-32bytes!"), "altec", "altec-clients", 10*time.Minute)
	require.NoError(t, err)

	pub := New(st, testRegistry(), refresher)
	view, err := pub.Poll(context.Background(), key, now, "stale-client-token")
	require.NoError(t, err)
	require.NotNil(t, view.Refresh)
	require.NotEmpty(t, view.Refresh.Token)
}

func TestPublisher_Poll_UnknownTaskReturnsError(t *testing.T) {
	st := store.NewMemoryStore()
	pub := New(st, testRegistry(), nil)
	_, err := pub.Poll(context.Background(), task.Key{Kind: task.KindTextProfile, ResourceID: "missing"}, time.Now(), "")
	require.Error(t, err)
}
