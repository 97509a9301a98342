// Package publisher implements ALTEC's Progress Publisher (C5): a
// read-only view over a Task row, exposing a monotone, snapshot-consistent
// polling contract, and piggy-backing C6's credential refresh on top of it.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/session"
	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

// TaskView is the read API's response shape (spec.md §4.5).
type TaskView struct {
	TaskID          string
	Status          task.Status
	PhaseCursor     int
	CurrentPhase    string
	ProgressPercent float64
	ProgressMessage string
	Attempts        int
	ProcessingTime  time.Duration
	Error           *task.TaskError
	ResultRef       string
	Refresh         *session.Credential
}

// Publisher reads Task rows and renders them as TaskViews, refreshing the
// caller's credential when the Task's policy calls for it (C6).
type Publisher struct {
	store    store.StateStore
	registry *executor.Registry
	refresher session.Refresher
}

// New builds a Publisher over a StateStore and the executor Registry used
// to resolve phase_cursor into a human phase name.
func New(st store.StateStore, registry *executor.Registry, refresher session.Refresher) *Publisher {
	return &Publisher{store: st, registry: registry, refresher: refresher}
}

// Poll renders the current TaskView for key, optionally refreshing the
// caller's credential per spec.md §4.6.
func (p *Publisher) Poll(ctx context.Context, key task.Key, now time.Time, incoming string) (TaskView, error) {
	t, err := p.store.LoadTask(ctx, key)
	if err != nil {
		return TaskView{}, fmt.Errorf("poll %s: %w", key, err)
	}

	view := TaskView{
		TaskID:          t.ID,
		Status:          t.Status,
		PhaseCursor:     t.PhaseCursor,
		CurrentPhase:    p.phaseName(t),
		ProgressPercent: t.ProgressPercent,
		ProgressMessage: t.ProgressMessage,
		Attempts:        t.Attempts,
		ProcessingTime:  t.ProcessingTime(now),
		Error:           t.Error,
		ResultRef:       t.ResultRef,
	}

	if p.refresher != nil && t.Policy.RefreshEnabled() && incoming != "" {
		if cred, ok := p.refresher.RefreshIfNeeded(incoming, t.Policy.ClientRefreshInterval, now); ok {
			view.Refresh = &cred
		}
	}
	return view, nil
}

// phaseName resolves t's phase_cursor into the name of its current pipeline
// phase. Falls back to an empty string if the kind's pipeline is unknown or
// the cursor has advanced past the last phase (terminal Task).
func (p *Publisher) phaseName(t *task.Task) string {
	if p.registry == nil {
		return ""
	}
	pipeline, err := p.registry.Get(t.Key.Kind)
	if err != nil {
		return ""
	}
	if t.PhaseCursor < 0 || t.PhaseCursor >= len(pipeline.Phases) {
		return ""
	}
	return pipeline.Phases[t.PhaseCursor].Name
}
