// Package executor implements ALTEC's Segmented Executor (C4): it runs a
// pipeline for a given kind as an ordered list of named phases, persists a
// checkpoint after each phase, emits heartbeats on a timer independent of
// phase duration, honors cancellation, and survives mid-execution restart
// (spec.md §4.4).
package executor

import (
	"context"

	"github.com/mindforge/altec/pkg/altec/policy"
	"github.com/mindforge/altec/pkg/altec/task"
)

// CancelToken is observed by a running phase to detect cooperative
// cancellation (client-requested cancel, or the heartbeat losing the lock).
type CancelToken interface {
	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool
	// Done returns a channel closed once cancellation fires, for phases
	// that want to select on it rather than poll.
	Done() <-chan struct{}
}

// ProgressSink receives 0-100 phase-local progress updates from a running
// phase. The executor maps these onto the global percent band for the
// phase's index before committing them (spec.md §4.4 step 3a).
type ProgressSink interface {
	Report(localPercent float64, message string)
}

// PhaseFunc is a single pipeline phase. It receives the input descriptor,
// the checkpoint produced by the previous phase (nil for the first phase),
// a progress sink scoped to this phase, and a cancel token, and returns the
// checkpoint to persist as this phase's commit.
//
// Phase functions must be idempotent: the executor may invoke a phase more
// than once across a Task's life if the worker crashes after the phase's
// work completes but before its checkpoint commit lands (spec.md §4.4,
// Checkpoint contract).
type PhaseFunc func(ctx context.Context, descriptor policy.Descriptor, prevCheckpoint []byte, sink ProgressSink, cancel CancelToken) ([]byte, error)

// Phase names a single step of a Pipeline.
type Phase struct {
	Name string
	Run  PhaseFunc
}

// ResultRefFunc extracts the result_ref to finalize a Task with, from the
// checkpoint produced by the pipeline's final phase.
type ResultRefFunc func(finalCheckpoint []byte) string

// Pipeline is the static, ordered phase list for one task.Kind.
type Pipeline struct {
	Kind      task.Kind
	Phases    []Phase
	ResultRef ResultRefFunc
}
