package executor

import (
	"context"
	"math"

	"github.com/mindforge/altec/pkg/altec/store"
	"github.com/mindforge/altec/pkg/altec/task"
)

// phaseSink maps a phase's local 0-100 percent onto the global percent band
// [phaseIndex/segmentCount, (phaseIndex+1)/segmentCount] and throttles
// writes to the store: only updates that advance the global percent by at
// least progressThrottlePercent, or whose message changed, are committed
// (spec.md §4.4 step 3a).
type phaseSink struct {
	ctx             context.Context
	store           store.StateStore
	key             task.Key
	ownerWorker     string
	phaseIndex      int
	segmentCount    int
	throttlePercent float64
	// checkpoint is the checkpoint this phase was invoked with — the last
	// durable commit from the previous phase boundary. Intermediate
	// progress writes carry it unchanged so they never clobber the last
	// committed checkpoint; only the phase-boundary commit in the main
	// loop advances it.
	checkpoint []byte

	lastCommittedPercent float64
	lastMessage          string
	hasCommitted         bool
}

func newPhaseSink(ctx context.Context, st store.StateStore, key task.Key, ownerWorker string, phaseIndex, segmentCount int, throttlePercent float64, checkpoint []byte) *phaseSink {
	if throttlePercent <= 0 {
		throttlePercent = 0.5
	}
	return &phaseSink{
		ctx:             ctx,
		store:           st,
		key:             key,
		ownerWorker:     ownerWorker,
		phaseIndex:      phaseIndex,
		segmentCount:    segmentCount,
		throttlePercent: throttlePercent,
		checkpoint:      checkpoint,
	}
}

func (s *phaseSink) globalPercent(localPercent float64) float64 {
	if s.segmentCount <= 0 {
		return localPercent
	}
	bandWidth := 100.0 / float64(s.segmentCount)
	bandStart := float64(s.phaseIndex) * bandWidth
	return bandStart + (localPercent/100.0)*bandWidth
}

// Report implements ProgressSink. It is called from within a running phase
// and may be invoked from any goroutine the phase chooses to use
// internally, so writes are not assumed to be on the executor's own
// goroutine; the underlying store is expected to serialize per key.
func (s *phaseSink) Report(localPercent float64, message string) {
	global := s.globalPercent(localPercent)

	messageChanged := message != s.lastMessage
	percentAdvanced := !s.hasCommitted || math.Abs(global-s.lastCommittedPercent) >= s.throttlePercent
	if !percentAdvanced && !messageChanged {
		return
	}

	update := store.ProgressUpdate{
		PhaseCursor:     s.phaseIndex,
		Checkpoint:      s.checkpoint,
		ProgressPercent: global,
		ProgressMessage: message,
	}
	if err := s.store.UpdateTaskProgress(s.ctx, s.key, s.ownerWorker, update); err != nil {
		// Best-effort: an intermediate progress write losing the race with
		// a reclaim is expected and handled by the next heartbeat tick, not
		// here.
		return
	}
	s.lastCommittedPercent = global
	s.lastMessage = message
	s.hasCommitted = true
}
