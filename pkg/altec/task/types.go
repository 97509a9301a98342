// Package task defines ALTEC's central domain model: the Task record, its
// stable key, status state machine, and the Policy value that schedules
// its execution.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the pipeline a Task runs. Each Kind maps to exactly one
// registered pipeline in pkg/altec/pipelines.
type Kind string

const (
	KindTextProfile      Kind = "text-profile"
	KindImageAnalyze     Kind = "image-analyze"
	KindAudioTranscribe  Kind = "audio-transcribe"
	KindVideoDeep        Kind = "video-deep"
)

// ValidKinds lists every Kind ALTEC accepts at admission.
var ValidKinds = []Kind{KindTextProfile, KindImageAnalyze, KindAudioTranscribe, KindVideoDeep}

// IsValid reports whether k is one of ValidKinds.
func (k Kind) IsValid() bool {
	for _, v := range ValidKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Key is the stable identity of a Task: at most one live Task exists per Key.
type Key struct {
	Kind       Kind
	ResourceID string
}

// String renders the key's wire-shape namespace, e.g. "video-deep:42".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ResourceID)
}

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusAbandoned Status = "ABANDONED"
)

// ValidStatuses lists every Status value the state machine recognizes.
var ValidStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusAbandoned}

// IsTerminal reports whether s is a final state (COMPLETED, FAILED). Note
// that ABANDONED is deliberately NOT terminal: it is a transient state the
// reclaim sweeper or a subsequent submit always pushes onward, per spec.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows from → to.
// The DAG: PENDING → RUNNING → {COMPLETED, FAILED}; RUNNING ↔ ABANDONED
// is the only cycle (crash/lease-loss, then reclaim).
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		switch to {
		case StatusCompleted, StatusFailed, StatusAbandoned:
			return true
		default:
			return false
		}
	case StatusAbandoned:
		switch to {
		case StatusRunning, StatusFailed:
			return true
		default:
			return false
		}
	default:
		// COMPLETED, FAILED are terminal: no outgoing transitions.
		return false
	}
}

// Validate reports an error if s is not one of ValidStatuses.
func Validate(s Status) error {
	for _, v := range ValidStatuses {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("invalid status: %q", s)
}

// DurationClass buckets predicted job duration into a named policy tier.
type DurationClass string

const (
	ClassS  DurationClass = "S"
	ClassM  DurationClass = "M"
	ClassL  DurationClass = "L"
	ClassXL DurationClass = "XL"
)

// Policy is the per-Task execution schedule computed once by the duration
// estimator (C3) and persisted so that reclaims reuse identical parameters.
type Policy struct {
	DurationClass         DurationClass
	PredictedSeconds       float64
	HeartbeatInterval      time.Duration
	LockLease              time.Duration
	SegmentCount           int
	ClientRefreshInterval  time.Duration // zero means "off" (normal token, no proactive refresh)
}

// RefreshEnabled reports whether this policy calls for proactive credential
// refresh on the polling path (C6).
func (p Policy) RefreshEnabled() bool {
	return p.ClientRefreshInterval > 0
}

// ErrorKind classifies a Task-terminating failure per the taxonomy in
// spec.md §7.
type ErrorKind string

const (
	ErrTransientUpstream  ErrorKind = "transient_upstream"
	ErrPermanentUpstream  ErrorKind = "permanent_upstream"
	ErrResourceDeleted    ErrorKind = "resource_deleted"
	ErrCancelledByClient  ErrorKind = "cancelled_by_client"
	ErrCancelledByReclaim ErrorKind = "cancelled_by_reclaim"
	ErrTimeout            ErrorKind = "timeout"
	ErrTooManyReclaims    ErrorKind = "too_many_reclaims"
	ErrStoreUnavailable   ErrorKind = "store_unavailable"
)

// TaskError is the structured error recorded on a FAILED Task.
type TaskError struct {
	Kind    ErrorKind
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Task is ALTEC's primary persisted entity (spec.md §3).
type Task struct {
	ID              string
	Key             Key
	Status          Status
	PhaseCursor     int
	Checkpoint      []byte
	ProgressPercent float64
	ProgressMessage string
	Policy          Policy

	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time

	Attempts int

	Error     *TaskError
	ResultRef string

	OwnerWorker string

	CancelRequested bool

	// Deleted tombstones the Task on explicit deletion of its underlying
	// resource (spec.md §4.2): a soft-deleted row no longer counts as
	// "live" for the one-row-per-key invariant, and an in-flight
	// execution aborts without finalizing on its next pre-phase check.
	Deleted bool
}

// NewTask constructs a freshly admitted Task in PENDING status.
func NewTask(key Key) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		Key:       key,
		Status:    StatusPending,
		UpdatedAt: now,
	}
}

// CheckpointValid reports whether the Task's checkpoint field is meaningful
// to consume, per spec.md §3's invariant: valid iff phase_cursor > 0 and
// status is RUNNING or ABANDONED.
func (t *Task) CheckpointValid() bool {
	return t.PhaseCursor > 0 && (t.Status == StatusRunning || t.Status == StatusAbandoned)
}

// ProcessingTime derives the duration a Task has been (or was) running,
// per spec.md §4.5.
func (t *Task) ProcessingTime(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if IsTerminal(t.Status) && !t.CompletedAt.IsZero() {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}
