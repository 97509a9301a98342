package policy

import (
	"time"

	"github.com/mindforge/altec/pkg/altec/task"
)

// classParams is the spec.md §4.3 duration-class table.
type classParams struct {
	heartbeatInterval     time.Duration
	lockLease             time.Duration
	clientRefreshInterval time.Duration // zero means "off"
}

var defaultClassTable = map[task.DurationClass]classParams{
	task.ClassS:  {heartbeatInterval: 60 * time.Second, lockLease: 5 * time.Minute, clientRefreshInterval: 0},
	task.ClassM:  {heartbeatInterval: 300 * time.Second, lockLease: 15 * time.Minute, clientRefreshInterval: 20 * time.Minute},
	task.ClassL:  {heartbeatInterval: 600 * time.Second, lockLease: 30 * time.Minute, clientRefreshInterval: 15 * time.Minute},
	task.ClassXL: {heartbeatInterval: 900 * time.Second, lockLease: 45 * time.Minute, clientRefreshInterval: 10 * time.Minute},
}

// Overrides lets a deployment tune one or more class's parameters, keyed
// by task.DurationClass, mirroring internal/config.PolicyConfig.ClassOverrides.
type Overrides map[task.DurationClass]classParams

// NewClassOverride builds one class's override entry for an Overrides map.
// A zero field leaves the corresponding spec.md §4.3 default untouched.
func NewClassOverride(heartbeatInterval, lockLease, clientRefreshInterval time.Duration) classParams {
	return classParams{
		heartbeatInterval:     heartbeatInterval,
		lockLease:             lockLease,
		clientRefreshInterval: clientRefreshInterval,
	}
}

// Estimator computes a Policy for a descriptor, optionally consulting
// historical durations and configuration overrides.
type Estimator struct {
	classTable map[task.DurationClass]classParams
}

// NewEstimator builds an Estimator, applying any configured per-class
// overrides atop the spec.md §4.3 defaults.
func NewEstimator(overrides Overrides) *Estimator {
	table := make(map[task.DurationClass]classParams, len(defaultClassTable))
	for class, params := range defaultClassTable {
		table[class] = params
	}
	for class, override := range overrides {
		merged := table[class]
		if override.heartbeatInterval > 0 {
			merged.heartbeatInterval = override.heartbeatInterval
		}
		if override.lockLease > 0 {
			merged.lockLease = override.lockLease
		}
		if override.clientRefreshInterval != 0 {
			merged.clientRefreshInterval = override.clientRefreshInterval
		}
		table[class] = merged
	}
	return &Estimator{classTable: table}
}

// Estimate computes the full Policy for a Task submission, per the C3
// contract: policy(descriptor) -> Policy.
func (e *Estimator) Estimate(kind task.Kind, descriptor Descriptor, historicalSeconds []float64, pipelineSegments int) task.Policy {
	predicted := PredictedSeconds(kind, descriptor, historicalSeconds)
	class := ClassForSeconds(predicted)
	params := e.classTable[class]

	segments := pipelineSegments
	if segments <= 0 {
		segments = SegmentCount(class)
	}

	return task.Policy{
		DurationClass:         class,
		PredictedSeconds:      predicted,
		HeartbeatInterval:     params.heartbeatInterval,
		LockLease:             params.lockLease,
		SegmentCount:          segments,
		ClientRefreshInterval: params.clientRefreshInterval,
	}
}
