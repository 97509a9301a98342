// Package policy implements ALTEC's Duration Estimator & Policy (C3):
// translating an input descriptor into predicted duration, a duration
// class, and the heartbeat/lease/segment/refresh schedule that class
// implies (spec.md §4.3).
package policy

import (
	"github.com/itchyny/gojq"

	"github.com/mindforge/altec/pkg/altec/task"
	sharedmath "github.com/mindforge/altec/pkg/shared/math"
)

// Descriptor is the loosely-typed input submitted with a Task: a JSON-like
// value (map[string]interface{}) describing the resource to analyze. Its
// shape varies by Kind, so fields are pulled out with gojq rather than a
// fixed struct.
type Descriptor = map[string]interface{}

const bytesPerMiB = 1024 * 1024

var (
	bytesQuery        = mustParse(".bytes")
	mediaSecondsQuery = mustParse(".media_seconds")
	framesQuery       = mustParse(".frames_analyzed")
	deviceQuery       = mustParse(".device")
)

func mustParse(expr string) *gojq.Query {
	q, err := gojq.Parse(expr)
	if err != nil {
		panic(err)
	}
	return q
}

func extractFloat(query *gojq.Query, input Descriptor, fallback float64) float64 {
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok || v == nil {
		return fallback
	}
	if err, ok := v.(error); ok {
		_ = err
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func extractString(query *gojq.Query, input Descriptor, fallback string) string {
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

// PredictedSeconds computes the design-level estimate from spec.md §4.3
// for a given Kind and descriptor. historicalSeconds, when non-empty, is
// blended in as the mean of past runs for the same Kind to damp outliers
// in the formula-only estimate.
func PredictedSeconds(kind task.Kind, descriptor Descriptor, historicalSeconds []float64) float64 {
	formula := formulaSeconds(kind, descriptor)
	if len(historicalSeconds) == 0 {
		return formula
	}
	historicalMean := sharedmath.Mean(historicalSeconds)
	// Blend: weight the formula estimate and the historical mean equally,
	// since the formula ignores provider-specific slowdowns the history
	// captures and the history ignores this request's specific size.
	return (formula + historicalMean) / 2
}

func formulaSeconds(kind task.Kind, descriptor Descriptor) float64 {
	switch kind {
	case task.KindTextProfile:
		bytes := extractFloat(bytesQuery, descriptor, 0)
		return max(15, bytes/bytesPerMiB*5)
	case task.KindImageAnalyze:
		return 20
	case task.KindAudioTranscribe:
		mediaSeconds := extractFloat(mediaSecondsQuery, descriptor, 0)
		device := extractString(deviceQuery, descriptor, "gpu")
		seconds := max(30, mediaSeconds*0.15)
		if device != "gpu" {
			seconds *= 4
		}
		return seconds
	case task.KindVideoDeep:
		mediaSeconds := extractFloat(mediaSecondsQuery, descriptor, 0)
		frames := extractFloat(framesQuery, descriptor, 0)
		return max(120, mediaSeconds*0.25+frames*0.3)
	default:
		return 60
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ClassForSeconds maps predicted seconds onto a DurationClass per the
// spec.md §4.3 table.
func ClassForSeconds(predictedSeconds float64) task.DurationClass {
	switch {
	case predictedSeconds <= 300:
		return task.ClassS
	case predictedSeconds <= 1800:
		return task.ClassM
	case predictedSeconds <= 3600:
		return task.ClassL
	default:
		return task.ClassXL
	}
}

// SegmentCount is the pipeline's phase partitioning granularity per class.
// It is a default; individual pipelines may define their own phase count,
// in which case the pipeline's own length governs (spec.md §4.3).
func SegmentCount(class task.DurationClass) int {
	switch class {
	case task.ClassS:
		return 4
	case task.ClassM:
		return 8
	case task.ClassL:
		return 10
	case task.ClassXL:
		return 20
	default:
		return 4
	}
}
