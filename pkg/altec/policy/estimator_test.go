package policy

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mindforge/altec/pkg/altec/task"
)

func TestPolicy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Suite")
}

var _ = Describe("formulaSeconds", func() {
	It("floors text-profile at 15 seconds for tiny payloads", func() {
		seconds := formulaSeconds(task.KindTextProfile, Descriptor{"bytes": float64(1024)})
		Expect(seconds).To(Equal(15.0))
	})

	It("scales text-profile at 5s per MiB above the floor", func() {
		seconds := formulaSeconds(task.KindTextProfile, Descriptor{"bytes": float64(10 * bytesPerMiB)})
		Expect(seconds).To(Equal(50.0))
	})

	It("returns a flat 20 seconds for image-analyze regardless of descriptor", func() {
		seconds := formulaSeconds(task.KindImageAnalyze, Descriptor{"bytes": float64(999999)})
		Expect(seconds).To(Equal(20.0))
	})

	It("floors audio-transcribe at 30 seconds on gpu", func() {
		seconds := formulaSeconds(task.KindAudioTranscribe, Descriptor{"media_seconds": float64(10), "device": "gpu"})
		Expect(seconds).To(Equal(30.0))
	})

	It("scales audio-transcribe at 0.15x media seconds on gpu above the floor", func() {
		seconds := formulaSeconds(task.KindAudioTranscribe, Descriptor{"media_seconds": float64(1000), "device": "gpu"})
		Expect(seconds).To(Equal(150.0))
	})

	It("quadruples audio-transcribe estimate when device is not gpu", func() {
		seconds := formulaSeconds(task.KindAudioTranscribe, Descriptor{"media_seconds": float64(1000), "device": "cpu"})
		Expect(seconds).To(Equal(600.0))
	})

	It("defaults audio-transcribe device to gpu when absent", func() {
		seconds := formulaSeconds(task.KindAudioTranscribe, Descriptor{"media_seconds": float64(1000)})
		Expect(seconds).To(Equal(150.0))
	})

	It("floors video-deep at 120 seconds", func() {
		seconds := formulaSeconds(task.KindVideoDeep, Descriptor{"media_seconds": float64(1), "frames_analyzed": float64(1)})
		Expect(seconds).To(Equal(120.0))
	})

	It("combines media duration and frame count for video-deep above the floor", func() {
		seconds := formulaSeconds(task.KindVideoDeep, Descriptor{"media_seconds": float64(1000), "frames_analyzed": float64(1000)})
		Expect(seconds).To(Equal(1000.0*0.25 + 1000.0*0.3))
	})

	It("falls back to 60 seconds for an unrecognized kind", func() {
		seconds := formulaSeconds(task.Kind("unknown"), Descriptor{})
		Expect(seconds).To(Equal(60.0))
	})
})

var _ = Describe("PredictedSeconds", func() {
	It("returns the formula estimate untouched when no history is available", func() {
		seconds := PredictedSeconds(task.KindImageAnalyze, Descriptor{}, nil)
		Expect(seconds).To(Equal(20.0))
	})

	It("blends the formula estimate with the historical mean when history is present", func() {
		seconds := PredictedSeconds(task.KindImageAnalyze, Descriptor{}, []float64{40, 60})
		Expect(seconds).To(Equal((20.0 + 50.0) / 2))
	})
})

var _ = DescribeTable("ClassForSeconds",
	func(predicted float64, expected task.DurationClass) {
		Expect(ClassForSeconds(predicted)).To(Equal(expected))
	},
	Entry("well under the S boundary", 10.0, task.ClassS),
	Entry("exactly at the S/M boundary stays S", 300.0, task.ClassS),
	Entry("just over the S/M boundary becomes M", 300.01, task.ClassM),
	Entry("exactly at the M/L boundary stays M", 1800.0, task.ClassM),
	Entry("just over the M/L boundary becomes L", 1800.01, task.ClassL),
	Entry("exactly at the L/XL boundary stays L", 3600.0, task.ClassL),
	Entry("just over the L/XL boundary becomes XL", 3600.01, task.ClassXL),
	Entry("far beyond any boundary is XL", 100000.0, task.ClassXL),
)

var _ = DescribeTable("SegmentCount",
	func(class task.DurationClass, expected int) {
		Expect(SegmentCount(class)).To(Equal(expected))
	},
	Entry("class S", task.ClassS, 4),
	Entry("class M", task.ClassM, 8),
	Entry("class L", task.ClassL, 10),
	Entry("class XL", task.ClassXL, 20),
	Entry("an unrecognized class falls back to 4", task.DurationClass("unknown"), 4),
)

var _ = Describe("Estimator", func() {
	It("attaches the default class parameters and a default segment count", func() {
		estimator := NewEstimator(nil)
		p := estimator.Estimate(task.KindImageAnalyze, Descriptor{}, nil, 0)

		Expect(p.DurationClass).To(Equal(task.ClassS))
		Expect(p.HeartbeatInterval).To(Equal(defaultClassTable[task.ClassS].heartbeatInterval))
		Expect(p.LockLease).To(Equal(defaultClassTable[task.ClassS].lockLease))
		Expect(p.SegmentCount).To(Equal(4))
	})

	It("prefers the pipeline's own segment count over the class default", func() {
		estimator := NewEstimator(nil)
		p := estimator.Estimate(task.KindImageAnalyze, Descriptor{}, nil, 6)
		Expect(p.SegmentCount).To(Equal(6))
	})

	It("applies a configured class override atop the defaults", func() {
		estimator := NewEstimator(Overrides{
			task.ClassS: {heartbeatInterval: 5 * defaultClassTable[task.ClassS].heartbeatInterval},
		})
		p := estimator.Estimate(task.KindImageAnalyze, Descriptor{}, nil, 0)
		Expect(p.HeartbeatInterval).To(Equal(5 * defaultClassTable[task.ClassS].heartbeatInterval))
		Expect(p.LockLease).To(Equal(defaultClassTable[task.ClassS].lockLease))
	})
})
