package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRecordAdmission(t *testing.T) {
	initial := testutil.ToFloat64(AdmissionOutcomesTotal.WithLabelValues("text-profile", "started"))

	RecordAdmission("text-profile", "started")

	final := testutil.ToFloat64(AdmissionOutcomesTotal.WithLabelValues("text-profile", "started"))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordReclaim(t *testing.T) {
	initial := testutil.ToFloat64(ReclaimsTotal.WithLabelValues("video-deep"))

	RecordReclaim("video-deep")
	RecordReclaim("video-deep")

	final := testutil.ToFloat64(ReclaimsTotal.WithLabelValues("video-deep"))
	assert.Equal(t, initial+2.0, final)
}

func TestRecordTooManyReclaims(t *testing.T) {
	initial := testutil.ToFloat64(TooManyReclaimsTotal.WithLabelValues("audio-transcribe"))

	RecordTooManyReclaims("audio-transcribe")

	final := testutil.ToFloat64(TooManyReclaimsTotal.WithLabelValues("audio-transcribe"))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordPhase_RecordsDurationAndFailure(t *testing.T) {
	RecordPhase("image-analyze", "decode", 250*time.Millisecond, "")

	metric := &dto.Metric{}
	h, err := PhaseDuration.GetMetricWithLabelValues("image-analyze", "decode")
	assert.NoError(t, err)
	assert.NoError(t, h.(interface{ Write(*dto.Metric) error }).Write(metric))
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)

	initialFailures := testutil.ToFloat64(PhaseFailuresTotal.WithLabelValues("image-analyze", "decode", "transient_upstream"))
	RecordPhase("image-analyze", "decode", time.Second, "transient_upstream")
	finalFailures := testutil.ToFloat64(PhaseFailuresTotal.WithLabelValues("image-analyze", "decode", "transient_upstream"))
	assert.Equal(t, initialFailures+1.0, finalFailures)
}

func TestRecordTaskTerminal(t *testing.T) {
	metric := &dto.Metric{}
	h, err := TaskDuration.GetMetricWithLabelValues("text-profile", "COMPLETED")
	assert.NoError(t, err)

	RecordTaskTerminal("text-profile", "COMPLETED", 42*time.Second)

	assert.NoError(t, h.(interface{ Write(*dto.Metric) error }).Write(metric))
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}

func TestRecordCredentialRefresh(t *testing.T) {
	initial := testutil.ToFloat64(CredentialRefreshesTotal.WithLabelValues("video-deep"))

	RecordCredentialRefresh("video-deep")

	final := testutil.ToFloat64(CredentialRefreshesTotal.WithLabelValues("video-deep"))
	assert.Equal(t, initial+1.0, final)
}
