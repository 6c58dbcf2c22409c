package mission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPatchMergesOnlyPresentFields(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := StatusRecord{
		MissionID: "m-1",
		Status:    StatusProcessing,
		Name:      "John Doe",
		Location:  "Naples, FL",
	}

	rec.Apply(StatusPatch{
		Carrier:          StringPtr("Verizon"),
		VisionConfidence: Float64Ptr(0.91),
	}, now)

	assert.Equal(t, StatusProcessing, rec.Status, "absent status must not be overwritten")
	assert.Equal(t, "John Doe", rec.Name)
	assert.Equal(t, "Verizon", rec.Carrier)
	assert.Equal(t, 0.91, rec.VisionConfidence)
	assert.Equal(t, now, rec.LastUpdate)
}

func TestStatusPatchAppendsTraumaAndTrace(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	rec := StatusRecord{MissionID: "m-2", Status: StatusProcessing}

	rec.Apply(StatusPatch{
		TraumaSignals: []TraumaSignal{{Code: TraumaCaptchaDetected, At: now}},
		DecisionSteps: []string{"navigating"},
	}, now)
	rec.Apply(StatusPatch{
		Status:        StatusPtr(StatusCaptchaFailure),
		TraumaSignals: []TraumaSignal{{Code: TraumaCaptchaFailure, At: now}},
		DecisionSteps: []string{"captcha_check"},
	}, now)

	require.Len(t, rec.TraumaSignals, 2)
	assert.Equal(t, TraumaCaptchaDetected, rec.TraumaSignals[0].Code)
	assert.Equal(t, TraumaCaptchaFailure, rec.TraumaSignals[1].Code)
	assert.Equal(t, []string{"navigating", "captcha_check"}, rec.DecisionTrace)
	assert.Equal(t, StatusCaptchaFailure, rec.Status)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusFailed, StatusTimeout, StatusCaptchaFailure} {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range []Status{StatusQueued, StatusProcessing} {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}
