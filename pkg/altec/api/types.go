// Package api exposes ALTEC's external interfaces (spec.md §6) over HTTP:
// submit, poll, and cancel, routed with go-chi and validated with
// go-playground/validator and kin-openapi.
package api

import (
	"time"

	"github.com/mindforge/altec/pkg/altec/policy"
)

// SubmitRequest is the wire shape of a submit call.
type SubmitRequest struct {
	Kind             string             `json:"kind" validate:"required,oneof=text-profile image-analyze audio-transcribe video-deep"`
	ResourceID       string             `json:"resource_id" validate:"required"`
	Descriptor       policy.Descriptor  `json:"input_descriptor" validate:"required"`
	HistoricalSeconds []float64         `json:"historical_seconds,omitempty"`
}

// SubmitResponse is the wire shape of a submit call's result.
type SubmitResponse struct {
	TaskID  string `json:"task_id"`
	Outcome string `json:"outcome"`
}

// TaskViewResponse is the wire shape of a poll call's result (spec.md
// §4.5/§6).
type TaskViewResponse struct {
	TaskID          string     `json:"task_id"`
	Status          string     `json:"status"`
	PhaseCursor     int        `json:"phase_cursor"`
	CurrentPhase    string     `json:"current_phase_name,omitempty"`
	ProgressPercent float64    `json:"progress_percent"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Attempts        int        `json:"attempts"`
	ProcessingTime  float64    `json:"processing_time_seconds"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ResultRef       string     `json:"result_ref,omitempty"`
	Refresh         *Refresh   `json:"refresh,omitempty"`
}

// Refresh carries a proactively refreshed client credential (spec.md §4.6).
type Refresh struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CancelResponse is the wire shape of a cancel call's result.
type CancelResponse struct {
	Result string `json:"result"` // always "ok"
}

// ErrorResponse is the wire shape of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
