// Package mission defines core types shared across subsystems.
package mission

import "time"

// Type distinguishes the kinds of work a mission can carry.
type Type string

// Mission types accepted on the queue.
const (
	TypeEnrichment Type = "enrichment"
	TypeDeepSearch Type = "deep_search"
)

// ProviderAny lets the router choose a target provider.
const ProviderAny = "any"

// Lead is the input record a mission enriches.
type Lead struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
}

// Mission is one enrichment job flowing through the queue. A mission is
// enqueued exactly once by its producer; retries after failure are new
// missions with a bumped Attempt.
type Mission struct {
	ID              string    `json:"mission_id"`
	Type            Type      `json:"mission_type"`
	Lead            Lead      `json:"lead_data"`
	TargetProvider  string    `json:"target_provider,omitempty"`
	StickySessionID string    `json:"sticky_session_id,omitempty"`
	CreatedAt       time.Time `json:"timestamp"`
	Attempt         int       `json:"attempt,omitempty"`
}

// Status is the lifecycle state recorded for a mission.
type Status string

// Mission status values persisted in the status store.
const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusTimeout        Status = "timeout"
	StatusCaptchaFailure Status = "captcha_failure"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCaptchaFailure:
		return true
	}
	return false
}

// TraumaCode tags an anomaly observed while executing a mission.
type TraumaCode string

// Trauma codes attached to status records for diagnosis.
const (
	TraumaSessionBroken     TraumaCode = "SESSION_BROKEN"
	TraumaNeedsMapping      TraumaCode = "NEEDS_MAPPING"
	TraumaCaptchaDetected   TraumaCode = "CAPTCHA_DETECTED"
	TraumaCaptchaFailure    TraumaCode = "CAPTCHA_FAILURE"
	TraumaCoordinateDrift   TraumaCode = "COORDINATE_DRIFT"
	TraumaLowConfidence     TraumaCode = "LOW_CONFIDENCE_EXTRACTION"
	TraumaTimeout           TraumaCode = "TIMEOUT"
	TraumaLowEntropy        TraumaCode = "LOW_ENTROPY"
	TraumaPoisonedResult    TraumaCode = "POISONED_RESULT"
	TraumaAttemptsExhausted TraumaCode = "ATTEMPTS_EXHAUSTED"
)

// TraumaSignal is one tagged anomaly with context.
type TraumaSignal struct {
	Code   TraumaCode `json:"code"`
	Detail string     `json:"detail,omitempty"`
	At     time.Time  `json:"at"`
}

// Extracted field names produced by providers.
const (
	FieldPhone   = "phone"
	FieldCarrier = "carrier"
	FieldAddress = "address"
	FieldAge     = "age"
)

// Result is the typed outcome delivered back to the mission producer. Every
// mission yields exactly one Result, including failures, so the producer
// never blocks on a mission that died mid-flight.
type Result struct {
	MissionID        string            `json:"mission_id"`
	Status           Status            `json:"status"`
	Provider         string            `json:"provider,omitempty"`
	WorkerID         string            `json:"worker_id,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
	VisionConfidence float64           `json:"vision_confidence,omitempty"`
	EntropyScore     float64           `json:"entropy_score,omitempty"`
	ScreenshotURL    string            `json:"screenshot_url,omitempty"`
	FailureCode      TraumaCode        `json:"failure_code,omitempty"`
	Error            string            `json:"error,omitempty"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// Succeeded reports whether the result carries extracted data.
func (r Result) Succeeded() bool {
	return r.Status == StatusCompleted
}
