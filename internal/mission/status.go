package mission

import "time"

// StatusRecord is the mutable per-mission record workers and the telemetry
// sink write into. It expires after a retention window if never completed.
type StatusRecord struct {
	MissionID         string           `json:"mission_id"`
	Status            Status           `json:"status"`
	Name              string           `json:"name,omitempty"`
	Location          string           `json:"location,omitempty"`
	Carrier           string           `json:"carrier,omitempty"`
	TraumaSignals     []TraumaSignal   `json:"trauma_signals,omitempty"`
	CoordinateDrift   *CoordinateDrift `json:"coordinate_drift,omitempty"`
	Fingerprint       *Fingerprint     `json:"fingerprint,omitempty"`
	ScreenshotURL     string           `json:"screenshot_url,omitempty"`
	VisionConfidence  float64          `json:"vision_confidence,omitempty"`
	FallbackTriggered bool             `json:"fallback_triggered,omitempty"`
	MappingRequired   bool             `json:"mapping_required,omitempty"`
	DecisionTrace     []string         `json:"decision_trace,omitempty"`
	LastUpdate        time.Time        `json:"last_update"`
}

// StatusPatch is a partial update merged into a StatusRecord. Nil fields
// leave the record untouched; slices append. Every applied patch resets the
// record's retention TTL.
type StatusPatch struct {
	Status            *Status          `json:"status,omitempty"`
	Name              *string          `json:"name,omitempty"`
	Location          *string          `json:"location,omitempty"`
	Carrier           *string          `json:"carrier,omitempty"`
	TraumaSignals     []TraumaSignal   `json:"trauma_signals,omitempty"`
	CoordinateDrift   *CoordinateDrift `json:"coordinate_drift,omitempty"`
	Fingerprint       *Fingerprint     `json:"fingerprint,omitempty"`
	ScreenshotURL     *string          `json:"screenshot_url,omitempty"`
	VisionConfidence  *float64         `json:"vision_confidence,omitempty"`
	FallbackTriggered *bool            `json:"fallback_triggered,omitempty"`
	MappingRequired   *bool            `json:"mapping_required,omitempty"`
	DecisionSteps     []string         `json:"decision_steps,omitempty"`
}

// Apply merges p into r. Fields absent from the patch are never overwritten.
func (r *StatusRecord) Apply(p StatusPatch, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Location != nil {
		r.Location = *p.Location
	}
	if p.Carrier != nil {
		r.Carrier = *p.Carrier
	}
	if len(p.TraumaSignals) > 0 {
		r.TraumaSignals = append(r.TraumaSignals, p.TraumaSignals...)
	}
	if p.CoordinateDrift != nil {
		r.CoordinateDrift = p.CoordinateDrift
	}
	if p.Fingerprint != nil {
		r.Fingerprint = p.Fingerprint
	}
	if p.ScreenshotURL != nil {
		r.ScreenshotURL = *p.ScreenshotURL
	}
	if p.VisionConfidence != nil {
		r.VisionConfidence = *p.VisionConfidence
	}
	if p.FallbackTriggered != nil {
		r.FallbackTriggered = *p.FallbackTriggered
	}
	if p.MappingRequired != nil {
		r.MappingRequired = *p.MappingRequired
	}
	if len(p.DecisionSteps) > 0 {
		r.DecisionTrace = append(r.DecisionTrace, p.DecisionSteps...)
	}
	r.LastUpdate = now
}

// StatusRetention is how long an unfinished status record is kept.
const StatusRetention = 24 * time.Hour

// Helpers for building patches without local pointer boilerplate.

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status { return &s }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
