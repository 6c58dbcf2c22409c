// Package telemetry defines the event stream missions emit while executing
// and the hub that fans those events out to sinks.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxleads/chimera/internal/mission"
)

// Kind denotes the type of milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindMissionStart Kind = "MISSION_START"
	KindStatusPatch  Kind = "STATUS_PATCH"
	KindTrauma       Kind = "TRAUMA"
	KindVisionCall   Kind = "VISION_CALL"
	KindRepair       Kind = "REPAIR"
	KindMissionDone  Kind = "MISSION_DONE"
)

// Event is a single mission telemetry milestone. Events are emitted fire-and
// forget from the worker's hot path; the hub batches them toward sinks.
type Event struct {
	// MissionID scopes the event to a mission.
	MissionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Provider optionally scopes the event to a target site.
	Provider string
	// Status carries the terminal status for MISSION_DONE events.
	Status mission.Status
	// Patch carries the status delta for STATUS_PATCH events.
	Patch *mission.StatusPatch
	// Trauma carries the anomaly for TRAUMA events.
	Trauma *mission.TraumaSignal
	// Intent scopes vision and repair events to a selector intent.
	Intent string
	// Confidence is the grounding confidence for VISION_CALL events.
	Confidence float64
	// Dur captures mission runtime for MISSION_DONE events.
	Dur time.Duration
	// Note attaches low-volume debug context such as error text.
	Note string
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.MissionID == "" {
		return errors.New("mission id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindMissionStart, KindVisionCall:
	case KindStatusPatch:
		if e.Patch == nil {
			return errors.New("status patch event requires a patch")
		}
	case KindTrauma:
		if e.Trauma == nil {
			return errors.New("trauma event requires a signal")
		}
	case KindRepair:
		if e.Intent == "" {
			return errors.New("repair event requires an intent")
		}
	case KindMissionDone:
		if e.Status == "" {
			return errors.New("mission done event requires a status")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
