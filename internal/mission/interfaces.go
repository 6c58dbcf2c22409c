package mission

import (
	"context"
	"time"
)

// Queue is the durable mission channel between the producer and the workers.
// Dequeue is atomic across consumers: no two concurrent calls may return the
// same mission.
type Queue interface {
	Enqueue(ctx context.Context, m Mission) error
	// Dequeue blocks up to wait for the oldest mission and returns
	// ErrQueueEmpty when none arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (Mission, error)
	// DeadLetter parks a mission that exhausted its delivery attempts.
	DeadLetter(ctx context.Context, m Mission, reason string) error
	// PublishResult delivers the result keyed by mission id. The first
	// reader or the retention TTL consumes it.
	PublishResult(ctx context.Context, r Result) error
	// AwaitResult blocks up to wait for the mission's result.
	AwaitResult(ctx context.Context, missionID string, wait time.Duration) (Result, error)
}

// StatusStore keeps the mutable per-mission status records. Every write
// resets the record's retention TTL.
type StatusStore interface {
	Create(ctx context.Context, m Mission) error
	Patch(ctx context.Context, missionID string, p StatusPatch) error
	Get(ctx context.Context, missionID string) (StatusRecord, error)
}

// BlueprintStore is the externally owned, versioned selector template store.
// All access is through idempotent operations; blueprints are never held as
// in-process mutable global state.
type BlueprintStore interface {
	Get(ctx context.Context, domain string) (Blueprint, error)
	Commit(ctx context.Context, bp Blueprint) error
	RecordRepair(ctx context.Context, r SelectorRepair) error
	MarkMappingRequired(ctx context.Context, domain string) error
	MappingRequired(ctx context.Context) ([]string, error)
}

// Grounding is the vision oracle's answer for one intent.
type Grounding struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Found      bool    `json:"found"`
}

// VisionOracle maps screenshots plus semantic intents to click coordinates.
// Calls are synchronous and bounded by their own RPC deadline.
type VisionOracle interface {
	ProcessVision(ctx context.Context, screenshot []byte, intent string) (Grounding, error)
	PredictPath(ctx context.Context, domain, intent string) (string, error)
	StorePattern(ctx context.Context, domain, selector, outcome string) error
}

// CaptchaSolver attempts to clear a captcha challenge in place on the live
// page session. A nil solver in the worker means detection fails the mission
// immediately with CAPTCHA_FAILURE.
type CaptchaSolver interface {
	Solve(ctx context.Context, sess PageSession, providerName string) error
}

// IdentityPool mints and recycles egress identities. Acquire with a sticky
// session id returns the pinned identity for that id if one is live.
type IdentityPool interface {
	Acquire(ctx context.Context, stickySessionID string) (*Identity, error)
	Release(id *Identity)
	// EgressIP resolves the identity's current egress address so workers
	// can detect mid-mission changes.
	EgressIP(ctx context.Context, id *Identity) (string, error)
}

// PageSession is one stealth browser tab bound to an identity.
type PageSession interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Location returns the viewport center of the first element matching
	// selector, with found=false when nothing matches.
	Location(ctx context.Context, selector string) (Point, bool, error)
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64) error
	Text(ctx context.Context, selector string) (string, error)
	// TextAt reads the text of the element under a viewport coordinate,
	// used after vision grounding resolved a point instead of a selector.
	TextAt(ctx context.Context, x, y float64) (string, error)
	Close()
}

// Browser creates page sessions configured for an identity's fingerprint and
// proxy binding.
type Browser interface {
	NewSession(ctx context.Context, id *Identity) (PageSession, error)
}

// ArtifactStore persists screenshots and traces, returning a URL.
type ArtifactStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Publisher pushes completed-mission events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces mission ids (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
