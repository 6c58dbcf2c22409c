package mission

import "time"

// Fingerprint is the browser fingerprint profile bound to one identity. The
// noise seeds keep canvas/WebGL/audio surfaces stable within a session while
// varying across sessions.
type Fingerprint struct {
	UserAgent      string  `json:"user_agent"`
	Platform       string  `json:"platform"`
	Locale         string  `json:"locale"`
	Timezone       string  `json:"timezone"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	PixelRatio     float64 `json:"pixel_ratio"`
	WebGLVendor    string  `json:"webgl_vendor"`
	WebGLRenderer  string  `json:"webgl_renderer"`
	CanvasSeed     int64   `json:"canvas_seed"`
	AudioNoise     float64 `json:"audio_noise"`
}

// Identity is the ephemeral egress binding a worker holds for one mission.
// Once bound it must not change mid-mission; a detected egress change is a
// SESSION_BROKEN trauma. Sticky session ids intentionally pin the same
// identity across related missions.
type Identity struct {
	SessionID   string      `json:"session_id"`
	ProxyURL    string      `json:"proxy_url,omitempty"`
	EgressIP    string      `json:"egress_ip,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint"`
	AcquiredAt  time.Time   `json:"acquired_at"`
}
