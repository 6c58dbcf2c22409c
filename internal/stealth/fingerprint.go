// Package stealth manages egress identities, browser fingerprints, and the
// startup trust gate.
package stealth

import (
	"math/rand"
	"strings"

	"github.com/voxleads/chimera/internal/mission"
)

// Plausible desktop hardware pairs. Vendor and renderer must stay consistent
// with each other or the profile scores as synthetic.
var webglPairs = [][2]string{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0)"},
	{"Apple Inc.", "Apple M2"},
}

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.6778.85 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.6778.85 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.6778.85 Safari/537.36",
}

var platforms = map[string]string{
	"Macintosh": "MacIntel",
	"Windows":   "Win32",
	"X11":       "Linux x86_64",
}

// GenerateFingerprint produces a randomized but internally consistent
// fingerprint profile. The noise seeds keep canvas/audio surfaces stable
// within a session while varying across sessions.
func GenerateFingerprint(rng *rand.Rand) mission.Fingerprint {
	ua := userAgents[rng.Intn(len(userAgents))]
	platform := "MacIntel"
	for marker, p := range platforms {
		if strings.Contains(ua, marker) {
			platform = p
			break
		}
	}
	pair := webglPairs[rng.Intn(len(webglPairs))]

	return mission.Fingerprint{
		UserAgent:      ua,
		Platform:       platform,
		Locale:         "en-US",
		Timezone:       "America/New_York",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		PixelRatio:     1,
		WebGLVendor:    pair[0],
		WebGLRenderer:  pair[1],
		CanvasSeed:     rng.Int63(),
		AudioNoise:     0.00005 + rng.Float64()*0.00015,
	}
}
