// Package blueprint stores per-domain selector templates and their repair
// audit trail.
package blueprint

// Confidence decay applied on every repair of an already-repaired domain.
// Monotone decay surfaces chronically broken mappings instead of patching
// them forever; a fresh Commit restores the committed confidence.
const (
	DecayFactor     = 0.85
	ConfidenceFloor = 0.1
)

// Decay returns the confidence after one more repair, bounded below.
func Decay(confidence float64) float64 {
	decayed := confidence * DecayFactor
	if decayed < ConfidenceFloor {
		return ConfidenceFloor
	}
	return decayed
}
