package mission

import "math"

// DriftThresholdPx is the pixel distance beyond which a coordinate drift is
// a trauma signal even on a successful click, because it foreshadows
// blueprint staleness.
const DriftThresholdPx = 50.0

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CoordinateDrift records the gap between where the blueprint suggested a
// click and where vision grounding actually placed it.
type CoordinateDrift struct {
	Suggested     Point   `json:"suggested"`
	Actual        Point   `json:"actual"`
	DriftDistance float64 `json:"drift_distance"`
	Confidence    float64 `json:"confidence"`
}

// NewCoordinateDrift computes the Euclidean distance between suggested and
// actual.
func NewCoordinateDrift(suggested, actual Point, confidence float64) CoordinateDrift {
	return CoordinateDrift{
		Suggested:     suggested,
		Actual:        actual,
		DriftDistance: math.Hypot(actual.X-suggested.X, actual.Y-suggested.Y),
		Confidence:    confidence,
	}
}

// Excessive reports whether the drift crosses the trauma threshold.
func (d CoordinateDrift) Excessive() bool {
	return d.DriftDistance > DriftThresholdPx
}
