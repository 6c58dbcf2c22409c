package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCoordinateDriftEuclidean(t *testing.T) {
	t.Parallel()

	d := NewCoordinateDrift(Point{X: 100, Y: 200}, Point{X: 103, Y: 204}, 0.9)
	assert.InDelta(t, 5.0, d.DriftDistance, 1e-9)
	assert.False(t, d.Excessive())
}

func TestCoordinateDriftExcessiveBeyondThreshold(t *testing.T) {
	t.Parallel()

	d := NewCoordinateDrift(Point{X: 0, Y: 0}, Point{X: 30, Y: 41}, 0.8)
	assert.InDelta(t, 50.80354, d.DriftDistance, 1e-4)
	assert.True(t, d.Excessive())

	exactly := NewCoordinateDrift(Point{X: 0, Y: 0}, Point{X: 50, Y: 0}, 0.8)
	assert.False(t, exactly.Excessive(), "threshold is strict greater-than")
}
