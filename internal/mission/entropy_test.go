package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntropyScoreIdenticalValuesBelowThreshold(t *testing.T) {
	t.Parallel()

	values := []string{"239-555-0142", "239-555-0142", "239-555-0142", "239-555-0142"}
	score := EntropyScore(values)
	assert.Less(t, score, PoisonThreshold, "byte-identical results must score as poisoned")
}

func TestEntropyScoreDiverseValuesAboveThreshold(t *testing.T) {
	t.Parallel()

	values := []string{
		"239-555-0142",
		"941-555-8830",
		"305-555-2217",
		"786-555-9604",
	}
	score := EntropyScore(values)
	assert.GreaterOrEqual(t, score, PoisonThreshold, "distinct realistic values must pass")
}

func TestEntropyScoreEmptySet(t *testing.T) {
	t.Parallel()

	assert.Zero(t, EntropyScore(nil))
}
