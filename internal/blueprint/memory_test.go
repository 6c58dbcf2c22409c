package blueprint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleads/chimera/internal/mission"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testStore() *MemoryStore {
	return NewMemoryStore(fixedClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)})
}

func TestMemoryStoreCommitAndGet(t *testing.T) {
	t.Parallel()

	store := testStore()
	bp := mission.Blueprint{
		Domain:     "truepeoplesearch.com",
		Selectors:  map[string]string{mission.IntentNameInput: "#id-d-n"},
		Confidence: 0.9,
	}
	require.NoError(t, store.Commit(context.Background(), bp))

	got, err := store.Get(context.Background(), "truepeoplesearch.com")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)

	sel, ok := got.Selector(mission.IntentNameInput)
	require.True(t, ok)
	assert.Equal(t, "#id-d-n", sel)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := testStore()
	_, err := store.Get(context.Background(), "unknown.example")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestMemoryStoreCommitClearsMappingRequired(t *testing.T) {
	t.Parallel()

	store := testStore()
	require.NoError(t, store.MarkMappingRequired(context.Background(), "fastpeoplesearch.com"))

	domains, err := store.MappingRequired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fastpeoplesearch.com"}, domains)

	require.NoError(t, store.Commit(context.Background(), mission.Blueprint{
		Domain:     "fastpeoplesearch.com",
		Selectors:  map[string]string{mission.IntentNameInput: "input[name=q]"},
		Confidence: 0.8,
	}))

	domains, err = store.MappingRequired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, domains)
}

func TestMemoryStoreRecordRepairDecaysConfidence(t *testing.T) {
	t.Parallel()

	store := testStore()
	require.NoError(t, store.Commit(context.Background(), mission.Blueprint{
		Domain:     "truepeoplesearch.com",
		Selectors:  map[string]string{mission.IntentPhoneField: ".phone"},
		Confidence: 0.9,
	}))

	require.NoError(t, store.RecordRepair(context.Background(), mission.SelectorRepair{
		Domain:           "truepeoplesearch.com",
		Intent:           mission.IntentPhoneField,
		OriginalSelector: ".phone",
		NewSelector:      "span[itemprop=telephone]",
		Confidence:       0.88,
	}))

	got, err := store.Get(context.Background(), "truepeoplesearch.com")
	require.NoError(t, err)
	assert.InDelta(t, 0.9*DecayFactor, got.Confidence, 1e-9)
	assert.Equal(t, 1, got.RepairCount)

	sel, ok := got.Selector(mission.IntentPhoneField)
	require.True(t, ok)
	assert.Equal(t, "span[itemprop=telephone]", sel, "repair swaps the selector in")

	repairs := store.Repairs()
	require.Len(t, repairs, 1)
	assert.Equal(t, ".phone", repairs[0].OriginalSelector)
}

func TestDecayBoundedBelow(t *testing.T) {
	t.Parallel()

	c := 0.5
	for i := 0; i < 50; i++ {
		c = Decay(c)
	}
	assert.Equal(t, ConfidenceFloor, c)
}
