package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleads/chimera/internal/mission"
)

// fakeClock lets tests jump forward past the retention window.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreCreateAndPatch(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clk)
	m := mission.Mission{ID: "m-1", Lead: mission.Lead{Name: "John Doe", Location: "Naples, FL"}}
	require.NoError(t, store.Create(context.Background(), m))

	require.NoError(t, store.Patch(context.Background(), "m-1", mission.StatusPatch{
		Status:  mission.StatusPtr(mission.StatusProcessing),
		Carrier: mission.StringPtr("T-Mobile"),
	}))

	rec, err := store.Get(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, mission.StatusProcessing, rec.Status)
	assert.Equal(t, "John Doe", rec.Name)
	assert.Equal(t, "T-Mobile", rec.Carrier)
}

func TestMemoryStorePatchMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(&fakeClock{now: time.Now()})
	err := store.Patch(context.Background(), "ghost", mission.StatusPatch{})
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestMemoryStoreExpiresAfterRetention(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clk)
	require.NoError(t, store.Create(context.Background(), mission.Mission{ID: "m-2"}))

	clk.Advance(mission.StatusRetention + time.Minute)
	_, err := store.Get(context.Background(), "m-2")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestMemoryStorePatchResetsTTL(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clk)
	require.NoError(t, store.Create(context.Background(), mission.Mission{ID: "m-3"}))

	clk.Advance(23 * time.Hour)
	require.NoError(t, store.Patch(context.Background(), "m-3", mission.StatusPatch{
		DecisionSteps: []string{"navigating"},
	}))

	clk.Advance(23 * time.Hour) // past original expiry, within refreshed window
	rec, err := store.Get(context.Background(), "m-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"navigating"}, rec.DecisionTrace)
}
