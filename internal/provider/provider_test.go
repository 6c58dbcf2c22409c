package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleads/chimera/internal/mission"
)

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	p, err := reg.Get("truepeoplesearch")
	require.NoError(t, err)
	assert.Equal(t, "truepeoplesearch.com", p.Domain)
	assert.Equal(t, 90*time.Second, p.Budget)

	_, err = reg.Get("nosuchsite")
	assert.Error(t, err)
}

func TestRouteExplicitTarget(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	p, err := reg.Route("fastpeoplesearch")
	require.NoError(t, err)
	assert.Equal(t, "fastpeoplesearch", p.Name)

	_, err = reg.Route("nosuchsite")
	assert.Error(t, err)
}

func TestRouteAnyRotates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	names := reg.Names()
	require.Len(t, names, 2)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		p, err := reg.Route(mission.ProviderAny)
		require.NoError(t, err)
		seen[p.Name]++
	}
	assert.Equal(t, 2, seen[names[0]])
	assert.Equal(t, 2, seen[names[1]])
}

func TestSearchURLTruePeopleSearch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	p, err := reg.Get("truepeoplesearch")
	require.NoError(t, err)

	got := p.SearchURL(mission.Lead{Name: "John Doe", Location: "Naples, FL"})
	assert.Contains(t, got, "truepeoplesearch.com/results?")
	assert.Contains(t, got, "name=John+Doe")
	assert.Contains(t, got, "citystatezip=Naples%2C+FL")
}

func TestSearchURLFastPeopleSearch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	p, err := reg.Get("fastpeoplesearch")
	require.NoError(t, err)

	got := p.SearchURL(mission.Lead{Name: "John Doe", City: "Naples", State: "FL"})
	assert.Equal(t, "https://www.fastpeoplesearch.com/name/john-doe_naples-fl", got)
}

func TestProviderWaitHonorsContext(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0.001) // effectively one admission per long while
	p, err := reg.Get("truepeoplesearch")
	require.NoError(t, err)

	// First admission consumes the burst token.
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx))
}
