package browser

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewChromeDefaults(t *testing.T) {
	t.Parallel()

	c := NewChrome(Config{MaxSessions: 3}, zap.NewNop())
	assert.Equal(t, 45*time.Second, c.cfg.NavigationTimeout)
	assert.Equal(t, 3, cap(c.sem))

	unbounded := NewChrome(Config{}, nil)
	assert.Nil(t, unbounded.sem)
}

func TestAcquireSlotBlocksAtCapacity(t *testing.T) {
	t.Parallel()

	c := NewChrome(Config{MaxSessions: 1}, zap.NewNop())
	release, err := c.acquireSlot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.acquireSlot(ctx)
	assert.Error(t, err, "second acquire must block until the slot frees")

	release()
	release() // double release must not free an extra slot
	again, err := c.acquireSlot(context.Background())
	require.NoError(t, err)
	again()
}

func TestKeystrokeDelayRange(t *testing.T) {
	t.Parallel()

	s := &session{rng: rand.New(rand.NewSource(1))}
	for i := 0; i < 100; i++ {
		d := s.keystrokeDelay()
		assert.GreaterOrEqual(t, d, 40*time.Millisecond)
		assert.Less(t, d, 160*time.Millisecond)
	}
}

func TestForwardCancelPropagates(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}
