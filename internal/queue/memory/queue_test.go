package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleads/chimera/internal/mission"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	m := mission.Mission{ID: "m-1", Type: mission.TypeEnrichment}
	require.NoError(t, q.Enqueue(context.Background(), m))

	got, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)
}

func TestQueueDequeueEmptyTimesOut(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, mission.ErrQueueEmpty)
}

// TestQueueNoDoubleDequeue hammers the queue with concurrent consumers and
// verifies every mission is delivered to exactly one of them.
func TestQueueNoDoubleDequeue(t *testing.T) {
	t.Parallel()

	const (
		missions  = 200
		consumers = 8
	)
	q := NewQueue(missions, time.Minute)
	for i := 0; i < missions; i++ {
		require.NoError(t, q.Enqueue(context.Background(), mission.Mission{ID: newID(i)}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Dequeue(context.Background(), 50*time.Millisecond)
				if errors.Is(err, mission.ErrQueueEmpty) {
					return
				}
				require.NoError(t, err)
				mu.Lock()
				seen[m.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, missions)
	for id, count := range seen {
		assert.Equal(t, 1, count, "mission %s dequeued %d times", id, count)
	}
}

func TestQueuePublishAwaitResult(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	r := mission.Result{MissionID: "m-9", Status: mission.StatusCompleted}
	require.NoError(t, q.PublishResult(context.Background(), r))

	got, err := q.AwaitResult(context.Background(), "m-9", time.Second)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCompleted, got.Status)
}

func TestQueueAwaitResultBeforePublish(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	done := make(chan mission.Result, 1)
	go func() {
		r, err := q.AwaitResult(context.Background(), "m-10", time.Second)
		if err == nil {
			done <- r
		}
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter park first
	require.NoError(t, q.PublishResult(context.Background(), mission.Result{
		MissionID: "m-10",
		Status:    mission.StatusFailed,
	}))

	select {
	case r := <-done:
		assert.Equal(t, mission.StatusFailed, r.Status)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the result")
	}
}

func TestQueueAwaitResultExpires(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	_, err := q.AwaitResult(context.Background(), "missing", 20*time.Millisecond)
	assert.ErrorIs(t, err, mission.ErrResultExpired)
}

// TestQueueAwaitResultReleasesChannelOnTimeout verifies the per-mission
// channel map does not accumulate entries for missions whose results never
// arrive.
func TestQueueAwaitResultReleasesChannelOnTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	for i := 0; i < 5; i++ {
		_, err := q.AwaitResult(context.Background(), newID(i), time.Millisecond)
		require.ErrorIs(t, err, mission.ErrResultExpired)
	}

	q.mu.Lock()
	remaining := len(q.results)
	q.mu.Unlock()
	assert.Zero(t, remaining, "timed-out waits must not leak channels")
}

func TestQueueAwaitResultReleasesChannelOnCancel(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.AwaitResult(ctx, "m-canceled", time.Second)
	require.ErrorIs(t, err, context.Canceled)

	q.mu.Lock()
	remaining := len(q.results)
	q.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestQueueDeadLetter(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Minute)
	m := mission.Mission{ID: "m-dead", Attempt: 3}
	require.NoError(t, q.DeadLetter(context.Background(), m, "attempts exhausted"))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "m-dead", dead[0].Mission.ID)
	assert.Equal(t, "attempts exhausted", dead[0].Reason)
}

func newID(i int) string {
	return fmt.Sprintf("m-%d", i)
}
