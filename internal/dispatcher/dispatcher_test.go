package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
	queuemem "github.com/voxleads/chimera/internal/queue/memory"
	"github.com/voxleads/chimera/internal/status"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("m-%d", g.next), nil
}

func newDispatcher(t *testing.T, cfg Config) (*Dispatcher, *queuemem.Queue, *status.MemoryStore) {
	t.Helper()
	clock := fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	q := queuemem.NewQueue(16, time.Minute)
	t.Cleanup(q.Close)
	st := status.NewMemoryStore(clock)
	return New(cfg, q, st, &seqIDs{}, clock, zap.NewNop()), q, st
}

func TestDispatchSeedsStatusAndEnqueues(t *testing.T) {
	t.Parallel()

	d, q, st := newDispatcher(t, Config{})
	id, err := d.Dispatch(context.Background(), mission.Mission{
		Lead:           mission.Lead{Name: "John Doe", Location: "Naples, FL"},
		TargetProvider: "any",
	})
	require.NoError(t, err)
	require.Equal(t, "m-1", id)

	rec, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusQueued, rec.Status)
	assert.Equal(t, "John Doe", rec.Name)

	m, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, mission.TypeEnrichment, m.Type)
}

func TestAwaitDeliversPublishedResult(t *testing.T) {
	t.Parallel()

	d, q, _ := newDispatcher(t, Config{})
	id, err := d.Dispatch(context.Background(), mission.Mission{Lead: mission.Lead{Name: "A"}})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.PublishResult(context.Background(), mission.Result{
			MissionID: id,
			Status:    mission.StatusCompleted,
			Fields:    map[string]string{mission.FieldPhone: "(239) 555-0142"},
		})
	}()

	result, err := d.Await(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "(239) 555-0142", result.Fields[mission.FieldPhone])
}

func TestAwaitTimesOutAsTypedFailure(t *testing.T) {
	t.Parallel()

	d, _, _ := newDispatcher(t, Config{})
	result, err := d.Await(context.Background(), "never-published", 30*time.Millisecond)
	require.NoError(t, err, "a missing result is an outcome, not an error")
	assert.Equal(t, mission.StatusTimeout, result.Status)
	assert.Equal(t, mission.TraumaTimeout, result.FailureCode)
}

func TestRoundTripRetriesRetryableFailures(t *testing.T) {
	t.Parallel()

	d, q, _ := newDispatcher(t, Config{AwaitTimeout: time.Second, MaxAttempts: 3})

	// Simulated worker: first attempt hits a captcha, second succeeds.
	go func() {
		for i := 0; i < 2; i++ {
			m, err := q.Dequeue(context.Background(), time.Second)
			if err != nil {
				return
			}
			result := mission.Result{MissionID: m.ID, Status: mission.StatusCompleted}
			if m.Attempt == 0 {
				result = mission.Result{
					MissionID:   m.ID,
					Status:      mission.StatusCaptchaFailure,
					FailureCode: mission.TraumaCaptchaFailure,
				}
			}
			_ = q.PublishResult(context.Background(), result)
		}
	}()

	result, err := d.RoundTrip(context.Background(), mission.Mission{Lead: mission.Lead{Name: "A"}})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCompleted, result.Status)
}

func TestRoundTripStopsOnNonRetryableFailure(t *testing.T) {
	t.Parallel()

	d, q, _ := newDispatcher(t, Config{AwaitTimeout: time.Second, MaxAttempts: 3})

	dequeues := make(chan string, 4)
	go func() {
		for {
			m, err := q.Dequeue(context.Background(), 200*time.Millisecond)
			if err != nil {
				close(dequeues)
				return
			}
			dequeues <- m.ID
			_ = q.PublishResult(context.Background(), mission.Result{
				MissionID:   m.ID,
				Status:      mission.StatusFailed,
				FailureCode: mission.TraumaNeedsMapping,
			})
		}
	}()

	result, err := d.RoundTrip(context.Background(), mission.Mission{Lead: mission.Lead{Name: "A"}})
	require.NoError(t, err)
	assert.Equal(t, mission.TraumaNeedsMapping, result.FailureCode)

	var count int
	for range dequeues {
		count++
	}
	assert.Equal(t, 1, count, "mapping failures must not be re-dispatched")
}

func TestRetryableCodes(t *testing.T) {
	t.Parallel()

	assert.True(t, retryable(mission.TraumaTimeout))
	assert.True(t, retryable(mission.TraumaCaptchaFailure))
	assert.True(t, retryable(mission.TraumaCaptchaDetected))
	assert.True(t, retryable(mission.TraumaSessionBroken))

	assert.False(t, retryable(mission.TraumaNeedsMapping))
	assert.False(t, retryable(mission.TraumaPoisonedResult))
	assert.False(t, retryable(mission.TraumaAttemptsExhausted),
		"a dead-lettered mission must never invite a fresh dispatch")
}
