// Package memory provides queue implementations for local development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxleads/chimera/internal/mission"
)

// DeadLetter records a mission parked after exhausting delivery attempts.
type DeadLetter struct {
	Mission mission.Mission
	Reason  string
	At      time.Time
}

// Queue is a bounded in-memory mission queue with per-mission result
// channels. Dequeue is atomic across consumers because delivery rides a
// single Go channel.
type Queue struct {
	ch        chan mission.Mission
	resultTTL time.Duration

	mu      sync.Mutex
	results map[string]chan mission.Result
	dead    []DeadLetter
	closed  bool
}

// NewQueue constructs a queue with the provided capacity. resultTTL bounds
// how long an unread result is retained.
func NewQueue(capacity int, resultTTL time.Duration) *Queue {
	if resultTTL <= 0 {
		resultTTL = 10 * time.Minute
	}
	return &Queue{
		ch:        make(chan mission.Mission, capacity),
		resultTTL: resultTTL,
		results:   make(map[string]chan mission.Result),
	}
}

// Enqueue pushes a mission into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, m mission.Mission) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- m:
		return nil
	}
}

// Dequeue pops the oldest mission, blocking up to wait. It returns
// mission.ErrQueueEmpty when nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (mission.Mission, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return mission.Mission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-timer.C:
		return mission.Mission{}, mission.ErrQueueEmpty
	case m, ok := <-q.ch:
		if !ok {
			return mission.Mission{}, errors.New("queue closed")
		}
		return m, nil
	}
}

// DeadLetter parks a mission instead of requeueing it indefinitely.
func (q *Queue) DeadLetter(_ context.Context, m mission.Mission, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Mission: m, Reason: reason, At: time.Now().UTC()})
	return nil
}

// DeadLetters returns a copy of the parked missions.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// PublishResult delivers a result to the mission's channel. The first reader
// or the TTL consumes it.
func (q *Queue) PublishResult(_ context.Context, r mission.Result) error {
	ch := q.resultChan(r.MissionID)
	select {
	case ch <- r:
	default:
		return fmt.Errorf("result for mission %s already published", r.MissionID)
	}
	go q.expireResult(r.MissionID, ch)
	return nil
}

// AwaitResult blocks up to wait for the mission's result. The channel entry
// is dropped on every exit path; a result racing in just before a timeout is
// drained by its TTL goroutine.
func (q *Queue) AwaitResult(ctx context.Context, missionID string, wait time.Duration) (mission.Result, error) {
	ch := q.resultChan(missionID)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	defer q.dropResultChan(missionID)

	select {
	case <-ctx.Done():
		return mission.Result{}, fmt.Errorf("await result canceled: %w", ctx.Err())
	case <-timer.C:
		return mission.Result{}, mission.ErrResultExpired
	case r := <-ch:
		return r, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

func (q *Queue) resultChan(missionID string) chan mission.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.results[missionID]
	if !ok {
		ch = make(chan mission.Result, 1)
		q.results[missionID] = ch
	}
	return ch
}

func (q *Queue) dropResultChan(missionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.results, missionID)
}

func (q *Queue) expireResult(missionID string, ch chan mission.Result) {
	timer := time.NewTimer(q.resultTTL)
	defer timer.Stop()
	<-timer.C

	select {
	case <-ch:
		q.dropResultChan(missionID)
	default:
		// Already consumed by a reader.
	}
}
