// Package dispatcher is the producer-side facade over the mission queue and
// the runner for the worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/worker"
)

// Config controls dispatch behavior.
type Config struct {
	// AwaitTimeout is the default end-to-end deadline a caller waits for a
	// result.
	AwaitTimeout time.Duration
	// MaxAttempts bounds automatic re-dispatch of retryable failures.
	MaxAttempts int
}

// Dispatcher enqueues missions and blocks on their results. It tolerates
// at-least-once delivery: a missing result by the deadline is a timeout, not
// a hang.
type Dispatcher struct {
	cfg    Config
	queue  mission.Queue
	status mission.StatusStore
	ids    mission.IDGenerator
	clock  mission.Clock
	logger *zap.Logger
}

// New constructs a Dispatcher.
func New(cfg Config, queue mission.Queue, status mission.StatusStore, ids mission.IDGenerator, clock mission.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, queue: queue, status: status, ids: ids, clock: clock, logger: logger}
}

// Dispatch assigns the mission an id, seeds its status record, and enqueues
// it exactly once. It returns the mission id.
func (d *Dispatcher) Dispatch(ctx context.Context, m mission.Mission) (string, error) {
	if m.ID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("mint mission id: %w", err)
		}
		m.ID = id
	}
	if m.Type == "" {
		m.Type = mission.TypeEnrichment
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.clock.Now()
	}
	if err := d.status.Create(ctx, m); err != nil {
		return "", fmt.Errorf("create status record: %w", err)
	}
	if err := d.queue.Enqueue(ctx, m); err != nil {
		return "", fmt.Errorf("enqueue mission: %w", err)
	}
	d.logger.Debug("mission dispatched",
		zap.String("mission_id", m.ID),
		zap.String("provider", m.TargetProvider),
		zap.Int("attempt", m.Attempt),
	)
	return m.ID, nil
}

// Await blocks until the mission's result arrives or the deadline passes.
// A missing result is reported as a timeout failure, never an open wait.
func (d *Dispatcher) Await(ctx context.Context, missionID string, deadline time.Duration) (mission.Result, error) {
	if deadline <= 0 {
		deadline = d.cfg.AwaitTimeout
	}
	result, err := d.queue.AwaitResult(ctx, missionID, deadline)
	if err != nil {
		if errors.Is(err, mission.ErrResultExpired) || errors.Is(err, context.DeadlineExceeded) {
			return mission.Result{
				MissionID:   missionID,
				Status:      mission.StatusTimeout,
				FailureCode: mission.TraumaTimeout,
				Error:       fmt.Sprintf("no result within %s", deadline),
				CompletedAt: d.clock.Now(),
			}, nil
		}
		return mission.Result{}, fmt.Errorf("await result %s: %w", missionID, err)
	}
	return result, nil
}

// RoundTrip dispatches a mission and waits for a usable outcome, re-issuing
// retryable failures as fresh mission attempts up to the attempt budget.
func (d *Dispatcher) RoundTrip(ctx context.Context, m mission.Mission) (mission.Result, error) {
	var last mission.Result
	for attempt := m.Attempt; attempt < d.cfg.MaxAttempts; attempt++ {
		next := m
		next.ID = ""
		next.Attempt = attempt
		id, err := d.Dispatch(ctx, next)
		if err != nil {
			return mission.Result{}, err
		}
		last, err = d.Await(ctx, id, 0)
		if err != nil {
			return mission.Result{}, err
		}
		if last.Succeeded() || !retryable(last.FailureCode) {
			return last, nil
		}
		d.logger.Info("retrying mission as a fresh attempt",
			zap.String("mission_id", id),
			zap.String("failure", string(last.FailureCode)),
			zap.Int("next_attempt", attempt+1),
		)
	}
	return last, nil
}

// retryable reports whether a failure is worth a fresh mission attempt.
// Trust-gate and mapping failures will fail identically until an operator
// intervenes.
func retryable(code mission.TraumaCode) bool {
	switch code {
	case mission.TraumaTimeout, mission.TraumaCaptchaFailure, mission.TraumaCaptchaDetected, mission.TraumaSessionBroken:
		return true
	}
	return false
}

// Pool runs N workers until the context is canceled.
type Pool struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// NewPool builds size workers with the factory, which receives each worker's
// id.
func NewPool(size int, factory func(workerID string) *worker.Worker, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, size)
	for i := range workers {
		workers[i] = factory(fmt.Sprintf("worker-%d", i))
	}
	return &Pool{workers: workers, logger: logger}
}

// Run blocks until every worker exits. Workers only return on context
// cancellation, so the first error cancels the rest via the errgroup.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
	return g.Wait()
}
