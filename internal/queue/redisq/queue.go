// Package redisq implements the durable mission queue on Redis. Key names
// follow the wire protocol consumed by the pipeline orchestrator:
// missions ride a list, results ride per-mission lists with a bounded TTL,
// and exhausted missions land on a dead-letter list.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxleads/chimera/internal/mission"
)

const (
	missionsKey  = "chimera:missions"
	deadKey      = "chimera:missions:dead"
	resultKeyFmt = "chimera:results:%s"
)

// Queue is a Redis-backed mission queue. BRPOP gives atomic dequeue across
// any number of consumers without coordination.
type Queue struct {
	rdb       redis.UniversalClient
	resultTTL time.Duration
}

// New constructs a Queue on the provided client. resultTTL bounds unread
// result retention.
func New(rdb redis.UniversalClient, resultTTL time.Duration) *Queue {
	if resultTTL <= 0 {
		resultTTL = 10 * time.Minute
	}
	return &Queue{rdb: rdb, resultTTL: resultTTL}
}

// Ping verifies the queue is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", mission.ErrQueueUnavailable, err)
	}
	return nil
}

// Enqueue appends the mission to the FIFO.
func (q *Queue) Enqueue(ctx context.Context, m mission.Mission) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mission: %w", err)
	}
	if err := q.rdb.LPush(ctx, missionsKey, data).Err(); err != nil {
		return fmt.Errorf("%w: lpush: %v", mission.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue blocks up to wait for the oldest mission. BRPOP pops atomically:
// no two consumers can receive the same mission.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (mission.Mission, error) {
	res, err := q.rdb.BRPop(ctx, wait, missionsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mission.Mission{}, mission.ErrQueueEmpty
		}
		if ctx.Err() != nil {
			return mission.Mission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return mission.Mission{}, fmt.Errorf("%w: brpop: %v", mission.ErrQueueUnavailable, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return mission.Mission{}, fmt.Errorf("unexpected brpop reply of length %d", len(res))
	}
	var m mission.Mission
	if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
		return mission.Mission{}, fmt.Errorf("unmarshal mission: %w", err)
	}
	return m, nil
}

type deadEnvelope struct {
	Mission mission.Mission `json:"mission"`
	Reason  string          `json:"reason"`
	At      time.Time       `json:"at"`
}

// DeadLetter parks a mission that exhausted its delivery attempts, bounding
// retry amplification.
func (q *Queue) DeadLetter(ctx context.Context, m mission.Mission, reason string) error {
	data, err := json.Marshal(deadEnvelope{Mission: m, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.rdb.LPush(ctx, deadKey, data).Err(); err != nil {
		return fmt.Errorf("%w: dead letter lpush: %v", mission.ErrQueueUnavailable, err)
	}
	return nil
}

// PublishResult delivers the result on the mission's channel with the
// retention TTL. The first reader consumes it.
func (q *Queue) PublishResult(ctx context.Context, r mission.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := fmt.Sprintf(resultKeyFmt, r.MissionID)
	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, q.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: publish result: %v", mission.ErrQueueUnavailable, err)
	}
	return nil
}

// AwaitResult blocks up to wait for the mission's result.
func (q *Queue) AwaitResult(ctx context.Context, missionID string, wait time.Duration) (mission.Result, error) {
	key := fmt.Sprintf(resultKeyFmt, missionID)
	res, err := q.rdb.BLPop(ctx, wait, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return mission.Result{}, mission.ErrResultExpired
		}
		if ctx.Err() != nil {
			return mission.Result{}, fmt.Errorf("await result canceled: %w", ctx.Err())
		}
		return mission.Result{}, fmt.Errorf("%w: blpop: %v", mission.ErrQueueUnavailable, err)
	}
	if len(res) != 2 {
		return mission.Result{}, fmt.Errorf("unexpected blpop reply of length %d", len(res))
	}
	var r mission.Result
	if err := json.Unmarshal([]byte(res[1]), &r); err != nil {
		return mission.Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return r, nil
}
