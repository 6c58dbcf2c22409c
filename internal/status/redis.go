package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxleads/chimera/internal/mission"
)

const keyPrefix = "chimera:mission:"

// RedisStore keeps status records as per-mission hashes with a TTL that
// resets on every patch. Field names match the wire shape the dashboard and
// pipeline read directly.
type RedisStore struct {
	rdb       redis.UniversalClient
	clock     mission.Clock
	retention time.Duration
}

// NewRedisStore constructs a RedisStore with the default retention.
func NewRedisStore(rdb redis.UniversalClient, clock mission.Clock) *RedisStore {
	return &RedisStore{rdb: rdb, clock: clock, retention: mission.StatusRetention}
}

// Create initializes the hash for a freshly enqueued mission.
func (s *RedisStore) Create(ctx context.Context, m mission.Mission) error {
	now := s.clock.Now()
	key := keyPrefix + m.ID
	fields := map[string]any{
		"status":      string(mission.StatusQueued),
		"name":        m.Lead.Name,
		"location":    m.Lead.Location,
		"last_update": now.Format(time.RFC3339Nano),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create status %s: %w", m.ID, err)
	}
	return nil
}

// Patch merges p into the hash. Only fields present in the patch are
// written; trauma signals and decision steps append to their JSON arrays.
// The TTL resets on every patch.
func (s *RedisStore) Patch(ctx context.Context, missionID string, p mission.StatusPatch) error {
	now := s.clock.Now()
	key := keyPrefix + missionID

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("patch status %s: %w", missionID, err)
	}
	if exists == 0 {
		return mission.ErrNotFound
	}

	fields := map[string]any{
		"last_update": now.Format(time.RFC3339Nano),
	}
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Location != nil {
		fields["location"] = *p.Location
	}
	if p.Carrier != nil {
		fields["carrier"] = *p.Carrier
	}
	if p.ScreenshotURL != nil {
		fields["screenshot_url"] = *p.ScreenshotURL
	}
	if p.VisionConfidence != nil {
		fields["vision_confidence"] = strconv.FormatFloat(*p.VisionConfidence, 'f', -1, 64)
	}
	if p.FallbackTriggered != nil {
		fields["fallback_triggered"] = strconv.FormatBool(*p.FallbackTriggered)
	}
	if p.MappingRequired != nil {
		fields["mapping_required"] = strconv.FormatBool(*p.MappingRequired)
	}
	if p.CoordinateDrift != nil {
		data, err := json.Marshal(p.CoordinateDrift)
		if err != nil {
			return fmt.Errorf("marshal coordinate drift: %w", err)
		}
		fields["coordinate_drift"] = string(data)
	}
	if p.Fingerprint != nil {
		data, err := json.Marshal(p.Fingerprint)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		fields["fingerprint"] = string(data)
	}
	if len(p.TraumaSignals) > 0 {
		merged, err := appendJSONField(ctx, s.rdb, key, "trauma_signals", p.TraumaSignals)
		if err != nil {
			return err
		}
		fields["trauma_signals"] = merged
	}
	if len(p.DecisionSteps) > 0 {
		merged, err := appendJSONField(ctx, s.rdb, key, "decision_trace", p.DecisionSteps)
		if err != nil {
			return err
		}
		fields["decision_trace"] = merged
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("patch status %s: %w", missionID, err)
	}
	return nil
}

// Get loads the hash back into a StatusRecord.
func (s *RedisStore) Get(ctx context.Context, missionID string) (mission.StatusRecord, error) {
	key := keyPrefix + missionID
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return mission.StatusRecord{}, fmt.Errorf("get status %s: %w", missionID, err)
	}
	if len(raw) == 0 {
		return mission.StatusRecord{}, mission.ErrNotFound
	}

	rec := mission.StatusRecord{
		MissionID: missionID,
		Status:    mission.Status(raw["status"]),
		Name:      raw["name"],
		Location:  raw["location"],
		Carrier:   raw["carrier"],
	}
	rec.ScreenshotURL = raw["screenshot_url"]
	if v := raw["vision_confidence"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.VisionConfidence = f
		}
	}
	rec.FallbackTriggered = raw["fallback_triggered"] == "true"
	rec.MappingRequired = raw["mapping_required"] == "true"
	if v := raw["last_update"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.LastUpdate = ts
		}
	}
	if v := raw["trauma_signals"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.TraumaSignals); err != nil {
			return mission.StatusRecord{}, fmt.Errorf("unmarshal trauma signals: %w", err)
		}
	}
	if v := raw["decision_trace"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.DecisionTrace); err != nil {
			return mission.StatusRecord{}, fmt.Errorf("unmarshal decision trace: %w", err)
		}
	}
	if v := raw["coordinate_drift"]; v != "" {
		var drift mission.CoordinateDrift
		if err := json.Unmarshal([]byte(v), &drift); err != nil {
			return mission.StatusRecord{}, fmt.Errorf("unmarshal coordinate drift: %w", err)
		}
		rec.CoordinateDrift = &drift
	}
	if v := raw["fingerprint"]; v != "" {
		var fp mission.Fingerprint
		if err := json.Unmarshal([]byte(v), &fp); err != nil {
			return mission.StatusRecord{}, fmt.Errorf("unmarshal fingerprint: %w", err)
		}
		rec.Fingerprint = &fp
	}
	return rec, nil
}

// appendJSONField merges new items into an existing JSON array field. Only
// the holding worker and the telemetry sink mutate a record, so
// read-modify-write is safe here.
func appendJSONField[T any](ctx context.Context, rdb redis.UniversalClient, key, field string, items []T) (string, error) {
	var existing []T
	prev, err := rdb.HGet(ctx, key, field).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	if prev != "" {
		if err := json.Unmarshal([]byte(prev), &existing); err != nil {
			return "", fmt.Errorf("unmarshal %s: %w", field, err)
		}
	}
	existing = append(existing, items...)
	data, err := json.Marshal(existing)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", field, err)
	}
	return string(data), nil
}
