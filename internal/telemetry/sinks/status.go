package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/telemetry"
)

// StatusSink merges telemetry into the mission status store. Workers never
// write status records directly; every update flows through the hub so the
// hot path stays non-blocking.
type StatusSink struct {
	store  mission.StatusStore
	logger *zap.Logger
}

// NewStatusSink constructs a StatusSink over the store.
func NewStatusSink(store mission.StatusStore, logger *zap.Logger) *StatusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusSink{store: store, logger: logger}
}

// Consume folds each event into a status patch and applies it. Events for
// records that already expired are dropped, not retried: the retention window
// has spoken.
func (s *StatusSink) Consume(ctx context.Context, batch []telemetry.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		patch, ok := toPatch(evt)
		if !ok {
			continue
		}
		if err := s.store.Patch(ctx, evt.MissionID, patch); err != nil {
			if errors.Is(err, mission.ErrNotFound) {
				s.logger.Debug("status record gone, dropping event",
					zap.String("mission_id", evt.MissionID))
				continue
			}
			return fmt.Errorf("patch status %s: %w", evt.MissionID, err)
		}
	}
	return nil
}

func toPatch(evt telemetry.Event) (mission.StatusPatch, bool) {
	switch evt.Kind {
	case telemetry.KindStatusPatch:
		if evt.Patch == nil {
			return mission.StatusPatch{}, false
		}
		return *evt.Patch, true
	case telemetry.KindTrauma:
		if evt.Trauma == nil {
			return mission.StatusPatch{}, false
		}
		return mission.StatusPatch{TraumaSignals: []mission.TraumaSignal{*evt.Trauma}}, true
	case telemetry.KindMissionDone:
		return mission.StatusPatch{Status: mission.StatusPtr(evt.Status)}, true
	default:
		return mission.StatusPatch{}, false
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
