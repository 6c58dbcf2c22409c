// Package sinks contains the telemetry sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/telemetry"
)

// LogSink emits structured logs for the telemetry stream. It is useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("mission_id", evt.MissionID),
			zap.String("kind", string(evt.Kind)),
			zap.String("provider", evt.Provider),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Trauma != nil {
			fields = append(fields, zap.String("trauma", string(evt.Trauma.Code)))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", string(evt.Status)))
		}
		if evt.Intent != "" {
			fields = append(fields, zap.String("intent", evt.Intent))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("telemetry event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
