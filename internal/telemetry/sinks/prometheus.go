package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxleads/chimera/internal/telemetry"
)

// PrometheusSink exports mission telemetry via Prometheus. It owns the
// collectors for mission throughput, vision oracle usage, selector repairs,
// and trauma signals.
type PrometheusSink struct {
	missionsStarted   *prometheus.CounterVec
	missionsCompleted *prometheus.CounterVec
	missionsRunning   prometheus.Gauge
	missionRuntime    *prometheus.HistogramVec

	visionCalls *prometheus.HistogramVec
	repairs     *prometheus.CounterVec
	traumas     *prometheus.CounterVec

	tracker *missionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		missionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimera_missions_started_total",
			Help: "Missions accepted by workers partitioned by provider.",
		}, []string{"provider"}),
		missionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimera_missions_completed_total",
			Help: "Missions finished partitioned by provider and status.",
		}, []string{"provider", "status"}),
		missionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chimera_missions_running",
			Help: "Missions currently executing.",
		}),
		missionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chimera_mission_runtime_seconds",
			Help:    "Wall time per completed mission.",
			Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 180},
		}, []string{"provider", "status"}),
		visionCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chimera_vision_confidence",
			Help:    "Vision oracle grounding confidence per intent.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1},
		}, []string{"intent"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimera_selector_repairs_total",
			Help: "Self-healing selector repairs partitioned by provider and intent.",
		}, []string{"provider", "intent"}),
		traumas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimera_trauma_signals_total",
			Help: "Trauma signals partitioned by code.",
		}, []string{"code"}),
		tracker: newMissionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.missionsStarted,
		s.missionsCompleted,
		s.missionsRunning,
		s.missionRuntime,
		s.visionCalls,
		s.repairs,
		s.traumas,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case telemetry.KindMissionStart:
			if s.tracker.start(evt.MissionID) {
				s.missionsStarted.WithLabelValues(evt.Provider).Inc()
				s.missionsRunning.Inc()
			}
		case telemetry.KindMissionDone:
			if s.tracker.finish(evt.MissionID) {
				s.missionsRunning.Dec()
			}
			status := string(evt.Status)
			s.missionsCompleted.WithLabelValues(evt.Provider, status).Inc()
			if evt.Dur > 0 {
				s.missionRuntime.WithLabelValues(evt.Provider, status).Observe(evt.Dur.Seconds())
			}
		case telemetry.KindVisionCall:
			s.visionCalls.WithLabelValues(evt.Intent).Observe(evt.Confidence)
		case telemetry.KindRepair:
			s.repairs.WithLabelValues(evt.Provider, evt.Intent).Inc()
		case telemetry.KindTrauma:
			if evt.Trauma != nil {
				s.traumas.WithLabelValues(string(evt.Trauma.Code)).Inc()
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// missionTracker deduplicates start/done transitions so the running gauge
// stays correct when an event is delivered twice.
type missionTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newMissionTracker() *missionTracker {
	return &missionTracker{running: make(map[string]time.Time)}
}

func (t *missionTracker) start(missionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[missionID]; ok {
		return false
	}
	t.running[missionID] = time.Now()
	return true
}

func (t *missionTracker) finish(missionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[missionID]; !ok {
		return false
	}
	delete(t.running, missionID)
	return true
}
