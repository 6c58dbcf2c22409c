// Package api exposes the control-plane HTTP interface: mission submission,
// status reads, telemetry ingress, and blueprint administration.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/dispatcher"
	"github.com/voxleads/chimera/internal/mission"
)

// Config controls the HTTP surface.
type Config struct {
	RequestTimeout time.Duration
	// APIKey enables key auth on every route except health and metrics
	// when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	dispatcher *dispatcher.Dispatcher
	status     mission.StatusStore
	blueprints mission.BlueprintStore
	queue      mission.Queue
	logger     *zap.Logger
	cfg        Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	d *dispatcher.Dispatcher,
	status mission.StatusStore,
	blueprints mission.BlueprintStore,
	queue mission.Queue,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dispatcher: d,
		status:     status,
		blueprints: blueprints,
		queue:      queue,
		logger:     logger,
		cfg:        cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}

		r.Route("/v1", func(r chi.Router) {
			r.Route("/missions", func(r chi.Router) {
				r.Post("/", s.submitMission)
				r.Get("/{mission_id}/status", s.getMissionStatus)
			})
			r.Post("/telemetry", s.ingestTelemetry)
		})
		r.Route("/blueprints", func(r chi.Router) {
			r.Post("/commit", s.commitBlueprint)
			r.Post("/seed", s.seedBlueprints)
			r.Get("/mapping-required", s.mappingRequired)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings the queue when the backend supports it. The in-memory queue
// is always ready; the redis queue exposes Ping.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.queue.(interface{ Ping(ctx context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitMissionRequest struct {
	Type            string       `json:"mission_type"`
	Lead            mission.Lead `json:"lead_data"`
	TargetProvider  string       `json:"target_provider"`
	StickySessionID string       `json:"sticky_session_id"`
}

func (s *Server) submitMission(w http.ResponseWriter, r *http.Request) {
	var req submitMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Lead.Name == "" {
		writeError(w, http.StatusBadRequest, "lead_data.name is required")
		return
	}
	m := mission.Mission{
		Type:            mission.Type(req.Type),
		Lead:            req.Lead,
		TargetProvider:  req.TargetProvider,
		StickySessionID: req.StickySessionID,
	}
	id, err := s.dispatcher.Dispatch(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"mission_id": id})
}

func (s *Server) getMissionStatus(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "mission_id")
	rec, err := s.status.Get(r.Context(), missionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type telemetryRequest struct {
	MissionID string              `json:"mission_id"`
	Patch     mission.StatusPatch `json:"patch"`
}

// ingestTelemetry merges a partial status patch. Absent fields are never
// overwritten and the record's retention TTL resets.
func (s *Server) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MissionID == "" {
		writeError(w, http.StatusBadRequest, "mission_id is required")
		return
	}
	if err := s.status.Patch(r.Context(), req.MissionID, req.Patch); err != nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mission_id": req.MissionID})
}

type commitBlueprintRequest struct {
	Domain    string            `json:"domain"`
	Blueprint mission.Blueprint `json:"blueprint"`
}

func (s *Server) commitBlueprint(w http.ResponseWriter, r *http.Request) {
	var req commitBlueprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	bp := req.Blueprint
	if bp.Domain == "" {
		bp.Domain = req.Domain
	}
	if bp.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	if len(bp.Selectors) == 0 {
		writeError(w, http.StatusBadRequest, "selectors are required")
		return
	}
	if err := s.blueprints.Commit(r.Context(), bp); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("blueprint committed", zap.String("domain", bp.Domain))
	writeJSON(w, http.StatusOK, map[string]string{"domain": bp.Domain})
}

type seedBlueprintsRequest struct {
	Blueprints []mission.Blueprint `json:"blueprints"`
}

func (s *Server) seedBlueprints(w http.ResponseWriter, r *http.Request) {
	var req seedBlueprintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var committed int
	for _, bp := range req.Blueprints {
		if bp.Domain == "" || len(bp.Selectors) == 0 {
			continue
		}
		if err := s.blueprints.Commit(r.Context(), bp); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		committed++
	}
	writeJSON(w, http.StatusOK, map[string]int{"committed": committed})
}

func (s *Server) mappingRequired(w http.ResponseWriter, r *http.Request) {
	domains, err := s.blueprints.MappingRequired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"domains": domains})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stashed by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
