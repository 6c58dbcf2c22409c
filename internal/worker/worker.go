// Package worker implements the mission execution loop: pull a mission,
// establish a stealth identity, resolve the target site, extract, report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/classify"
	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/provider"
	"github.com/voxleads/chimera/internal/telemetry"
)

// Config controls one worker.
type Config struct {
	WorkerID string
	// DequeueWait bounds each blocking queue poll.
	DequeueWait time.Duration
	// MaxAttempts dead-letters a mission arriving with this many prior
	// attempts instead of executing it again.
	MaxAttempts int
	// VisionFallback permits vision-only navigation for domains without a
	// blueprint. When false such missions fail fast with NEEDS_MAPPING.
	VisionFallback bool
	// ResultTopic receives completed-mission events downstream.
	ResultTopic string
}

// Worker executes missions one at a time.
type Worker struct {
	cfg        Config
	queue      mission.Queue
	providers  *provider.Registry
	identities mission.IdentityPool
	browser    mission.Browser
	resolver   *Resolver
	blueprints mission.BlueprintStore
	solver     mission.CaptchaSolver
	hub        telemetry.Emitter
	artifacts  mission.ArtifactStore
	publisher  mission.Publisher
	clock      mission.Clock
	logger     *zap.Logger
	entropy    *entropyWindow
}

// Deps bundles the worker's collaborators.
type Deps struct {
	Queue      mission.Queue
	Providers  *provider.Registry
	Identities mission.IdentityPool
	Browser    mission.Browser
	Resolver   *Resolver
	Blueprints mission.BlueprintStore
	// Solver escalates detected captcha challenges. Nil means no solver is
	// configured and detection fails the mission directly.
	Solver mission.CaptchaSolver
	Hub    telemetry.Emitter
	Artifacts  mission.ArtifactStore
	Publisher  mission.Publisher
	Clock      mission.Clock
	Logger     *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps) *Worker {
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:        cfg,
		queue:      deps.Queue,
		providers:  deps.Providers,
		identities: deps.Identities,
		browser:    deps.Browser,
		resolver:   deps.Resolver,
		blueprints: deps.Blueprints,
		solver:     deps.Solver,
		hub:        deps.Hub,
		artifacts:  deps.Artifacts,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		logger:     logger.With(zap.String("worker_id", cfg.WorkerID)),
		entropy:    newEntropyWindow(20),
	}
}

// Run polls the queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m, err := w.queue.Dequeue(ctx, w.cfg.DequeueWait)
		if errors.Is(err, mission.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		w.Execute(ctx, m)
	}
}

// Execute runs one mission end to end. It always publishes exactly one
// result, including for failures and timeouts, so the dispatcher never
// blocks on a mission that died mid-flight.
func (w *Worker) Execute(ctx context.Context, m mission.Mission) mission.Result {
	started := w.clock.Now()

	if m.Attempt >= w.cfg.MaxAttempts {
		reason := fmt.Sprintf("attempt %d exhausted the budget of %d", m.Attempt, w.cfg.MaxAttempts)
		if err := w.queue.DeadLetter(ctx, m, reason); err != nil {
			w.logger.Error("dead-letter failed", zap.String("mission_id", m.ID), zap.Error(err))
		}
		return w.finish(ctx, m, "", started, nil, execState{}, mission.NewFailure(mission.TraumaAttemptsExhausted, errors.New(reason)))
	}

	prov, err := w.providers.Route(m.TargetProvider)
	if err != nil {
		return w.finish(ctx, m, "", started, nil, execState{}, err)
	}

	w.hub.Emit(telemetry.Event{
		MissionID: m.ID, TS: started, Kind: telemetry.KindMissionStart, Provider: prov.Name,
	})
	w.step(m.ID, "received")
	w.patch(m.ID, mission.StatusPatch{Status: mission.StatusPtr(mission.StatusProcessing)})

	budgetCtx, cancel := context.WithTimeout(ctx, prov.Budget)
	defer cancel()

	fields, state, execErr := w.run(budgetCtx, m, prov)
	if execErr != nil && budgetCtx.Err() != nil && ctx.Err() == nil {
		execErr = mission.NewFailure(mission.TraumaTimeout,
			fmt.Errorf("%w: budget %s", mission.ErrTimeout, prov.Budget))
	}
	return w.finish(ctx, m, prov.Name, started, fields, state, execErr)
}

// execState carries the per-mission observations that outlive the run.
type execState struct {
	visionConfidence float64
	entropyScore     float64
	screenshotURL    string
}

func (w *Worker) run(ctx context.Context, m mission.Mission, prov *provider.Provider) (map[string]string, execState, error) {
	var state execState

	if err := prov.Wait(ctx); err != nil {
		return nil, state, err
	}

	id, err := w.identities.Acquire(ctx, m.StickySessionID)
	if err != nil {
		return nil, state, fmt.Errorf("acquire identity: %w", err)
	}
	defer w.identities.Release(id)
	w.step(m.ID, "identity_established")
	fp := id.Fingerprint
	w.patch(m.ID, mission.StatusPatch{Fingerprint: &fp})

	sess, err := w.browser.NewSession(ctx, id)
	if err != nil {
		return nil, state, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	w.step(m.ID, "navigating")
	if err := sess.Navigate(ctx, prov.SearchURL(m.Lead)); err != nil {
		return nil, state, fmt.Errorf("navigate: %w", err)
	}

	// Egress consistency: a changed IP mid-mission burns the session.
	if ip, ipErr := w.identities.EgressIP(ctx, id); ipErr == nil && ip != id.EgressIP {
		w.trauma(m.ID, mission.TraumaSessionBroken,
			fmt.Sprintf("egress changed from %s to %s", id.EgressIP, ip))
		return nil, state, mission.NewFailure(mission.TraumaSessionBroken, mission.ErrIdentityBroken)
	}

	w.step(m.ID, "captcha_check")
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, state, fmt.Errorf("read page: %w", err)
	}
	kind, err := classify.Classify(html, prov.Markers)
	if err != nil {
		return nil, state, err
	}
	if kind == classify.KindCaptcha {
		kind, err = w.escalateCaptcha(ctx, sess, prov, m.ID)
		if err != nil {
			return nil, state, err
		}
	}
	switch kind {
	case classify.KindBlocked:
		w.trauma(m.ID, mission.TraumaCaptchaDetected, "provider block page")
		return nil, state, mission.NewFailure(mission.TraumaCaptchaDetected,
			fmt.Errorf("blocked by %s", prov.Name))
	case classify.KindEmpty:
		w.step(m.ID, "no_results")
		return map[string]string{}, state, nil
	}

	w.step(m.ID, "resolving_target")
	bp, err := w.blueprints.Get(ctx, prov.Domain)
	if errors.Is(err, mission.ErrNotFound) {
		if markErr := w.blueprints.MarkMappingRequired(ctx, prov.Domain); markErr != nil {
			w.logger.Warn("mark mapping required failed", zap.Error(markErr))
		}
		w.patch(m.ID, mission.StatusPatch{MappingRequired: mission.BoolPtr(true)})
		if !w.cfg.VisionFallback {
			w.trauma(m.ID, mission.TraumaNeedsMapping,
				fmt.Sprintf("no blueprint for %s and vision fallback disabled", prov.Domain))
			return nil, state, mission.NewFailure(mission.TraumaNeedsMapping, mission.ErrMappingRequired)
		}
		bp = mission.Blueprint{Domain: prov.Domain}
	} else if err != nil {
		return nil, state, fmt.Errorf("load blueprint: %w", err)
	}

	// Enter the top result before extracting detail fields.
	if _, ok := bp.Selector(mission.IntentResultCard); ok || w.cfg.VisionFallback {
		res, clickErr := w.resolver.Click(ctx, sess, bp, m.ID, mission.IntentResultCard)
		if clickErr != nil {
			if ctx.Err() != nil {
				return nil, state, clickErr
			}
			w.logger.Debug("result card click failed, extracting in place", zap.Error(clickErr))
		} else {
			w.observeResolution(m.ID, res, &state)
		}
	}

	w.step(m.ID, "extracting")
	fields := make(map[string]string)
	var lastErr error
	for field, intent := range prov.FieldIntents {
		value, res, exErr := w.resolver.Extract(ctx, sess, bp, m.ID, intent)
		if exErr != nil {
			if ctx.Err() != nil {
				return nil, state, exErr
			}
			if code, ok := mission.FailureCode(exErr); ok && code == mission.TraumaLowConfidence {
				w.trauma(m.ID, code, fmt.Sprintf("grounding %s below threshold", intent))
			}
			lastErr = exErr
			continue
		}
		w.observeResolution(m.ID, res, &state)
		if value != "" {
			fields[field] = value
		}
	}
	if len(fields) == 0 {
		if lastErr != nil {
			return nil, state, lastErr
		}
		return nil, state, mission.NewFailure(mission.TraumaLowConfidence,
			fmt.Errorf("%w: no fields extracted", mission.ErrLowConfidence))
	}
	if carrier, ok := fields[mission.FieldCarrier]; ok {
		w.patch(m.ID, mission.StatusPatch{Carrier: mission.StringPtr(carrier)})
	}

	if shot, shotErr := sess.Screenshot(ctx); shotErr == nil && w.artifacts != nil {
		path := fmt.Sprintf("missions/%s/final.png", m.ID)
		if url, putErr := w.artifacts.Put(ctx, path, "image/png", shot); putErr == nil {
			state.screenshotURL = url
			w.patch(m.ID, mission.StatusPatch{ScreenshotURL: mission.StringPtr(url)})
		} else {
			w.logger.Warn("screenshot upload failed", zap.Error(putErr))
		}
	}

	// Poison check over the recent extraction window: identical payloads
	// across missions mean the provider is feeding us canned pages.
	state.entropyScore = w.entropy.observe(prov.Name, sortedValues(fields))
	if state.entropyScore < mission.PoisonThreshold {
		w.trauma(m.ID, mission.TraumaLowEntropy,
			fmt.Sprintf("entropy %.2f below %.2f", state.entropyScore, mission.PoisonThreshold))
		return nil, state, mission.NewFailure(mission.TraumaPoisonedResult, mission.ErrPoisonedResult)
	}

	return fields, state, nil
}

// escalateCaptcha hands a detected challenge to the solver and reclassifies
// the page afterward. No solver, a solver error, or a challenge that
// survives the solve all fail the mission with CAPTCHA_FAILURE.
func (w *Worker) escalateCaptcha(ctx context.Context, sess mission.PageSession, prov *provider.Provider, missionID string) (classify.Kind, error) {
	w.trauma(missionID, mission.TraumaCaptchaDetected, "captcha challenge on results page")
	if w.solver == nil {
		return classify.KindCaptcha, mission.NewFailure(mission.TraumaCaptchaFailure, mission.ErrCaptchaFailure)
	}
	w.step(missionID, "solving_captcha")
	if err := w.solver.Solve(ctx, sess, prov.Name); err != nil {
		return classify.KindCaptcha, mission.NewFailure(mission.TraumaCaptchaFailure,
			fmt.Errorf("%w: %v", mission.ErrCaptchaFailure, err))
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return classify.KindCaptcha, fmt.Errorf("read page after solve: %w", err)
	}
	kind, err := classify.Classify(html, prov.Markers)
	if err != nil {
		return classify.KindCaptcha, err
	}
	if kind == classify.KindCaptcha {
		return kind, mission.NewFailure(mission.TraumaCaptchaFailure,
			fmt.Errorf("%w: challenge persisted after solve", mission.ErrCaptchaFailure))
	}
	w.step(missionID, "captcha_solved")
	return kind, nil
}

func (w *Worker) observeResolution(missionID string, res Resolution, state *execState) {
	if res.Confidence > state.visionConfidence {
		state.visionConfidence = res.Confidence
	}
	if res.ViaVision {
		w.patch(missionID, mission.StatusPatch{FallbackTriggered: mission.BoolPtr(true)})
	}
	if res.Drift != nil {
		w.patch(missionID, mission.StatusPatch{CoordinateDrift: res.Drift})
		if res.Drift.Excessive() {
			w.trauma(missionID, mission.TraumaCoordinateDrift,
				fmt.Sprintf("drifted %.1fpx on %s", res.Drift.DriftDistance, res.Intent))
		}
	}
}

// finish maps the outcome to a terminal status, publishes the result, and
// emits the closing telemetry.
func (w *Worker) finish(
	ctx context.Context,
	m mission.Mission,
	providerName string,
	started time.Time,
	fields map[string]string,
	state execState,
	execErr error,
) mission.Result {
	now := w.clock.Now()
	result := mission.Result{
		MissionID:        m.ID,
		Provider:         providerName,
		WorkerID:         w.cfg.WorkerID,
		Fields:           fields,
		VisionConfidence: state.visionConfidence,
		EntropyScore:     state.entropyScore,
		ScreenshotURL:    state.screenshotURL,
		CompletedAt:      now,
	}
	switch {
	case execErr == nil:
		result.Status = mission.StatusCompleted
	default:
		code, _ := mission.FailureCode(execErr)
		result.FailureCode = code
		result.Error = execErr.Error()
		switch code {
		case mission.TraumaTimeout:
			result.Status = mission.StatusTimeout
		case mission.TraumaCaptchaFailure:
			result.Status = mission.StatusCaptchaFailure
		default:
			result.Status = mission.StatusFailed
		}
		w.logger.Warn("mission failed",
			zap.String("mission_id", m.ID),
			zap.String("status", string(result.Status)),
			zap.Error(execErr),
		)
	}

	w.step(m.ID, "reporting")
	if err := w.queue.PublishResult(ctx, result); err != nil && ctx.Err() == nil {
		w.logger.Error("publish result failed", zap.String("mission_id", m.ID), zap.Error(err))
	}
	if result.Succeeded() && w.publisher != nil && w.cfg.ResultTopic != "" {
		if _, err := w.publisher.Publish(ctx, w.cfg.ResultTopic, result); err != nil {
			w.logger.Warn("downstream publish failed", zap.String("mission_id", m.ID), zap.Error(err))
		}
	}
	w.hub.Emit(telemetry.Event{
		MissionID: m.ID,
		TS:        now,
		Kind:      telemetry.KindMissionDone,
		Provider:  providerName,
		Status:    result.Status,
		Dur:       now.Sub(started),
		Note:      result.Error,
	})
	return result
}

func (w *Worker) step(missionID, name string) {
	w.hub.Emit(telemetry.Event{
		MissionID: missionID,
		TS:        w.clock.Now(),
		Kind:      telemetry.KindStatusPatch,
		Patch:     &mission.StatusPatch{DecisionSteps: []string{name}},
	})
}

func (w *Worker) patch(missionID string, p mission.StatusPatch) {
	w.hub.Emit(telemetry.Event{
		MissionID: missionID,
		TS:        w.clock.Now(),
		Kind:      telemetry.KindStatusPatch,
		Patch:     &p,
	})
}

func (w *Worker) trauma(missionID string, code mission.TraumaCode, detail string) {
	w.hub.Emit(telemetry.Event{
		MissionID: missionID,
		TS:        w.clock.Now(),
		Kind:      telemetry.KindTrauma,
		Trauma:    &mission.TraumaSignal{Code: code, Detail: detail, At: w.clock.Now()},
	})
}

func sortedValues(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fields[k])
	}
	return values
}

// entropyWindow keeps the most recent extracted values per provider so the
// poison check sees duplicates across missions, not just within one.
type entropyWindow struct {
	mu    sync.Mutex
	byKey map[string][]string
	limit int
}

func newEntropyWindow(limit int) *entropyWindow {
	return &entropyWindow{byKey: make(map[string][]string), limit: limit}
}

func (e *entropyWindow) observe(key string, values []string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := append(e.byKey[key], values...)
	if over := len(window) - e.limit; over > 0 {
		window = window[over:]
	}
	e.byKey[key] = window
	return mission.EntropyScore(window)
}
