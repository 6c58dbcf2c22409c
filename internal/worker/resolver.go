package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/telemetry"
)

// DefaultConfidenceThreshold is the minimum vision grounding confidence
// accepted for a fallback click or extraction.
const DefaultConfidenceThreshold = 0.75

// Resolution describes how one intent was resolved on the page.
type Resolution struct {
	Intent     string
	Selector   string
	Point      mission.Point
	ViaVision  bool
	Confidence float64
	Drift      *mission.CoordinateDrift
}

// Resolver turns a semantic intent into a usable page target: blueprint
// selector first, vision grounding as fallback, with self-healing repairs
// fed back to the blueprint store.
type Resolver struct {
	blueprints mission.BlueprintStore
	oracle     mission.VisionOracle
	hub        telemetry.Emitter
	clock      mission.Clock
	logger     *zap.Logger

	threshold     float64
	repairTimeout time.Duration
	repairs       sync.WaitGroup
}

// NewResolver constructs a Resolver.
func NewResolver(
	blueprints mission.BlueprintStore,
	oracle mission.VisionOracle,
	hub telemetry.Emitter,
	clock mission.Clock,
	threshold float64,
	logger *zap.Logger,
) *Resolver {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		blueprints:    blueprints,
		oracle:        oracle,
		hub:           hub,
		clock:         clock,
		logger:        logger,
		threshold:     threshold,
		repairTimeout: 10 * time.Second,
	}
}

// Extract reads the text for an intent. The blueprint selector is attempted
// first; an oracle call is only made when the selector is absent or yields
// nothing. A successful above-threshold grounding repairs the blueprint.
func (r *Resolver) Extract(
	ctx context.Context,
	sess mission.PageSession,
	bp mission.Blueprint,
	missionID, intent string,
) (string, Resolution, error) {
	sel, hasSel := bp.Selector(intent)
	var suggested *mission.Point

	if hasSel {
		exists, err := sess.Exists(ctx, sel)
		if err != nil {
			return "", Resolution{}, fmt.Errorf("probe selector for %s: %w", intent, err)
		}
		if exists {
			text, err := sess.Text(ctx, sel)
			if err != nil {
				return "", Resolution{}, fmt.Errorf("read %s: %w", intent, err)
			}
			if text != "" {
				return text, Resolution{Intent: intent, Selector: sel}, nil
			}
			// Selector still matches but yields nothing: remember where it
			// points so the vision fallback can measure drift.
			if pt, found, locErr := sess.Location(ctx, sel); locErr == nil && found {
				suggested = &pt
			}
		}
	}

	res, err := r.visionGround(ctx, sess, bp.Domain, missionID, intent, sel, suggested)
	if err != nil {
		return "", res, err
	}
	text, err := sess.TextAt(ctx, res.Point.X, res.Point.Y)
	if err != nil {
		return "", res, fmt.Errorf("read %s at grounded point: %w", intent, err)
	}
	return text, res, nil
}

// Click actuates an intent. Blueprint selector first, vision-grounded
// coordinate click as fallback.
func (r *Resolver) Click(
	ctx context.Context,
	sess mission.PageSession,
	bp mission.Blueprint,
	missionID, intent string,
) (Resolution, error) {
	sel, hasSel := bp.Selector(intent)
	if hasSel {
		exists, err := sess.Exists(ctx, sel)
		if err != nil {
			return Resolution{}, fmt.Errorf("probe selector for %s: %w", intent, err)
		}
		if exists {
			if err := sess.Click(ctx, sel); err != nil {
				return Resolution{}, fmt.Errorf("click %s: %w", intent, err)
			}
			return Resolution{Intent: intent, Selector: sel}, nil
		}
	}

	res, err := r.visionGround(ctx, sess, bp.Domain, missionID, intent, sel, nil)
	if err != nil {
		return res, err
	}
	if err := sess.ClickAt(ctx, res.Point.X, res.Point.Y); err != nil {
		return res, fmt.Errorf("click %s at grounded point: %w", intent, err)
	}
	return res, nil
}

// visionGround screenshots the viewport, asks the oracle, and enforces the
// confidence threshold. Above-threshold groundings for a previously recorded
// selector schedule an async repair.
func (r *Resolver) visionGround(
	ctx context.Context,
	sess mission.PageSession,
	domain, missionID, intent, staleSelector string,
	suggested *mission.Point,
) (Resolution, error) {
	shot, err := sess.Screenshot(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("screenshot for %s: %w", intent, err)
	}
	grounding, err := r.oracle.ProcessVision(ctx, shot, intent)
	if err != nil {
		return Resolution{}, fmt.Errorf("ground %s: %w", intent, err)
	}

	r.hub.Emit(telemetry.Event{
		MissionID:  missionID,
		TS:         r.clock.Now(),
		Kind:       telemetry.KindVisionCall,
		Intent:     intent,
		Confidence: grounding.Confidence,
	})

	if !grounding.Found || grounding.Confidence < r.threshold {
		return Resolution{Intent: intent, ViaVision: true, Confidence: grounding.Confidence},
			mission.NewFailure(mission.TraumaLowConfidence,
				fmt.Errorf("%w: %s grounded at %.2f, need %.2f",
					mission.ErrLowConfidence, intent, grounding.Confidence, r.threshold))
	}

	res := Resolution{
		Intent:     intent,
		ViaVision:  true,
		Point:      mission.Point{X: grounding.X, Y: grounding.Y},
		Confidence: grounding.Confidence,
	}
	if suggested != nil {
		drift := mission.NewCoordinateDrift(*suggested, res.Point, grounding.Confidence)
		res.Drift = &drift
	}
	// Every accepted grounding proposes a selector, whether it repaired a
	// stale one or mapped a blueprint-less domain for the first time.
	r.scheduleRepair(domain, missionID, intent, staleSelector, grounding.Confidence)
	return res, nil
}

// scheduleRepair proposes a replacement selector off the mission hot path.
func (r *Resolver) scheduleRepair(domain, missionID, intent, staleSelector string, confidence float64) {
	r.repairs.Add(1)
	go func() {
		defer r.repairs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.repairTimeout)
		defer cancel()

		hint, err := r.oracle.PredictPath(ctx, domain, intent)
		if err != nil || hint == "" || hint == staleSelector {
			r.logger.Debug("no repair hint for stale selector",
				zap.String("domain", domain),
				zap.String("intent", intent),
				zap.Error(err),
			)
			return
		}
		repair := mission.SelectorRepair{
			Domain:           domain,
			Intent:           intent,
			OriginalSelector: staleSelector,
			NewSelector:      hint,
			Confidence:       confidence,
			CreatedAt:        r.clock.Now(),
		}
		if err := r.blueprints.RecordRepair(ctx, repair); err != nil {
			r.logger.Warn("record selector repair failed",
				zap.String("domain", domain),
				zap.String("intent", intent),
				zap.Error(err),
			)
			return
		}
		if err := r.oracle.StorePattern(ctx, domain, hint, "repaired"); err != nil {
			r.logger.Debug("store pattern feedback failed", zap.Error(err))
		}
		r.hub.Emit(telemetry.Event{
			MissionID: missionID,
			TS:        r.clock.Now(),
			Kind:      telemetry.KindRepair,
			Intent:    intent,
		})
		r.logger.Info("selector repaired",
			zap.String("domain", domain),
			zap.String("intent", intent),
			zap.String("old", staleSelector),
			zap.String("new", hint),
		)
	}()
}

// WaitRepairs blocks until all scheduled repairs finish. Used on shutdown and
// in tests.
func (r *Resolver) WaitRepairs() {
	r.repairs.Wait()
}
