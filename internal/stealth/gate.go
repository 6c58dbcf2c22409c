package stealth

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
)

// GateConfig controls the startup trust gate.
type GateConfig struct {
	// ScoreURL is the fingerprint-scoring page the gate navigates to.
	ScoreURL string
	// TargetScore is the minimum acceptable trust score in percent.
	TargetScore float64
	// SettleDelay is how long the scoring page needs to finish its probes
	// before the rendered score is read.
	SettleDelay time.Duration
	Timeout     time.Duration
}

// Gate validates that the stealth profile scores as human before any worker
// accepts traffic. A failed gate must abort startup: dispatching missions
// through a detectable profile burns identities and poisons providers.
type Gate struct {
	cfg     GateConfig
	pool    mission.IdentityPool
	browser mission.Browser
	logger  *zap.Logger
}

// Rendered score formats seen on scoring pages: "trust score: 100%",
// "100% trustworthy", or a bare JSON-ish "\"trust\": 1.0".
var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)trust[^0-9]{0,20}(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%\s*trust`),
	regexp.MustCompile(`"trust"\s*:\s*(0?\.\d+|1(?:\.0+)?)`),
}

// NewGate constructs a Gate.
func NewGate(cfg GateConfig, pool mission.IdentityPool, browser mission.Browser, logger *zap.Logger) *Gate {
	if cfg.TargetScore <= 0 {
		cfg.TargetScore = 100
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 8 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, pool: pool, browser: browser, logger: logger}
}

// Validate mints a fresh identity, loads the scoring page, and compares the
// rendered trust score against the target. It returns
// mission.ErrTrustGateFailed when the profile scores below target.
func (g *Gate) Validate(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	id, err := g.pool.Acquire(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("acquire gate identity: %w", err)
	}
	defer g.pool.Release(id)

	session, err := g.browser.NewSession(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("open gate session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, g.cfg.ScoreURL); err != nil {
		return 0, fmt.Errorf("navigate scoring page: %w", err)
	}
	select {
	case <-time.After(g.cfg.SettleDelay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return 0, fmt.Errorf("read scoring page: %w", err)
	}
	score, err := parseTrustScore(html)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", mission.ErrTrustGateFailed, err)
	}

	g.logger.Info("trust gate score",
		zap.Float64("score", score),
		zap.Float64("target", g.cfg.TargetScore),
		zap.String("session_id", id.SessionID),
	)
	if score < g.cfg.TargetScore {
		return score, fmt.Errorf("%w: scored %.1f%%, need %.1f%%",
			mission.ErrTrustGateFailed, score, g.cfg.TargetScore)
	}
	return score, nil
}

func parseTrustScore(html string) (float64, error) {
	for _, pat := range scorePatterns {
		m := pat.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		// The JSON form reports a 0..1 fraction.
		if v <= 1.0 && pat == scorePatterns[2] {
			v *= 100
		}
		return v, nil
	}
	return 0, fmt.Errorf("no trust score found on scoring page")
}
