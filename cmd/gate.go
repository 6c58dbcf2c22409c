package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/browser"
	sysclock "github.com/voxleads/chimera/internal/clock/system"
	"github.com/voxleads/chimera/internal/config"
	"github.com/voxleads/chimera/internal/logging"
	"github.com/voxleads/chimera/internal/stealth"
)

func newGateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Run the trust gate once and exit",
		Long: `Validates the stealth profile against the configured scoring page
without starting the service. Exits nonzero when the profile scores below
target, which makes the command usable as a deploy preflight.`,
		RunE: runGate,
	}
}

func runGate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clock := sysclock.New()
	pool := stealth.NewPool(stealth.PoolConfig{
		ProxyURLs: cfg.Stealth.ProxyURLs,
		StickyTTL: cfg.StickyTTL(),
	}, clock, logger)
	chrome := browser.NewChrome(browser.Config{
		MaxSessions:       1,
		NavigationTimeout: cfg.NavTimeout(),
		Headful:           cfg.Browser.Headful,
	}, logger)
	gate := stealth.NewGate(stealth.GateConfig{
		ScoreURL:    cfg.Gate.ScoreURL,
		TargetScore: cfg.Gate.TargetScore,
		SettleDelay: cfg.GateSettleDelay(),
		Timeout:     cfg.GateTimeout(),
	}, pool, chrome, logger)

	score, err := gate.Validate(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("trust gate passed", zap.Float64("score", score), zap.Float64("target", cfg.Gate.TargetScore))
	return nil
}
