package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/blueprint"
	sysclock "github.com/voxleads/chimera/internal/clock/system"
	"github.com/voxleads/chimera/internal/config"
	"github.com/voxleads/chimera/internal/logging"
	"github.com/voxleads/chimera/internal/mission"
)

func newSeedCmd() *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-commit blueprints into the configured store",
		Long: `Reads a JSON array of blueprints and commits each into the configured
blueprint store so first-run missions skip the vision-only path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, seedFile)
		},
	}
	cmd.Flags().StringVar(&seedFile, "file", "", "seed file (defaults to blueprints.seed_file)")
	return cmd
}

func runSeed(cmd *cobra.Command, seedFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if seedFile == "" {
		seedFile = cfg.Blueprints.SeedFile
	}
	if seedFile == "" {
		return fmt.Errorf("no seed file: pass --file or set blueprints.seed_file")
	}

	clock := sysclock.New()
	var store mission.BlueprintStore
	switch cfg.Blueprints.Backend {
	case "postgres":
		ps, err := blueprint.NewPostgresStore(cmd.Context(), blueprint.PostgresConfig{
			DSN:      cfg.Blueprints.DSN,
			MaxConns: cfg.Blueprints.MaxConns,
		}, clock)
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps
	default:
		// Seeding a memory store only validates the file; the store dies
		// with the process.
		store = blueprint.NewMemoryStore(clock)
	}

	seeds, err := blueprint.LoadSeedFile(seedFile)
	if err != nil {
		return err
	}
	if err := blueprint.Seed(cmd.Context(), store, seeds, logger); err != nil {
		return err
	}
	logger.Info("blueprints seeded", zap.Int("count", len(seeds)), zap.String("file", seedFile))
	return nil
}
