package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
)

// LoadSeedFile reads a JSON array of blueprints from disk. The format
// matches the commit endpoint payload so operators can seed from captured
// commits.
func LoadSeedFile(path string) ([]mission.Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var blueprints []mission.Blueprint
	if err := json.Unmarshal(data, &blueprints); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return blueprints, nil
}

// Seed bulk-commits known domains so first-run missions are not forced
// through the slow vision-only path. Commits are idempotent; reseeding an
// existing domain just refreshes it.
func Seed(ctx context.Context, store mission.BlueprintStore, blueprints []mission.Blueprint, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, bp := range blueprints {
		if bp.Domain == "" {
			return fmt.Errorf("seed blueprint missing domain")
		}
		if len(bp.Selectors) == 0 {
			return fmt.Errorf("seed blueprint for %s has no selectors", bp.Domain)
		}
		if bp.Confidence <= 0 {
			bp.Confidence = 0.8
		}
		if err := store.Commit(ctx, bp); err != nil {
			return fmt.Errorf("seed %s: %w", bp.Domain, err)
		}
		logger.Info("blueprint seeded",
			zap.String("domain", bp.Domain),
			zap.Int("selectors", len(bp.Selectors)),
		)
	}
	return nil
}
