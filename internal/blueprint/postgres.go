package blueprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxleads/chimera/internal/mission"
)

// PostgresConfig controls the connection pool for the blueprint tables.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore persists blueprints in site_blueprints and the repair audit
// trail in selector_repairs.
type PostgresStore struct {
	pool  pgxIface
	clock mission.Clock
}

// NewPostgresStore connects a pool using the provided config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, clock mission.Clock) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("blueprints.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, clock: clock}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool pgxIface, clock mission.Clock) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get returns the authoritative blueprint for domain.
func (s *PostgresStore) Get(ctx context.Context, domain string) (mission.Blueprint, error) {
	const query = `
SELECT selectors, confidence, repair_count, last_repaired_at, updated_at
FROM site_blueprints
WHERE domain = $1 AND mapping_required = false`

	var (
		selectorsJSON  []byte
		confidence     float64
		repairCount    int
		lastRepairedAt *time.Time
		updatedAt      time.Time
	)
	err := s.pool.QueryRow(ctx, query, domain).
		Scan(&selectorsJSON, &confidence, &repairCount, &lastRepairedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mission.Blueprint{}, mission.ErrNotFound
		}
		return mission.Blueprint{}, fmt.Errorf("select blueprint %s: %w", domain, err)
	}

	bp := mission.Blueprint{
		Domain:      domain,
		Confidence:  confidence,
		RepairCount: repairCount,
		UpdatedAt:   updatedAt,
	}
	if lastRepairedAt != nil {
		bp.LastRepairedAt = *lastRepairedAt
	}
	if err := json.Unmarshal(selectorsJSON, &bp.Selectors); err != nil {
		return mission.Blueprint{}, fmt.Errorf("unmarshal selectors for %s: %w", domain, err)
	}
	return bp, nil
}

// Commit upserts the whole blueprint row and clears the mapping-required
// flag. The upsert is a single statement, so readers never see a partial
// record.
func (s *PostgresStore) Commit(ctx context.Context, bp mission.Blueprint) error {
	if bp.Domain == "" {
		return fmt.Errorf("blueprint domain is required")
	}
	selectorsJSON, err := json.Marshal(bp.Selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	const query = `
INSERT INTO site_blueprints (domain, selectors, confidence, repair_count, updated_at, mapping_required)
VALUES ($1, $2, $3, $4, $5, false)
ON CONFLICT (domain) DO UPDATE SET
	selectors = EXCLUDED.selectors,
	confidence = EXCLUDED.confidence,
	repair_count = EXCLUDED.repair_count,
	updated_at = EXCLUDED.updated_at,
	mapping_required = false`

	if _, err := s.pool.Exec(ctx, query,
		bp.Domain, selectorsJSON, bp.Confidence, bp.RepairCount, s.clock.Now(),
	); err != nil {
		return fmt.Errorf("commit blueprint %s: %w", bp.Domain, err)
	}
	return nil
}

// RecordRepair appends to the audit log, swaps the repaired selector into
// the blueprint, and decays the domain's confidence in place.
func (s *PostgresStore) RecordRepair(ctx context.Context, r mission.SelectorRepair) error {
	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	const insertRepair = `
INSERT INTO selector_repairs (domain, intent, original_selector, new_selector, confidence, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, insertRepair,
		r.Domain, r.Intent, r.OriginalSelector, r.NewSelector, r.Confidence, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert selector repair: %w", err)
	}

	const updateBlueprint = `
UPDATE site_blueprints SET
	selectors = jsonb_set(selectors, ARRAY[$2], to_jsonb($3::text)),
	confidence = GREATEST(confidence * $4, $5),
	repair_count = repair_count + 1,
	last_repaired_at = $6,
	updated_at = $6
WHERE domain = $1`

	if _, err := s.pool.Exec(ctx, updateBlueprint,
		r.Domain, r.Intent, r.NewSelector, DecayFactor, ConfidenceFloor, now,
	); err != nil {
		return fmt.Errorf("apply repair to blueprint %s: %w", r.Domain, err)
	}
	return nil
}

// MarkMappingRequired flags a domain with no usable blueprint.
func (s *PostgresStore) MarkMappingRequired(ctx context.Context, domain string) error {
	const query = `
INSERT INTO site_blueprints (domain, selectors, confidence, repair_count, updated_at, mapping_required)
VALUES ($1, '{}'::jsonb, 0, 0, $2, true)
ON CONFLICT (domain) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, domain, s.clock.Now()); err != nil {
		return fmt.Errorf("mark mapping required %s: %w", domain, err)
	}
	return nil
}

// MappingRequired lists flagged domains.
func (s *PostgresStore) MappingRequired(ctx context.Context) ([]string, error) {
	const query = `SELECT domain FROM site_blueprints WHERE mapping_required ORDER BY domain`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select mapping required: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mapping required: %w", err)
	}
	return domains, nil
}
