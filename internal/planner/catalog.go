package planner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"adpilot/internal/ops"
)

// Catalog indexes written plan artifacts so invocations can resolve a plan
// by id or ask for the most recent one without scanning the plans root. The
// files stay the source of truth; the catalog only locates them.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if needed) the plan catalog under plansRoot.
func OpenCatalog(plansRoot string) (*Catalog, error) {
	if plansRoot == "" {
		return nil, fmt.Errorf("plans root not configured")
	}
	if err := os.MkdirAll(plansRoot, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(plansRoot, "plans.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id           TEXT PRIMARY KEY,
			snapshot_id       TEXT NOT NULL,
			ruleset           TEXT NOT NULL,
			created_utc       TEXT NOT NULL,
			total_ops         INTEGER NOT NULL,
			highest_risk      TEXT NOT NULL,
			requires_approval INTEGER NOT NULL,
			path              TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_created ON plans(created_utc)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing plan catalog: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

// Record indexes one written plan artifact.
func (c *Catalog) Record(ctx context.Context, plan *ops.Plan, path string) error {
	approval := 0
	if plan.Summary.RequiresApproval {
		approval = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO plans
			(plan_id, snapshot_id, ruleset, created_utc, total_ops, highest_risk, requires_approval, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.PlanID, plan.SnapshotID, plan.Ruleset, plan.CreatedUTC,
		plan.Summary.TotalOps, string(plan.Summary.HighestRisk), approval, path)
	if err != nil {
		return fmt.Errorf("recording plan %s in catalog: %w", plan.PlanID, err)
	}
	return nil
}

// Resolve returns the artifact path for planID.
func (c *Catalog) Resolve(ctx context.Context, planID string) (string, error) {
	var path string
	err := c.db.QueryRowContext(ctx, `SELECT path FROM plans WHERE plan_id = ?`, planID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", &ops.ArtifactNotFoundError{Kind: "plan", Path: planID}
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// Latest returns the id and path of the most recently created plan.
func (c *Catalog) Latest(ctx context.Context) (string, string, error) {
	var id, path string
	err := c.db.QueryRowContext(ctx, `
		SELECT plan_id, path FROM plans ORDER BY created_utc DESC, plan_id DESC LIMIT 1`).Scan(&id, &path)
	if err == sql.ErrNoRows {
		return "", "", &ops.ArtifactNotFoundError{Kind: "plan", Path: "catalog"}
	}
	if err != nil {
		return "", "", err
	}
	return id, path, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
