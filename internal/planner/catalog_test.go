package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/ops"
)

func catalogPlan(id, created string) *ops.Plan {
	return &ops.Plan{
		PlanID:     id,
		SnapshotID: "20260829-110000",
		Ruleset:    "safety",
		CreatedUTC: created,
		Summary:    ops.Summary{TotalOps: 2, HighestRisk: ops.RiskHigh, RequiresApproval: true},
	}
}

func TestCatalogResolveAndLatest(t *testing.T) {
	cat, err := OpenCatalog(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cat.Close()) })

	ctx := context.Background()
	assert.NoError(t, cat.Record(ctx, catalogPlan("plan-a", "2026-08-29T10:00:00Z"), "/plans/plan-a.json"))
	assert.NoError(t, cat.Record(ctx, catalogPlan("plan-b", "2026-08-29T11:00:00Z"), "/plans/plan-b.json"))

	path, err := cat.Resolve(ctx, "plan-a")
	assert.NoError(t, err)
	assert.Equal(t, "/plans/plan-a.json", path)

	id, path, err := cat.Latest(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "plan-b", id)
	assert.Equal(t, "/plans/plan-b.json", path)
}

func TestCatalogMissingPlan(t *testing.T) {
	cat, err := OpenCatalog(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cat.Close()) })

	_, err = cat.Resolve(context.Background(), "plan-nope")
	assert.True(t, ops.IsArtifactNotFound(err))

	_, _, err = cat.Latest(context.Background())
	assert.True(t, ops.IsArtifactNotFound(err))
}
