package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/config"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20260829-110000")
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, snapshot.NormalizedDir, "ads"), 0o755))
	manifest := snapshot.Manifest{
		SnapshotID:      "20260829-110000",
		SnapshotVersion: snapshot.SnapshotVersion,
		CreatedUTC:      "2026-08-29T11:00:00Z",
		CustomerID:      "123",
		Surfaces: []snapshot.SurfaceInfo{{
			Name:    snapshot.SurfaceAds,
			Files:   []string{"normalized/ads/keywords.json"},
			Records: map[string]int{"keywords": 0},
		}},
	}
	writeJSON := func(name string, v any) {
		raw, err := json.Marshal(v)
		assert.NoError(t, err)
		assert.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
	}
	writeJSON(snapshot.ManifestName, manifest)
	writeJSON(snapshot.IndexName, snapshot.Index{})
	writeJSON(filepath.Join(snapshot.NormalizedDir, "ads", "keywords.json"), snapshot.File{})

	s, err := snapshot.Open(dir, nil)
	assert.NoError(t, err)
	return s
}

func testPlan(operations ...ops.Operation) *ops.Plan {
	p := &ops.Plan{
		PlanID:      "plan-20260829-120000-ab12cd34",
		PlanVersion: ops.PlanVersion,
		CreatedUTC:  "2026-08-29T12:00:00Z",
		Mode:        ops.ModeDryRun,
		SnapshotID:  "20260829-110000",
		Ruleset:     "safety",
		Guardrails: ops.Guardrails{
			MaxTotalOps:                  50,
			MaxRiskLevel:                 ops.RiskMedium,
			RequireManualApprovalForType: []string{string(ops.OpExcludeProduct)},
		},
		Operations: operations,
	}
	p.Summary = ops.BuildSummary(p.Operations, p.Guardrails, 10)
	return p
}

func op(seq int, t ops.OpType, ref string) ops.Operation {
	return ops.Operation{
		OpID:      ops.MakeOpID(seq, t, ref, "S2_non_brand_in_branded"),
		OpType:    t,
		EntityRef: ref,
		Entity:    ops.Entity{Platform: "GOOGLE_ADS", Type: "KEYWORD", ID: "1"},
		Intent:    "test operation",
		Risk:      ops.NewRisk(ops.ClassifyRisk(t)),
	}
}

func builder() *Builder {
	return &Builder{Cfg: &config.Config{
		Review: config.ReviewConfig{Root: ""},
		Risk:   config.RiskConfig{MediumVolumeThreshold: 10},
	}}
}

func TestUnknownOpTypeFlaggedExactlyOnce(t *testing.T) {
	plan := testPlan(op(1, ops.OpType("ADS_DO_SOMETHING_NEW"), "ads.keyword:1"))
	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)

	var unknownFlags []RiskFlag
	for _, f := range pack.DeterministicChecks.RiskFlags {
		if strings.HasPrefix(f.Reason, "UNKNOWN_OP_TYPE") {
			unknownFlags = append(unknownFlags, f)
		}
	}
	assert.Len(t, unknownFlags, 1)
	assert.Equal(t, ops.RiskHigh, unknownFlags[0].Severity)
	assert.Contains(t, unknownFlags[0].Detail, "supported:")

	var critical bool
	for _, item := range pack.HITLChecklist {
		if item.Category == "UNKNOWN_OP" {
			critical = true
			assert.True(t, item.Required)
		}
	}
	assert.True(t, critical, "CRITICAL checklist item for unknown op types")
}

func TestKnownButUnsupportedAlsoFlagged(t *testing.T) {
	plan := testPlan(op(1, ops.OpUpdateBudget, "ads.campaign:2001"))
	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)

	found := false
	for _, f := range pack.DeterministicChecks.RiskFlags {
		if strings.HasPrefix(f.Reason, "UNKNOWN_OP_TYPE") && f.OpType == string(ops.OpUpdateBudget) {
			found = true
		}
	}
	assert.True(t, found, "known-but-unsupported types must carry the unknown-op flag")
}

func TestBudgetEvidenceRendersCurrencyUnits(t *testing.T) {
	budget := op(1, ops.OpUpdateBudget, "ads.campaign:2001")
	budget.Before = ops.MarshalChange(ops.BudgetChange{AmountMicros: 5_000_000})
	budget.After = ops.MarshalChange(ops.BudgetChange{AmountMicros: 8_500_000})
	plan := testPlan(budget)

	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)

	evidence := pack.DeterministicChecks.OperationEvidence
	assert.Len(t, evidence, 1)
	assert.Equal(t, "budget 5.00 -> 8.50", evidence[0].Detail)
	assert.Contains(t, Render(pack), "(budget 5.00 -> 8.50)")
}

func TestVolumeEscalationFlag(t *testing.T) {
	var operations []ops.Operation
	for i := 0; i < 12; i++ {
		operations = append(operations, op(i+1, ops.OpAddNegativeKeyword, "ads.ad_group:1"))
		operations[i].EntityRef = ops.MakeEntityRef("GOOGLE_ADS", "NEGATIVE_KEYWORD", string(rune('a'+i)))
	}
	plan := testPlan(operations...)
	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)

	var flag *RiskFlag
	for i := range pack.DeterministicChecks.RiskFlags {
		if pack.DeterministicChecks.RiskFlags[i].OpType == string(ops.OpAddNegativeKeyword) {
			flag = &pack.DeterministicChecks.RiskFlags[i]
		}
	}
	assert.NotNil(t, flag)
	assert.Equal(t, ops.RiskHigh, flag.Severity)
	assert.Contains(t, flag.Reason, "high volume")
}

func TestSummaryMismatchWarning(t *testing.T) {
	plan := testPlan(op(1, ops.OpSetKeywordStatus, "ads.keyword:1"))
	// Corrupt the stored summary; the pack must trust it but warn.
	plan.Summary.ByType[string(ops.OpSetKeywordStatus)] = 5

	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)
	assert.True(t, pack.DeterministicChecks.SummaryMismatch)
	assert.NotEmpty(t, pack.DeterministicChecks.Warnings)
	assert.Equal(t, 5, pack.DeterministicChecks.OperationSummary.ByType[string(ops.OpSetKeywordStatus)])
}

func TestTruthSignals(t *testing.T) {
	plan := testPlan(op(1, ops.OpSetKeywordStatus, "ads.keyword:1"))

	// No report: graceful note.
	pack, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)
	assert.False(t, pack.DeterministicChecks.TruthSignals.Available)
	assert.Contains(t, pack.DeterministicChecks.TruthSignals.Note, "not available")

	// Report present: counts and uncovered refs.
	reportPath := filepath.Join(t.TempDir(), "report.json")
	report := map[string]any{
		"truth_signals_google_recommendations": map[string]any{
			"keyword_recommendations": []any{
				map[string]any{"entity_ref": "ads.keyword:1"},
				map[string]any{"entity_ref": "ads.keyword:77"},
			},
			"budget_recommendations": []any{map[string]any{"entity_ref": "ads.campaign:5"}},
		},
	}
	raw, _ := json.Marshal(report)
	assert.NoError(t, os.WriteFile(reportPath, raw, 0o644))

	pack, err = builder().Build(context.Background(), plan, testSnapshot(t), reportPath)
	assert.NoError(t, err)
	ts := pack.DeterministicChecks.TruthSignals
	assert.True(t, ts.Available)
	assert.Equal(t, 2, ts.KeywordRecommendations)
	assert.Equal(t, 3, ts.TotalSignals)
	assert.Equal(t, []string{"ads.campaign:5", "ads.keyword:77"}, ts.UncoveredEntityRefs)
}

func TestBuildRejectsSnapshotMismatch(t *testing.T) {
	plan := testPlan(op(1, ops.OpSetKeywordStatus, "ads.keyword:1"))
	plan.SnapshotID = "20250101-000000"
	_, err := builder().Build(context.Background(), plan, testSnapshot(t), "")
	assert.ErrorContains(t, err, "bound to snapshot")
}

type failingProvider struct{}

func (failingProvider) Complete(context.Context, string, string) (string, error) {
	return "", assert.AnError
}

func TestAdvisoryFailureNeverFailsBuild(t *testing.T) {
	b := builder()
	b.Provider = failingProvider{}
	plan := testPlan(op(1, ops.OpSetKeywordStatus, "ads.keyword:1"))

	pack, err := b.Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)
	assert.NotNil(t, pack.LLMAdvisory)
	assert.False(t, pack.LLMAdvisory.Authoritative)
	assert.Contains(t, pack.LLMAdvisory.Note, "advisory unavailable")
}

func TestWriteRendersCompanionMarkdown(t *testing.T) {
	b := builder()
	b.Cfg.Review.Root = t.TempDir()
	plan := testPlan(op(1, ops.OpExcludeProduct, "merchant.product:sku-1"))

	pack, err := b.Build(context.Background(), plan, testSnapshot(t), "")
	assert.NoError(t, err)
	jsonPath, mdPath, err := b.Write(pack)
	assert.NoError(t, err)

	var roundTrip Pack
	raw, err := os.ReadFile(jsonPath)
	assert.NoError(t, err)
	assert.NoError(t, json.Unmarshal(raw, &roundTrip))
	assert.Equal(t, pack.PlanID, roundTrip.PlanID)

	md, err := os.ReadFile(mdPath)
	assert.NoError(t, err)
	assert.Contains(t, string(md), "## HITL Checklist")
	assert.Contains(t, string(md), "Manual approval REQUIRED for: MERCHANT_EXCLUDE_PRODUCT")
	assert.Contains(t, string(md), "- [ ] (SAFETY)")
}
