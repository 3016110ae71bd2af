// Package review builds the pre-apply review pack: deterministic checks, a
// human checklist and an optional advisory block. The builder is strictly
// read-only over plan and snapshot, it holds no execution authority and
// never imports the apply engine.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"adpilot/internal/advisory"
	"adpilot/internal/artifact"
	"adpilot/internal/config"
	"adpilot/internal/logger"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// RiskFlag is one deterministic risk signal over the plan.
type RiskFlag struct {
	Severity ops.RiskTier `json:"severity"`
	OpType   string       `json:"op_type"`
	Count    int          `json:"count"`
	Reason   string       `json:"reason"`
	Detail   string       `json:"detail,omitempty"`
}

// ChecklistItem is one HITL checklist entry.
type ChecklistItem struct {
	Item     string `json:"item"`
	Category string `json:"category"`
	Required bool   `json:"required"`
}

// OperationEvidence is the per-operation digest reviewers read instead of
// the raw plan document.
type OperationEvidence struct {
	OpID          string       `json:"op_id"`
	OpType        string       `json:"op_type"`
	EntityRef     string       `json:"entity_ref"`
	EntityName    string       `json:"entity_name,omitempty"`
	Intent        string       `json:"intent"`
	RiskLevel     ops.RiskTier `json:"risk_level"`
	BrandListName string       `json:"brand_list_name,omitempty"`
	Brands        []string     `json:"brands,omitempty"`
	Detail        string       `json:"detail,omitempty"`
}

// Provenance records which snapshot the plan was generated from.
type Provenance struct {
	SnapshotID string   `json:"snapshot_id"`
	Version    string   `json:"version"`
	CreatedUTC string   `json:"created_utc"`
	Surfaces   []string `json:"surfaces"`
}

// TruthSignals summarizes the optional platform-recommendation report.
type TruthSignals struct {
	Available              bool     `json:"available"`
	Note                   string   `json:"note,omitempty"`
	KeywordRecommendations int      `json:"keyword_recommendations_count,omitempty"`
	BudgetRecommendations  int      `json:"budget_recommendations_count,omitempty"`
	AssetCoverage          int      `json:"rsa_asset_coverage_count,omitempty"`
	MerchantClarifiers     int      `json:"merchant_clarifiers_count,omitempty"`
	TotalSignals           int      `json:"total_signals,omitempty"`
	UncoveredEntityRefs    []string `json:"uncovered_entity_refs,omitempty"`
}

// Checks is the deterministic part of the pack.
type Checks struct {
	PlanMetadata       map[string]string   `json:"plan_metadata"`
	OperationSummary   ops.Summary         `json:"operation_summary"`
	SummaryMismatch    bool                `json:"summary_mismatch"`
	Warnings           []string            `json:"warnings,omitempty"`
	RiskFlags          []RiskFlag          `json:"risk_flags"`
	OperationEvidence  []OperationEvidence `json:"operation_evidence"`
	SnapshotProvenance Provenance          `json:"snapshot_provenance"`
	TruthSignals       TruthSignals        `json:"truth_signals"`
}

// Pack is the full review pack artifact.
type Pack struct {
	PlanID              string           `json:"plan_id"`
	SnapshotID          string           `json:"snapshot_id"`
	GeneratedUTC        string           `json:"generated_utc"`
	DeterministicChecks Checks           `json:"deterministic_checks"`
	HITLChecklist       []ChecklistItem  `json:"hitl_checklist"`
	LLMAdvisory         *advisory.Result `json:"llm_advisory,omitempty"`
}

// Builder assembles review packs.
type Builder struct {
	Cfg      *config.Config
	Provider advisory.Provider
}

// Build computes the deterministic checks and checklist for plan against
// snap, optionally cross-referencing a truth-signal report at reportPath
// ("" disables it). The advisory call runs last and can only add the
// llm_advisory block, never change the rest of the pack.
func (b *Builder) Build(ctx context.Context, plan *ops.Plan, snap *snapshot.Snapshot, reportPath string) (*Pack, error) {
	if plan.SnapshotID != snap.ID() {
		return nil, fmt.Errorf("plan %s is bound to snapshot %s, got %s", plan.PlanID, plan.SnapshotID, snap.ID())
	}
	checks := b.deterministicChecks(plan, snap, reportPath)
	pack := &Pack{
		PlanID:              plan.PlanID,
		SnapshotID:          plan.SnapshotID,
		GeneratedUTC:        ops.NowUTC(),
		DeterministicChecks: checks,
		HITLChecklist:       buildChecklist(plan, checks),
	}
	if b.Provider != nil {
		res := advisory.Run(ctx, b.Provider, b.Cfg.Advisory.Model, planDigest(plan))
		pack.LLMAdvisory = &res
	}
	return pack, nil
}

func (b *Builder) deterministicChecks(plan *ops.Plan, snap *snapshot.Snapshot, reportPath string) Checks {
	checks := Checks{
		PlanMetadata: map[string]string{
			"plan_id":      plan.PlanID,
			"plan_version": plan.PlanVersion,
			"created_utc":  plan.CreatedUTC,
			"mode":         string(plan.Mode),
			"snapshot_id":  plan.SnapshotID,
			"ruleset":      plan.Ruleset,
		},
		SnapshotProvenance: Provenance{
			SnapshotID: snap.Manifest.SnapshotID,
			Version:    snap.Manifest.SnapshotVersion,
			CreatedUTC: snap.Manifest.CreatedUTC,
			Surfaces:   snap.SurfaceNames(),
		},
	}

	// The plan's own summary is canonical when present; recompute anyway and
	// warn on disagreement rather than silently trusting either side.
	recomputed := ops.BuildSummary(plan.Operations, plan.Guardrails, b.Cfg.Risk.MediumVolumeThreshold)
	if len(plan.Summary.ByType) > 0 {
		checks.OperationSummary = plan.Summary
		if !sameCounts(plan.Summary.ByType, recomputed.ByType) || plan.Summary.TotalOps != recomputed.TotalOps {
			checks.SummaryMismatch = true
			checks.Warnings = append(checks.Warnings,
				"plan summary disagrees with recomputed operation counts; trusting plan summary as canonical")
		}
	} else {
		checks.OperationSummary = recomputed
		checks.Warnings = append(checks.Warnings, "plan carries no summary; counts recomputed from operations")
	}

	checks.RiskFlags = riskFlags(checks.OperationSummary.ByType, b.Cfg.Risk.MediumVolumeThreshold)
	checks.OperationEvidence = operationEvidence(plan.Operations)
	checks.TruthSignals = truthSignals(reportPath, plan)
	return checks
}

// riskFlags emits one flag per operation type present in the plan. Types
// outside the supported set get the UNKNOWN_OP_TYPE flag, the single most
// important check in the pack.
func riskFlags(byType map[string]int, volumeThreshold int) []RiskFlag {
	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	var flags []RiskFlag
	for _, name := range names {
		count := byType[name]
		t := ops.OpType(name)
		switch {
		case !t.Supported():
			flags = append(flags, RiskFlag{
				Severity: ops.RiskHigh,
				OpType:   name,
				Count:    count,
				Reason:   fmt.Sprintf("UNKNOWN_OP_TYPE: %q not in the apply engine's supported set", name),
				Detail:   fmt.Sprintf("supported: %v", ops.SupportedOpTypeList()),
			})
		case ops.ClassifyRisk(t) == ops.RiskHigh:
			flags = append(flags, RiskFlag{
				Severity: ops.RiskHigh,
				OpType:   name,
				Count:    count,
				Reason:   fmt.Sprintf("high-risk operation type %s", name),
			})
		case ops.EscalateByVolume(ops.RiskMedium, count, volumeThreshold) == ops.RiskHigh:
			flags = append(flags, RiskFlag{
				Severity: ops.RiskHigh,
				OpType:   name,
				Count:    count,
				Reason:   fmt.Sprintf("high volume of medium-risk operations: %d %s", count, name),
			})
		default:
			flags = append(flags, RiskFlag{
				Severity: ops.RiskMedium,
				OpType:   name,
				Count:    count,
				Reason:   fmt.Sprintf("medium-risk operation type %s", name),
			})
		}
	}
	return flags
}

func operationEvidence(operations []ops.Operation) []OperationEvidence {
	out := make([]OperationEvidence, 0, len(operations))
	for _, op := range operations {
		item := OperationEvidence{
			OpID:       op.OpID,
			OpType:     string(op.OpType),
			EntityRef:  op.EntityRef,
			EntityName: op.Entity.Name,
			Intent:     op.Intent,
			RiskLevel:  op.Risk.Level,
		}
		if op.OpType == ops.OpSetPMaxBrandExclusions && len(op.After) > 0 {
			after := gjson.ParseBytes(op.After)
			item.BrandListName = after.Get("brand_list_name").String()
			after.Get("brands").ForEach(func(_, v gjson.Result) bool {
				item.Brands = append(item.Brands, v.String())
				return true
			})
		}
		if op.OpType == ops.OpUpdateBudget {
			item.Detail = budgetDetail(op)
		}
		out = append(out, item)
	}
	return out
}

// budgetDetail renders a budget change's micros as currency units, so the
// reviewer of a (blocked, flagged) budget operation reads amounts rather
// than micros.
func budgetDetail(op ops.Operation) string {
	before, haveBefore := budgetAmount(op.Before)
	after, haveAfter := budgetAmount(op.After)
	switch {
	case haveBefore && haveAfter:
		return fmt.Sprintf("budget %s -> %s", before, after)
	case haveAfter:
		return "budget -> " + after
	case haveBefore:
		return "budget currently " + before
	}
	return ""
}

func budgetAmount(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	v, err := ops.DecodeChange(ops.OpUpdateBudget, raw)
	if err != nil {
		return "", false
	}
	chg, ok := v.(*ops.BudgetChange)
	if !ok {
		return "", false
	}
	return chg.Amount().StringFixed(2), true
}

// truthSignals cross-references the platform's own recommendations when a
// report artifact is available. Absence degrades to a note, never an error.
func truthSignals(reportPath string, plan *ops.Plan) TruthSignals {
	if reportPath == "" {
		return TruthSignals{Available: false, Note: "truth signals not available: no report provided"}
	}
	var report map[string]any
	if err := artifact.ReadJSON(reportPath, "report", &report); err != nil {
		logger.Warnf("truth signal report unreadable: %v", err)
		return TruthSignals{Available: false, Note: "truth signals not available: " + err.Error()}
	}
	raw, _ := artifactJSON(report, "truth_signals_google_recommendations")
	if raw == "" {
		return TruthSignals{Available: false, Note: "truth signals not available in report"}
	}
	signals := gjson.Parse(raw)
	ts := TruthSignals{
		Available:              true,
		KeywordRecommendations: int(signals.Get("keyword_recommendations.#").Int()),
		BudgetRecommendations:  int(signals.Get("budget_recommendations.#").Int()),
		AssetCoverage:          int(signals.Get("rsa_asset_coverage.#").Int()),
		MerchantClarifiers:     int(signals.Get("merchant_clarifiers.#").Int()),
	}
	ts.TotalSignals = ts.KeywordRecommendations + ts.BudgetRecommendations + ts.AssetCoverage + ts.MerchantClarifiers

	covered := make(map[string]bool, len(plan.Operations))
	for _, op := range plan.Operations {
		covered[op.EntityRef] = true
	}
	for _, key := range []string{"keyword_recommendations", "budget_recommendations", "merchant_clarifiers"} {
		signals.Get(key).ForEach(func(_, recItem gjson.Result) bool {
			if ref := recItem.Get("entity_ref").String(); ref != "" && !covered[ref] {
				ts.UncoveredEntityRefs = append(ts.UncoveredEntityRefs, ref)
			}
			return true
		})
	}
	sort.Strings(ts.UncoveredEntityRefs)
	return ts
}

// Write persists the pack and its markdown rendering next to each other
// under the configured reviews root.
func (b *Builder) Write(pack *Pack) (string, string, error) {
	jsonPath := filepath.Join(b.Cfg.Review.Root, pack.PlanID+".review.json")
	mdPath := filepath.Join(b.Cfg.Review.Root, pack.PlanID+".review.md")
	if err := artifact.WriteJSON(jsonPath, pack); err != nil {
		return "", "", err
	}
	if err := artifact.WriteFile(mdPath, []byte(Render(pack))); err != nil {
		return "", "", err
	}
	logger.Infof("review pack for %s written: %d risk flag(s), %d checklist item(s)",
		pack.PlanID, len(pack.DeterministicChecks.RiskFlags), len(pack.HITLChecklist))
	return jsonPath, mdPath, nil
}

func sameCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func planDigest(plan *ops.Plan) string {
	var sb []byte
	sb = fmt.Appendf(sb, "Plan %s from snapshot %s, %d operation(s), highest risk %s.\n",
		plan.PlanID, plan.SnapshotID, plan.Summary.TotalOps, plan.Summary.HighestRisk)
	for _, op := range plan.Operations {
		sb = fmt.Appendf(sb, "- [%s] %s on %s: %s\n", op.Risk.Level, op.OpType, op.EntityRef, op.Intent)
	}
	return string(sb)
}

func artifactJSON(doc map[string]any, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
