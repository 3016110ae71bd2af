package planner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"adpilot/internal/artifact"
	"adpilot/internal/config"
	"adpilot/internal/logger"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// Generator builds plans from one snapshot and one named ruleset.
type Generator struct {
	Cfg  *config.Config
	Snap *snapshot.Snapshot
}

// Generate runs the ruleset's rules in order, deduplicates operations by
// entity+type (last emitted wins, so later rules take priority), truncates
// loudly to maxOps, and assembles the plan. maxOps <= 0 falls back to the
// guardrail limit.
func (g *Generator) Generate(rulesetName string, maxOps int) (*ops.Plan, error) {
	rs, err := LoadRuleset(g.Cfg.Planner.RulesetDir, rulesetName)
	if err != nil {
		return nil, err
	}
	rc := &ruleContext{snap: g.Snap, rs: rs}
	for _, ruleID := range rs.Rules {
		before := len(rc.operations)
		if err := ruleRegistry[ruleID](rc); err != nil {
			return nil, fmt.Errorf("rule %s: %w", ruleID, err)
		}
		logger.Debugf("rule %s emitted %d operation(s)", ruleID, len(rc.operations)-before)
	}

	screened, screenFindings := screenNegatives(rc.operations, rs)
	operations := dedupeLastWins(screened)
	findings := append(rc.findings, screenFindings...)

	if maxOps <= 0 {
		maxOps = g.Cfg.Guardrails.MaxTotalOps
	}
	truncatedCount := 0
	if len(operations) > maxOps {
		dropped := operations[maxOps:]
		operations = operations[:maxOps]
		truncatedCount = len(dropped)
		droppedIDs := make([]string, 0, len(dropped))
		for _, op := range dropped {
			droppedIDs = append(droppedIDs, op.OpID)
		}
		logger.Warnf("plan truncated to %d operations, excluded: %s", maxOps, strings.Join(droppedIDs, ", "))
		findings = append(findings, ops.Finding{
			Severity: ops.RiskHigh,
			Code:     "PLAN_TRUNCATED",
			Message:  fmt.Sprintf("%d operation(s) excluded by max_ops=%d", truncatedCount, maxOps),
			OpIDs:    droppedIDs,
		})
	}

	plan := &ops.Plan{
		PlanID:          newPlanID(),
		PlanVersion:     ops.PlanVersion,
		CreatedUTC:      ops.NowUTC(),
		Mode:            ops.ModeDryRun,
		SnapshotID:      g.Snap.ID(),
		SnapshotVersion: g.Snap.Manifest.SnapshotVersion,
		Ruleset:         rs.Name,
		Sources: []ops.SourceRef{
			{Kind: "snapshot", Path: g.Snap.Dir},
			{Kind: "ruleset", Path: filepath.Join(g.Cfg.Planner.RulesetDir, rs.Name+".yaml")},
		},
		Guardrails: g.Cfg.Guardrails,
		Operations: ops.ApplyVolumeEscalation(operations, g.Cfg.Risk.MediumVolumeThreshold),
	}
	plan.Summary = ops.BuildSummary(plan.Operations, plan.Guardrails, g.Cfg.Risk.MediumVolumeThreshold)
	plan.Summary.Findings = append(findings, plan.Summary.Findings...)
	plan.Summary.Truncated = truncatedCount > 0
	plan.Summary.TruncatedCount = truncatedCount
	return plan, nil
}

// Write persists the plan as a new immutable artifact and returns its path.
func (g *Generator) Write(plan *ops.Plan) (string, error) {
	path := filepath.Join(g.Cfg.Planner.PlansRoot, plan.PlanID+".json")
	if err := artifact.WriteJSON(path, plan); err != nil {
		return "", err
	}
	logger.Infof("plan %s written: %d operation(s), highest risk %s",
		plan.PlanID, plan.Summary.TotalOps, plan.Summary.HighestRisk)
	return path, nil
}

// screenNegatives drops ADD_NEGATIVE_KEYWORD operations whose term contains a
// configured manufacturer brand: negating a manufacturer name would suppress
// legitimate product queries account-wide. Each dropped operation becomes a
// HIGH finding instead.
func screenNegatives(operations []ops.Operation, rs *Ruleset) ([]ops.Operation, []ops.Finding) {
	var findings []ops.Finding
	kept := make([]ops.Operation, 0, len(operations))
	for _, op := range operations {
		if op.OpType != ops.OpAddNegativeKeyword {
			kept = append(kept, op)
			continue
		}
		text := gjson.GetBytes(op.After, "text").String()
		brand := rs.ManufacturerBrandIn(text)
		if brand == "" {
			kept = append(kept, op)
			continue
		}
		findings = append(findings, ops.Finding{
			Severity: ops.RiskHigh,
			Code:     "MANUFACTURER_BRAND_NEGATIVE",
			Message:  fmt.Sprintf("negative keyword %q contains manufacturer brand %q, operation dropped", text, brand),
			OpIDs:    []string{op.OpID},
		})
	}
	return kept, findings
}

// dedupeLastWins keeps the last operation emitted per entity+type pair while
// preserving first-seen position, so rule priority decides content without
// shuffling plan order.
func dedupeLastWins(operations []ops.Operation) []ops.Operation {
	if len(operations) == 0 {
		return nil
	}
	lastByKey := make(map[string]int, len(operations))
	for i, op := range operations {
		lastByKey[op.DedupeKey()] = i
	}
	out := make([]ops.Operation, 0, len(lastByKey))
	seen := make(map[string]bool, len(lastByKey))
	for _, op := range operations {
		key := op.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, operations[lastByKey[key]])
	}
	return out
}

func newPlanID() string {
	return fmt.Sprintf("plan-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}
