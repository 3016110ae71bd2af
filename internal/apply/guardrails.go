package apply

import (
	"fmt"
	"sort"
	"strings"

	"adpilot/internal/ops"
)

// validatePlan is the structural gate: it runs before any remote resource is
// touched and fails the whole plan on the first violation, never a subset.
// The forbidden-type check runs before the supported-set check so a plan
// carrying e.g. a budget change is reported as a guardrail violation, not a
// generic unsupported type.
func validatePlan(plan *ops.Plan, g ops.Guardrails, execute bool) error {
	if len(plan.Operations) == 0 {
		return nil
	}
	if err := checkForbiddenOps(plan.Operations, g); err != nil {
		return err
	}
	for _, op := range plan.Operations {
		if !op.OpType.Supported() {
			return &ops.UnsupportedOperationError{OpID: op.OpID, OpType: op.OpType}
		}
	}
	if g.MaxTotalOps > 0 && len(plan.Operations) > g.MaxTotalOps {
		return &ops.GuardrailViolation{
			Rule:   "max_total_ops",
			Detail: fmt.Sprintf("plan has %d operations, limit is %d", len(plan.Operations), g.MaxTotalOps),
		}
	}

	byType := make(map[ops.OpType]int)
	for _, op := range plan.Operations {
		byType[op.OpType]++
	}
	for _, t := range sortedTypes(byType) {
		if limit, ok := g.MaxOpsByType[string(t)]; ok && limit >= 0 && byType[t] > limit {
			return &ops.GuardrailViolation{
				Rule:   "max_ops_by_type",
				Detail: fmt.Sprintf("%d operations of type %s, limit is %d", byType[t], t, limit),
			}
		}
	}

	if g.MaxRiskLevel != "" {
		max := ops.ParseRiskTier(string(g.MaxRiskLevel))
		for _, op := range plan.Operations {
			if op.Risk.Level.Numeric() > max.Numeric() {
				return &ops.GuardrailViolation{
					Rule:   "max_risk_level",
					Detail: fmt.Sprintf("operation %s is %s, limit is %s", op.OpID, op.Risk.Level, max),
				}
			}
		}
	}

	if err := checkCampaignScope(plan.Operations, g); err != nil {
		return err
	}

	// Live execution of a plan that the summary marks approval-required
	// needs the recorded human decision; dry-run never does.
	if execute && plan.Summary.RequiresApproval && !plan.Approvals.Approved {
		return &ops.GuardrailViolation{
			Rule:   "approval_required",
			Detail: fmt.Sprintf("plan %s requires manual approval and carries none", plan.PlanID),
		}
	}
	return nil
}

func checkForbiddenOps(operations []ops.Operation, g ops.Guardrails) error {
	present := map[string]bool{}
	for _, op := range operations {
		switch {
		case g.ForbidBudgetChanges && op.OpType == ops.OpUpdateBudget:
			present[string(op.OpType)] = true
		case g.ForbidBidStrategyChanges && op.OpType == ops.OpUpdateBidStrategy:
			present[string(op.OpType)] = true
		case g.ForbidCampaignStatusChanges && op.Entity.Type == "CAMPAIGN" && op.OpType == ops.OpSetKeywordStatus:
			name := string(op.OpType) + " on CAMPAIGN"
			present[name] = true
		}
	}
	if len(present) == 0 {
		return nil
	}
	names := make([]string, 0, len(present))
	for name := range present {
		names = append(names, name)
	}
	sort.Strings(names)
	return &ops.GuardrailViolation{
		Rule:   "forbidden_op_types",
		Detail: "plan contains forbidden operation types: " + strings.Join(names, ", "),
	}
}

// checkCampaignScope enforces the campaign allow/blocklists. Operations not
// scoped to any campaign (merchant products, shared sets) pass both lists.
func checkCampaignScope(operations []ops.Operation, g ops.Guardrails) error {
	if len(g.CampaignAllowlist) == 0 && len(g.CampaignBlocklist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(g.CampaignAllowlist))
	for _, id := range g.CampaignAllowlist {
		allowed[id] = true
	}
	blocked := make(map[string]bool, len(g.CampaignBlocklist))
	for _, id := range g.CampaignBlocklist {
		blocked[id] = true
	}
	for _, op := range operations {
		id := campaignID(op)
		if id == "" {
			continue
		}
		if blocked[id] {
			return &ops.GuardrailViolation{
				Rule:   "campaign_blocklist",
				Detail: fmt.Sprintf("operation %s targets blocklisted campaign %s", op.OpID, id),
			}
		}
		if len(allowed) > 0 && !allowed[id] {
			return &ops.GuardrailViolation{
				Rule:   "campaign_allowlist",
				Detail: fmt.Sprintf("operation %s targets campaign %s outside the allowlist", op.OpID, id),
			}
		}
	}
	return nil
}

func campaignID(op ops.Operation) string {
	if op.Entity.Type == "CAMPAIGN" {
		return op.Entity.ID
	}
	return op.Entity.ParentID("ads.campaign")
}

func sortedTypes(byType map[ops.OpType]int) []ops.OpType {
	out := make([]ops.OpType, 0, len(byType))
	for t := range byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
