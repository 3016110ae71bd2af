package review

import (
	"fmt"
	"strings"

	"adpilot/internal/ops"
)

// buildChecklist produces the HITL checklist: baseline items first, then
// items keyed to the operation types present, then risk- and
// guardrail-driven items, and the safety item always last.
func buildChecklist(plan *ops.Plan, checks Checks) []ChecklistItem {
	byType := checks.OperationSummary.ByType
	has := func(t ops.OpType) bool { return byType[string(t)] > 0 }

	items := []ChecklistItem{
		{Item: "Verify plan intent matches the business objective", Category: "INTENT", Required: true},
		{Item: "Review snapshot provenance and freshness", Category: "DATA", Required: true},
	}

	if has(ops.OpSetPMaxBrandExclusions) {
		items = append(items,
			ChecklistItem{Item: "Confirm protected manufacturer brands are NOT in any exclusion list", Category: "PMAX_BRAND_EXCLUSIONS", Required: true},
			ChecklistItem{Item: "Verify each brand exclusion targets the intended PMax campaign", Category: "PMAX_BRAND_EXCLUSIONS", Required: true},
		)
		for _, ev := range checks.OperationEvidence {
			if len(ev.Brands) > 0 {
				items = append(items, ChecklistItem{
					Item:     fmt.Sprintf("Review %d brand term(s) excluded by %s, ensure no critical terms blocked", len(ev.Brands), ev.OpID),
					Category: "PMAX_BRAND_EXCLUSIONS",
					Required: true,
				})
			}
		}
	}
	if has(ops.OpUpdateBudget) {
		items = append(items, ChecklistItem{Item: "Verify budget changes align with monthly spend targets", Category: "BUDGET", Required: true})
	}
	if has(ops.OpUpdateBidStrategy) {
		items = append(items,
			ChecklistItem{Item: "Confirm bidding changes won't disrupt the Smart Bidding learning phase", Category: "BIDDING", Required: true},
			ChecklistItem{Item: "Review target changes against historical performance", Category: "BIDDING", Required: true},
		)
	}
	if has(ops.OpSetKeywordStatus) {
		items = append(items, ChecklistItem{Item: "Review paused keywords, ensure no unintended brand term blocks", Category: "KEYWORDS", Required: true})
	}
	if has(ops.OpAddNegativeKeyword) {
		items = append(items,
			ChecklistItem{Item: "Ensure negative keywords won't block protected manufacturer brand traffic", Category: "KEYWORDS", Required: true},
			ChecklistItem{Item: "Verify negative keywords won't block high-converting search terms", Category: "KEYWORDS", Required: true},
		)
	}
	if has(ops.OpUpdateAssetText) || has(ops.OpRemoveAsset) {
		items = append(items, ChecklistItem{Item: "Confirm updated asset copy aligns with brand guidelines", Category: "ASSETS", Required: true})
	}
	if has(ops.OpExcludeProduct) {
		items = append(items, ChecklistItem{Item: "Verify product exclusions align with inventory and compliance status", Category: "MERCHANT", Required: true})
	}
	if has(ops.OpCreateListingFilter) || has(ops.OpRemoveListingFilter) {
		items = append(items, ChecklistItem{Item: "Verify listing-group tree stays valid: no childless subdivisions, catch-all retained", Category: "LISTING_GROUPS", Required: true})
	}

	unknown, high := 0, 0
	for _, f := range checks.RiskFlags {
		if strings.HasPrefix(f.Reason, "UNKNOWN_OP_TYPE") {
			unknown++
		}
		if f.Severity == ops.RiskHigh {
			high++
		}
	}
	if unknown > 0 {
		items = append(items, ChecklistItem{
			Item:     "CRITICAL: unknown operation types detected, manual review REQUIRED before execution",
			Category: "UNKNOWN_OP",
			Required: true,
		})
	}
	if high > 0 {
		items = append(items, ChecklistItem{
			Item:     fmt.Sprintf("HIGH risk detected (%d flag(s)), double-check all operations before execution", high),
			Category: "RISK",
			Required: true,
		})
	}

	var approvalTypes []string
	for _, name := range plan.Guardrails.RequireManualApprovalForType {
		if byType[name] > 0 {
			approvalTypes = append(approvalTypes, name)
		}
	}
	if len(approvalTypes) > 0 {
		items = append(items, ChecklistItem{
			Item:     "Manual approval REQUIRED for: " + strings.Join(approvalTypes, ", "),
			Category: "APPROVAL",
			Required: true,
		})
	}

	items = append(items, ChecklistItem{
		Item:     "Confirm apply engine safeguards are enabled (max_ops, forbid flags, abort-on-error)",
		Category: "SAFETY",
		Required: true,
	})
	return items
}
