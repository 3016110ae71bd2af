package review

import (
	"fmt"
	"strings"
)

// Render produces the human-readable companion document for a pack.
func Render(pack *Pack) string {
	var b strings.Builder
	checks := pack.DeterministicChecks

	fmt.Fprintf(&b, "# Review Pack: %s\n\n", pack.PlanID)
	fmt.Fprintf(&b, "Generated: %s\n\n", pack.GeneratedUTC)

	b.WriteString("## Plan\n\n")
	for _, key := range []string{"plan_id", "plan_version", "created_utc", "mode", "snapshot_id", "ruleset"} {
		if v := checks.PlanMetadata[key]; v != "" {
			fmt.Fprintf(&b, "- %s: `%s`\n", key, v)
		}
	}
	fmt.Fprintf(&b, "\nSnapshot `%s` (%s), surfaces: %s\n\n",
		checks.SnapshotProvenance.SnapshotID,
		checks.SnapshotProvenance.CreatedUTC,
		strings.Join(checks.SnapshotProvenance.Surfaces, ", "))

	s := checks.OperationSummary
	fmt.Fprintf(&b, "## Summary\n\n%d operation(s), risk score %d, highest risk %s, requires approval: %t\n\n",
		s.TotalOps, s.RiskScore, s.HighestRisk, s.RequiresApproval)
	for name, count := range s.ByType {
		fmt.Fprintf(&b, "- %s: %d\n", name, count)
	}
	for _, w := range checks.Warnings {
		fmt.Fprintf(&b, "\n> WARNING: %s\n", w)
	}

	b.WriteString("\n## Risk Flags\n\n")
	if len(checks.RiskFlags) == 0 {
		b.WriteString("none\n")
	}
	for _, f := range checks.RiskFlags {
		fmt.Fprintf(&b, "- **%s** %s (x%d): %s\n", f.Severity, f.OpType, f.Count, f.Reason)
	}

	b.WriteString("\n## Operations\n\n")
	for _, ev := range checks.OperationEvidence {
		fmt.Fprintf(&b, "- `%s` [%s] %s on `%s`: %s", ev.OpID, ev.RiskLevel, ev.OpType, ev.EntityRef, ev.Intent)
		if ev.Detail != "" {
			fmt.Fprintf(&b, " (%s)", ev.Detail)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Truth Signals\n\n")
	ts := checks.TruthSignals
	if !ts.Available {
		fmt.Fprintf(&b, "%s\n", ts.Note)
	} else {
		fmt.Fprintf(&b, "%d platform signal(s): %d keyword, %d budget, %d asset coverage, %d merchant\n",
			ts.TotalSignals, ts.KeywordRecommendations, ts.BudgetRecommendations, ts.AssetCoverage, ts.MerchantClarifiers)
		if len(ts.UncoveredEntityRefs) > 0 {
			fmt.Fprintf(&b, "\nOpportunities not covered by this plan:\n")
			for _, ref := range ts.UncoveredEntityRefs {
				fmt.Fprintf(&b, "- `%s`\n", ref)
			}
		}
	}

	b.WriteString("\n## HITL Checklist\n\n")
	for _, item := range pack.HITLChecklist {
		fmt.Fprintf(&b, "- [ ] (%s) %s\n", item.Category, item.Item)
	}

	if pack.LLMAdvisory != nil {
		b.WriteString("\n## LLM Advisory (non-authoritative)\n\n")
		if pack.LLMAdvisory.Note != "" {
			fmt.Fprintf(&b, "_%s_\n", pack.LLMAdvisory.Note)
		}
		if pack.LLMAdvisory.Commentary != "" {
			fmt.Fprintf(&b, "%s\n", pack.LLMAdvisory.Commentary)
		}
	}
	return b.String()
}
