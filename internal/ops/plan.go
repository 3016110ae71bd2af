package ops

import "time"

// PlanVersion is the artifact format version. Bump when the plan schema
// changes incompatibly.
const PlanVersion = "1.1"

// PlanMode distinguishes a reviewable dry-run artifact from one produced for
// execution.
type PlanMode string

const (
	ModeDryRun PlanMode = "DRY_RUN"
	ModeApply  PlanMode = "APPLY"
)

// Guardrails bound what a single plan may propose and what the apply engine
// may execute. Zero values are filled from configuration defaults before use.
type Guardrails struct {
	MaxTotalOps                  int            `json:"max_total_ops" mapstructure:"max_total_ops"`
	MaxOpsByType                 map[string]int `json:"max_ops_by_type" mapstructure:"max_ops_by_type"`
	ForbidBudgetChanges          bool           `json:"forbid_budget_changes" mapstructure:"forbid_budget_changes"`
	ForbidBidStrategyChanges     bool           `json:"forbid_bid_strategy_changes" mapstructure:"forbid_bid_strategy_changes"`
	ForbidCampaignStatusChanges  bool           `json:"forbid_campaign_status_changes" mapstructure:"forbid_campaign_status_changes"`
	RequireManualApprovalForType []string       `json:"require_manual_approval_for_types" mapstructure:"require_manual_approval_for_types"`
	MaxRiskLevel                 RiskTier       `json:"max_risk_level" mapstructure:"max_risk_level"`
	// CampaignAllowlist, when non-empty, restricts execution to operations
	// scoped to the listed campaign ids. CampaignBlocklist always wins over
	// the allowlist.
	CampaignAllowlist []string `json:"campaign_allowlist,omitempty" mapstructure:"campaign_allowlist"`
	CampaignBlocklist []string `json:"campaign_blocklist,omitempty" mapstructure:"campaign_blocklist"`
}

// RequiresManualApproval reports whether t is in the per-type manual
// approval list.
func (g Guardrails) RequiresManualApproval(t OpType) bool {
	for _, s := range g.RequireManualApprovalForType {
		if OpType(s) == t {
			return true
		}
	}
	return false
}

// Finding is a structured review flag attached to a plan or report.
type Finding struct {
	Severity RiskTier `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	OpIDs    []string `json:"op_ids,omitempty"`
}

// Summary aggregates a plan's operations for reviewers and guardrail checks.
type Summary struct {
	TotalOps         int            `json:"total_ops"`
	ByType           map[string]int `json:"by_type"`
	ByRisk           map[string]int `json:"by_risk"`
	RiskScore        int            `json:"risk_score"`
	HighestRisk      RiskTier       `json:"highest_risk"`
	RequiresApproval bool           `json:"requires_approval"`
	Findings         []Finding      `json:"findings,omitempty"`
	Truncated        bool           `json:"truncated,omitempty"`
	TruncatedCount   int            `json:"truncated_count,omitempty"`
}

// Approvals records the human decision that authorizes execution.
type Approvals struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approved_by,omitempty"`
	ApprovedAt string `json:"approved_at,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// SourceRef names one input artifact a plan was derived from.
type SourceRef struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Plan is the reviewable, executable change artifact.
type Plan struct {
	PlanID          string      `json:"plan_id"`
	PlanVersion     string      `json:"plan_version"`
	CreatedUTC      string      `json:"created_utc"`
	Mode            PlanMode    `json:"mode"`
	SnapshotID      string      `json:"snapshot_id"`
	SnapshotVersion string      `json:"snapshot_version,omitempty"`
	Ruleset         string      `json:"ruleset,omitempty"`
	Sources         []SourceRef `json:"sources,omitempty"`
	Guardrails      Guardrails  `json:"guardrails"`
	Operations      []Operation `json:"operations"`
	Summary         Summary     `json:"summary"`
	Approvals       Approvals   `json:"approvals"`
}

// BuildSummary recomputes the summary block from the operation list. The
// volume threshold promotes any MEDIUM type whose count exceeds it in the
// aggregate counts; operations are never modified, so the function is safe
// on loaded artifacts. Plan assembly bakes the promotion into the artifact
// itself via ApplyVolumeEscalation first.
func BuildSummary(operations []Operation, guardrails Guardrails, volumeThreshold int) Summary {
	s := Summary{
		TotalOps: len(operations),
		ByType:   map[string]int{},
		ByRisk:   map[string]int{},
	}
	for _, op := range operations {
		s.ByType[string(op.OpType)]++
	}
	highest := RiskLow
	for _, op := range operations {
		tier := EscalateByVolume(op.Risk.Level, s.ByType[string(op.OpType)], volumeThreshold)
		s.ByRisk[string(tier)]++
		s.RiskScore += tier.Numeric()
		if tier.Numeric() > highest.Numeric() {
			highest = tier
		}
	}
	s.HighestRisk = highest
	s.RequiresApproval = requiresApproval(operations, guardrails, highest)
	return s
}

// ApplyVolumeEscalation returns a copy of operations with every MEDIUM tier
// promoted to HIGH when its type's count exceeds threshold. The input slice
// is left untouched.
func ApplyVolumeEscalation(operations []Operation, threshold int) []Operation {
	byType := map[string]int{}
	for _, op := range operations {
		byType[string(op.OpType)]++
	}
	out := append([]Operation(nil), operations...)
	for i := range out {
		tier := out[i].Risk.Level
		escalated := EscalateByVolume(tier, byType[string(out[i].OpType)], threshold)
		if escalated == tier {
			continue
		}
		reasons := append([]string(nil), out[i].Risk.Reasons...)
		reasons = append(reasons, "volume escalation: operation count for type exceeds threshold")
		out[i].Risk = NewRisk(escalated, reasons...)
	}
	return out
}

func requiresApproval(operations []Operation, g Guardrails, highest RiskTier) bool {
	if len(operations) == 0 {
		return false
	}
	if highest == RiskHigh {
		return true
	}
	for _, op := range operations {
		if g.RequiresManualApproval(op.OpType) {
			return true
		}
		if !op.OpType.Known() {
			return true
		}
	}
	return false
}

// NowUTC formats the current time the way all artifacts record timestamps.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
