package ops

// RiskTier classifies the blast radius of a single operation.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Numeric returns the ordering value used for max-risk guardrail checks.
func (t RiskTier) Numeric() int {
	switch t {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

// ParseRiskTier maps a string to a tier, defaulting unknowns to HIGH so a
// malformed tier can never relax a guardrail.
func ParseRiskTier(s string) RiskTier {
	switch RiskTier(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskTier(s)
	}
	return RiskHigh
}

// riskTable is the fixed operation-type classification. Types absent from
// the table (including everything outside the closed vocabulary) classify
// as HIGH.
var riskTable = map[OpType]RiskTier{
	OpUpdateBudget:           RiskHigh,
	OpUpdateBidStrategy:      RiskHigh,
	OpSetPMaxBrandExclusions: RiskHigh,
	OpRemoveAsset:            RiskHigh,
	OpExcludeProduct:         RiskHigh,
	OpRemoveListingFilter:    RiskHigh,

	OpSetKeywordStatus:      RiskMedium,
	OpAddNegativeKeyword:    RiskMedium,
	OpRemoveNegativeKeyword: RiskMedium,
	OpUpdateAssetText:       RiskMedium,
	OpSetKeywordMatchType:   RiskMedium,
	OpCreateListingFilter:   RiskMedium,
}

// ClassifyRisk returns the static tier for an operation type.
func ClassifyRisk(t OpType) RiskTier {
	if tier, ok := riskTable[t]; ok {
		return tier
	}
	return RiskHigh
}

// EscalateByVolume promotes a MEDIUM tier to HIGH when the count of
// operations of one type in a plan exceeds threshold. The threshold is a
// named configuration value (risk.medium_volume_threshold), not a constant.
func EscalateByVolume(tier RiskTier, count, threshold int) RiskTier {
	if tier == RiskMedium && threshold > 0 && count > threshold {
		return RiskHigh
	}
	return tier
}

// Risk is the per-operation risk block carried in plan artifacts.
type Risk struct {
	Level        RiskTier `json:"level"`
	LevelNumeric int      `json:"level_numeric"`
	Reasons      []string `json:"reasons,omitempty"`
	Mitigations  []string `json:"mitigations,omitempty"`
}

// NewRisk builds a Risk block for a tier.
func NewRisk(tier RiskTier, reasons ...string) Risk {
	return Risk{Level: tier, LevelNumeric: tier.Numeric(), Reasons: reasons}
}
