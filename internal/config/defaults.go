package config

import (
	"strings"

	"adpilot/internal/ops"
)

const (
	defaultAppEnv                = "dev"
	defaultAppLogLevel           = "info"
	defaultAdsAPIBase            = "https://googleads.googleapis.com/v17"
	defaultOAuthTokenURL         = "https://oauth2.googleapis.com/token"
	defaultMerchantAPIBase       = "https://shoppingcontent.googleapis.com/content/v2.1"
	defaultSnapshotRoot          = "snapshots"
	defaultSnapshotPageSize      = 1000
	defaultRulesetDir            = "configs/rulesets"
	defaultPlansRoot             = "plans/runs"
	defaultReviewsRoot           = "reviews"
	defaultMediumVolumeThreshold = 10
	defaultMaxTotalOps           = 50
	defaultApplyBatchSize        = 50
	defaultApplyRetryMax         = 3
	defaultApplyTimeoutSeconds   = 30
	defaultAdvisoryModel         = "gpt-4o-mini"
	defaultAdvisoryTimeout       = 60
	defaultAuditRoot             = "audit"
	defaultAuditDBPath           = "audit/audit.db"
)

var defaultSnapshotSurfaces = []string{"ads", "pmax", "merchant"}

// defaultMaxOpsByType caps each supported op type individually; anything
// absent from the map falls back to max_total_ops.
var defaultMaxOpsByType = map[string]int{
	string(ops.OpSetKeywordStatus):       20,
	string(ops.OpAddNegativeKeyword):     20,
	string(ops.OpRemoveNegativeKeyword):  20,
	string(ops.OpUpdateAssetText):        10,
	string(ops.OpExcludeProduct):         10,
	string(ops.OpSetPMaxBrandExclusions): 5,
	string(ops.OpCreateListingFilter):    10,
	string(ops.OpRemoveListingFilter):    10,
}

var defaultManualApprovalTypes = []string{
	string(ops.OpRemoveAsset),
	string(ops.OpExcludeProduct),
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Ads.applyDefaults(keys)
	c.Merchant.applyDefaults(keys)
	c.Snapshot.applyDefaults(keys)
	c.Planner.applyDefaults(keys)
	c.Review.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	applyGuardrailDefaults(&c.Guardrails, keys)
	c.Apply.applyDefaults(keys)
	c.Advisory.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (a *AdsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ads.api_base_url", &a.APIBaseURL, defaultAdsAPIBase),
		stringFieldDefault("ads.oauth.token_url", &a.OAuth.TokenURL, defaultOAuthTokenURL),
	)
}

func (m *MerchantConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("merchant.api_base_url", &m.APIBaseURL, defaultMerchantAPIBase),
	)
}

func (s *SnapshotConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("snapshot.root", &s.Root, defaultSnapshotRoot),
		fieldDefault{
			key:   "snapshot.page_size",
			need:  func() bool { return s.PageSize <= 0 },
			apply: func() { s.PageSize = defaultSnapshotPageSize },
		},
	)
	if len(s.Surfaces) == 0 {
		s.Surfaces = append([]string(nil), defaultSnapshotSurfaces...)
	}
}

func (p *PlannerConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("planner.ruleset_dir", &p.RulesetDir, defaultRulesetDir),
		stringFieldDefault("planner.plans_root", &p.PlansRoot, defaultPlansRoot),
	)
}

func (r *ReviewConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("review.root", &r.Root, defaultReviewsRoot),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.medium_volume_threshold",
			need:  func() bool { return r.MediumVolumeThreshold <= 0 },
			apply: func() { r.MediumVolumeThreshold = defaultMediumVolumeThreshold },
		},
	)
}

// applyGuardrailDefaults fills the guardrail block. The forbid flags default
// to true: relaxing them takes an explicit config key, never an omission.
func applyGuardrailDefaults(g *ops.Guardrails, keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "guardrails.max_total_ops",
			need:  func() bool { return g.MaxTotalOps <= 0 },
			apply: func() { g.MaxTotalOps = defaultMaxTotalOps },
		},
		boolFieldDefault("guardrails.forbid_budget_changes", &g.ForbidBudgetChanges, true),
		boolFieldDefault("guardrails.forbid_bid_strategy_changes", &g.ForbidBidStrategyChanges, true),
		boolFieldDefault("guardrails.forbid_campaign_status_changes", &g.ForbidCampaignStatusChanges, true),
		stringFieldDefault("guardrails.max_risk_level", (*string)(&g.MaxRiskLevel), string(ops.RiskMedium)),
	)
	if len(g.MaxOpsByType) == 0 && !keys.isSet("guardrails.max_ops_by_type") {
		g.MaxOpsByType = make(map[string]int, len(defaultMaxOpsByType))
		for k, v := range defaultMaxOpsByType {
			g.MaxOpsByType[k] = v
		}
	}
	if len(g.RequireManualApprovalForType) == 0 && !keys.isSet("guardrails.require_manual_approval_for_types") {
		g.RequireManualApprovalForType = append([]string(nil), defaultManualApprovalTypes...)
	}
}

func (a *ApplyConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "apply.batch_size",
			need:  func() bool { return a.BatchSize <= 0 },
			apply: func() { a.BatchSize = defaultApplyBatchSize },
		},
		fieldDefault{
			key:   "apply.retry_max",
			need:  func() bool { return a.RetryMax <= 0 },
			apply: func() { a.RetryMax = defaultApplyRetryMax },
		},
		fieldDefault{
			key:   "apply.request_timeout_seconds",
			need:  func() bool { return a.RequestTimeoutSeconds <= 0 },
			apply: func() { a.RequestTimeoutSeconds = defaultApplyTimeoutSeconds },
		},
	)
}

func (a *AdvisoryConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("advisory.model", &a.Model, defaultAdvisoryModel),
		fieldDefault{
			key:   "advisory.timeout_seconds",
			need:  func() bool { return a.TimeoutSeconds <= 0 },
			apply: func() { a.TimeoutSeconds = defaultAdvisoryTimeout },
		},
	)
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("audit.root", &a.Root, defaultAuditRoot),
		stringFieldDefault("audit.db_path", &a.DBPath, defaultAuditDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
