package config

import (
	"fmt"
	"strings"

	"adpilot/internal/ops"
)

func validate(c *Config) error {
	if err := c.Ads.validate(); err != nil {
		return err
	}
	if err := c.Merchant.validate(); err != nil {
		return err
	}
	if err := c.Snapshot.validate(); err != nil {
		return err
	}
	if err := validateGuardrails(&c.Guardrails); err != nil {
		return err
	}
	if err := c.Advisory.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AdsConfig) validate() error {
	if strings.TrimSpace(a.CustomerID) == "" {
		return fmt.Errorf("ads.customer_id cannot be empty")
	}
	if strings.TrimSpace(a.DeveloperToken) == "" {
		return fmt.Errorf("ads.developer_token cannot be empty")
	}
	o := a.OAuth
	if strings.TrimSpace(o.ClientID) == "" || strings.TrimSpace(o.ClientSecret) == "" || strings.TrimSpace(o.RefreshToken) == "" {
		return fmt.Errorf("ads.oauth requires client_id, client_secret and refresh_token")
	}
	return nil
}

func (m *MerchantConfig) validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return fmt.Errorf("merchant.merchant_id cannot be empty")
	}
	return nil
}

func (s *SnapshotConfig) validate() error {
	if len(s.Surfaces) == 0 {
		return fmt.Errorf("snapshot.surfaces requires at least one surface")
	}
	for _, surface := range s.Surfaces {
		switch strings.ToLower(strings.TrimSpace(surface)) {
		case "ads", "pmax", "merchant":
		default:
			return fmt.Errorf("snapshot.surfaces contains unknown surface %q (want ads, pmax or merchant)", surface)
		}
	}
	if s.PageSize < 1 || s.PageSize > 10000 {
		return fmt.Errorf("snapshot.page_size must be in [1,10000]")
	}
	return nil
}

func validateGuardrails(g *ops.Guardrails) error {
	if g.MaxTotalOps <= 0 {
		return fmt.Errorf("guardrails.max_total_ops must be > 0")
	}
	switch g.MaxRiskLevel {
	case ops.RiskLow, ops.RiskMedium, ops.RiskHigh:
	default:
		return fmt.Errorf("guardrails.max_risk_level must be LOW, MEDIUM or HIGH, got %q", g.MaxRiskLevel)
	}
	for name, limit := range g.MaxOpsByType {
		if limit < 0 {
			return fmt.Errorf("guardrails.max_ops_by_type.%s must be >= 0", name)
		}
	}
	for _, name := range g.RequireManualApprovalForType {
		if !ops.OpType(name).Known() {
			return fmt.Errorf("guardrails.require_manual_approval_for_types contains unknown op_type %q", name)
		}
	}
	return nil
}

func (a *AdvisoryConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("advisory.api_url cannot be empty when advisory is enabled")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("advisory.api_key cannot be empty when advisory is enabled")
	}
	return nil
}
