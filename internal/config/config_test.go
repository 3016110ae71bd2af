package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/ops"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
ads:
  customer_id: "123-456-7890"
  developer_token: "dev-token"
  oauth:
    client_id: "cid"
    client_secret: "secret"
    refresh_token: "refresh"
merchant:
  merchant_id: "987654"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "snapshots", cfg.Snapshot.Root)
	assert.Equal(t, []string{"ads", "pmax", "merchant"}, cfg.Snapshot.Surfaces)
	assert.Equal(t, 10, cfg.Risk.MediumVolumeThreshold)
	assert.Equal(t, 50, cfg.Guardrails.MaxTotalOps)
	assert.True(t, cfg.Guardrails.ForbidBudgetChanges)
	assert.True(t, cfg.Guardrails.ForbidBidStrategyChanges)
	assert.Equal(t, ops.RiskMedium, cfg.Guardrails.MaxRiskLevel)
	assert.Contains(t, cfg.Guardrails.RequireManualApprovalForType, string(ops.OpExcludeProduct))
	assert.Equal(t, defaultOAuthTokenURL, cfg.Ads.OAuth.TokenURL)
}

func TestLoadExplicitFalseSurvivesDefaults(t *testing.T) {
	body := minimalConfig + `
guardrails:
  forbid_budget_changes: false
`
	path := writeConfig(t, t.TempDir(), "config.yaml", body)

	cfg, err := Load(path)
	assert.NoError(t, err)
	// Explicitly set to false: the true default must not clobber it.
	assert.False(t, cfg.Guardrails.ForbidBudgetChanges)
	assert.True(t, cfg.Guardrails.ForbidBidStrategyChanges)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", minimalConfig+`
app:
  log_level: debug
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
snapshot:
  page_size: 500
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 500, cfg.Snapshot.PageSize)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
ads:
  customer_id: "123"
merchant:
  merchant_id: "987"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ads.developer_token")
}

func TestValidateRejectsUnknownSurface(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
snapshot:
  surfaces: [ads, youtube]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown surface")
}

func TestValidateRejectsBadRiskLevel(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
guardrails:
  max_risk_level: EXTREME
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "max_risk_level")
}

func TestValidateRejectsUnknownManualApprovalType(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
guardrails:
  require_manual_approval_for_types: [ADS_DO_SOMETHING_NEW]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown op_type")
}

func TestAdvisoryValidation(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
advisory:
  enabled: true
  api_url: "https://api.example.com/v1"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "advisory.api_key")
}
