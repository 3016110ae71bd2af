package config

import (
	"strings"

	"adpilot/internal/ops"
)

// Config is the full runtime configuration, loaded once at startup and
// passed by reference.
type Config struct {
	App        AppConfig      `mapstructure:"app"`
	Ads        AdsConfig      `mapstructure:"ads"`
	Merchant   MerchantConfig `mapstructure:"merchant"`
	Snapshot   SnapshotConfig `mapstructure:"snapshot"`
	Planner    PlannerConfig  `mapstructure:"planner"`
	Review     ReviewConfig   `mapstructure:"review"`
	Risk       RiskConfig     `mapstructure:"risk"`
	Guardrails ops.Guardrails `mapstructure:"guardrails"`
	Apply      ApplyConfig    `mapstructure:"apply"`
	Advisory   AdvisoryConfig `mapstructure:"advisory"`
	Audit      AuditConfig    `mapstructure:"audit"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// AdsConfig covers the Google Ads API surface: REST endpoint, developer
// token and the OAuth refresh-token triple.
type AdsConfig struct {
	APIBaseURL      string      `mapstructure:"api_base_url"`
	DeveloperToken  string      `mapstructure:"developer_token"`
	CustomerID      string      `mapstructure:"customer_id"`
	LoginCustomerID string      `mapstructure:"login_customer_id"`
	OAuth           OAuthConfig `mapstructure:"oauth"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenURL     string `mapstructure:"token_url"`
}

type MerchantConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	MerchantID string `mapstructure:"merchant_id"`
}

type SnapshotConfig struct {
	Root     string   `mapstructure:"root"`
	Surfaces []string `mapstructure:"surfaces"`
	PageSize int      `mapstructure:"page_size"`
}

type PlannerConfig struct {
	RulesetDir string `mapstructure:"ruleset_dir"`
	PlansRoot  string `mapstructure:"plans_root"`
}

type ReviewConfig struct {
	Root string `mapstructure:"root"`
}

type RiskConfig struct {
	MediumVolumeThreshold int `mapstructure:"medium_volume_threshold"`
}

type ApplyConfig struct {
	BatchSize             int `mapstructure:"batch_size"`
	RetryMax              int `mapstructure:"retry_max"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// SkipStaleOperations switches precondition failures from abort-the-run
	// (the default) to skip-the-operation-and-continue.
	SkipStaleOperations bool `mapstructure:"skip_stale_operations"`
}

type AdvisoryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIURL         string `mapstructure:"api_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type AuditConfig struct {
	Root   string `mapstructure:"root"`
	DBPath string `mapstructure:"db_path"`
}

// keySet tracks the field paths explicitly set in config files, so defaults
// never overwrite an explicit zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
