// Package advisory produces best-effort language-model commentary on a
// plan. It is strictly non-authoritative: callers merge its output into a
// clearly labeled block and treat every failure as a note, never an error.
package advisory

import (
	"context"
	"strings"
	"time"

	"adpilot/internal/config"
	"adpilot/internal/logger"
)

// Provider is the minimal chat-completion surface the review stage needs.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Result is the advisory block embedded in a review pack.
type Result struct {
	Authoritative bool   `json:"authoritative"`
	Model         string `json:"model,omitempty"`
	Commentary    string `json:"commentary,omitempty"`
	Note          string `json:"note,omitempty"`
}

const systemPrompt = `You review proposed advertising account changes.
Comment on risks a human reviewer should double-check.
You have no authority to approve or reject; be brief and concrete.`

// Run asks the provider for commentary, reducing any failure to a note.
// A nil provider means advisory is disabled.
func Run(ctx context.Context, p Provider, model, planDigest string) Result {
	if p == nil {
		return Result{Authoritative: false, Note: "advisory disabled"}
	}
	out, err := p.Complete(ctx, systemPrompt, planDigest)
	if err != nil {
		logger.Warnf("advisory call failed: %v", err)
		return Result{Authoritative: false, Model: model, Note: "advisory unavailable: " + err.Error()}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Result{Authoritative: false, Model: model, Note: "advisory returned no commentary"}
	}
	return Result{Authoritative: false, Model: model, Commentary: out}
}

// NewProvider builds the configured provider, or nil when disabled.
func NewProvider(cfg *config.AdvisoryConfig) Provider {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &OpenAIChatClient{
		BaseURL: cfg.APIURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}
