// Package planner turns one snapshot into a reviewable plan by running a
// named ruleset against the captured records. The planner never reads the
// live system: everything an operation asserts must be visible in the
// snapshot it was generated from.
package planner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ruleset is a YAML rule configuration file. Rule ids listed under rules
// run in order; priority for dedup is list position (later wins).
type Ruleset struct {
	Name               string   `yaml:"name"`
	BrandedCampaignID  string   `yaml:"branded_campaign_id"`
	BrandTerms         []string `yaml:"brand_terms"`
	ManufacturerBrands []string `yaml:"manufacturer_brands"`
	DiscontinuedSKUs   []string `yaml:"discontinued_skus"`
	GenericReplacement string   `yaml:"generic_replacement"`
	Rules              []string `yaml:"rules"`
}

// LoadRuleset reads <dir>/<name>.yaml, rejecting unknown YAML fields and
// unknown rule ids. An unknown ruleset name is a fatal input error, never a
// silent fallback.
func LoadRuleset(dir, name string) (*Ruleset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("ruleset name cannot be empty")
	}
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("unknown ruleset %q: %s does not exist", name, path)
		}
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}
	var rs Ruleset
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("parse ruleset %s: %w", path, err)
	}
	if rs.Name == "" {
		rs.Name = name
	}
	if rs.Name != name {
		return nil, fmt.Errorf("ruleset file %s declares name %q, expected %q", path, rs.Name, name)
	}
	if rs.GenericReplacement == "" {
		rs.GenericReplacement = "Premium"
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("ruleset %q enables no rules", name)
	}
	for _, id := range rs.Rules {
		if _, ok := ruleRegistry[id]; !ok {
			return nil, fmt.Errorf("ruleset %q references unknown rule %q", name, id)
		}
	}
	return &rs, nil
}

// IsBrandTerm reports whether text matches one of the configured brand
// terms, token-wise and case-insensitively.
func (rs *Ruleset) IsBrandTerm(text string) bool {
	lowered := strings.ToLower(text)
	for _, term := range rs.BrandTerms {
		if strings.Contains(lowered, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// ManufacturerBrandIn returns the first manufacturer brand found in text,
// or "" when none is present.
func (rs *Ruleset) ManufacturerBrandIn(text string) string {
	lowered := strings.ToLower(text)
	for _, brand := range rs.ManufacturerBrands {
		if strings.Contains(lowered, strings.ToLower(brand)) {
			return brand
		}
	}
	return ""
}

// IsDiscontinued reports whether offerID is on the discontinued list.
func (rs *Ruleset) IsDiscontinued(offerID string) bool {
	for _, sku := range rs.DiscontinuedSKUs {
		if sku == offerID {
			return true
		}
	}
	return false
}

// SafeBrandTerms filters out brand terms that contain a manufacturer brand;
// those must never end up in an exclusion list.
func (rs *Ruleset) SafeBrandTerms() []string {
	var out []string
	for _, term := range rs.BrandTerms {
		if rs.ManufacturerBrandIn(term) == "" {
			out = append(out, term)
		}
	}
	return out
}
