package ops

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Change payloads are tagged variants: each op_type carries only the fields
// relevant to it, and decoding fails closed on unknown fields instead of
// being accessed defensively at use sites.

type KeywordStatusChange struct {
	Text      string `json:"text"`
	MatchType string `json:"match_type,omitempty"`
	Status    string `json:"status"`
}

type NegativeKeywordChange struct {
	Text      string `json:"text"`
	MatchType string `json:"match_type,omitempty"`
	Negative  bool   `json:"negative,omitempty"`
}

type AssetTextChange struct {
	AssetType string `json:"asset_type"`
	Field     string `json:"field"`
	Text      string `json:"text"`
}

type ProductExclusionChange struct {
	OfferID         string `json:"offer_id"`
	Title           string `json:"title,omitempty"`
	ApprovalStatus  string `json:"approval_status,omitempty"`
	Excluded        bool   `json:"excluded"`
	ExclusionReason string `json:"exclusion_reason,omitempty"`
}

type BrandExclusionsChange struct {
	BrandListID   string   `json:"brand_list_id,omitempty"`
	BrandListName string   `json:"brand_list_name,omitempty"`
	Brands        []string `json:"brands"`
}

// ListingFilterChange describes one node of a PMax listing-group tree.
// ParentRef links to the entity_ref of the node's parent filter; the tree
// root has no parent and is never removable.
type ListingFilterChange struct {
	FilterType string `json:"filter_type"` // SUBDIVISION | UNIT_INCLUDED | UNIT_EXCLUDED
	Dimension  string `json:"dimension,omitempty"`
	Value      string `json:"value,omitempty"`
	Level      string `json:"level,omitempty"`
	ParentRef  string `json:"parent_ref,omitempty"`
	Resource   string `json:"resource_name,omitempty"`
}

type BudgetChange struct {
	AmountMicros int64 `json:"amount_micros"`
}

// Amount converts budget micros to currency units.
func (c BudgetChange) Amount() decimal.Decimal {
	return decimal.NewFromInt(c.AmountMicros).Shift(-6)
}

// BudgetMicros converts a currency-unit amount to micros.
func BudgetMicros(amount decimal.Decimal) int64 {
	return amount.Shift(6).IntPart()
}

type BidStrategyChange struct {
	StrategyType string          `json:"strategy_type"`
	TargetRoas   decimal.Decimal `json:"target_roas,omitempty"`
}

// DecodeChange decodes a before/after payload into the variant for opType,
// rejecting unknown or mistyped fields.
func DecodeChange(opType OpType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dst any
	switch opType {
	case OpSetKeywordStatus, OpSetKeywordMatchType:
		dst = &KeywordStatusChange{}
	case OpAddNegativeKeyword, OpRemoveNegativeKeyword:
		dst = &NegativeKeywordChange{}
	case OpUpdateAssetText, OpRemoveAsset:
		dst = &AssetTextChange{}
	case OpExcludeProduct:
		dst = &ProductExclusionChange{}
	case OpSetPMaxBrandExclusions:
		dst = &BrandExclusionsChange{}
	case OpCreateListingFilter, OpRemoveListingFilter:
		dst = &ListingFilterChange{}
	case OpUpdateBudget:
		dst = &BudgetChange{}
	case OpUpdateBidStrategy:
		dst = &BidStrategyChange{}
	default:
		return nil, &UnsupportedOperationError{OpType: opType}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, fmt.Errorf("decoding %s change: %w", opType, err)
	}
	return dst, nil
}

// MarshalChange encodes a change variant for embedding in an Operation.
func MarshalChange(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
