package ops

import "sort"

// OpType identifies one kind of proposed mutation. The vocabulary is closed
// and versioned: the apply engine only executes types in SupportedOpTypes,
// and anything outside KnownOpTypes is treated as UNKNOWN and blocks apply.
type OpType string

const (
	OpSetKeywordStatus       OpType = "ADS_SET_KEYWORD_STATUS"
	OpAddNegativeKeyword     OpType = "ADS_ADD_NEGATIVE_KEYWORD"
	OpRemoveNegativeKeyword  OpType = "ADS_REMOVE_NEGATIVE_KEYWORD"
	OpUpdateAssetText        OpType = "ADS_UPDATE_ASSET_TEXT"
	OpExcludeProduct         OpType = "MERCHANT_EXCLUDE_PRODUCT"
	OpSetPMaxBrandExclusions OpType = "ADS_SET_PMAX_BRAND_EXCLUSIONS"
	OpCreateListingFilter    OpType = "ADS_CREATE_LISTING_FILTER"
	OpRemoveListingFilter    OpType = "ADS_REMOVE_LISTING_FILTER"

	// Known but outside the apply engine's supported set. Plans carrying
	// these are reviewable but never executable.
	OpUpdateBudget        OpType = "ADS_UPDATE_BUDGET"
	OpUpdateBidStrategy   OpType = "ADS_UPDATE_BID_STRATEGY"
	OpRemoveAsset         OpType = "ADS_REMOVE_ASSET"
	OpSetKeywordMatchType OpType = "ADS_SET_KEYWORD_MATCH_TYPE"
)

// SupportedOpTypes is the apply engine's executable set.
var SupportedOpTypes = map[OpType]bool{
	OpSetKeywordStatus:       true,
	OpAddNegativeKeyword:     true,
	OpRemoveNegativeKeyword:  true,
	OpUpdateAssetText:        true,
	OpExcludeProduct:         true,
	OpSetPMaxBrandExclusions: true,
	OpCreateListingFilter:    true,
	OpRemoveListingFilter:    true,
}

// KnownOpTypes is the full closed vocabulary, supported or not.
var KnownOpTypes = map[OpType]bool{
	OpSetKeywordStatus:       true,
	OpAddNegativeKeyword:     true,
	OpRemoveNegativeKeyword:  true,
	OpUpdateAssetText:        true,
	OpExcludeProduct:         true,
	OpSetPMaxBrandExclusions: true,
	OpCreateListingFilter:    true,
	OpRemoveListingFilter:    true,
	OpUpdateBudget:           true,
	OpUpdateBidStrategy:      true,
	OpRemoveAsset:            true,
	OpSetKeywordMatchType:    true,
}

// Supported reports whether the apply engine can execute t.
func (t OpType) Supported() bool { return SupportedOpTypes[t] }

// Known reports whether t belongs to the closed vocabulary.
func (t OpType) Known() bool { return KnownOpTypes[t] }

// SupportedOpTypeList returns the supported set sorted for error messages.
func SupportedOpTypeList() []OpType {
	out := make([]OpType, 0, len(SupportedOpTypes))
	for t := range SupportedOpTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateClass reports whether t creates a node in a remote resource tree.
// RemoveClass is its counterpart. The apply engine uses these to order
// tree mutations: creates first, then removes from the leaves up.
func (t OpType) CreateClass() bool {
	switch t {
	case OpCreateListingFilter, OpAddNegativeKeyword:
		return true
	}
	return false
}

func (t OpType) RemoveClass() bool {
	switch t {
	case OpRemoveListingFilter, OpRemoveNegativeKeyword, OpRemoveAsset:
		return true
	}
	return false
}
