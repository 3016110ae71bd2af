package apply

import (
	"fmt"
	"strings"

	"adpilot/internal/gads"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// step is one remote call in the execution sequence: either an ads mutate
// batch (atomic on the remote side) or a single merchant call. Consecutive
// ads operations share a batch up to batchSize so the remote atomicity
// guarantee covers as many ordered operations as possible.
type step struct {
	opIdx     []int
	spans     []int // mutation count per operation, aligned with opIdx
	mutations []gads.MutateOperation
	productID string
}

func buildSteps(operations []ops.Operation, order []int, snap *snapshot.Snapshot, customerID string, batchSize int) ([]step, error) {
	var steps []step
	var current *step
	flush := func() {
		if current != nil && len(current.opIdx) > 0 {
			steps = append(steps, *current)
		}
		current = nil
	}

	for _, idx := range order {
		op := operations[idx]
		if op.OpType == ops.OpExcludeProduct {
			flush()
			productID, err := merchantProductID(op, snap)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{opIdx: []int{idx}, productID: productID})
			continue
		}

		muts, err := translate(op, snap, customerID)
		if err != nil {
			return nil, err
		}
		if current == nil || len(current.mutations)+len(muts) > batchSize {
			flush()
			current = &step{}
		}
		current.opIdx = append(current.opIdx, idx)
		current.spans = append(current.spans, len(muts))
		current.mutations = append(current.mutations, muts...)
	}
	flush()
	return steps, nil
}

// translate builds the mutate entries for one ads operation. Resource names
// come from the snapshot record of the target, so a snapshot that never saw
// the entity fails here rather than at the remote boundary.
func translate(op ops.Operation, snap *snapshot.Snapshot, customerID string) ([]gads.MutateOperation, error) {
	switch op.OpType {
	case ops.OpSetKeywordStatus:
		chg, err := decodeAfter[*ops.KeywordStatusChange](op)
		if err != nil {
			return nil, err
		}
		rn, err := resourceName(op, snap)
		if err != nil {
			return nil, err
		}
		return []gads.MutateOperation{{
			"adGroupCriterionOperation": map[string]any{
				"updateMask": "status",
				"update":     map[string]any{"resourceName": rn, "status": chg.Status},
			},
		}}, nil

	case ops.OpAddNegativeKeyword:
		chg, err := decodeAfter[*ops.NegativeKeywordChange](op)
		if err != nil {
			return nil, err
		}
		adGroupID := op.Entity.ParentID("ads.ad_group")
		if adGroupID == "" {
			return nil, fmt.Errorf("operation %s has no ad group parent", op.OpID)
		}
		matchType := chg.MatchType
		if matchType == "" {
			matchType = "EXACT"
		}
		return []gads.MutateOperation{{
			"adGroupCriterionOperation": map[string]any{
				"create": map[string]any{
					"adGroup":  fmt.Sprintf("customers/%s/adGroups/%s", customerID, adGroupID),
					"negative": true,
					"keyword":  map[string]any{"text": chg.Text, "matchType": matchType},
				},
			},
		}}, nil

	case ops.OpRemoveNegativeKeyword:
		rn, err := resourceName(op, snap)
		if err != nil {
			return nil, err
		}
		return []gads.MutateOperation{{
			"adGroupCriterionOperation": map[string]any{"remove": rn},
		}}, nil

	case ops.OpUpdateAssetText:
		chg, err := decodeAfter[*ops.AssetTextChange](op)
		if err != nil {
			return nil, err
		}
		rn, err := resourceName(op, snap)
		if err != nil {
			return nil, err
		}
		return []gads.MutateOperation{{
			"assetOperation": map[string]any{
				"updateMask": "textAsset.text",
				"update":     map[string]any{"resourceName": rn, "textAsset": map[string]any{"text": chg.Text}},
			},
		}}, nil

	case ops.OpSetPMaxBrandExclusions:
		chg, err := decodeAfter[*ops.BrandExclusionsChange](op)
		if err != nil {
			return nil, err
		}
		rn, err := resourceName(op, snap)
		if err != nil {
			return nil, err
		}
		muts := make([]gads.MutateOperation, 0, len(chg.Brands))
		for _, brand := range chg.Brands {
			muts = append(muts, gads.MutateOperation{
				"sharedCriterionOperation": map[string]any{
					"create": map[string]any{
						"sharedSet": rn,
						"brand":     map[string]any{"displayName": brand},
					},
				},
			})
		}
		return muts, nil

	case ops.OpCreateListingFilter:
		chg, err := decodeAfter[*ops.ListingFilterChange](op)
		if err != nil {
			return nil, err
		}
		parentRN, err := listingFilterResource(chg.ParentRef, chg.Resource, snap)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.OpID, err)
		}
		assetGroupID, ok := assetGroupOf(chg.ParentRef, snap)
		if !ok {
			return nil, fmt.Errorf("operation %s: parent %s has no asset group", op.OpID, chg.ParentRef)
		}
		create := map[string]any{
			"assetGroup":               fmt.Sprintf("customers/%s/assetGroups/%s", customerID, assetGroupID),
			"type":                     chg.FilterType,
			"parentListingGroupFilter": parentRN,
		}
		if chg.Value != "" {
			create["caseValue"] = caseValue(chg.Dimension, chg.Value)
		}
		return []gads.MutateOperation{{
			"assetGroupListingGroupFilterOperation": map[string]any{"create": create},
		}}, nil

	case ops.OpRemoveListingFilter:
		rn, err := resourceName(op, snap)
		if err != nil {
			return nil, err
		}
		return []gads.MutateOperation{{
			"assetGroupListingGroupFilterOperation": map[string]any{"remove": rn},
		}}, nil
	}
	return nil, &ops.UnsupportedOperationError{OpID: op.OpID, OpType: op.OpType}
}

func caseValue(dimension, value string) map[string]any {
	switch dimension {
	case "product_brand", "BRAND":
		return map[string]any{"productBrand": map[string]any{"value": value}}
	default:
		return map[string]any{"productItemId": map[string]any{"value": value}}
	}
}

func decodeAfter[T any](op ops.Operation) (T, error) {
	var zero T
	raw := op.After
	if len(raw) == 0 {
		raw = op.Before
	}
	v, err := ops.DecodeChange(op.OpType, raw)
	if err != nil {
		return zero, fmt.Errorf("operation %s: %w", op.OpID, err)
	}
	chg, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("operation %s carries no change payload", op.OpID)
	}
	return chg, nil
}

func resourceName(op ops.Operation, snap *snapshot.Snapshot) (string, error) {
	v, ok := snap.Field(op.EntityRef, "resource_name")
	if !ok || v.String() == "" {
		return "", fmt.Errorf("operation %s: no resource name recorded for %s", op.OpID, op.EntityRef)
	}
	return v.String(), nil
}

// listingFilterResource resolves the parent node's resource name, preferring
// the snapshot record over the value embedded in the change payload.
func listingFilterResource(parentRef, embedded string, snap *snapshot.Snapshot) (string, error) {
	if parentRef != "" {
		if v, ok := snap.Field(parentRef, "resource_name"); ok && v.String() != "" {
			return v.String(), nil
		}
	}
	if embedded != "" {
		return embedded, nil
	}
	return "", fmt.Errorf("parent filter %s has no resource name", parentRef)
}

func assetGroupOf(parentRef string, snap *snapshot.Snapshot) (string, bool) {
	v, ok := snap.Field(parentRef, "asset_group_id")
	if !ok || v.String() == "" {
		return "", false
	}
	return v.String(), true
}

// merchantProductID resolves the full REST product id
// (channel:language:country:offerId), which is what the merchant endpoint
// addresses products by. The change payload only ever carries the bare offer
// id, so the snapshot record is the sole source; a payload value is accepted
// only when it is already a full id.
func merchantProductID(op ops.Operation, snap *snapshot.Snapshot) (string, error) {
	if v, ok := snap.Field(op.EntityRef, "product_id"); ok && v.String() != "" {
		return v.String(), nil
	}
	chg, err := decodeAfter[*ops.ProductExclusionChange](op)
	if err != nil {
		return "", err
	}
	if strings.Contains(chg.OfferID, ":") {
		return chg.OfferID, nil
	}
	return "", fmt.Errorf("operation %s: no full product id recorded for %s", op.OpID, op.EntityRef)
}
