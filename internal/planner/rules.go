package planner

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// ruleContext accumulates the operations and findings of one generation run.
type ruleContext struct {
	snap *snapshot.Snapshot
	rs   *Ruleset
	seq  int

	operations []ops.Operation
	findings   []ops.Finding
}

func (rc *ruleContext) nextOpID(opType ops.OpType, entityRef, ruleID string) string {
	rc.seq++
	return ops.MakeOpID(rc.seq, opType, entityRef, ruleID)
}

func (rc *ruleContext) emit(op ops.Operation) {
	rc.operations = append(rc.operations, op)
}

func (rc *ruleContext) flag(severity ops.RiskTier, code, message string, opIDs ...string) {
	rc.findings = append(rc.findings, ops.Finding{
		Severity: severity,
		Code:     code,
		Message:  message,
		OpIDs:    opIDs,
	})
}

// records parses one normalized snapshot file into gjson rows. Capture
// writes every surface file, zero records included, so a missing file means
// the snapshot is degraded, never an empty surface: the error propagates and
// fails the whole generation rather than producing a thinner plan.
func (rc *ruleContext) records(surface, kind string) ([]gjson.Result, error) {
	raws, err := rc.snap.Records(surface, kind)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s unavailable: %w", rc.snap.ID(), err)
	}
	out := make([]gjson.Result, 0, len(raws))
	for _, raw := range raws {
		out = append(out, gjson.ParseBytes(raw))
	}
	return out, nil
}

func snapshotPath(surface, kind string) string {
	return filepath.Join(snapshot.NormalizedDir, surface, kind+".json")
}

type ruleFunc func(*ruleContext) error

// ruleRegistry maps rule ids to implementations. Ids are stable: they are
// recorded in every emitted operation's created_from_rule and feed the op_id
// hash.
var ruleRegistry = map[string]ruleFunc{
	"S1_broad_match_in_branded":       ruleBroadMatchInBranded,
	"S2_non_brand_in_branded":         ruleNonBrandInBranded,
	"S3_branded_bidding_strategy":     ruleBrandedBiddingStrategy,
	"S4_manufacturer_brand_in_assets": ruleManufacturerBrandInAssets,
	"S5_merchant_disapproved":         ruleMerchantDisapproved,
	"S6_pmax_brand_exclusions":        rulePMaxBrandExclusions,
	"S7_discontinued_listing_filters": ruleDiscontinuedListingFilters,
}

// S1: enabled BROAD match keywords inside the branded campaign. Finding
// only, no operation: match type changes need a human decision.
func ruleBroadMatchInBranded(rc *ruleContext) error {
	keywords, err := rc.records(snapshot.SurfaceAds, "keywords")
	if err != nil {
		return err
	}
	for _, kw := range keywords {
		if kw.Get("campaign_id").String() != rc.rs.BrandedCampaignID {
			continue
		}
		if kw.Get("status").String() != "ENABLED" || kw.Get("match_type").String() != "BROAD" {
			continue
		}
		rc.flag(ops.RiskMedium, "BROAD_MATCH_IN_BRANDED",
			fmt.Sprintf("BROAD match keyword %q enabled in branded campaign, consider EXACT or PHRASE", kw.Get("text").String()))
	}
	return nil
}

// S2: non-brand keywords enabled in the branded campaign get paused. Brand
// terms must be configured: with an empty list the rule cannot tell brand
// from non-brand and refuses to propose anything.
func ruleNonBrandInBranded(rc *ruleContext) error {
	const ruleID = "S2_non_brand_in_branded"
	if len(rc.rs.BrandTerms) == 0 {
		rc.flag(ops.RiskHigh, "EMPTY_BRAND_TERMS",
			"brand_terms is empty, cannot safely identify non-brand keywords in branded campaign")
		return nil
	}
	keywords, err := rc.records(snapshot.SurfaceAds, "keywords")
	if err != nil {
		return err
	}
	protected := 0
	for _, kw := range keywords {
		if kw.Get("campaign_id").String() != rc.rs.BrandedCampaignID {
			continue
		}
		if kw.Get("status").String() != "ENABLED" {
			continue
		}
		text := kw.Get("text").String()
		if rc.rs.IsBrandTerm(text) {
			protected++
			continue
		}
		id := kw.Get("id").String()
		entityRef := ops.MakeEntityRef("GOOGLE_ADS", "KEYWORD", id)
		matchType := kw.Get("match_type").String()
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpSetKeywordStatus, entityRef, ruleID),
			OpType:    ops.OpSetKeywordStatus,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform:   "GOOGLE_ADS",
				Type:       "KEYWORD",
				ID:         id,
				Name:       text,
				ParentRefs: parentRefs(kw),
			},
			Intent: fmt.Sprintf("Pause non-brand keyword %q in branded campaign to maintain brand purity", text),
			Before: ops.MarshalChange(ops.KeywordStatusChange{Text: text, MatchType: matchType, Status: "ENABLED"}),
			After:  ops.MarshalChange(ops.KeywordStatusChange{Text: text, MatchType: matchType, Status: "PAUSED"}),
			Preconditions: []ops.Precondition{
				{Path: "status", Op: ops.PreEquals, Value: "ENABLED", Description: "keyword must still be enabled"},
				{Path: "campaign_id", Op: ops.PreEquals, Value: rc.rs.BrandedCampaignID, Description: "keyword must be in the branded campaign"},
			},
			Rollback: &ops.Rollback{
				Type:  "RESTORE_BEFORE",
				Data:  ops.MarshalChange(ops.KeywordStatusChange{Text: text, MatchType: matchType, Status: "ENABLED"}),
				Notes: "re-enable the keyword",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpSetKeywordStatus),
				"non-brand keyword in branded campaign dilutes brand protection"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfaceAds, "keywords"),
				Key:          "id",
				Value:        id,
				Note:         fmt.Sprintf("keyword %q is not a recognized brand term", text),
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}
	if protected > 0 {
		rc.flag(ops.RiskLow, "BRAND_TERMS_PROTECTED",
			fmt.Sprintf("%d brand keyword(s) in branded campaign left untouched", protected))
	}
	return nil
}

// S3: the branded campaign should bid MANUAL_CPC. Finding only.
func ruleBrandedBiddingStrategy(rc *ruleContext) error {
	campaigns, err := rc.records(snapshot.SurfaceAds, "campaigns")
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if c.Get("id").String() != rc.rs.BrandedCampaignID {
			continue
		}
		if strategy := c.Get("bidding_strategy").String(); strategy != "MANUAL_CPC" {
			rc.flag(ops.RiskHigh, "BRANDED_BIDDING_STRATEGY",
				fmt.Sprintf("branded campaign uses %s instead of MANUAL_CPC, manual intervention required", strategy))
		}
		return nil
	}
	rc.flag(ops.RiskHigh, "BRANDED_CAMPAIGN_MISSING",
		fmt.Sprintf("branded campaign %s not found in snapshot", rc.rs.BrandedCampaignID))
	return nil
}

// S4: ad assets must not carry manufacturer brand names. Proposes a text
// rewrite that substitutes the configured generic replacement.
func ruleManufacturerBrandInAssets(rc *ruleContext) error {
	const ruleID = "S4_manufacturer_brand_in_assets"
	assets, err := rc.records(snapshot.SurfaceAds, "assets")
	if err != nil {
		return err
	}
	for _, asset := range assets {
		text := asset.Get("text").String()
		if text == "" {
			continue
		}
		brand := rc.rs.ManufacturerBrandIn(text)
		if brand == "" {
			continue
		}
		id := asset.Get("id").String()
		assetType := asset.Get("asset_type").String()
		replacement := replaceFold(text, brand, rc.rs.GenericReplacement)
		entityRef := ops.MakeEntityRef("GOOGLE_ADS", "ASSET", id)
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpUpdateAssetText, entityRef, ruleID),
			OpType:    ops.OpUpdateAssetText,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform: "GOOGLE_ADS",
				Type:     "ASSET",
				ID:       id,
				Name:     truncate(text, 50),
			},
			Intent: fmt.Sprintf("Remove manufacturer brand %q from ad asset text", brand),
			Before: ops.MarshalChange(ops.AssetTextChange{AssetType: assetType, Field: "text", Text: text}),
			After:  ops.MarshalChange(ops.AssetTextChange{AssetType: assetType, Field: "text", Text: replacement}),
			Preconditions: []ops.Precondition{
				{Path: "text", Op: ops.PreContains, Value: brand, Description: "asset must still contain the manufacturer brand"},
			},
			Rollback: &ops.Rollback{
				Type:  "RESTORE_BEFORE",
				Data:  ops.MarshalChange(ops.AssetTextChange{AssetType: assetType, Field: "text", Text: text}),
				Notes: "restore original asset text",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpUpdateAssetText),
				"modifying asset text changes live ad copy"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfaceAds, "assets"),
				Key:          "id",
				Value:        id,
				Note:         fmt.Sprintf("asset text contains manufacturer brand %q", brand),
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}
	return nil
}

// S5: disapproved products on the discontinued list get excluded from
// serving. Disapproved products not on the list are surfaced as findings
// only, since disapproval alone may be fixable feed data.
func ruleMerchantDisapproved(rc *ruleContext) error {
	const ruleID = "S5_merchant_disapproved"
	products, err := rc.records(snapshot.SurfaceMerchant, "products")
	if err != nil {
		return err
	}
	statuses, err := rc.records(snapshot.SurfaceMerchant, "product_statuses")
	if err != nil {
		return err
	}
	approvalByProduct := make(map[string]string, len(statuses))
	for _, st := range statuses {
		approvalByProduct[st.Get("product_id").String()] = st.Get("approval_status").String()
	}
	disapproved, excluded := 0, 0
	for _, p := range products {
		productID := p.Get("product_id").String()
		if approvalByProduct[productID] != "DISAPPROVED" {
			continue
		}
		disapproved++
		offerID := p.Get("offer_id").String()
		if !rc.rs.IsDiscontinued(offerID) {
			continue
		}
		excluded++
		title := truncate(p.Get("title").String(), 80)
		entityRef := ops.MakeEntityRef("MERCHANT_CENTER", "PRODUCT", offerID)
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpExcludeProduct, entityRef, ruleID),
			OpType:    ops.OpExcludeProduct,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform: "MERCHANT_CENTER",
				Type:     "PRODUCT",
				ID:       offerID,
				Name:     title,
			},
			Intent: fmt.Sprintf("Exclude discontinued product %q from Shopping and PMax serving", title),
			Before: ops.MarshalChange(ops.ProductExclusionChange{
				OfferID: offerID, Title: title, ApprovalStatus: "DISAPPROVED", Excluded: false,
			}),
			After: ops.MarshalChange(ops.ProductExclusionChange{
				OfferID: offerID, Excluded: true, ExclusionReason: "DISCONTINUED_AND_DISAPPROVED",
			}),
			Preconditions: []ops.Precondition{
				{Path: "offer_id", Op: ops.PreExists, Description: "product must exist in the snapshot"},
				{Path: "excluded_destinations", Op: ops.PreNotContains, Value: "Shopping_ads", Description: "product must not already be excluded"},
			},
			Rollback: &ops.Rollback{
				Type:  "RESTORE_BEFORE",
				Data:  json.RawMessage(`{"excluded":false}`),
				Notes: "clear excluded destinations",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpExcludeProduct),
				"excluding a product removes it from Shopping inventory",
				"product is discontinued per ruleset"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfaceMerchant, "products"),
				Key:          "offer_id",
				Value:        offerID,
				Note:         "product disapproved and on the discontinued SKU list",
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}
	if disapproved > 0 {
		rc.flag(ops.RiskLow, "MERCHANT_DISAPPROVED_SUMMARY",
			fmt.Sprintf("%d disapproved products found, %d on the discontinued list proposed for exclusion", disapproved, excluded))
	}
	return nil
}

// S6: enabled PMax campaigns without a brand exclusion list get one. PMax
// rejects ordinary negative keywords, brand lists are the only supported
// brand protection there.
func rulePMaxBrandExclusions(rc *ruleContext) error {
	const ruleID = "S6_pmax_brand_exclusions"
	safeTerms := rc.rs.SafeBrandTerms()
	if len(safeTerms) == 0 {
		rc.flag(ops.RiskMedium, "NO_SAFE_BRAND_TERMS",
			"no brand terms usable for PMax exclusion lists (empty or all contain manufacturer brands)")
		return nil
	}
	brandLists, err := rc.records(snapshot.SurfacePMax, "brand_exclusions")
	if err != nil {
		return err
	}
	if len(brandLists) > 0 {
		rc.flag(ops.RiskLow, "BRAND_EXCLUSIONS_PRESENT",
			fmt.Sprintf("%d brand exclusion list(s) already configured", len(brandLists)))
		return nil
	}
	campaigns, err := rc.records(snapshot.SurfaceAds, "campaigns")
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if c.Get("channel_type").String() != "PERFORMANCE_MAX" || c.Get("status").String() != "ENABLED" {
			continue
		}
		id := c.Get("id").String()
		name := c.Get("name").String()
		entityRef := ops.MakeEntityRef("GOOGLE_ADS", "CAMPAIGN", id)
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpSetPMaxBrandExclusions, entityRef, ruleID),
			OpType:    ops.OpSetPMaxBrandExclusions,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform: "GOOGLE_ADS",
				Type:     "CAMPAIGN",
				ID:       id,
				Name:     name,
			},
			Intent: fmt.Sprintf("Attach a brand exclusion list to PMax campaign %q to protect branded traffic", name),
			Before: ops.MarshalChange(ops.BrandExclusionsChange{Brands: []string{}}),
			After: ops.MarshalChange(ops.BrandExclusionsChange{
				BrandListName: "Brand Exclusions - " + name,
				Brands:        safeTerms,
			}),
			Preconditions: []ops.Precondition{
				{Path: "status", Op: ops.PreEquals, Value: "ENABLED", Description: "campaign must still be enabled"},
				{Path: "channel_type", Op: ops.PreEquals, Value: "PERFORMANCE_MAX", Description: "campaign must be Performance Max"},
			},
			Rollback: &ops.Rollback{
				Type:  "DETACH_LIST",
				Notes: "detach the brand exclusion list from the campaign",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpSetPMaxBrandExclusions),
				"brand exclusions change which queries the campaign may serve on"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfacePMax, "brand_exclusions"),
				Key:          "campaign_id",
				Value:        id,
				Note:         "no brand exclusion list captured for this campaign",
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}
	return nil
}

// S7: listing-group hygiene for discontinued SKUs. Included unit filters
// that still target a discontinued item are removed, and SKUs absent from
// the tree get an exclusion unit created under the root. Creates and
// removes carry parent references so the apply engine can order them.
func ruleDiscontinuedListingFilters(rc *ruleContext) error {
	const ruleID = "S7_discontinued_listing_filters"
	if len(rc.rs.DiscontinuedSKUs) == 0 {
		return nil
	}
	filters, err := rc.records(snapshot.SurfacePMax, "listing_groups")
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return nil
	}
	refByResource := make(map[string]string, len(filters))
	var rootRef, rootResource, assetGroupID string
	itemRefs := map[string]bool{}
	for _, f := range filters {
		ref := f.Get("entity_ref").String()
		refByResource[f.Get("resource_name").String()] = ref
		if f.Get("is_root").Bool() {
			rootRef = ref
			rootResource = f.Get("resource_name").String()
			assetGroupID = f.Get("asset_group_id").String()
		}
		if item := f.Get("item_id").String(); item != "" {
			itemRefs[item] = true
		}
	}
	if rootRef == "" {
		rc.flag(ops.RiskHigh, "LISTING_TREE_NO_ROOT", "listing-group tree has no root filter, skipping tree changes")
		return nil
	}

	for _, f := range filters {
		item := f.Get("item_id").String()
		if item == "" || !rc.rs.IsDiscontinued(item) {
			continue
		}
		if f.Get("filter_type").String() != "UNIT_INCLUDED" {
			continue
		}
		id := f.Get("id").String()
		resource := f.Get("resource_name").String()
		parentRef := refByResource[f.Get("parent_resource").String()]
		entityRef := ops.MakeEntityRef("GOOGLE_ADS", "LISTING_FILTER", id)
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpRemoveListingFilter, entityRef, ruleID),
			OpType:    ops.OpRemoveListingFilter,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform:   "GOOGLE_ADS",
				Type:       "LISTING_FILTER",
				ID:         id,
				Name:       item,
				ParentRefs: []string{parentRef},
			},
			Intent: fmt.Sprintf("Remove listing filter including discontinued SKU %q", item),
			Before: ops.MarshalChange(ops.ListingFilterChange{
				FilterType: "UNIT_INCLUDED", Dimension: "product_item_id", Value: item,
				ParentRef: parentRef, Resource: resource,
			}),
			Preconditions: []ops.Precondition{
				{Path: "filter_type", Op: ops.PreEquals, Value: "UNIT_INCLUDED", Description: "filter must still be an included unit"},
				{Path: "item_id", Op: ops.PreEquals, Value: item, Description: "filter must still target the discontinued SKU"},
			},
			Rollback: &ops.Rollback{
				Type:  "RECREATE",
				Data:  ops.MarshalChange(ops.ListingFilterChange{FilterType: "UNIT_INCLUDED", Dimension: "product_item_id", Value: item, ParentRef: parentRef}),
				Notes: "recreate the included unit filter",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpRemoveListingFilter),
				"removing a listing filter changes which products the asset group serves"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfacePMax, "listing_groups"),
				Key:          "id",
				Value:        id,
				Note:         fmt.Sprintf("included unit targets discontinued SKU %q", item),
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}

	for _, sku := range rc.rs.DiscontinuedSKUs {
		if itemRefs[sku] {
			continue
		}
		syntheticID := "new-" + ops.StableHash("listing_filter", sku)
		entityRef := ops.MakeEntityRef("GOOGLE_ADS", "LISTING_FILTER", syntheticID)
		op := ops.Operation{
			OpID:      rc.nextOpID(ops.OpCreateListingFilter, entityRef, ruleID),
			OpType:    ops.OpCreateListingFilter,
			EntityRef: entityRef,
			Entity: ops.Entity{
				Platform:   "GOOGLE_ADS",
				Type:       "LISTING_FILTER",
				ID:         syntheticID,
				Name:       sku,
				ParentRefs: []string{rootRef},
			},
			Intent: fmt.Sprintf("Exclude discontinued SKU %q from the listing-group tree", sku),
			After: ops.MarshalChange(ops.ListingFilterChange{
				FilterType: "UNIT_EXCLUDED", Dimension: "product_item_id", Value: sku,
				ParentRef: rootRef, Resource: rootResource,
			}),
			Preconditions: []ops.Precondition{
				{EntityRef: rootRef, Path: "is_root", Op: ops.PreEquals, Value: true, Description: "parent must still be the tree root"},
			},
			Rollback: &ops.Rollback{
				Type:  "REMOVE_CREATED",
				Notes: "remove the created exclusion unit",
			},
			Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpCreateListingFilter),
				"adding an exclusion unit narrows asset group serving"),
			Evidence: []ops.Evidence{{
				SnapshotPath: snapshotPath(snapshot.SurfacePMax, "listing_groups"),
				Key:          "asset_group_id",
				Value:        assetGroupID,
				Note:         fmt.Sprintf("discontinued SKU %q not present in the listing-group tree", sku),
			}},
			CreatedFrom: ruleID,
		}
		rc.emit(op)
	}
	return nil
}

func parentRefs(row gjson.Result) []string {
	var out []string
	row.Get("parent_refs").ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	return out
}

func replaceFold(text, old, replacement string) string {
	lowered := strings.ToLower(text)
	needle := strings.ToLower(old)
	var b strings.Builder
	for {
		i := strings.Index(lowered, needle)
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		b.WriteString(replacement)
		text = text[i+len(old):]
		lowered = lowered[i+len(needle):]
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncate caps s at n bytes without cutting a rune in half.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
