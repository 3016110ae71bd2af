package gads

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// The snapshot sources normalize raw API rows into flat records keyed by
// entity_ref. Planner rules and apply preconditions read these records, so
// their field names are part of the artifact contract and stay stable even
// when the upstream row shape changes.

func normRecord(ref string, fields map[string]any) (snapshot.Record, error) {
	fields["entity_ref"] = ref
	data, err := json.Marshal(fields)
	if err != nil {
		return snapshot.Record{}, err
	}
	return snapshot.Record{EntityRef: ref, Data: data}, nil
}

// AdsSource captures the search/standard campaign surface.
type AdsSource struct {
	Client *Client
}

func (s *AdsSource) Surface() string { return snapshot.SurfaceAds }

func (s *AdsSource) Kinds() []string {
	return []string{"campaigns", "ad_groups", "keywords", "negative_keywords", "assets"}
}

func (s *AdsSource) Fetch(ctx context.Context, kind string) ([]snapshot.Record, error) {
	switch kind {
	case "campaigns":
		return s.campaigns(ctx)
	case "ad_groups":
		return s.adGroups(ctx)
	case "keywords":
		return s.keywords(ctx, false)
	case "negative_keywords":
		return s.keywords(ctx, true)
	case "assets":
		return s.assets(ctx)
	}
	return nil, fmt.Errorf("ads source: unknown kind %q", kind)
}

func (s *AdsSource) campaigns(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT campaign.id, campaign.name, campaign.status,
		       campaign.advertising_channel_type, campaign.bidding_strategy_type,
		       campaign_budget.amount_micros,
		       metrics.clicks, metrics.impressions, metrics.cost_micros, metrics.conversions
		FROM campaign
		WHERE campaign.status != 'REMOVED'`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		id := row.Get("campaign.id").String()
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "CAMPAIGN", id), map[string]any{
			"id":                   id,
			"name":                 row.Get("campaign.name").String(),
			"status":               row.Get("campaign.status").String(),
			"channel_type":         row.Get("campaign.advertisingChannelType").String(),
			"bidding_strategy":     row.Get("campaign.biddingStrategyType").String(),
			"budget_amount_micros": row.Get("campaignBudget.amountMicros").Int(),
			"metrics":              metricsBlock(row),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *AdsSource) adGroups(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT ad_group.id, ad_group.name, ad_group.status, campaign.id
		FROM ad_group
		WHERE ad_group.status != 'REMOVED'`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		id := row.Get("adGroup.id").String()
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "AD_GROUP", id), map[string]any{
			"id":          id,
			"name":        row.Get("adGroup.name").String(),
			"status":      row.Get("adGroup.status").String(),
			"campaign_id": row.Get("campaign.id").String(),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *AdsSource) keywords(ctx context.Context, negative bool) ([]snapshot.Record, error) {
	cond := "FALSE"
	entityType := "KEYWORD"
	if negative {
		cond = "TRUE"
		entityType = "NEGATIVE_KEYWORD"
	}
	rows, err := s.Client.Search(ctx, fmt.Sprintf(`
		SELECT ad_group_criterion.criterion_id, ad_group_criterion.keyword.text,
		       ad_group_criterion.keyword.match_type, ad_group_criterion.status,
		       ad_group_criterion.resource_name, ad_group.id, campaign.id,
		       metrics.clicks, metrics.impressions, metrics.cost_micros, metrics.conversions
		FROM keyword_view
		WHERE ad_group_criterion.negative = %s
		  AND ad_group_criterion.status != 'REMOVED'
		  AND segments.date DURING LAST_30_DAYS`, cond))
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		criterionID := row.Get("adGroupCriterion.criterionId").String()
		adGroupID := row.Get("adGroup.id").String()
		campaignID := row.Get("campaign.id").String()
		// A criterion id identifies the keyword text+match type, not its
		// ad-group attachment: the same criterion can sit in several ad
		// groups. Compose with the ad group id (the resource-name
		// convention) so entity refs stay unique account-wide.
		id := adGroupID + "~" + criterionID
		fields := map[string]any{
			"id":            id,
			"criterion_id":  criterionID,
			"text":          row.Get("adGroupCriterion.keyword.text").String(),
			"match_type":    row.Get("adGroupCriterion.keyword.matchType").String(),
			"status":        row.Get("adGroupCriterion.status").String(),
			"resource_name": row.Get("adGroupCriterion.resourceName").String(),
			"negative":      negative,
			"ad_group_id":   adGroupID,
			"campaign_id":   campaignID,
			"parent_refs": []string{
				ops.MakeEntityRef("GOOGLE_ADS", "CAMPAIGN", campaignID),
				ops.MakeEntityRef("GOOGLE_ADS", "AD_GROUP", adGroupID),
			},
		}
		if !negative {
			fields["metrics"] = metricsBlock(row)
		}
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", entityType, id), fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *AdsSource) assets(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT asset.id, asset.name, asset.type, asset.text_asset.text,
		       asset.resource_name
		FROM asset
		WHERE asset.type IN ('TEXT', 'CALLOUT', 'SITELINK')`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		id := row.Get("asset.id").String()
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "ASSET", id), map[string]any{
			"id":            id,
			"name":          row.Get("asset.name").String(),
			"asset_type":    row.Get("asset.type").String(),
			"text":          row.Get("asset.textAsset.text").String(),
			"resource_name": row.Get("asset.resourceName").String(),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// PMaxSource captures the Performance Max surface: asset groups, the
// listing-group filter tree and brand exclusion lists.
type PMaxSource struct {
	Client *Client
}

func (s *PMaxSource) Surface() string { return snapshot.SurfacePMax }

func (s *PMaxSource) Kinds() []string {
	return []string{"asset_groups", "listing_groups", "brand_exclusions"}
}

func (s *PMaxSource) Fetch(ctx context.Context, kind string) ([]snapshot.Record, error) {
	switch kind {
	case "asset_groups":
		return s.assetGroups(ctx)
	case "listing_groups":
		return s.listingGroups(ctx)
	case "brand_exclusions":
		return s.brandExclusions(ctx)
	}
	return nil, fmt.Errorf("pmax source: unknown kind %q", kind)
}

func (s *PMaxSource) assetGroups(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT asset_group.id, asset_group.name, asset_group.status,
		       asset_group.resource_name, campaign.id
		FROM asset_group
		WHERE asset_group.status != 'REMOVED'`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		id := row.Get("assetGroup.id").String()
		campaignID := row.Get("campaign.id").String()
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "ASSET_GROUP", id), map[string]any{
			"id":            id,
			"name":          row.Get("assetGroup.name").String(),
			"status":        row.Get("assetGroup.status").String(),
			"resource_name": row.Get("assetGroup.resourceName").String(),
			"campaign_id":   campaignID,
			"parent_refs":   []string{ops.MakeEntityRef("GOOGLE_ADS", "CAMPAIGN", campaignID)},
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *PMaxSource) listingGroups(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT asset_group_listing_group_filter.id,
		       asset_group_listing_group_filter.type,
		       asset_group_listing_group_filter.resource_name,
		       asset_group_listing_group_filter.parent_listing_group_filter,
		       asset_group_listing_group_filter.case_value.product_item_id.value,
		       asset_group_listing_group_filter.case_value.product_brand.value,
		       asset_group.id, campaign.id
		FROM asset_group_listing_group_filter`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		filter := row.Get("assetGroupListingGroupFilter")
		id := filter.Get("id").String()
		assetGroupID := row.Get("assetGroup.id").String()
		parentResource := filter.Get("parentListingGroupFilter").String()
		fields := map[string]any{
			"id":              id,
			"filter_type":     filter.Get("type").String(),
			"resource_name":   filter.Get("resourceName").String(),
			"parent_resource": parentResource,
			"is_root":         parentResource == "",
			"item_id":         filter.Get("caseValue.productItemId.value").String(),
			"brand":           filter.Get("caseValue.productBrand.value").String(),
			"asset_group_id":  assetGroupID,
			"parent_refs":     []string{ops.MakeEntityRef("GOOGLE_ADS", "ASSET_GROUP", assetGroupID)},
		}
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "LISTING_FILTER", id), fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *PMaxSource) brandExclusions(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.Search(ctx, `
		SELECT shared_set.id, shared_set.name, shared_set.type,
		       shared_set.resource_name, shared_set.member_count
		FROM shared_set
		WHERE shared_set.type = 'BRANDS' AND shared_set.status != 'REMOVED'`)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		id := row.Get("sharedSet.id").String()
		rec, err := normRecord(ops.MakeEntityRef("GOOGLE_ADS", "BRAND_LIST", id), map[string]any{
			"id":            id,
			"name":          row.Get("sharedSet.name").String(),
			"resource_name": row.Get("sharedSet.resourceName").String(),
			"member_count":  row.Get("sharedSet.memberCount").Int(),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MerchantSource captures the Merchant Center feed and per-product statuses.
type MerchantSource struct {
	Client *Client
}

func (s *MerchantSource) Surface() string { return snapshot.SurfaceMerchant }

func (s *MerchantSource) Kinds() []string {
	return []string{"products", "product_statuses"}
}

func (s *MerchantSource) Fetch(ctx context.Context, kind string) ([]snapshot.Record, error) {
	switch kind {
	case "products":
		return s.products(ctx)
	case "product_statuses":
		return s.productStatuses(ctx)
	}
	return nil, fmt.Errorf("merchant source: unknown kind %q", kind)
}

func (s *MerchantSource) products(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		offerID := row.Get("offerId").String()
		rec, err := normRecord(ops.MakeEntityRef("MERCHANT_CENTER", "PRODUCT", offerID), map[string]any{
			"offer_id":              offerID,
			"product_id":            row.Get("id").String(),
			"title":                 row.Get("title").String(),
			"brand":                 row.Get("brand").String(),
			"price":                 row.Get("price.value").String(),
			"currency":              row.Get("price.currency").String(),
			"availability":          row.Get("availability").String(),
			"excluded_destinations": stringList(row.Get("excludedDestinations")),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *MerchantSource) productStatuses(ctx context.Context) ([]snapshot.Record, error) {
	rows, err := s.Client.ListProductStatuses(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]snapshot.Record, 0, len(rows))
	for _, raw := range rows {
		row := gjson.ParseBytes(raw)
		productID := row.Get("productId").String()
		var issues []map[string]any
		row.Get("itemLevelIssues").ForEach(func(_, issue gjson.Result) bool {
			issues = append(issues, map[string]any{
				"code":        issue.Get("code").String(),
				"severity":    issue.Get("servability").String(),
				"description": issue.Get("description").String(),
			})
			return true
		})
		approval := "APPROVED"
		for _, st := range stringListPath(row, "destinationStatuses.#.status") {
			if st == "disapproved" || st == "DISAPPROVED" {
				approval = "DISAPPROVED"
				break
			}
		}
		rec, err := normRecord(ops.MakeEntityRef("MERCHANT_CENTER", "PRODUCT_STATUS", productID), map[string]any{
			"product_id":      productID,
			"title":           row.Get("title").String(),
			"approval_status": approval,
			"issues":          issues,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func metricsBlock(row gjson.Result) map[string]any {
	return map[string]any{
		"clicks":      row.Get("metrics.clicks").Int(),
		"impressions": row.Get("metrics.impressions").Int(),
		"cost_micros": row.Get("metrics.costMicros").Int(),
		"conversions": row.Get("metrics.conversions").Float(),
	}
}

func stringList(v gjson.Result) []string {
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		out = append(out, item.String())
		return true
	})
	return out
}

func stringListPath(row gjson.Result, path string) []string {
	return stringList(row.Get(path))
}
