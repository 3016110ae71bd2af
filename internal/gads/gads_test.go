package gads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/config"
	"adpilot/internal/ops"
)

func testConfig(adsURL, tokenURL, merchantURL string) *config.Config {
	return &config.Config{
		Ads: config.AdsConfig{
			APIBaseURL:     adsURL,
			DeveloperToken: "dev-token",
			CustomerID:     "123-456-7890",
			OAuth: config.OAuthConfig{
				ClientID:     "cid",
				ClientSecret: "secret",
				RefreshToken: "refresh",
				TokenURL:     tokenURL,
			},
		},
		Merchant: config.MerchantConfig{APIBaseURL: merchantURL, MerchantID: "987654"},
		Snapshot: config.SnapshotConfig{PageSize: 2},
		Apply:    config.ApplyConfig{RetryMax: 1, RequestTimeoutSeconds: 5},
	}
}

func tokenHandler(calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		r.ParseForm()
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	}
}

func TestTokenRefreshAndCache(t *testing.T) {
	var tokenCalls, apiCalls atomic.Int64
	tokenSrv := httptest.NewServer(tokenHandler(&tokenCalls))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "dev-token", r.Header.Get("developer-token"))
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer apiSrv.Close()

	c := NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))
	_, err := c.Search(context.Background(), "SELECT campaign.id FROM campaign")
	assert.NoError(t, err)
	_, err = c.Search(context.Background(), "SELECT campaign.id FROM campaign")
	assert.NoError(t, err)

	// Two searches, one token grant.
	assert.Equal(t, int64(1), tokenCalls.Load())
	assert.Equal(t, int64(2), apiCalls.Load())
}

func TestSearchFollowsPageTokens(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	var pages atomic.Int64
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		page := pages.Add(1)
		resp := map[string]any{
			"results": []any{map[string]any{"campaign": map[string]any{"id": fmt.Sprint(page)}}},
		}
		if page == 1 {
			assert.Nil(t, req["pageToken"])
			resp["nextPageToken"] = "page-2"
		} else {
			assert.Equal(t, "page-2", req["pageToken"])
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer apiSrv.Close()

	c := NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))
	rows, err := c.Search(context.Background(), "SELECT campaign.id FROM campaign")
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRemoteErrorClassification(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid GAQL"}}`, http.StatusBadRequest)
	}))
	defer apiSrv.Close()

	c := NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))
	_, err := c.Search(context.Background(), "SELECT nonsense")
	var remote *ops.RemoteCallError
	assert.ErrorAs(t, err, &remote)
	assert.False(t, remote.Transient)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Contains(t, remote.Body, "invalid GAQL")
}

func TestTransientErrorAfterRetries(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	var attempts atomic.Int64
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer apiSrv.Close()

	c := NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))
	_, err := c.Search(context.Background(), "SELECT campaign.id FROM campaign")
	var remote *ops.RemoteCallError
	assert.ErrorAs(t, err, &remote)
	assert.True(t, remote.Transient)
	// RetryMax 1: the original attempt plus one retry.
	assert.Equal(t, int64(2), attempts.Load())
}

func TestMutateParsesResourceNames(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MutateOperations []map[string]any `json:"mutateOperations"`
			PartialFailure   bool             `json:"partialFailure"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.PartialFailure)
		assert.Len(t, req.MutateOperations, 2)
		json.NewEncoder(w).Encode(map[string]any{
			"mutateOperationResponses": []any{
				map[string]any{"adGroupCriterionResult": map[string]any{"resourceName": "customers/123/adGroupCriteria/1~2"}},
				map[string]any{"assetGroupListingGroupFilterResult": map[string]any{"resourceName": "customers/123/assetGroupListingGroupFilters/9~8"}},
			},
		})
	}))
	defer apiSrv.Close()

	c := NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))
	results, err := c.Mutate(context.Background(), []MutateOperation{
		{"adGroupCriterionOperation": map[string]any{"update": map[string]any{}}},
		{"assetGroupListingGroupFilterOperation": map[string]any{"create": map[string]any{}}},
	})
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "customers/123/adGroupCriteria/1~2", results[0].ResourceName)
	assert.Equal(t, "customers/123/assetGroupListingGroupFilters/9~8", results[1].ResourceName)
}

func TestExcludeProduct(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	merchantSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Contains(t, r.URL.Path, "/987654/products/")
		assert.Equal(t, "excludedDestinations", r.URL.Query().Get("updateMask"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer merchantSrv.Close()

	c := NewClient(testConfig("http://ads.invalid", tokenSrv.URL, merchantSrv.URL))
	assert.NoError(t, c.ExcludeProduct(context.Background(), "online:en:US:sku-1"))
}

func TestAdsSourceNormalizesKeywords(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The same criterion attached to two ad groups: rows share the
		// criterion id and must still normalize to distinct entities.
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{
					"adGroupCriterion": map[string]any{
						"criterionId":  "42",
						"keyword":      map[string]any{"text": "cheap widgets", "matchType": "BROAD"},
						"status":       "ENABLED",
						"resourceName": "customers/123/adGroupCriteria/7~42",
					},
					"adGroup":  map[string]any{"id": "7"},
					"campaign": map[string]any{"id": "3"},
					"metrics":  map[string]any{"clicks": 120, "costMicros": 45000000, "conversions": 0},
				},
				map[string]any{
					"adGroupCriterion": map[string]any{
						"criterionId":  "42",
						"keyword":      map[string]any{"text": "cheap widgets", "matchType": "BROAD"},
						"status":       "ENABLED",
						"resourceName": "customers/123/adGroupCriteria/8~42",
					},
					"adGroup":  map[string]any{"id": "8"},
					"campaign": map[string]any{"id": "3"},
					"metrics":  map[string]any{"clicks": 5, "costMicros": 900000, "conversions": 0},
				},
			},
		})
	}))
	defer apiSrv.Close()

	src := &AdsSource{Client: NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))}
	records, err := src.Fetch(context.Background(), "keywords")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "ads.keyword:7~42", records[0].EntityRef)
	assert.Equal(t, "ads.keyword:8~42", records[1].EntityRef)

	var fields map[string]any
	assert.NoError(t, json.Unmarshal(records[0].Data, &fields))
	assert.Equal(t, "ads.keyword:7~42", fields["entity_ref"])
	assert.Equal(t, "7~42", fields["id"])
	assert.Equal(t, "42", fields["criterion_id"])
	assert.Equal(t, "cheap widgets", fields["text"])
	assert.Equal(t, "BROAD", fields["match_type"])
	assert.Equal(t, []any{"ads.campaign:3", "ads.ad_group:7"}, fields["parent_refs"])
	metrics := fields["metrics"].(map[string]any)
	assert.Equal(t, float64(120), metrics["clicks"])
}

func TestPMaxSourceListingGroupTree(t *testing.T) {
	tokenSrv := httptest.NewServer(tokenHandler(nil))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{
					"assetGroupListingGroupFilter": map[string]any{
						"id":           "100",
						"type":         "SUBDIVISION",
						"resourceName": "customers/123/assetGroupListingGroupFilters/9~100",
					},
					"assetGroup": map[string]any{"id": "9"},
				},
				map[string]any{
					"assetGroupListingGroupFilter": map[string]any{
						"id":                       "101",
						"type":                     "UNIT_EXCLUDED",
						"resourceName":             "customers/123/assetGroupListingGroupFilters/9~101",
						"parentListingGroupFilter": "customers/123/assetGroupListingGroupFilters/9~100",
						"caseValue":                map[string]any{"productItemId": map[string]any{"value": "sku-1"}},
					},
					"assetGroup": map[string]any{"id": "9"},
				},
			},
		})
	}))
	defer apiSrv.Close()

	src := &PMaxSource{Client: NewClient(testConfig(apiSrv.URL, tokenSrv.URL, ""))}
	records, err := src.Fetch(context.Background(), "listing_groups")
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	var root, leaf map[string]any
	assert.NoError(t, json.Unmarshal(records[0].Data, &root))
	assert.NoError(t, json.Unmarshal(records[1].Data, &leaf))
	assert.Equal(t, true, root["is_root"])
	assert.Equal(t, false, leaf["is_root"])
	assert.Equal(t, "sku-1", leaf["item_id"])
	assert.Equal(t, root["resource_name"], leaf["parent_resource"])
}
