package gads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ListProducts pages through the Merchant Center product feed.
func (c *Client) ListProducts(ctx context.Context) ([]json.RawMessage, error) {
	return c.merchantList(ctx, "products")
}

// ListProductStatuses pages through per-destination product statuses,
// including disapprovals and their issue details.
func (c *Client) ListProductStatuses(ctx context.Context) ([]json.RawMessage, error) {
	return c.merchantList(ctx, "productstatuses")
}

func (c *Client) merchantList(ctx context.Context, resource string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	pageToken := ""
	for page := 0; ; page++ {
		endpoint := fmt.Sprintf("%s/%s/%s?maxResults=%d", c.cfg.Merchant.APIBaseURL, c.MerchantID(), resource, c.cfg.Snapshot.PageSize)
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var resp struct {
			Resources     []json.RawMessage `json:"resources"`
			NextPageToken string            `json:"nextPageToken"`
		}
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, fmt.Errorf("merchant %s page %d: %w", resource, page, err)
		}
		out = append(out, resp.Resources...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

// ExcludeProduct removes a product from Shopping ads serving by setting its
// excluded destinations. productID is the full REST id
// ("online:en:US:sku-1"), not the bare offer id.
func (c *Client) ExcludeProduct(ctx context.Context, productID string) error {
	endpoint := fmt.Sprintf("%s/%s/products/%s?updateMask=excludedDestinations",
		c.cfg.Merchant.APIBaseURL, c.MerchantID(), url.PathEscape(productID))
	payload := map[string]any{
		"excludedDestinations": []string{"Shopping_ads", "Free_listings"},
	}
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, payload, nil); err != nil {
		return fmt.Errorf("excluding product %s: %w", productID, err)
	}
	return nil
}
