package gads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"adpilot/internal/logger"
)

// Search runs a GAQL query against googleAds:search and returns every result
// row, following page tokens until exhausted.
func (c *Client) Search(ctx context.Context, query string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:search", c.cfg.Ads.APIBaseURL, c.CustomerID())
	var rows []json.RawMessage
	pageToken := ""
	for page := 0; ; page++ {
		payload := map[string]any{
			"query":    query,
			"pageSize": c.cfg.Snapshot.PageSize,
		}
		if pageToken != "" {
			payload["pageToken"] = pageToken
		}
		var resp struct {
			Results       []json.RawMessage `json:"results"`
			NextPageToken string            `json:"nextPageToken"`
		}
		if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
			return nil, fmt.Errorf("gaql search page %d: %w", page, err)
		}
		rows = append(rows, resp.Results...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	logger.Debugf("gaql search returned %d rows", len(rows))
	return rows, nil
}
