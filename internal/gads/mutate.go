package gads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"adpilot/internal/logger"
)

// MutateOperation is one entry of a googleAds:mutate batch, keyed by its
// operation kind (adGroupCriterionOperation, assetGroupListingGroupFilterOperation, ...).
type MutateOperation map[string]any

// MutateResult is the per-operation outcome of a mutate batch.
type MutateResult struct {
	ResourceName string
}

// Mutate executes one atomic mutate batch. Partial failure is disabled: the
// API either applies every operation in the batch or none of them.
func (c *Client) Mutate(ctx context.Context, operations []MutateOperation) ([]MutateResult, error) {
	if len(operations) == 0 {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:mutate", c.cfg.Ads.APIBaseURL, c.CustomerID())
	payload := map[string]any{
		"mutateOperations": operations,
		"partialFailure":   false,
	}
	var resp struct {
		Responses []json.RawMessage `json:"mutateOperationResponses"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return nil, fmt.Errorf("mutate batch of %d: %w", len(operations), err)
	}
	results := make([]MutateResult, 0, len(resp.Responses))
	for _, raw := range resp.Responses {
		// Each response is keyed by result kind; the resource name is the
		// only field we need back.
		name := gjson.GetBytes(raw, "@values.0.resourceName").String()
		results = append(results, MutateResult{ResourceName: name})
	}
	logger.Infof("mutate batch applied: %d operations", len(operations))
	return results, nil
}
