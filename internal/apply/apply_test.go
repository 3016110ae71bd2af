package apply

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/config"
	"adpilot/internal/gads"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

type staticSource struct {
	surface string
	kinds   map[string][]snapshot.Record
}

func (s *staticSource) Surface() string { return s.surface }

func (s *staticSource) Kinds() []string {
	out := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		out = append(out, k)
	}
	return out
}

func (s *staticSource) Fetch(_ context.Context, kind string) ([]snapshot.Record, error) {
	return s.kinds[kind], nil
}

func rec(t *testing.T, ref string, fields map[string]any) snapshot.Record {
	t.Helper()
	fields["entity_ref"] = ref
	data, err := json.Marshal(fields)
	assert.NoError(t, err)
	return snapshot.Record{EntityRef: ref, Data: data}
}

const (
	rootFilterRN = "customers/1/assetGroupListingGroupFilters/9~100"
	subFilterRN  = "customers/1/assetGroupListingGroupFilters/9~101"
	unitFilterRN = "customers/1/assetGroupListingGroupFilters/9~102"
)

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	c := &snapshot.Capturer{
		Root:       t.TempDir(),
		CustomerID: "1",
		MerchantID: "9",
		Sources: []snapshot.Source{
			&staticSource{surface: snapshot.SurfaceAds, kinds: map[string][]snapshot.Record{
				"keywords": {
					rec(t, "ads.keyword:11", map[string]any{
						"id": "11", "text": "cheap widgets", "status": "ENABLED",
						"resource_name": "customers/1/adGroupCriteria/7~11",
						"parent_refs":   []string{"ads.campaign:2001", "ads.ad_group:7"},
					}),
				},
			}},
			&staticSource{surface: snapshot.SurfacePMax, kinds: map[string][]snapshot.Record{
				"listing_groups": {
					rec(t, "ads.listing_filter:100", map[string]any{
						"id": "100", "filter_type": "SUBDIVISION", "resource_name": rootFilterRN,
						"parent_resource": "", "is_root": true, "asset_group_id": "9",
						"parent_refs": []string{"ads.asset_group:9"},
					}),
					rec(t, "ads.listing_filter:101", map[string]any{
						"id": "101", "filter_type": "SUBDIVISION", "resource_name": subFilterRN,
						"parent_resource": rootFilterRN, "is_root": false, "asset_group_id": "9",
						"parent_refs": []string{"ads.asset_group:9"},
					}),
					rec(t, "ads.listing_filter:102", map[string]any{
						"id": "102", "filter_type": "UNIT_INCLUDED", "resource_name": unitFilterRN,
						"parent_resource": subFilterRN, "is_root": false, "item_id": "sku-old",
						"asset_group_id": "9", "parent_refs": []string{"ads.asset_group:9"},
					}),
				},
			}},
			&staticSource{surface: snapshot.SurfaceMerchant, kinds: map[string][]snapshot.Record{
				"products": {
					rec(t, "merchant.product:sku-1", map[string]any{
						"offer_id": "sku-1", "product_id": "online:en:US:sku-1",
						"excluded_destinations": []string{},
					}),
				},
			}},
		},
	}
	_, dir, err := c.Capture(context.Background())
	assert.NoError(t, err)
	snap, err := snapshot.Open(dir, nil)
	assert.NoError(t, err)
	return snap
}

func keywordOp() ops.Operation {
	return ops.Operation{
		OpID:      ops.MakeOpID(1, ops.OpSetKeywordStatus, "ads.keyword:11", "test"),
		OpType:    ops.OpSetKeywordStatus,
		EntityRef: "ads.keyword:11",
		Entity: ops.Entity{
			Platform: "GOOGLE_ADS", Type: "KEYWORD", ID: "11",
			ParentRefs: []string{"ads.campaign:2001", "ads.ad_group:7"},
		},
		Intent: "pause keyword",
		After:  ops.MarshalChange(ops.KeywordStatusChange{Text: "cheap widgets", Status: "PAUSED"}),
		Preconditions: []ops.Precondition{
			{Path: "status", Op: ops.PreEquals, Value: "ENABLED"},
		},
		Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpSetKeywordStatus)),
	}
}

func removeFilterOp(seq int, id, parentRef, resource string) ops.Operation {
	entityRef := "ads.listing_filter:" + id
	return ops.Operation{
		OpID:      ops.MakeOpID(seq, ops.OpRemoveListingFilter, entityRef, "test"),
		OpType:    ops.OpRemoveListingFilter,
		EntityRef: entityRef,
		Entity: ops.Entity{
			Platform: "GOOGLE_ADS", Type: "LISTING_FILTER", ID: id,
			ParentRefs: []string{parentRef},
		},
		Intent: "remove listing filter",
		Before: ops.MarshalChange(ops.ListingFilterChange{FilterType: "UNIT_INCLUDED", ParentRef: parentRef, Resource: resource}),
		Risk:   ops.NewRisk(ops.ClassifyRisk(ops.OpRemoveListingFilter)),
	}
}

func createFilterOp(seq int) ops.Operation {
	entityRef := "ads.listing_filter:new-1"
	return ops.Operation{
		OpID:      ops.MakeOpID(seq, ops.OpCreateListingFilter, entityRef, "test"),
		OpType:    ops.OpCreateListingFilter,
		EntityRef: entityRef,
		Entity: ops.Entity{
			Platform: "GOOGLE_ADS", Type: "LISTING_FILTER", ID: "new-1",
			ParentRefs: []string{"ads.listing_filter:100"},
		},
		Intent: "exclude discontinued sku",
		After: ops.MarshalChange(ops.ListingFilterChange{
			FilterType: "UNIT_EXCLUDED", Dimension: "product_item_id", Value: "sku-9",
			ParentRef: "ads.listing_filter:100", Resource: rootFilterRN,
		}),
		Preconditions: []ops.Precondition{
			{EntityRef: "ads.listing_filter:100", Path: "is_root", Op: ops.PreEquals, Value: true},
		},
		Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpCreateListingFilter)),
	}
}

func excludeProductOp(seq int) ops.Operation {
	return ops.Operation{
		OpID:      ops.MakeOpID(seq, ops.OpExcludeProduct, "merchant.product:sku-1", "test"),
		OpType:    ops.OpExcludeProduct,
		EntityRef: "merchant.product:sku-1",
		Entity:    ops.Entity{Platform: "MERCHANT_CENTER", Type: "PRODUCT", ID: "sku-1"},
		Intent:    "exclude product",
		After:     ops.MarshalChange(ops.ProductExclusionChange{OfferID: "sku-1", Excluded: true}),
		Preconditions: []ops.Precondition{
			{Path: "excluded_destinations", Op: ops.PreNotContains, Value: "Shopping_ads"},
		},
		Risk: ops.NewRisk(ops.ClassifyRisk(ops.OpExcludeProduct)),
	}
}

func testPlan(snap *snapshot.Snapshot, operations ...ops.Operation) *ops.Plan {
	p := &ops.Plan{
		PlanID:      "plan-test",
		PlanVersion: ops.PlanVersion,
		CreatedUTC:  ops.NowUTC(),
		Mode:        ops.ModeDryRun,
		SnapshotID:  snap.ID(),
		Operations:  operations,
	}
	p.Summary = ops.BuildSummary(p.Operations, p.Guardrails, 10)
	return p
}

func testGuardrails() ops.Guardrails {
	return ops.Guardrails{
		MaxTotalOps:              50,
		MaxRiskLevel:             ops.RiskHigh,
		ForbidBudgetChanges:      true,
		ForbidBidStrategyChanges: true,
	}
}

type fakeRemote struct {
	mutateCalls [][]gads.MutateOperation
	excluded    []string
	mutateErr   error
	excludeErr  error
}

func (f *fakeRemote) Mutate(_ context.Context, operations []gads.MutateOperation) ([]gads.MutateResult, error) {
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	f.mutateCalls = append(f.mutateCalls, operations)
	results := make([]gads.MutateResult, len(operations))
	for i := range results {
		results[i] = gads.MutateResult{ResourceName: "applied/" + string(rune('a'+i))}
	}
	return results, nil
}

func (f *fakeRemote) ExcludeProduct(_ context.Context, productID string) error {
	if f.excludeErr != nil {
		return f.excludeErr
	}
	f.excluded = append(f.excluded, productID)
	return nil
}

type memRecorder struct {
	results []*Result
}

func (m *memRecorder) Record(_ context.Context, res *Result) error {
	m.results = append(m.results, res)
	return nil
}

func newEngine(remote *fakeRemote, recorder *memRecorder) *Engine {
	return &Engine{
		Cfg: &config.Config{
			Ads:        config.AdsConfig{CustomerID: "1"},
			Apply:      config.ApplyConfig{BatchSize: 50},
			Guardrails: testGuardrails(),
		},
		Client:   remote,
		Recorder: recorder,
	}
}

func TestDryRunIsDefaultAndIssuesNoRemoteCalls(t *testing.T) {
	snap := testSnapshot(t)
	remote := &fakeRemote{}
	recorder := &memRecorder{}
	engine := newEngine(remote, recorder)

	plan := testPlan(snap, keywordOp(), excludeProductOp(2))
	res, err := engine.Run(context.Background(), plan, snap, false)
	assert.NoError(t, err)
	assert.Equal(t, StateRecorded, res.State)
	assert.Equal(t, ops.ModeDryRun, res.Mode)
	assert.Empty(t, remote.mutateCalls)
	assert.Empty(t, remote.excluded)
	for _, o := range res.Outcomes {
		assert.Equal(t, OutcomeWouldApply, o.Status)
	}
	assert.Len(t, recorder.results, 1, "audit record written for dry-run")
}

func TestUnsupportedTypeFailsWholePlan(t *testing.T) {
	snap := testSnapshot(t)
	recorder := &memRecorder{}
	engine := newEngine(&fakeRemote{}, recorder)

	bad := keywordOp()
	bad.OpType = ops.OpType("ADS_DO_SOMETHING_NEW")
	plan := testPlan(snap, keywordOp(), bad)

	res, err := engine.Run(context.Background(), plan, snap, false)
	var unsupported *ops.UnsupportedOperationError
	assert.ErrorAs(t, err, &unsupported)
	assert.Equal(t, StateAborted, res.State)
	for _, o := range res.Outcomes {
		assert.Equal(t, OutcomeBlocked, o.Status)
	}
	assert.Len(t, recorder.results, 1, "aborted run still leaves an audit record")
}

func TestGuardrailViolations(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})

	t.Run("max total ops", func(t *testing.T) {
		engine.Cfg.Guardrails.MaxTotalOps = 1
		defer func() { engine.Cfg.Guardrails.MaxTotalOps = 50 }()
		plan := testPlan(snap, keywordOp(), excludeProductOp(2))
		res, err := engine.Run(context.Background(), plan, snap, false)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "max_total_ops", violation.Rule)
		assert.Equal(t, StateAborted, res.State)
	})

	t.Run("forbidden budget change", func(t *testing.T) {
		budget := keywordOp()
		budget.OpType = ops.OpUpdateBudget
		budget.After = ops.MarshalChange(ops.BudgetChange{AmountMicros: 5_000_000})
		plan := testPlan(snap, budget)
		_, err := engine.Run(context.Background(), plan, snap, false)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "forbidden_op_types", violation.Rule)
	})

	t.Run("max risk level", func(t *testing.T) {
		engine.Cfg.Guardrails.MaxRiskLevel = ops.RiskMedium
		defer func() { engine.Cfg.Guardrails.MaxRiskLevel = ops.RiskHigh }()
		plan := testPlan(snap, excludeProductOp(1))
		_, err := engine.Run(context.Background(), plan, snap, false)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "max_risk_level", violation.Rule)
	})

	t.Run("campaign blocklist", func(t *testing.T) {
		engine.Cfg.Guardrails.CampaignBlocklist = []string{"2001"}
		defer func() { engine.Cfg.Guardrails.CampaignBlocklist = nil }()
		plan := testPlan(snap, keywordOp())
		_, err := engine.Run(context.Background(), plan, snap, false)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "campaign_blocklist", violation.Rule)
	})

	t.Run("campaign allowlist", func(t *testing.T) {
		engine.Cfg.Guardrails.CampaignAllowlist = []string{"3001"}
		defer func() { engine.Cfg.Guardrails.CampaignAllowlist = nil }()
		plan := testPlan(snap, keywordOp())
		_, err := engine.Run(context.Background(), plan, snap, false)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "campaign_allowlist", violation.Rule)

		// Unscoped merchant operations pass the allowlist.
		engine.Cfg.Guardrails.CampaignAllowlist = []string{"2001"}
		plan = testPlan(snap, keywordOp(), excludeProductOp(2))
		_, err = engine.Run(context.Background(), plan, snap, false)
		assert.NoError(t, err)
	})

	t.Run("live without approval", func(t *testing.T) {
		plan := testPlan(snap, excludeProductOp(1))
		assert.True(t, plan.Summary.RequiresApproval)
		_, err := engine.Run(context.Background(), plan, snap, true)
		var violation *ops.GuardrailViolation
		assert.ErrorAs(t, err, &violation)
		assert.Equal(t, "approval_required", violation.Rule)
	})
}

func TestMerchantProductIDRequiresFullID(t *testing.T) {
	snap := testSnapshot(t)

	// Recorded product: the snapshot's full REST id wins over the payload.
	id, err := merchantProductID(excludeProductOp(1), snap)
	assert.NoError(t, err)
	assert.Equal(t, "online:en:US:sku-1", id)

	// Unrecorded product with only a bare offer id: the merchant endpoint
	// cannot address it, so translation fails instead of issuing the call.
	bare := excludeProductOp(2)
	bare.EntityRef = "merchant.product:sku-raw"
	bare.Entity.ID = "sku-raw"
	bare.After = ops.MarshalChange(ops.ProductExclusionChange{OfferID: "sku-raw", Excluded: true})
	_, err = merchantProductID(bare, snap)
	assert.ErrorContains(t, err, "no full product id")

	full := excludeProductOp(3)
	full.EntityRef = "merchant.product:sku-raw"
	full.After = ops.MarshalChange(ops.ProductExclusionChange{OfferID: "online:en:US:sku-raw", Excluded: true})
	id, err = merchantProductID(full, snap)
	assert.NoError(t, err)
	assert.Equal(t, "online:en:US:sku-raw", id)
}

func TestSnapshotBindingEnforced(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})
	plan := testPlan(snap, keywordOp())
	plan.SnapshotID = "20200101-000000"

	res, err := engine.Run(context.Background(), plan, snap, false)
	assert.ErrorContains(t, err, "bound to snapshot")
	assert.Equal(t, StateAborted, res.State)
}

func TestStalePreconditionAbortsByDefault(t *testing.T) {
	snap := testSnapshot(t)
	remote := &fakeRemote{}
	engine := newEngine(remote, &memRecorder{})

	stale := keywordOp()
	stale.Preconditions = []ops.Precondition{{Path: "status", Op: ops.PreEquals, Value: "PAUSED"}}
	plan := testPlan(snap, stale, excludeProductOp(2))

	res, err := engine.Run(context.Background(), plan, snap, false)
	var staleness *ops.StalenessError
	assert.ErrorAs(t, err, &staleness)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, OutcomeStale, res.Outcomes[0].Status)
	assert.Equal(t, OutcomeNotAttempted, res.Outcomes[1].Status)
	assert.Empty(t, remote.mutateCalls)
}

func TestSkipStaleContinues(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})
	engine.Cfg.Apply.SkipStaleOperations = true

	stale := keywordOp()
	stale.Preconditions = []ops.Precondition{{Path: "status", Op: ops.PreEquals, Value: "PAUSED"}}
	plan := testPlan(snap, stale, excludeProductOp(2))

	res, err := engine.Run(context.Background(), plan, snap, false)
	assert.NoError(t, err)
	assert.Equal(t, StateRecorded, res.State)
	assert.Equal(t, OutcomeSkippedStale, res.Outcomes[0].Status)
	assert.Equal(t, OutcomeWouldApply, res.Outcomes[1].Status)
}

func TestMissingEntityIsStale(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})

	ghost := keywordOp()
	ghost.EntityRef = "ads.keyword:404"
	plan := testPlan(snap, ghost)

	_, err := engine.Run(context.Background(), plan, snap, false)
	var staleness *ops.StalenessError
	assert.ErrorAs(t, err, &staleness)
	assert.Contains(t, staleness.Description, "not present in snapshot")
}

func TestExecutionOrderCreatesBeforeRemovesLeavesFirst(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})

	removeLeaf := removeFilterOp(1, "102", "ads.listing_filter:101", unitFilterRN)
	removeParent := removeFilterOp(2, "101", "ads.listing_filter:100", subFilterRN)
	create := createFilterOp(3)
	plan := testPlan(snap, removeParent, removeLeaf, create)

	res, err := engine.Run(context.Background(), plan, snap, false)
	assert.NoError(t, err)
	assert.Equal(t, []string{create.OpID, removeLeaf.OpID, removeParent.OpID}, res.Order)
}

func TestTreeRootIsNeverRemovable(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})

	plan := testPlan(snap, removeFilterOp(1, "100", "", rootFilterRN))
	res, err := engine.Run(context.Background(), plan, snap, false)
	var violation *ops.GuardrailViolation
	assert.ErrorAs(t, err, &violation)
	assert.Equal(t, "tree_root_removal", violation.Rule)
	assert.Equal(t, StateAborted, res.State)
}

func TestDryRunLiveParity(t *testing.T) {
	snap := testSnapshot(t)
	plan := testPlan(snap,
		keywordOp(),
		removeFilterOp(2, "102", "ads.listing_filter:101", unitFilterRN),
		createFilterOp(3),
		excludeProductOp(4),
	)
	plan.Approvals = ops.Approvals{Approved: true, ApprovedBy: "reviewer"}

	dry, err := newEngine(&fakeRemote{}, &memRecorder{}).Run(context.Background(), plan, snap, false)
	assert.NoError(t, err)
	live, err := newEngine(&fakeRemote{}, &memRecorder{}).Run(context.Background(), plan, snap, true)
	assert.NoError(t, err)

	assert.Equal(t, dry.Order, live.Order)
	for i := range dry.Outcomes {
		assert.Equal(t, dry.Outcomes[i].Preconditions, live.Outcomes[i].Preconditions)
	}
}

func TestLiveExecutionAppliesInOrder(t *testing.T) {
	snap := testSnapshot(t)
	remote := &fakeRemote{}
	recorder := &memRecorder{}
	engine := newEngine(remote, recorder)

	plan := testPlan(snap,
		keywordOp(),
		removeFilterOp(2, "102", "ads.listing_filter:101", unitFilterRN),
		createFilterOp(3),
		excludeProductOp(4),
	)
	plan.Approvals = ops.Approvals{Approved: true, ApprovedBy: "reviewer"}

	res, err := engine.Run(context.Background(), plan, snap, true)
	assert.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.Equal(t, 2, res.BatchesIssued)
	assert.Len(t, remote.mutateCalls, 1)
	assert.Len(t, remote.mutateCalls[0], 3, "ads operations share one atomic batch")
	assert.Equal(t, []string{"online:en:US:sku-1"}, remote.excluded)
	for _, o := range res.Outcomes {
		assert.Equal(t, OutcomeApplied, o.Status)
	}
	assert.NotEmpty(t, res.Outcomes[0].ResourceName)
}

func TestLiveFailureAbortsRemainingBatches(t *testing.T) {
	snap := testSnapshot(t)
	remote := &fakeRemote{excludeErr: &ops.RemoteCallError{StatusCode: 400, Body: "invalid product"}}
	engine := newEngine(remote, &memRecorder{})

	plan := testPlan(snap, keywordOp(), excludeProductOp(2))
	plan.Approvals = ops.Approvals{Approved: true}

	res, err := engine.Run(context.Background(), plan, snap, true)
	assert.Error(t, err)
	assert.Equal(t, StatePartiallyApplied, res.State)
	assert.Equal(t, OutcomeApplied, res.Outcomes[0].Status)
	assert.Equal(t, OutcomeFailed, res.Outcomes[1].Status)
	assert.NotEmpty(t, res.AbortReason)
}

func TestLiveFirstBatchFailureIsAborted(t *testing.T) {
	snap := testSnapshot(t)
	remote := &fakeRemote{mutateErr: errors.New("quota exceeded")}
	engine := newEngine(remote, &memRecorder{})

	plan := testPlan(snap, keywordOp())
	res, err := engine.Run(context.Background(), plan, snap, true)
	assert.Error(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, OutcomeFailed, res.Outcomes[0].Status)
}

func TestEmptyPlanIsNothingToDo(t *testing.T) {
	snap := testSnapshot(t)
	engine := newEngine(&fakeRemote{}, &memRecorder{})
	res, err := engine.Run(context.Background(), testPlan(snap), snap, false)
	assert.NoError(t, err)
	assert.Equal(t, StateRecorded, res.State)
	assert.Empty(t, res.Outcomes)
}
