package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/apply"
	"adpilot/internal/config"
	"adpilot/internal/ops"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(config.AuditConfig{
		Root:   base,
		DBPath: filepath.Join(base, "audit.db"),
	})
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func testResult(invocationID string, state apply.State) *apply.Result {
	return &apply.Result{
		InvocationID: invocationID,
		PlanID:       "plan-test",
		SnapshotID:   "20260829-110000",
		Mode:         ops.ModeDryRun,
		State:        state,
		StartedUTC:   "2026-08-29T12:00:00Z",
		FinishedUTC:  "2026-08-29T12:00:01Z",
		Guardrails:   ops.Guardrails{MaxTotalOps: 50},
		Outcomes: []apply.OpOutcome{
			{OpID: "op-001-abc123def456", OpType: "ADS_SET_KEYWORD_STATUS", EntityRef: "ads.keyword:11", Status: apply.OutcomeWouldApply},
		},
	}
}

func TestRecordWritesResultsAndIndex(t *testing.T) {
	s := testStore(t)
	res := testResult("apply-20260829-120000-plan-test-ab12cd34", apply.StateRecorded)
	assert.NoError(t, s.Record(context.Background(), res))

	raw, err := os.ReadFile(filepath.Join(s.root, res.InvocationID+".results.json"))
	assert.NoError(t, err)
	var roundTrip apply.Result
	assert.NoError(t, json.Unmarshal(raw, &roundTrip))
	assert.Equal(t, res.PlanID, roundTrip.PlanID)
	assert.Equal(t, apply.StateRecorded, roundTrip.State)

	md, err := os.ReadFile(filepath.Join(s.root, res.InvocationID+".results.md"))
	assert.NoError(t, err)
	assert.Contains(t, string(md), "**RECORDED**")

	rows, err := s.Invocations(context.Background(), "plan-test")
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, res.InvocationID, rows[0].InvocationID)
	assert.Equal(t, "RECORDED", rows[0].State)
	assert.Equal(t, 1, rows[0].TotalOps)
}

func TestRecordNeverOverwrites(t *testing.T) {
	s := testStore(t)
	res := testResult("apply-20260829-120000-plan-test-ab12cd34", apply.StateRecorded)
	assert.NoError(t, s.Record(context.Background(), res))
	assert.ErrorContains(t, s.Record(context.Background(), res), "already exists")
}

func TestAbortedRunIsStillRecorded(t *testing.T) {
	s := testStore(t)
	res := testResult("apply-20260829-130000-plan-test-ef56ab78", apply.StateAborted)
	res.AbortReason = "guardrail violation (max_total_ops): plan has 99 operations, limit is 50"
	assert.NoError(t, s.Record(context.Background(), res))

	rows, err := s.Invocations(context.Background(), "")
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "ABORTED", rows[0].State)
	assert.Contains(t, rows[0].AbortReason, "max_total_ops")
}

func TestInvocationsNewestFirst(t *testing.T) {
	s := testStore(t)
	assert.NoError(t, s.Record(context.Background(), testResult("apply-a", apply.StateRecorded)))
	assert.NoError(t, s.Record(context.Background(), testResult("apply-b", apply.StateApplied)))

	rows, err := s.Invocations(context.Background(), "plan-test")
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "apply-b", rows[0].InvocationID)
}
