// Package apply is the pipeline's only writer to the remote platform. It
// validates a plan against its guardrails and bound snapshot, computes a
// dependency-safe execution order, and either records what would happen
// (dry-run, the default) or executes it under explicit opt-in. Every
// invocation, including aborted ones, emits an audit record.
package apply

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"adpilot/internal/ops"
)

// State is the phase of a single apply invocation. No state is re-entrant
// and a failed invocation never auto-retries.
type State string

const (
	StateValidating State = "VALIDATING"
	StateOrdering   State = "ORDERING"
	StateExecuting  State = "EXECUTING"

	// Terminal states.
	StateAborted          State = "ABORTED"
	StateRecorded         State = "RECORDED"
	StateApplied          State = "APPLIED"
	StatePartiallyApplied State = "PARTIALLY_APPLIED"
)

// Terminal reports whether s ends the invocation.
func (s State) Terminal() bool {
	switch s {
	case StateAborted, StateRecorded, StateApplied, StatePartiallyApplied:
		return true
	}
	return false
}

// OutcomeStatus is the per-operation verdict of an invocation.
type OutcomeStatus string

const (
	OutcomeWouldApply   OutcomeStatus = "WOULD_APPLY"
	OutcomeApplied      OutcomeStatus = "APPLIED"
	OutcomeFailed       OutcomeStatus = "FAILED"
	OutcomeStale        OutcomeStatus = "STALE"
	OutcomeSkippedStale OutcomeStatus = "SKIPPED_STALE"
	OutcomeBlocked      OutcomeStatus = "BLOCKED"
	OutcomeNotAttempted OutcomeStatus = "NOT_ATTEMPTED"
)

// CheckResult records one precondition evaluation. Dry-run and live runs
// compute identical check results for the same plan and snapshot.
type CheckResult struct {
	EntityRef string `json:"entity_ref"`
	Path      string `json:"path"`
	Op        string `json:"op"`
	Expected  any    `json:"expected,omitempty"`
	Actual    any    `json:"actual,omitempty"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

// OpOutcome is the audit record entry for one operation.
type OpOutcome struct {
	OpID          string        `json:"op_id"`
	OpType        string        `json:"op_type"`
	EntityRef     string        `json:"entity_ref"`
	Status        OutcomeStatus `json:"status"`
	Preconditions []CheckResult `json:"preconditions,omitempty"`
	ResourceName  string        `json:"resource_name,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Result is the ApplyResult artifact: one append-only record per invocation
// with enough detail to reconstruct what was proposed, validated and
// executed.
type Result struct {
	InvocationID  string         `json:"invocation_id"`
	PlanID        string         `json:"plan_id"`
	SnapshotID    string         `json:"snapshot_id"`
	Mode          ops.PlanMode   `json:"mode"`
	State         State          `json:"state"`
	StartedUTC    string         `json:"started_utc"`
	FinishedUTC   string         `json:"finished_utc"`
	Guardrails    ops.Guardrails `json:"guardrails"`
	Order         []string       `json:"execution_order,omitempty"`
	Outcomes      []OpOutcome    `json:"outcomes"`
	BatchesIssued int            `json:"batches_issued"`
	AbortReason   string         `json:"abort_reason,omitempty"`
}

// Counts tallies outcomes by status for logging and exit-code decisions.
func (r *Result) Counts() map[OutcomeStatus]int {
	out := make(map[OutcomeStatus]int)
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}

func newInvocationID(planID string) string {
	return fmt.Sprintf("apply-%s-%s-%s", time.Now().UTC().Format("20060102-150405"), planID, uuid.NewString()[:8])
}
