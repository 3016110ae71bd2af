package apply

import (
	"context"
	"fmt"

	"adpilot/internal/config"
	"adpilot/internal/gads"
	"adpilot/internal/logger"
	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// Recorder persists one Result per invocation to the append-only audit log.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}

// Mutator is the remote write surface the engine drives. It is satisfied by
// gads.Client; tests substitute a fake.
type Mutator interface {
	Mutate(ctx context.Context, operations []gads.MutateOperation) ([]gads.MutateResult, error)
	ExcludeProduct(ctx context.Context, productID string) error
}

// Engine executes plans. It is the exclusive writer to the remote system:
// nothing else in the pipeline issues mutating calls.
type Engine struct {
	Cfg      *config.Config
	Client   Mutator
	Recorder Recorder
}

// Run validates plan against the engine's configured guardrails and the
// bound snapshot, orders its operations, and either records the outcome
// (dry-run, the default) or executes it when execute is true. The audit
// record is written on every path, aborted runs included. The returned
// error, when non-nil, is also reflected in the result's state and abort
// reason.
func (e *Engine) Run(ctx context.Context, plan *ops.Plan, snap *snapshot.Snapshot, execute bool) (*Result, error) {
	mode := ops.ModeDryRun
	if execute {
		mode = ops.ModeApply
	}
	res := &Result{
		InvocationID: newInvocationID(plan.PlanID),
		PlanID:       plan.PlanID,
		SnapshotID:   plan.SnapshotID,
		Mode:         mode,
		State:        StateValidating,
		StartedUTC:   ops.NowUTC(),
		Guardrails:   e.Cfg.Guardrails,
	}
	defer func() {
		res.FinishedUTC = ops.NowUTC()
		e.record(ctx, res)
	}()

	for _, op := range plan.Operations {
		res.Outcomes = append(res.Outcomes, OpOutcome{
			OpID:      op.OpID,
			OpType:    string(op.OpType),
			EntityRef: op.EntityRef,
			Status:    OutcomeNotAttempted,
		})
	}

	if plan.SnapshotID != snap.ID() {
		return res, e.abort(res, &ops.GuardrailViolation{
			Rule:   "snapshot_binding",
			Detail: fmt.Sprintf("plan %s is bound to snapshot %s, loaded snapshot is %s", plan.PlanID, plan.SnapshotID, snap.ID()),
		})
	}

	// The engine enforces the invocation's configured guardrails, not the
	// plan's own record of them: a tampered plan must not be able to relax
	// its limits.
	if err := validatePlan(plan, e.Cfg.Guardrails, execute); err != nil {
		for i := range res.Outcomes {
			res.Outcomes[i].Status = OutcomeBlocked
		}
		return res, e.abort(res, err)
	}

	if len(plan.Operations) == 0 {
		res.State = StateRecorded
		logger.Infof("plan %s has no operations, nothing to do", plan.PlanID)
		return res, nil
	}

	// Precondition validation runs identically for dry-run and live: the
	// check results recorded here are what a live run validates against.
	var staleErr error
	eligible := make([]bool, len(plan.Operations))
	for i, op := range plan.Operations {
		checks, err := checkPreconditions(snap, op)
		res.Outcomes[i].Preconditions = checks
		if err != nil {
			res.Outcomes[i].Status = OutcomeStale
			res.Outcomes[i].Error = err.Error()
			if staleErr == nil {
				staleErr = err
			}
			continue
		}
		eligible[i] = true
	}
	if staleErr != nil {
		if !e.Cfg.Apply.SkipStaleOperations {
			return res, e.abort(res, staleErr)
		}
		for i := range res.Outcomes {
			if res.Outcomes[i].Status == OutcomeStale {
				res.Outcomes[i].Status = OutcomeSkippedStale
				logger.Warnf("skipping stale operation %s: %s", res.Outcomes[i].OpID, res.Outcomes[i].Error)
			}
		}
	}

	res.State = StateOrdering
	order, err := executionOrder(plan.Operations, snap)
	if err != nil {
		return res, e.abort(res, err)
	}
	execOrder := make([]int, 0, len(order))
	for _, idx := range order {
		if eligible[idx] {
			execOrder = append(execOrder, idx)
			res.Order = append(res.Order, plan.Operations[idx].OpID)
		}
	}

	if !execute {
		for _, idx := range execOrder {
			res.Outcomes[idx].Status = OutcomeWouldApply
		}
		res.State = StateRecorded
		logger.Infof("dry-run of plan %s recorded: %d operation(s) would apply", plan.PlanID, len(execOrder))
		return res, nil
	}

	steps, err := buildSteps(plan.Operations, execOrder, snap, e.Cfg.Ads.CustomerID, e.Cfg.Apply.BatchSize)
	if err != nil {
		return res, e.abort(res, err)
	}

	res.State = StateExecuting
	applied := 0
	for _, st := range steps {
		if err := e.executeStep(ctx, st, res); err != nil {
			// The failed batch is atomic remotely: every operation in it
			// failed, and nothing after it is attempted.
			for _, idx := range st.opIdx {
				res.Outcomes[idx].Status = OutcomeFailed
				res.Outcomes[idx].Error = err.Error()
			}
			res.AbortReason = err.Error()
			if applied > 0 {
				res.State = StatePartiallyApplied
			} else {
				res.State = StateAborted
			}
			logger.Errorf("apply of plan %s stopped after %d batch(es): %v", plan.PlanID, res.BatchesIssued, err)
			return res, err
		}
		for _, idx := range st.opIdx {
			res.Outcomes[idx].Status = OutcomeApplied
		}
		applied += len(st.opIdx)
		res.BatchesIssued++
	}
	res.State = StateApplied
	logger.Infof("plan %s applied: %d operation(s) in %d batch(es)", plan.PlanID, applied, res.BatchesIssued)
	return res, nil
}

func (e *Engine) executeStep(ctx context.Context, st step, res *Result) error {
	if st.productID != "" {
		return e.Client.ExcludeProduct(ctx, st.productID)
	}
	results, err := e.Client.Mutate(ctx, st.mutations)
	if err != nil {
		return err
	}
	offset := 0
	for pos, idx := range st.opIdx {
		if offset < len(results) {
			res.Outcomes[idx].ResourceName = results[offset].ResourceName
		}
		offset += st.spans[pos]
	}
	return nil
}

func (e *Engine) abort(res *Result, err error) error {
	res.State = StateAborted
	res.AbortReason = err.Error()
	logger.Errorf("apply of plan %s aborted: %v", res.PlanID, err)
	return err
}

func (e *Engine) record(ctx context.Context, res *Result) {
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.Record(ctx, res); err != nil {
		logger.Errorf("audit record for %s not written: %v", res.InvocationID, err)
	}
}
