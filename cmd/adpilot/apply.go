package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"adpilot/internal/apply"
	"adpilot/internal/audit"
	"adpilot/internal/gads"
	"adpilot/internal/ops"
)

type applyFlags struct {
	planRef   string
	latest    bool
	execute   bool
	skipStale bool
}

func newApplyCmd() *cobra.Command {
	f := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate and apply a plan (dry-run unless --execute)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("skip-stale") {
				cfg.Apply.SkipStaleOperations = f.skipStale
			}

			planPath, err := resolvePlanPath(cmd, cfg, f.planRef, f.latest)
			if err != nil {
				return err
			}
			plan, err := loadPlan(planPath)
			if err != nil {
				return err
			}
			snap, err := openBoundSnapshot(cfg, plan)
			if err != nil {
				return err
			}

			recorder, err := audit.NewStore(cfg.Audit)
			if err != nil {
				return exitError(3, "opening audit store: %v", err)
			}
			defer recorder.Close()

			engine := &apply.Engine{Cfg: cfg, Client: gads.NewClient(cfg), Recorder: recorder}
			res, runErr := engine.Run(cmd.Context(), plan, snap, f.execute)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "invocation %s: %s\n", res.InvocationID, res.State)
			for status, count := range res.Counts() {
				fmt.Fprintf(out, "  %s: %d\n", status, count)
			}

			if runErr != nil {
				if isValidationFailure(runErr) && res.BatchesIssued == 0 {
					return exitError(3, "apply validation failed: %v", runErr)
				}
				return exitError(4, "apply %s: %v", res.State, runErr)
			}
			if len(res.Outcomes) == 0 {
				return exitError(2, "plan %s has no operations, nothing to do", plan.PlanID)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.planRef, "plan", "", "Plan artifact path or plan id")
	flags.BoolVar(&f.latest, "latest", false, "Use the most recent catalogued plan")
	flags.BoolVar(&f.execute, "execute", false, "Issue live mutations instead of the default dry-run")
	flags.BoolVar(&f.skipStale, "skip-stale", false, "Skip stale operations instead of aborting the run")
	return cmd
}

func isValidationFailure(err error) bool {
	var guardrail *ops.GuardrailViolation
	var unsupported *ops.UnsupportedOperationError
	var stale *ops.StalenessError
	var notFound *ops.ArtifactNotFoundError
	return errors.As(err, &guardrail) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &stale) ||
		errors.As(err, &notFound)
}
