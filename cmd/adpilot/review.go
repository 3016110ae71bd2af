package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"adpilot/internal/advisory"
	"adpilot/internal/artifact"
	"adpilot/internal/config"
	"adpilot/internal/ops"
	"adpilot/internal/review"
	"adpilot/internal/snapshot"
)

type reviewFlags struct {
	planRef string
	latest  bool
	report  string
}

func newReviewCmd() *cobra.Command {
	f := &reviewFlags{}
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Build the review pack for a plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
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

			builder := &review.Builder{Cfg: cfg, Provider: advisory.NewProvider(&cfg.Advisory)}
			pack, err := builder.Build(cmd.Context(), plan, snap, f.report)
			if err != nil {
				return exitError(3, "building review pack: %v", err)
			}
			jsonPath, mdPath, err := builder.Write(pack)
			if err != nil {
				return exitError(3, "writing review pack: %v", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "review pack for %s written: %s\n", plan.PlanID, jsonPath)
			fmt.Fprintf(out, "rendering: %s\n", mdPath)
			fmt.Fprintf(out, "risk flags: %d, checklist items: %d\n",
				len(pack.DeterministicChecks.RiskFlags), len(pack.HITLChecklist))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.planRef, "plan", "", "Plan artifact path or plan id")
	flags.BoolVar(&f.latest, "latest", false, "Use the most recent catalogued plan")
	flags.StringVar(&f.report, "report", "", "Optional truth-signal report to cross-reference")
	return cmd
}

// loadPlan reads and schema-validates a plan artifact before decoding it.
func loadPlan(path string) (*ops.Plan, error) {
	var doc any
	if err := artifact.ReadJSON(path, "plan", &doc); err != nil {
		return nil, exitError(3, "reading plan %s: %v", path, err)
	}
	if err := ops.ValidatePlanDocument(doc); err != nil {
		return nil, exitError(3, "plan %s failed validation: %v", path, err)
	}
	var plan ops.Plan
	if err := artifact.ReadJSON(path, "plan", &plan); err != nil {
		return nil, exitError(3, "reading plan %s: %v", path, err)
	}
	return &plan, nil
}

// openBoundSnapshot loads exactly the snapshot the plan was generated from.
func openBoundSnapshot(cfg *config.Config, plan *ops.Plan) (*snapshot.Snapshot, error) {
	dir := filepath.Join(cfg.Snapshot.Root, plan.SnapshotID)
	snap, err := snapshot.Open(dir, nil)
	if err != nil {
		return nil, exitError(3, "opening snapshot %s bound to plan %s: %v", plan.SnapshotID, plan.PlanID, err)
	}
	return snap, nil
}
