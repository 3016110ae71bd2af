package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"adpilot/internal/config"
	"adpilot/internal/ops"
	"adpilot/internal/planner"
	"adpilot/internal/snapshot"
)

type planFlags struct {
	snapshotDir string
	latest      bool
	ruleset     string
	maxOps      int
}

func newPlanCmd() *cobra.Command {
	f := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a deterministic change plan from a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			snap, err := resolveSnapshot(cfg, f.snapshotDir, f.latest)
			if err != nil {
				return err
			}

			gen := &planner.Generator{Cfg: cfg, Snap: snap}
			plan, err := gen.Generate(f.ruleset, f.maxOps)
			if err != nil {
				return exitError(3, "plan generation failed: %v", err)
			}
			path, err := gen.Write(plan)
			if err != nil {
				return exitError(3, "writing plan: %v", err)
			}
			if err := catalogPlan(cmd, cfg, plan, path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan %s written: %s\n", plan.PlanID, path)
			fmt.Fprintf(out, "operations: %d, highest risk: %s, requires approval: %t\n",
				plan.Summary.TotalOps, plan.Summary.HighestRisk, plan.Summary.RequiresApproval)
			if plan.Summary.TotalOps == 0 {
				return exitError(2, "no operations proposed for snapshot %s with ruleset %s", snap.ID(), f.ruleset)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.snapshotDir, "snapshot", "", "Snapshot directory to plan against")
	flags.BoolVar(&f.latest, "latest", false, "Use the most recent snapshot under the configured root")
	flags.StringVar(&f.ruleset, "ruleset", "safety", "Named ruleset to run")
	flags.IntVar(&f.maxOps, "max-ops", 0, "Operation cap (0 uses the guardrail limit)")
	return cmd
}

func catalogPlan(cmd *cobra.Command, cfg *config.Config, plan *ops.Plan, path string) error {
	cat, err := planner.OpenCatalog(cfg.Planner.PlansRoot)
	if err != nil {
		return exitError(3, "opening plan catalog: %v", err)
	}
	defer cat.Close()
	if err := cat.Record(cmd.Context(), plan, path); err != nil {
		return exitError(3, "%v", err)
	}
	return nil
}

// resolveSnapshot requires an explicit choice: a snapshot directory or the
// --latest flag. Planning never silently defaults to an unspecified
// snapshot.
func resolveSnapshot(cfg *config.Config, dir string, latest bool) (*snapshot.Snapshot, error) {
	required := cfg.Snapshot.Surfaces
	switch {
	case dir != "" && latest:
		return nil, exitError(3, "--snapshot and --latest are mutually exclusive")
	case dir != "":
		snap, err := snapshot.Open(dir, required)
		if err != nil {
			return nil, exitError(3, "opening snapshot %s: %v", dir, err)
		}
		return snap, nil
	case latest:
		snap, err := snapshot.Latest(cfg.Snapshot.Root, required)
		if err != nil {
			return nil, exitError(3, "resolving latest snapshot under %s: %v", cfg.Snapshot.Root, err)
		}
		return snap, nil
	}
	return nil, exitError(3, "no snapshot selected: pass --snapshot <dir> or --latest")
}

// resolvePlanPath accepts either a plan artifact path or a plan id looked up
// in the catalog; --latest picks the newest catalogued plan.
func resolvePlanPath(cmd *cobra.Command, cfg *config.Config, ref string, latest bool) (string, error) {
	switch {
	case ref != "" && latest:
		return "", exitError(3, "--plan and --latest are mutually exclusive")
	case ref == "" && !latest:
		return "", exitError(3, "no plan selected: pass --plan <path-or-id> or --latest")
	}
	if ref != "" && (strings.ContainsRune(ref, filepath.Separator) || strings.HasSuffix(ref, ".json")) {
		return ref, nil
	}

	cat, err := planner.OpenCatalog(cfg.Planner.PlansRoot)
	if err != nil {
		return "", exitError(3, "opening plan catalog: %v", err)
	}
	defer cat.Close()
	if latest {
		_, path, err := cat.Latest(cmd.Context())
		if err != nil {
			return "", exitError(3, "resolving latest plan: %v", err)
		}
		return path, nil
	}
	path, err := cat.Resolve(cmd.Context(), ref)
	if err != nil {
		return "", exitError(3, "resolving plan %s: %v", ref, err)
	}
	return path, nil
}
