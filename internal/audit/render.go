package audit

import (
	"fmt"
	"strings"

	"adpilot/internal/apply"
)

// renderResult produces the human-readable companion of one results file.
func renderResult(res *apply.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Apply Result: %s\n\n", res.InvocationID)
	fmt.Fprintf(&b, "- plan: `%s`\n", res.PlanID)
	fmt.Fprintf(&b, "- snapshot: `%s`\n", res.SnapshotID)
	fmt.Fprintf(&b, "- mode: %s\n", res.Mode)
	fmt.Fprintf(&b, "- state: **%s**\n", res.State)
	fmt.Fprintf(&b, "- started: %s\n", res.StartedUTC)
	fmt.Fprintf(&b, "- finished: %s\n", res.FinishedUTC)
	if res.BatchesIssued > 0 {
		fmt.Fprintf(&b, "- batches issued: %d\n", res.BatchesIssued)
	}
	if res.AbortReason != "" {
		fmt.Fprintf(&b, "\n> ABORT: %s\n", res.AbortReason)
	}

	if len(res.Order) > 0 {
		b.WriteString("\n## Execution Order\n\n")
		for i, opID := range res.Order {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, opID)
		}
	}

	b.WriteString("\n## Operations\n\n")
	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "- `%s` %s on `%s`: **%s**", o.OpID, o.OpType, o.EntityRef, o.Status)
		if o.ResourceName != "" {
			fmt.Fprintf(&b, " -> `%s`", o.ResourceName)
		}
		if o.Error != "" {
			fmt.Fprintf(&b, "\n  error: %s", o.Error)
		}
		for _, c := range o.Preconditions {
			verdict := "ok"
			if !c.Passed {
				verdict = "FAILED"
			}
			fmt.Fprintf(&b, "\n  - precondition %s %s on `%s`: %s", c.Path, c.Op, c.EntityRef, verdict)
		}
		b.WriteString("\n")
	}
	return b.String()
}
