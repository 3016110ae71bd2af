package ops

import (
	"errors"
	"fmt"
)

// StalenessError reports that snapshot-recorded state no longer matches an
// operation's assumed precondition.
type StalenessError struct {
	OpID        string
	Path        string
	Expected    any
	Actual      any
	Description string
}

func (e *StalenessError) Error() string {
	return fmt.Sprintf("stale precondition for %s: %s expected %v, snapshot has %v", e.OpID, e.Path, e.Expected, e.Actual)
}

// UnsupportedOperationError reports an op_type outside the apply engine's
// supported set. Always fatal, never silently skipped.
type UnsupportedOperationError struct {
	OpID   string
	OpType OpType
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported op_type %q in operation %s", e.OpType, e.OpID)
}

// GuardrailViolation reports a plan that exceeds a configured guardrail.
type GuardrailViolation struct {
	Rule   string
	Detail string
}

func (e *GuardrailViolation) Error() string {
	return fmt.Sprintf("guardrail violation (%s): %s", e.Rule, e.Detail)
}

// RemoteCallError wraps a failed call to the remote platform. Transient
// errors (429/5xx) are retried by the client before surfacing; anything that
// reaches a caller with Transient=false is a permanent validation failure.
type RemoteCallError struct {
	StatusCode int
	Transient  bool
	Body       string
}

func (e *RemoteCallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("remote call failed (%s, HTTP %d): %s", kind, e.StatusCode, e.Body)
}

// ArtifactNotFoundError reports a missing snapshot/plan/report input.
type ArtifactNotFoundError struct {
	Kind string
	Path string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Path)
}

// IsArtifactNotFound reports whether err is an ArtifactNotFoundError.
func IsArtifactNotFound(err error) bool {
	var nf *ArtifactNotFoundError
	return errors.As(err, &nf)
}
