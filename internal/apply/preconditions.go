package apply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// checkPreconditions evaluates every precondition of op against the bound
// snapshot, never against a fresh live read. All checks are evaluated even
// after the first failure so the audit record shows the full picture; the
// returned error is the first failure as a StalenessError.
func checkPreconditions(snap *snapshot.Snapshot, op ops.Operation) ([]CheckResult, error) {
	var firstErr error
	results := make([]CheckResult, 0, len(op.Preconditions))
	for _, pre := range op.Preconditions {
		ref := pre.EntityRef
		if ref == "" {
			ref = op.EntityRef
		}
		res := CheckResult{
			EntityRef: ref,
			Path:      pre.Path,
			Op:        string(pre.Op),
			Expected:  pre.Value,
		}

		record, _, found := snap.Lookup(ref)
		if !found {
			res.Detail = "entity not present in snapshot"
			results = append(results, res)
			if firstErr == nil {
				firstErr = &ops.StalenessError{
					OpID:        op.OpID,
					Path:        pre.Path,
					Expected:    pre.Value,
					Actual:      nil,
					Description: "entity " + ref + " not present in snapshot",
				}
			}
			continue
		}

		value := record.Get(pre.Path)
		if value.Exists() {
			res.Actual = value.Value()
		}
		res.Passed = evaluate(value, pre.Op, pre.Value)
		results = append(results, res)
		if !res.Passed && firstErr == nil {
			firstErr = &ops.StalenessError{
				OpID:        op.OpID,
				Path:        pre.Path,
				Expected:    pre.Value,
				Actual:      res.Actual,
				Description: pre.Description,
			}
		}
	}
	return results, firstErr
}

// evaluate applies one comparison operator to a snapshot-recorded value.
func evaluate(v gjson.Result, operator ops.PreconditionOp, expected any) bool {
	switch operator {
	case ops.PreExists:
		return v.Exists()
	case ops.PreNotExists:
		return !v.Exists()
	case ops.PreEquals:
		return v.Exists() && looseEqual(v, expected)
	case ops.PreNotEquals:
		return !v.Exists() || !looseEqual(v, expected)
	case ops.PreIn:
		return v.Exists() && inList(v, expected)
	case ops.PreNotIn:
		return !v.Exists() || !inList(v, expected)
	case ops.PreContains:
		return v.Exists() && contains(v, expected)
	case ops.PreNotContains:
		return !v.Exists() || !contains(v, expected)
	case ops.PreGT, ops.PreGTE, ops.PreLT, ops.PreLTE:
		if !v.Exists() {
			return false
		}
		want, ok := toFloat(expected)
		if !ok {
			return false
		}
		got := v.Float()
		switch operator {
		case ops.PreGT:
			return got > want
		case ops.PreGTE:
			return got >= want
		case ops.PreLT:
			return got < want
		default:
			return got <= want
		}
	}
	// Unknown operators fail closed.
	return false
}

func looseEqual(v gjson.Result, expected any) bool {
	switch want := expected.(type) {
	case nil:
		return v.Type == gjson.Null
	case bool:
		return v.IsBool() && v.Bool() == want
	case string:
		return v.String() == want
	default:
		if f, ok := toFloat(expected); ok {
			return v.Type == gjson.Number && v.Float() == f
		}
	}
	return fmt.Sprint(v.Value()) == fmt.Sprint(expected)
}

func inList(v gjson.Result, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return looseEqual(v, expected)
	}
	for _, item := range list {
		if looseEqual(v, item) {
			return true
		}
	}
	return false
}

// contains matches list membership when the recorded value is an array and
// substring containment when it is a string.
func contains(v gjson.Result, expected any) bool {
	if v.IsArray() {
		for _, item := range v.Array() {
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	}
	want, ok := expected.(string)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(v.String()), strings.ToLower(want))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
