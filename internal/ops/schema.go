package ops

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema validates the structural shape of a plan artifact before any
// semantic checks run. Semantic validation (op vocabulary, guardrails,
// preconditions) happens in the apply engine.
const planSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plan_id", "plan_version", "created_utc", "mode", "snapshot_id", "guardrails", "operations", "summary"],
  "properties": {
    "plan_id": {"type": "string", "minLength": 1},
    "plan_version": {"type": "string", "minLength": 1},
    "created_utc": {"type": "string", "minLength": 1},
    "mode": {"enum": ["DRY_RUN", "APPLY"]},
    "snapshot_id": {"type": "string", "minLength": 1},
    "snapshot_version": {"type": "string"},
    "ruleset": {"type": "string"},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "path"],
        "properties": {
          "kind": {"type": "string"},
          "path": {"type": "string"}
        }
      }
    },
    "guardrails": {
      "type": "object",
      "required": ["max_total_ops", "max_risk_level"],
      "properties": {
        "max_total_ops": {"type": "integer", "minimum": 0},
        "max_ops_by_type": {"type": ["object", "null"]},
        "forbid_budget_changes": {"type": "boolean"},
        "forbid_bid_strategy_changes": {"type": "boolean"},
        "forbid_campaign_status_changes": {"type": "boolean"},
        "require_manual_approval_for_types": {"type": ["array", "null"], "items": {"type": "string"}},
        "max_risk_level": {"enum": ["LOW", "MEDIUM", "HIGH"]}
      }
    },
    "operations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op_id", "op_type", "entity_ref", "entity", "risk"],
        "properties": {
          "op_id": {"type": "string", "pattern": "^op-[0-9]{3,}-[0-9a-f]{12}$"},
          "op_type": {"type": "string", "minLength": 1},
          "entity_ref": {"type": "string", "minLength": 1},
          "entity": {
            "type": "object",
            "required": ["platform", "entity_type", "entity_id"],
            "properties": {
              "platform": {"type": "string"},
              "entity_type": {"type": "string"},
              "entity_id": {"type": "string"},
              "entity_name": {"type": "string"},
              "parent_refs": {"type": "array", "items": {"type": "string"}}
            }
          },
          "intent": {"type": "string"},
          "preconditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["path", "op"],
              "properties": {
                "path": {"type": "string", "minLength": 1},
                "op": {"type": "string", "minLength": 1}
              }
            }
          },
          "risk": {
            "type": "object",
            "required": ["level"],
            "properties": {
              "level": {"enum": ["LOW", "MEDIUM", "HIGH"]},
              "level_numeric": {"type": "integer"},
              "reasons": {"type": "array", "items": {"type": "string"}},
              "mitigations": {"type": "array", "items": {"type": "string"}}
            }
          },
          "approved": {"type": "boolean"}
        }
      }
    },
    "summary": {
      "type": "object",
      "required": ["total_ops"],
      "properties": {
        "total_ops": {"type": "integer", "minimum": 0},
        "by_type": {"type": ["object", "null"]},
        "by_risk": {"type": ["object", "null"]},
        "risk_score": {"type": "integer"},
        "requires_approval": {"type": "boolean"}
      }
    },
    "approvals": {
      "type": "object",
      "properties": {
        "approved": {"type": "boolean"},
        "approved_by": {"type": "string"},
        "approved_at": {"type": "string"},
        "notes": {"type": "string"}
      }
    }
  }
}`

var compiledPlanSchema = jsonschema.MustCompileString("plan.schema.json", planSchema)

// ValidatePlanDocument checks a decoded plan document against the plan
// schema. doc must be the generic form produced by json.Unmarshal into any.
func ValidatePlanDocument(doc any) error {
	if err := compiledPlanSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return fmt.Errorf("plan schema: %s", flattenValidationError(ve))
		}
		return fmt.Errorf("plan schema: %w", err)
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func flattenValidationError(ve *jsonschema.ValidationError) string {
	leaves := ve.BasicOutput().Errors
	var parts []string
	for _, l := range leaves {
		if l.Error == "" || strings.HasPrefix(l.Error, "doesn't validate with") {
			continue
		}
		loc := l.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, l.Error))
	}
	if len(parts) == 0 {
		return ve.Message
	}
	return strings.Join(parts, "; ")
}
