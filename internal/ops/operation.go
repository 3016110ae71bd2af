package ops

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// Entity references the target of an operation together with its parent
// chain. ParentRefs use the canonical "<platform>.<type>:<id>" form, root
// first (customer/account, then campaign, then ad group, ...).
type Entity struct {
	Platform   string   `json:"platform"`
	Type       string   `json:"entity_type"`
	ID         string   `json:"entity_id"`
	Name       string   `json:"entity_name,omitempty"`
	ParentRefs []string `json:"parent_refs,omitempty"`
}

// Ref returns the canonical entity_ref string, e.g. "ads.keyword:123".
func (e Entity) Ref() string {
	return MakeEntityRef(e.Platform, e.Type, e.ID)
}

// MakeEntityRef builds the canonical entity_ref string.
func MakeEntityRef(platform, entityType, entityID string) string {
	prefix := "merchant"
	if platform == "GOOGLE_ADS" {
		prefix = "ads"
	}
	return fmt.Sprintf("%s.%s:%s", prefix, strings.ToLower(entityType), entityID)
}

// ParentID extracts the id of the first parent ref with the given prefix
// (e.g. "ads.campaign"). Returns "" when absent.
func (e Entity) ParentID(prefix string) string {
	for _, ref := range e.ParentRefs {
		if strings.HasPrefix(ref, prefix+":") {
			return ref[strings.Index(ref, ":")+1:]
		}
	}
	return ""
}

// PreconditionOp is the comparison applied to a snapshot-recorded value.
type PreconditionOp string

const (
	PreEquals      PreconditionOp = "EQUALS"
	PreNotEquals   PreconditionOp = "NOT_EQUALS"
	PreIn          PreconditionOp = "IN"
	PreNotIn       PreconditionOp = "NOT_IN"
	PreContains    PreconditionOp = "CONTAINS"
	PreNotContains PreconditionOp = "NOT_CONTAINS"
	PreExists      PreconditionOp = "EXISTS"
	PreNotExists   PreconditionOp = "NOT_EXISTS"
	PreGT          PreconditionOp = "GT"
	PreGTE         PreconditionOp = "GTE"
	PreLT          PreconditionOp = "LT"
	PreLTE         PreconditionOp = "LTE"
)

// Precondition asserts one fact about snapshot-recorded state. All
// preconditions are checked against the bound snapshot, never against a
// fresh live read. EntityRef overrides the record the check binds to;
// empty means the operation's own target (create-class operations use the
// override to assert facts about the parent they attach to).
type Precondition struct {
	EntityRef   string         `json:"entity_ref,omitempty"`
	Path        string         `json:"path"`
	Op          PreconditionOp `json:"op"`
	Value       any            `json:"value"`
	Description string         `json:"description,omitempty"`
}

// Rollback records how to undo an applied operation. Informational: the
// engine never rolls back automatically, it only preserves the data needed
// for a human-driven reverse plan.
type Rollback struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Notes string          `json:"notes,omitempty"`
}

// Evidence points at the snapshot record that justified an operation.
type Evidence struct {
	SnapshotPath string `json:"snapshot_path"`
	Key          string `json:"key"`
	Value        any    `json:"value"`
	Note         string `json:"note,omitempty"`
}

// Operation is the atomic unit of proposed change.
type Operation struct {
	OpID          string          `json:"op_id"`
	OpType        OpType          `json:"op_type"`
	EntityRef     string          `json:"entity_ref"`
	Entity        Entity          `json:"entity"`
	Intent        string          `json:"intent"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Preconditions []Precondition  `json:"preconditions,omitempty"`
	Rollback      *Rollback       `json:"rollback,omitempty"`
	Risk          Risk            `json:"risk"`
	Evidence      []Evidence      `json:"evidence,omitempty"`
	CreatedFrom   string          `json:"created_from_rule,omitempty"`
	Approved      bool            `json:"approved"`
	ApprovalNotes string          `json:"approval_notes,omitempty"`
}

// StableHash derives the deterministic component of an op_id so the same
// rule firing on the same entity always produces a comparable id.
func StableHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum)[:12]
}

// MakeOpID builds "op-NNN-<hash>" from a sequence number and the stable
// hash of (op_type, entity_ref, rule_id).
func MakeOpID(seq int, opType OpType, entityRef, ruleID string) string {
	return fmt.Sprintf("op-%03d-%s", seq, StableHash(string(opType), entityRef, ruleID))
}

// DedupeKey identifies the entity+type pair used for last-wins dedup.
func (o Operation) DedupeKey() string {
	return o.EntityRef + "|" + string(o.OpType)
}
