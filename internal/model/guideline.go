package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups guidelines for filtering and display.
// It has no effect on matching or combination semantics.
type Category string

const (
	CategoryCognitiveIsolation Category = "cognitive_isolation"
	CategoryTDDProtocol        Category = "tdd_protocol"
	CategoryHITLGate           Category = "hitl_gate"
	CategoryToolRestriction    Category = "tool_restriction"
	CategoryPathRestriction    Category = "path_restriction"
	CategoryCommitPolicy       Category = "commit_policy"
	CategoryCustom             Category = "custom"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCognitiveIsolation, CategoryTDDProtocol, CategoryHITLGate,
		CategoryToolRestriction, CategoryPathRestriction, CategoryCommitPolicy,
		CategoryCustom:
		return true
	default:
		return false
	}
}

// Priority bounds and defaults.
const (
	MinPriority     = 0
	MaxPriority     = 1000
	DefaultPriority = 100
	MaxNameLen      = 200
)

// Guideline is a stored, versioned policy rule constraining what an
// autonomous agent may do. Version increments by exactly one on every
// update that changes a field and is required on update requests for
// optimistic locking.
type Guideline struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   *string   `json:"created_by,omitempty"`
}

// Condition is the boolean predicate determining whether a guideline applies
// to an evaluation context. Each field is an optional string set: a nil slice
// is a wildcard that matches every context, a non-nil slice must be non-empty
// and matches if any element intersects the corresponding context value
// (OR within a field). All non-nil fields must match for the guideline to
// match (AND across fields). Paths match by substring containment rather
// than equality.
type Condition struct {
	Agents    []string `json:"agents,omitempty"`
	Domains   []string `json:"domains,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	Events    []string `json:"events,omitempty"`
	GateTypes []string `json:"gate_types,omitempty"`
}

// IsGlobal reports whether every condition field is a wildcard.
// Global conditions match every context, including the empty one.
func (c Condition) IsGlobal() bool {
	return c.Agents == nil && c.Domains == nil && c.Actions == nil &&
		c.Paths == nil && c.Events == nil && c.GateTypes == nil
}

// Validate checks that every non-nil field set is non-empty and contains no
// empty strings. Nil fields are wildcards and always valid.
func (c Condition) Validate() error {
	fields := []struct {
		name string
		set  []string
	}{
		{"agents", c.Agents},
		{"domains", c.Domains},
		{"actions", c.Actions},
		{"paths", c.Paths},
		{"events", c.Events},
		{"gate_types", c.GateTypes},
	}
	for _, f := range fields {
		if f.set == nil {
			continue
		}
		if len(f.set) == 0 {
			return NewValidationError("condition."+f.name, "must be omitted or non-empty")
		}
		for _, v := range f.set {
			if v == "" {
				return NewValidationError("condition."+f.name, "must not contain empty strings")
			}
		}
	}
	return nil
}

// ActionType discriminates the action variant a guideline applies when matched.
type ActionType string

const (
	ActionInstruction ActionType = "instruction"
	ActionToolAllow   ActionType = "tool_allow"
	ActionToolDeny    ActionType = "tool_deny"
	ActionHITLRequire ActionType = "hitl_require"
	ActionCustom      ActionType = "custom"
)

// Action is the effect applied when a guideline matches. It is a tagged
// variant: Type determines which payload fields are populated, and the wire
// codec clears fields not owned by the active variant so stale cross-variant
// data cannot round-trip through storage or the API.
//
//	instruction  -> Instruction (required)
//	tool_allow   -> ToolsAllowed (required)
//	tool_deny    -> ToolsDenied (required)
//	hitl_require -> GateType (required), Instruction (optional)
//	custom       -> Instruction (optional)
type Action struct {
	Type         ActionType `json:"action_type"`
	Instruction  string     `json:"instruction,omitempty"`
	ToolsAllowed []string   `json:"tools_allowed,omitempty"`
	ToolsDenied  []string   `json:"tools_denied,omitempty"`
	GateType     string     `json:"gate_type,omitempty"`
}

// actionWire mirrors Action for (un)marshalling without recursing into the
// custom codec.
type actionWire struct {
	Type         ActionType `json:"action_type"`
	Instruction  string     `json:"instruction,omitempty"`
	ToolsAllowed []string   `json:"tools_allowed,omitempty"`
	ToolsDenied  []string   `json:"tools_denied,omitempty"`
	GateType     string     `json:"gate_type,omitempty"`
}

// MarshalJSON emits only the fields owned by the active variant.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionWire(a.normalized()))
}

// UnmarshalJSON decodes an action and clears any fields not owned by the
// decoded variant, so a payload like {"action_type":"tool_allow",
// "gate_type":"x"} loses the stray gate_type instead of carrying it forward.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Action(w).normalized()
	return nil
}

// normalized returns a copy with all fields not owned by the active variant
// zeroed. Unknown variants are returned as-is; Validate rejects them.
func (a Action) normalized() Action {
	out := Action{Type: a.Type}
	switch a.Type {
	case ActionInstruction:
		out.Instruction = a.Instruction
	case ActionToolAllow:
		out.ToolsAllowed = a.ToolsAllowed
	case ActionToolDeny:
		out.ToolsDenied = a.ToolsDenied
	case ActionHITLRequire:
		out.GateType = a.GateType
		out.Instruction = a.Instruction
	case ActionCustom:
		out.Instruction = a.Instruction
	default:
		return a
	}
	return out
}

// Validate checks the variant tag and its required payload.
func (a Action) Validate() error {
	switch a.Type {
	case ActionInstruction:
		if a.Instruction == "" {
			return NewValidationError("action.instruction", "required for action_type instruction")
		}
	case ActionToolAllow:
		if len(a.ToolsAllowed) == 0 {
			return NewValidationError("action.tools_allowed", "required for action_type tool_allow")
		}
	case ActionToolDeny:
		if len(a.ToolsDenied) == 0 {
			return NewValidationError("action.tools_denied", "required for action_type tool_deny")
		}
	case ActionHITLRequire:
		if a.GateType == "" {
			return NewValidationError("action.gate_type", "required for action_type hitl_require")
		}
	case ActionCustom:
		// No required payload.
	default:
		return NewValidationError("action.action_type", fmt.Sprintf("unknown action type %q", a.Type))
	}
	// Reject stale cross-variant fields on hand-built values that bypassed
	// the wire codec.
	if a.Type != ActionInstruction && a.Type != ActionHITLRequire && a.Type != ActionCustom && a.Instruction != "" {
		return NewValidationError("action.instruction", "not allowed for action_type "+string(a.Type))
	}
	if a.Type != ActionToolAllow && len(a.ToolsAllowed) > 0 {
		return NewValidationError("action.tools_allowed", "not allowed for action_type "+string(a.Type))
	}
	if a.Type != ActionToolDeny && len(a.ToolsDenied) > 0 {
		return NewValidationError("action.tools_denied", "not allowed for action_type "+string(a.Type))
	}
	if a.Type != ActionHITLRequire && a.GateType != "" {
		return NewValidationError("action.gate_type", "not allowed for action_type "+string(a.Type))
	}
	return nil
}

// Validate checks all guideline invariants: non-empty bounded name, known
// category, priority in [MinPriority, MaxPriority], and well-formed
// condition and action.
func (g Guideline) Validate() error {
	if g.Name == "" {
		return NewValidationError("name", "is required")
	}
	if len(g.Name) > MaxNameLen {
		return NewValidationError("name", fmt.Sprintf("must be at most %d characters", MaxNameLen))
	}
	if !ValidCategory(g.Category) {
		return NewValidationError("category", fmt.Sprintf("unknown category %q", g.Category))
	}
	if g.Priority < MinPriority || g.Priority > MaxPriority {
		return NewValidationError("priority", fmt.Sprintf("must be in [%d, %d]", MinPriority, MaxPriority))
	}
	if err := g.Condition.Validate(); err != nil {
		return err
	}
	return g.Action.Validate()
}
