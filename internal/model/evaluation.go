package model

import (
	"time"

	"github.com/google/uuid"
)

// EvaluationContext describes an agent's current action for matching against
// guideline conditions. Every field is optional: an empty context is legal
// and matches only global (all-wildcard) guidelines. Contexts are never
// persisted as their own entity; each evaluation produces an audit entry
// that captures the context it was given.
type EvaluationContext struct {
	Agent    string   `json:"agent,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Action   string   `json:"action,omitempty"`
	Event    string   `json:"event,omitempty"`
	GateType string   `json:"gate_type,omitempty"`
	Paths    []string `json:"paths,omitempty"`
}

// MatchedGuideline summarizes one matched guideline inside an evaluation
// result, for operator transparency.
type MatchedGuideline struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Priority      int       `json:"priority"`
	Score         float64   `json:"score"`
	MatchedFields []string  `json:"matched_fields"`
}

// EvaluationResult is the single combined verdict synthesized from all
// matched guidelines. Allowed and denied tool sets are unions and are not
// reconciled against each other here; downstream enforcement should apply
// deny-wins precedence.
type EvaluationResult struct {
	MatchedCount        int                `json:"matched_count"`
	CombinedInstruction string             `json:"combined_instruction"`
	ToolsAllowed        []string           `json:"tools_allowed"`
	ToolsDenied         []string           `json:"tools_denied"`
	HITLGates           []string           `json:"hitl_gates"`
	Guidelines          []MatchedGuideline `json:"guidelines"`
	EvaluatedAt         time.Time          `json:"evaluated_at"`
}
