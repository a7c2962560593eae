package shishin

import (
	"time"

	"github.com/google/uuid"
)

// Condition is the matching predicate of a guideline. Empty or omitted
// field-sets are wildcards; a guideline whose condition has all fields empty
// is global and matches every context. Fields combine with AND, values
// within a field with OR. Paths match by substring containment.
type Condition struct {
	Agents    []string `json:"agents,omitempty"`
	Domains   []string `json:"domains,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	Events    []string `json:"events,omitempty"`
	GateTypes []string `json:"gate_types,omitempty"`
}

// Action is what a guideline contributes to the verdict when it matches.
type Action struct {
	Type         string   `json:"action_type"`
	Instruction  string   `json:"instruction,omitempty"`
	ToolsAllowed []string `json:"tools_allowed,omitempty"`
	ToolsDenied  []string `json:"tools_denied,omitempty"`
	GateType     string   `json:"gate_type,omitempty"`
}

// Action types.
const (
	ActionInstruction = "instruction"
	ActionToolAllow   = "tool_allow"
	ActionToolDeny    = "tool_deny"
	ActionHITLRequire = "hitl_require"
	ActionCustom      = "custom"
)

// Guideline categories.
const (
	CategoryCognitiveIsolation = "cognitive_isolation"
	CategoryTDDProtocol        = "tdd_protocol"
	CategoryHITLGate           = "hitl_gate"
	CategoryToolRestriction    = "tool_restriction"
	CategoryPathRestriction    = "path_restriction"
	CategoryCommitPolicy       = "commit_policy"
	CategoryCustom             = "custom"
)

// Guideline is a versioned guardrail rule.
type Guideline struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   *string   `json:"created_by,omitempty"`
}

// CreateGuidelineRequest is the body for CreateGuideline and the element type
// for ImportGuidelines. Priority defaults to 100 and Enabled to true when nil.
type CreateGuidelineRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Priority    *int      `json:"priority,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`
}

// UpdateGuidelineRequest is a partial update with optimistic locking.
// ExpectedVersion must match the current version or the server returns 409.
type UpdateGuidelineRequest struct {
	Name            *string    `json:"name,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Category        *string    `json:"category,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	Condition       *Condition `json:"condition,omitempty"`
	Action          *Action    `json:"action,omitempty"`
	ExpectedVersion int        `json:"expected_version"`
}

// EvaluationContext describes what an agent is about to do. All fields are
// optional; an empty context matches only global guidelines.
type EvaluationContext struct {
	Agent    string   `json:"agent,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Action   string   `json:"action,omitempty"`
	Event    string   `json:"event,omitempty"`
	GateType string   `json:"gate_type,omitempty"`
	Paths    []string `json:"paths,omitempty"`
}

// MatchedGuideline summarizes one guideline that matched an evaluation.
type MatchedGuideline struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Priority      int       `json:"priority"`
	Score         float64   `json:"score"`
	MatchedFields []string  `json:"matched_fields"`
}

// EvaluationResult is the combined verdict for a context. ToolsAllowed and
// ToolsDenied are not reconciled against each other; callers enforce
// deny-wins.
type EvaluationResult struct {
	MatchedCount        int                `json:"matched_count"`
	CombinedInstruction string             `json:"combined_instruction"`
	ToolsAllowed        []string           `json:"tools_allowed"`
	ToolsDenied         []string           `json:"tools_denied"`
	HITLGates           []string           `json:"hitl_gates"`
	Guidelines          []MatchedGuideline `json:"guidelines"`
	EvaluatedAt         time.Time          `json:"evaluated_at"`
}

// FieldChange is an old/new pair for one field in an audit entry.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// DecisionSummary captures the verdict recorded with a context_evaluated
// audit entry.
type DecisionSummary struct {
	MatchedCount int         `json:"matched_count"`
	GuidelineIDs []uuid.UUID `json:"guideline_ids"`
	ToolsAllowed []string    `json:"tools_allowed,omitempty"`
	ToolsDenied  []string    `json:"tools_denied,omitempty"`
	HITLGates    []string    `json:"hitl_gates,omitempty"`
}

// AuditEntry is one record in the hash-chained audit log.
type AuditEntry struct {
	ID          uuid.UUID              `json:"id"`
	Seq         int64                  `json:"seq"`
	EventType   string                 `json:"event_type"`
	GuidelineID *uuid.UUID             `json:"guideline_id,omitempty"`
	Actor       *string                `json:"actor,omitempty"`
	Changes     map[string]FieldChange `json:"changes,omitempty"`
	Snapshot    map[string]any         `json:"snapshot,omitempty"`
	Context     *EvaluationContext     `json:"context,omitempty"`
	Decision    *DecisionSummary       `json:"decision,omitempty"`
	EntryHash   string                 `json:"entry_hash"`
	PrevHash    string                 `json:"prev_hash"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ChainVerification is the result of a full audit chain verification.
type ChainVerification struct {
	Valid     bool       `json:"valid"`
	Entries   int        `json:"entries"`
	BrokenSeq *int64     `json:"broken_seq,omitempty"`
	BrokenID  *uuid.UUID `json:"broken_id,omitempty"`
}

// ImportResult reports a partial-success bulk import. Errors are keyed by
// item position ("item 3: ...").
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// Agent is a registered API identity.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAgentRequest registers a new agent. Admin only. APIKey must be at
// least 16 characters.
type CreateAgentRequest struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	APIKey  string `json:"api_key"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}

// List holds one page of results plus the total match count.
type List[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
}
