package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates the guideline lifecycle and evaluation events
// recorded in the audit log.
type AuditEventType string

const (
	AuditGuidelineCreated AuditEventType = "guideline_created"
	AuditGuidelineUpdated AuditEventType = "guideline_updated"
	AuditGuidelineToggled AuditEventType = "guideline_toggled"
	AuditGuidelineDeleted AuditEventType = "guideline_deleted"
	AuditContextEvaluated AuditEventType = "context_evaluated"
)

// ValidAuditEventType reports whether t is a known audit event type.
func ValidAuditEventType(t AuditEventType) bool {
	switch t {
	case AuditGuidelineCreated, AuditGuidelineUpdated, AuditGuidelineToggled,
		AuditGuidelineDeleted, AuditContextEvaluated:
		return true
	default:
		return false
	}
}

// FieldChange records an old→new transition for one guideline field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditEntry is an immutable record of a guideline lifecycle event or an
// evaluation decision. Entries are append-only: the log exposes no update or
// delete operation, and each entry carries a SHA-256 hash chained to its
// predecessor so tampering with past entries is detectable.
//
// Exactly one of Changes, Snapshot, or Context/Decision is populated,
// according to EventType:
//
//	guideline_created  -> Snapshot (name and category at creation)
//	guideline_updated  -> Changes (old→new diff of changed fields)
//	guideline_toggled  -> Changes (enabled old→new)
//	guideline_deleted  -> Snapshot (full guideline for forensic replay)
//	context_evaluated  -> Context + Decision
type AuditEntry struct {
	ID          uuid.UUID              `json:"id"`
	Seq         int64                  `json:"seq"`
	EventType   AuditEventType         `json:"event_type"`
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

// DecisionSummary is the decision portion of a context_evaluated audit entry.
type DecisionSummary struct {
	MatchedCount int         `json:"matched_count"`
	GuidelineIDs []uuid.UUID `json:"guideline_ids"`
	ToolsAllowed []string    `json:"tools_allowed,omitempty"`
	ToolsDenied  []string    `json:"tools_denied,omitempty"`
	HITLGates    []string    `json:"hitl_gates,omitempty"`
}

// AuditFilters narrows audit log queries.
type AuditFilters struct {
	GuidelineID *uuid.UUID
	EventType   *AuditEventType
}
