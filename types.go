package shishin

import "github.com/google/uuid"

// Role is an agent's RBAC role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleReader Role = "reader"
)

// GuidelineEvent describes a committed guideline lifecycle or evaluation
// event. No internal package imports — safe to use from outside the module.
type GuidelineEvent struct {
	// Type is one of: guideline_created, guideline_updated, guideline_toggled,
	// guideline_deleted, context_evaluated.
	Type string
	// GuidelineID is the subject guideline. Zero for context_evaluated events,
	// which concern an evaluation rather than a single guideline.
	GuidelineID uuid.UUID
}
