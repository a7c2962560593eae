package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AgentRole represents the RBAC role assigned to an agent or service account.
type AgentRole string

const (
	RoleAdmin  AgentRole = "admin"
	RoleAgent  AgentRole = "agent"
	RoleReader AgentRole = "reader"
)

// Agent is an authenticated identity: an autonomous agent, an orchestrator
// service account, or the operator console backend. Agents authenticate with
// an API key and exchange it for a JWT.
type Agent struct {
	ID         uuid.UUID `json:"id"`
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Role       AgentRole `json:"role"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters — RoleAtLeast uses >= comparison.
func RoleRank(r AgentRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast reports whether role has at least the privileges of minimum.
func RoleAtLeast(role, minimum AgentRole) bool {
	return RoleRank(role) >= RoleRank(minimum)
}

// ValidRole reports whether r is a known role.
func ValidRole(r AgentRole) bool {
	return RoleRank(r) > 0
}

var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,255}$`)

// ValidateAgentID checks that an agent ID is non-empty, at most 255
// characters, and contains only letters, digits, and ._@- punctuation.
func ValidateAgentID(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if !agentIDPattern.MatchString(agentID) {
		return fmt.Errorf("agent_id must be 1-255 characters of letters, digits, or ._@-")
	}
	return nil
}
