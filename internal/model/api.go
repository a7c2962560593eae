package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data     any          `json:"data"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Meta     ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Pagination bounds. Page is 1-based.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page is a normalized pagination request.
type Page struct {
	Page     int
	PageSize int
}

// Normalize clamps page to >=1 and page_size to [1, MaxPageSize],
// applying DefaultPageSize when unset.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// CreateGuidelineRequest is the request body for POST /v1/guidelines and the
// per-item shape of bulk imports. Priority and Enabled default to 100 and
// true when omitted.
type CreateGuidelineRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	Priority    *int      `json:"priority,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`
}

// Guideline materializes the request into a Guideline with defaults applied.
// The result still needs Validate and storage-assigned identity fields.
func (r CreateGuidelineRequest) Guideline() Guideline {
	g := Guideline{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Priority:    DefaultPriority,
		Enabled:     true,
		Condition:   r.Condition,
		Action:      r.Action,
	}
	if r.Priority != nil {
		g.Priority = *r.Priority
	}
	if r.Enabled != nil {
		g.Enabled = *r.Enabled
	}
	return g
}

// UpdateGuidelineRequest is the request body for PUT /v1/guidelines/{id}.
// Nil fields are left unchanged. ExpectedVersion is required: the update is
// rejected with a version conflict when it does not match the stored version.
type UpdateGuidelineRequest struct {
	Name            *string    `json:"name,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Category        *Category  `json:"category,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	Condition       *Condition `json:"condition,omitempty"`
	Action          *Action    `json:"action,omitempty"`
	ExpectedVersion int        `json:"expected_version"`
}

// ToggleGuidelineRequest is the request body for POST /v1/guidelines/{id}/toggle.
// ExpectedVersion is optional: toggling without it always succeeds, a
// documented relaxation of optimistic locking for the most frequent operator
// action.
type ToggleGuidelineRequest struct {
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

// GuidelineFilters narrows guideline listing and export.
type GuidelineFilters struct {
	Category *Category
	Enabled  *bool
}

// ImportResult is the per-batch outcome of a bulk import. Malformed items are
// reported by position in Errors and do not abort later items.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAgentRequest is the request body for POST /v1/agents.
type CreateAgentRequest struct {
	AgentID string    `json:"agent_id"`
	Name    string    `json:"name"`
	Role    AgentRole `json:"role"`
	APIKey  string    `json:"api_key"`
}

// ChainVerificationResult is the response for GET /v1/audit/verify.
type ChainVerificationResult struct {
	Valid     bool       `json:"valid"`
	Entries   int        `json:"entries"`
	BrokenSeq *int64     `json:"broken_seq,omitempty"`
	BrokenID  *uuid.UUID `json:"broken_id,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
