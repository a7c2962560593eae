package shishin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Shishin server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this agent for authentication and audit attribution.
	AgentID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Shishin guideline API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	agentID  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, AgentID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("shishin: BaseURL is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("shishin: AgentID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("shishin: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		agentID:  cfg.AgentID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient),
	}, nil
}

// Evaluate matches a context against enabled guidelines and returns the
// combined verdict. If the client's AgentID is set and ctx.Agent is empty,
// the AgentID is filled in so agent-scoped guidelines apply.
func (c *Client) Evaluate(ctx context.Context, evalCtx EvaluationContext) (*EvaluationResult, error) {
	if evalCtx.Agent == "" {
		evalCtx.Agent = c.agentID
	}
	var resp EvaluationResult
	if err := c.post(ctx, "/v1/evaluate", evalCtx, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Guidelines
// ---------------------------------------------------------------------------

// CreateGuideline creates a new guideline at version 1.
func (c *Client) CreateGuideline(ctx context.Context, req CreateGuidelineRequest) (*Guideline, error) {
	var resp Guideline
	if err := c.post(ctx, "/v1/guidelines", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetGuideline retrieves one guideline by ID.
func (c *Client) GetGuideline(ctx context.Context, id uuid.UUID) (*Guideline, error) {
	var resp Guideline
	if err := c.get(ctx, "/v1/guidelines/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListGuidelinesOptions are optional filters for ListGuidelines.
type ListGuidelinesOptions struct {
	Category string
	Enabled  *bool
	Page     int
	PageSize int
}

// ListGuidelines retrieves guidelines with optional filters and pagination.
func (c *Client) ListGuidelines(ctx context.Context, opts *ListGuidelinesOptions) (*List[Guideline], error) {
	params := url.Values{}
	if opts != nil {
		if opts.Category != "" {
			params.Set("category", opts.Category)
		}
		if opts.Enabled != nil {
			params.Set("enabled", strconv.FormatBool(*opts.Enabled))
		}
		if opts.Page > 0 {
			params.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.PageSize > 0 {
			params.Set("page_size", strconv.Itoa(opts.PageSize))
		}
	}
	path := "/v1/guidelines"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return getList[Guideline](ctx, c, path)
}

// UpdateGuideline applies a partial update with optimistic locking.
// A stale ExpectedVersion yields a 409 error; check with IsConflict.
func (c *Client) UpdateGuideline(ctx context.Context, id uuid.UUID, req UpdateGuidelineRequest) (*Guideline, error) {
	var resp Guideline
	if err := c.put(ctx, "/v1/guidelines/"+id.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleGuideline flips a guideline's enabled flag. expectedVersion is
// optional; pass nil to toggle regardless of concurrent edits.
func (c *Client) ToggleGuideline(ctx context.Context, id uuid.UUID, expectedVersion *int) (*Guideline, error) {
	body := map[string]any{}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var resp Guideline
	if err := c.post(ctx, "/v1/guidelines/"+id.String()+"/toggle", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteGuideline permanently removes a guideline. Requires admin role.
// Returns nil on success (204 No Content).
func (c *Client) DeleteGuideline(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/guidelines/"+id.String(), nil)
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditOptions are optional filters for Audit.
type AuditOptions struct {
	GuidelineID *uuid.UUID
	EventType   string
	Page        int
	PageSize    int
}

// Audit retrieves audit log entries, newest first.
func (c *Client) Audit(ctx context.Context, opts *AuditOptions) (*List[AuditEntry], error) {
	params := url.Values{}
	if opts != nil {
		if opts.GuidelineID != nil {
			params.Set("guideline_id", opts.GuidelineID.String())
		}
		if opts.EventType != "" {
			params.Set("event_type", opts.EventType)
		}
		if opts.Page > 0 {
			params.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.PageSize > 0 {
			params.Set("page_size", strconv.Itoa(opts.PageSize))
		}
	}
	path := "/v1/audit"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return getList[AuditEntry](ctx, c, path)
}

// VerifyAuditChain asks the server to recompute the audit hash chain end to
// end and report the first broken entry, if any.
func (c *Client) VerifyAuditChain(ctx context.Context) (*ChainVerification, error) {
	var resp ChainVerification
	if err := c.get(ctx, "/v1/audit/verify", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Import / export
// ---------------------------------------------------------------------------

// ExportOptions are optional filters for ExportGuidelines.
type ExportOptions struct {
	Category string
	Enabled  *bool
}

// ExportGuidelines downloads guidelines as a bare JSON array suitable for
// re-import.
func (c *Client) ExportGuidelines(ctx context.Context, opts *ExportOptions) ([]Guideline, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Category != "" {
			params.Set("category", opts.Category)
		}
		if opts.Enabled != nil {
			params.Set("enabled", strconv.FormatBool(*opts.Enabled))
		}
	}
	path := "/v1/export/guidelines"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("shishin: create request: %w", err)
	}
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shishin: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("shishin: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// Export responses are a bare array, not the { "data": ... } envelope.
	var out []Guideline
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("shishin: decode export: %w", err)
	}
	return out, nil
}

// ImportGuidelines uploads guidelines in bulk. Requires admin role.
// Partial success: valid items are imported, invalid ones are reported in
// the result's Errors by position.
func (c *Client) ImportGuidelines(ctx context.Context, items []CreateGuidelineRequest) (*ImportResult, error) {
	var resp ImportResult
	if err := c.post(ctx, "/v1/import/guidelines", items, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Agents (admin-only) and health
// ---------------------------------------------------------------------------

// CreateAgent registers a new agent identity. Requires admin role.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var resp Agent
	if err := c.post(ctx, "/v1/agents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// listEnvelope is the server's paginated response wrapper.
type listEnvelope struct {
	Data     json.RawMessage `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// getList fetches a paginated endpoint and unwraps the list envelope.
func getList[T any](ctx context.Context, c *Client, path string) (*List[T], error) {
	var envelope listEnvelope
	if err := c.getRaw(ctx, path, &envelope); err != nil {
		return nil, err
	}
	out := &List[T]{Total: envelope.Total, Page: envelope.Page, PageSize: envelope.PageSize}
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, &out.Items); err != nil {
			return nil, fmt.Errorf("shishin: decode list items: %w", err)
		}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shishin: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest, true)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shishin: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest, true)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest, true)
}

// getRaw performs a GET and decodes the full response body into dest without
// unwrapping the data envelope. List endpoints need the sibling pagination
// fields.
func (c *Client) getRaw(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest, false)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest, true)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shishin: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shishin: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, true)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any, unwrap bool) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shishin: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A 401 with a cached token means it expired server-side; re-authenticate
	// once and retry. GET/DELETE bodies are nil so the retry is safe; POST/PUT
	// bodies are byte readers recreated via GetBody.
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		c.tokenMgr.invalidate()
		token, err = c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		retry := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("shishin: rewind request body: %w", err)
			}
			retry.Body = body
		}
		retry.Header.Set("Authorization", "Bearer "+token)
		resp, err = c.client.Do(retry)
		if err != nil {
			return fmt.Errorf("shishin: %s %s: %w", req.Method, req.URL.Path, err)
		}
		defer func() { _ = resp.Body.Close() }()
	}

	return handleResponse(resp, dest, unwrap)
}

func handleResponse(resp *http.Response, dest any, unwrap bool) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("shishin: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if !unwrap {
		return json.Unmarshal(bodyBytes, dest)
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("shishin: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
