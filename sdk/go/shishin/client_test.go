package shishin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Shishin API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		AgentID: "test-agent",
		APIKey:  "test-key-0123456789",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestEvaluateFillsAgentID(t *testing.T) {
	var receivedCtx EvaluationContext
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/evaluate": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&receivedCtx); err != nil {
				t.Errorf("decode request: %v", err)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": EvaluationResult{
					MatchedCount:        2,
					CombinedInstruction: "Write tests first. Ask before deploying.",
					ToolsDenied:         []string{"deploy"},
					HITLGates:           []string{"deployment"},
					EvaluatedAt:         time.Now().UTC(),
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Evaluate(context.Background(), EvaluationContext{
		Domain: "payments",
		Action: "deploy",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if receivedCtx.Agent != "test-agent" {
		t.Errorf("expected agent auto-filled to 'test-agent', got %q", receivedCtx.Agent)
	}
	if resp.MatchedCount != 2 {
		t.Errorf("expected matched_count 2, got %d", resp.MatchedCount)
	}
	if len(resp.ToolsDenied) != 1 || resp.ToolsDenied[0] != "deploy" {
		t.Errorf("unexpected tools_denied: %v", resp.ToolsDenied)
	}
}

func TestEvaluateKeepsExplicitAgent(t *testing.T) {
	var receivedCtx EvaluationContext
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/evaluate": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedCtx)
			writeJSON(w, http.StatusOK, map[string]any{"data": EvaluationResult{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.Evaluate(context.Background(), EvaluationContext{Agent: "other"}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if receivedCtx.Agent != "other" {
		t.Errorf("expected explicit agent preserved, got %q", receivedCtx.Agent)
	}
}

func TestCreateGuideline(t *testing.T) {
	id := uuid.New()
	var receivedBody CreateGuidelineRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/guidelines": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				t.Errorf("decode request: %v", err)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Guideline{
					ID:       id,
					Name:     receivedBody.Name,
					Category: receivedBody.Category,
					Priority: 100,
					Enabled:  true,
					Version:  1,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	g, err := client.CreateGuideline(context.Background(), CreateGuidelineRequest{
		Name:     "no prod deploys",
		Category: CategoryToolRestriction,
		Action:   Action{Type: ActionToolDeny, ToolsDenied: []string{"deploy"}},
	})
	if err != nil {
		t.Fatalf("CreateGuideline failed: %v", err)
	}
	if g.ID != id {
		t.Errorf("expected ID %s, got %s", id, g.ID)
	}
	if g.Version != 1 {
		t.Errorf("expected version 1, got %d", g.Version)
	}
	if receivedBody.Action.ToolsDenied[0] != "deploy" {
		t.Errorf("unexpected request body action: %+v", receivedBody.Action)
	}
}

func TestListGuidelinesPagination(t *testing.T) {
	var receivedQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/guidelines": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data":      []Guideline{{Name: "a"}, {Name: "b"}},
				"total":     12,
				"page":      2,
				"page_size": 2,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	enabled := true
	list, err := client.ListGuidelines(context.Background(), &ListGuidelinesOptions{
		Category: CategoryHITLGate,
		Enabled:  &enabled,
		Page:     2,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("ListGuidelines failed: %v", err)
	}
	if list.Total != 12 || list.Page != 2 || list.PageSize != 2 {
		t.Errorf("unexpected pagination: %+v", list)
	}
	if len(list.Items) != 2 || list.Items[1].Name != "b" {
		t.Errorf("unexpected items: %+v", list.Items)
	}
	for _, want := range []string{"category=hitl_gate", "enabled=true", "page=2", "page_size=2"} {
		if !strings.Contains(receivedQuery, want) {
			t.Errorf("query %q missing %q", receivedQuery, want)
		}
	}
}

func TestUpdateGuidelineVersionConflict(t *testing.T) {
	id := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/guidelines/" + id.String(): func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{
					"code":    "CONFLICT",
					"message": "version conflict: guideline was modified concurrently, re-read and retry",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	name := "renamed"
	_, err := client.UpdateGuideline(context.Background(), id, UpdateGuidelineRequest{
		Name:            &name,
		ExpectedVersion: 1,
	})
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !IsConflict(err) {
		t.Errorf("expected IsConflict, got %v", err)
	}
}

func TestToggleGuidelineOmitsVersion(t *testing.T) {
	id := uuid.New()
	var receivedBody map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/guidelines/" + id.String() + "/toggle": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedBody)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Guideline{ID: id, Enabled: false, Version: 2},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	g, err := client.ToggleGuideline(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("ToggleGuideline failed: %v", err)
	}
	if g.Enabled {
		t.Error("expected disabled after toggle")
	}
	if _, ok := receivedBody["expected_version"]; ok {
		t.Errorf("expected_version should be omitted, body: %v", receivedBody)
	}
}

func TestDeleteGuideline(t *testing.T) {
	id := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"DELETE /v1/guidelines/" + id.String(): func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if err := client.DeleteGuideline(context.Background(), id); err != nil {
		t.Fatalf("DeleteGuideline failed: %v", err)
	}
}

func TestAuditFilters(t *testing.T) {
	gid := uuid.New()
	var receivedQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/audit": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []AuditEntry{
					{ID: uuid.New(), Seq: 7, EventType: "guideline_created", GuidelineID: &gid},
				},
				"total":     1,
				"page":      1,
				"page_size": 20,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	list, err := client.Audit(context.Background(), &AuditOptions{
		GuidelineID: &gid,
		EventType:   "guideline_created",
	})
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Seq != 7 {
		t.Errorf("unexpected entries: %+v", list.Items)
	}
	if !strings.Contains(receivedQuery, "guideline_id="+gid.String()) {
		t.Errorf("query %q missing guideline_id", receivedQuery)
	}
	if !strings.Contains(receivedQuery, "event_type=guideline_created") {
		t.Errorf("query %q missing event_type", receivedQuery)
	}
}

func TestVerifyAuditChain(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/audit/verify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": ChainVerification{Valid: true, Entries: 42},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.VerifyAuditChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyAuditChain failed: %v", err)
	}
	if !res.Valid || res.Entries != 42 {
		t.Errorf("unexpected verification result: %+v", res)
	}
}

func TestExportGuidelinesBareArray(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/export/guidelines": func(w http.ResponseWriter, r *http.Request) {
			// Export is a bare array, not the data envelope.
			writeJSON(w, http.StatusOK, []Guideline{{Name: "x"}, {Name: "y"}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	out, err := client.ExportGuidelines(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportGuidelines failed: %v", err)
	}
	if len(out) != 2 || out[0].Name != "x" {
		t.Errorf("unexpected export: %+v", out)
	}
}

func TestImportGuidelinesPartialSuccess(t *testing.T) {
	var receivedItems []CreateGuidelineRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/import/guidelines": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedItems)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": ImportResult{Imported: 1, Errors: []string{"item 1: name is required"}},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.ImportGuidelines(context.Background(), []CreateGuidelineRequest{
		{Name: "ok", Category: CategoryCustom, Action: Action{Type: ActionCustom}},
		{Category: CategoryCustom, Action: Action{Type: ActionCustom}},
	})
	if err != nil {
		t.Fatalf("ImportGuidelines failed: %v", err)
	}
	if res.Imported != 1 || len(res.Errors) != 1 {
		t.Errorf("unexpected import result: %+v", res)
	}
	if len(receivedItems) != 2 {
		t.Errorf("expected 2 items sent, got %d", len(receivedItems))
	}
}

func TestCreateAgent(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/agents": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Agent{ID: uuid.New(), AgentID: "ci-bot", Name: "CI Bot", Role: "agent"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	a, err := client.CreateAgent(context.Background(), CreateAgentRequest{
		AgentID: "ci-bot",
		Name:    "CI Bot",
		Role:    "agent",
		APIKey:  "ci-bot-key-0123456789",
	})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if a.AgentID != "ci-bot" || a.Role != "agent" {
		t.Errorf("unexpected agent: %+v", a)
	}
}

func TestHealthNoAuth(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "tok",
					"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request should not carry Authorization")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "healthy", Version: "1.0", Postgres: "connected"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("unexpected status %q", h.Status)
	}
	if authCalls.Load() != 0 {
		t.Errorf("health should not authenticate, got %d auth calls", authCalls.Load())
	}
}

func TestTokenAutoRefreshOn401(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			n := tokenCalls.Add(1)
			token := "stale-token"
			if n > 1 {
				token = "fresh-token"
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      token,
					"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
				},
			})
		},
		"POST /v1/evaluate": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "Bearer stale-token" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "token expired"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": EvaluationResult{MatchedCount: 1}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Evaluate(context.Background(), EvaluationContext{Domain: "x"})
	if err != nil {
		t.Fatalf("Evaluate failed after refresh: %v", err)
	}
	if resp.MatchedCount != 1 {
		t.Errorf("expected matched_count 1, got %d", resp.MatchedCount)
	}
	if tokenCalls.Load() != 2 {
		t.Errorf("expected 2 token calls (initial + refresh), got %d", tokenCalls.Load())
	}
}

func TestErrorTypesMapCorrectly(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		checker func(error) bool
	}{
		{"not found", http.StatusNotFound, "NOT_FOUND", IsNotFound},
		{"forbidden", http.StatusForbidden, "FORBIDDEN", IsForbidden},
		{"conflict", http.StatusConflict, "CONFLICT", IsConflict},
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMITED", IsRateLimited},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := mockServer(t, map[string]http.HandlerFunc{
				"GET /v1/audit/verify": func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tc.status, map[string]any{
						"error": map[string]any{"code": tc.code, "message": tc.name},
					})
				},
			})
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.VerifyAuditChain(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !tc.checker(err) {
				t.Errorf("checker did not match error: %v", err)
			}
			var apiErr *Error
			if !errorsAs(err, &apiErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if apiErr.Code != tc.code {
				t.Errorf("expected code %q, got %q", tc.code, apiErr.Code)
			}
		})
	}
}

func errorsAs(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func TestNewClientValidation(t *testing.T) {
	cases := []Config{
		{AgentID: "a", APIKey: "k"},
		{BaseURL: "http://x", APIKey: "k"},
		{BaseURL: "http://x", AgentID: "a"},
	}
	for i, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	c, err := NewClient(Config{BaseURL: "http://x/", AgentID: "a", APIKey: "k"})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if c.baseURL != "http://x" {
		t.Errorf("expected trailing slash trimmed, got %q", c.baseURL)
	}
}
