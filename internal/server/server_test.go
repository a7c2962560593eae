package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shishin/internal/auth"
	"github.com/ashita-ai/shishin/internal/mcp"
	"github.com/ashita-ai/shishin/internal/model"
	"github.com/ashita-ai/shishin/internal/ratelimit"
	"github.com/ashita-ai/shishin/internal/server"
	"github.com/ashita-ai/shishin/internal/service/guidelines"
	"github.com/ashita-ai/shishin/internal/storage"
	"github.com/ashita-ai/shishin/internal/testutil"
)

const (
	adminKey  = "test-admin-key-0123456789"
	agentKey  = "test-agent-key-0123456789"
	readerKey = "test-reader-key-0123456789"
)

var (
	testDB      *storage.DB
	testJWTMgr  *auth.JWTManager
	testSvc     *guidelines.Service
	testSrv     *httptest.Server
	adminToken  string
	agentToken  string
	readerToken string
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	testJWTMgr, err = auth.NewJWTManager("", "", 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: jwt manager: %v\n", err)
		return 1
	}

	testSvc = guidelines.New(testDB, logger, nil)
	mcpSrv := mcp.New(testDB, testSvc, logger, "test")

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              testJWTMgr,
		GuidelineSvc:        testSvc,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                0,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
		MaxImportItems:      100,
	})

	if err := srv.Handlers().SeedAdmin(ctx, adminKey); err != nil {
		fmt.Fprintf(os.Stderr, "server test: seed admin: %v\n", err)
		return 1
	}

	testSrv = httptest.NewServer(srv.Handler())
	defer testSrv.Close()

	adminToken = getToken(testSrv.URL, "admin", adminKey)
	createAgent(testSrv.URL, adminToken, "test-agent", "Test Agent", model.RoleAgent, agentKey)
	agentToken = getToken(testSrv.URL, "test-agent", agentKey)
	createAgent(testSrv.URL, adminToken, "test-reader", "Test Reader", model.RoleReader, readerKey)
	readerToken = getToken(testSrv.URL, "test-reader", readerKey)

	return m.Run()
}

func getToken(baseURL, agentID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{AgentID: agentID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("getToken: unmarshal failed: %v, body: %s", err, string(data)))
	}
	if result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: empty token, body: %s", string(data)))
	}
	return result.Data.Token
}

func createAgent(baseURL, token, agentID, name string, role model.AgentRole, apiKey string) {
	body, _ := json.Marshal(model.CreateAgentRequest{
		AgentID: agentID, Name: name, Role: role, APIKey: apiKey,
	})
	req, _ := http.NewRequest("POST", baseURL+"/v1/agents", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		panic(fmt.Sprintf("createAgent: status %d, body: %s", resp.StatusCode, string(data)))
	}
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var result struct {
		Data T `json:"data"`
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result), "body: %s", string(data))
	return result.Data
}

func decodeError(t *testing.T, resp *http.Response) model.APIError {
	t.Helper()
	var apiErr model.APIError
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &apiErr), "body: %s", string(data))
	return apiErr
}

// createGuideline creates a guideline over the API and fails the test on error.
func createGuideline(t *testing.T, token string, req model.CreateGuidelineRequest) model.Guideline {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/guidelines", token, req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeData[model.Guideline](t, resp)
}

func intPtr(v int) *int { return &v }

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeData[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Postgres)
	assert.Equal(t, "test", health.Version)
}

func TestAuthFlow(t *testing.T) {
	token := getToken(testSrv.URL, "admin", adminKey)
	assert.NotEmpty(t, token)

	// Wrong key.
	body, _ := json.Marshal(model.AuthTokenRequest{AgentID: "admin", APIKey: "wrong-key-wrong-key"})
	resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown agent gets the same response as a wrong key.
	body, _ = json.Marshal(model.AuthTokenRequest{AgentID: "no-such-agent", APIKey: "wrong-key-wrong-key"})
	resp2, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/guidelines")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGuidelineCRUD(t *testing.T) {
	g := createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:     "CRUD test rule",
		Category: model.CategoryPathRestriction,
		Priority: intPtr(400),
		Condition: model.Condition{
			Domains: []string{"crud-test"},
			Paths:   []string{".workitems/"},
		},
		Action: model.Action{Type: model.ActionInstruction, Instruction: "Only touch .workitems/"},
	})
	assert.Equal(t, 1, g.Version)
	assert.True(t, g.Enabled)
	require.NotNil(t, g.CreatedBy)
	assert.Equal(t, "test-agent", *g.CreatedBy)

	// Read it back.
	resp, err := authedRequest("GET", testSrv.URL+"/v1/guidelines/"+g.ID.String(), readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[model.Guideline](t, resp)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, []string{".workitems/"}, got.Condition.Paths)

	// Update at the current version.
	newName := "CRUD test rule v2"
	resp2, err := authedRequest("PUT", testSrv.URL+"/v1/guidelines/"+g.ID.String(), agentToken,
		model.UpdateGuidelineRequest{Name: &newName, ExpectedVersion: 1})
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	updated := decodeData[model.Guideline](t, resp2)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, newName, updated.Name)

	// Update at a stale version must conflict.
	staleName := "should not apply"
	resp3, err := authedRequest("PUT", testSrv.URL+"/v1/guidelines/"+g.ID.String(), agentToken,
		model.UpdateGuidelineRequest{Name: &staleName, ExpectedVersion: 1})
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	require.Equal(t, http.StatusConflict, resp3.StatusCode)
	apiErr := decodeError(t, resp3)
	assert.Equal(t, model.ErrCodeConflict, apiErr.Error.Code)

	// Toggle without expected_version.
	resp4, err := authedRequest("POST", testSrv.URL+"/v1/guidelines/"+g.ID.String()+"/toggle", agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp4.Body.Close() }()
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	toggled := decodeData[model.Guideline](t, resp4)
	assert.False(t, toggled.Enabled)
	assert.Equal(t, 3, toggled.Version)

	// Delete (admin only).
	resp5, err := authedRequest("DELETE", testSrv.URL+"/v1/guidelines/"+g.ID.String(), adminToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp5.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp5.StatusCode)

	resp6, err := authedRequest("GET", testSrv.URL+"/v1/guidelines/"+g.ID.String(), readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp6.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp6.StatusCode)
}

func TestGuidelineValidation(t *testing.T) {
	resp, err := authedRequest("POST", testSrv.URL+"/v1/guidelines", agentToken,
		model.CreateGuidelineRequest{
			Category: model.CategoryCustom,
			Action:   model.Action{Type: model.ActionCustom},
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	apiErr := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Error.Code)
	assert.Contains(t, apiErr.Error.Message, "name")
}

func TestListGuidelinesFilters(t *testing.T) {
	createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "Filter test commit policy",
		Category:  model.CategoryCommitPolicy,
		Condition: model.Condition{Domains: []string{"filter-test"}},
		Action:    model.Action{Type: model.ActionInstruction, Instruction: "Sign every commit."},
	})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/guidelines?category=commit_policy", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data  []model.Guideline `json:"data"`
		Total int               `json:"total"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	require.NotEmpty(t, result.Data)
	for _, g := range result.Data {
		assert.Equal(t, model.CategoryCommitPolicy, g.Category)
	}

	// Unknown category is rejected rather than silently matching nothing.
	resp2, err := authedRequest("GET", testSrv.URL+"/v1/guidelines?category=bogus", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestEvaluateEndpoint(t *testing.T) {
	createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "Eval: deny deploy tools",
		Category:  model.CategoryToolRestriction,
		Priority:  intPtr(900),
		Condition: model.Condition{Domains: []string{"eval-test"}},
		Action:    model.Action{Type: model.ActionToolDeny, ToolsDenied: []string{"deploy"}},
	})
	createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "Eval: write tests first",
		Category:  model.CategoryTDDProtocol,
		Priority:  intPtr(500),
		Condition: model.Condition{Domains: []string{"eval-test"}, Actions: []string{"edit"}},
		Action:    model.Action{Type: model.ActionInstruction, Instruction: "Write tests first."},
	})

	resp, err := authedRequest("POST", testSrv.URL+"/v1/evaluate", agentToken,
		model.EvaluationContext{Domain: "eval-test", Action: "edit"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	verdict := decodeData[model.EvaluationResult](t, resp)
	assert.GreaterOrEqual(t, verdict.MatchedCount, 2)
	assert.Contains(t, verdict.ToolsDenied, "deploy")
	assert.Contains(t, verdict.CombinedInstruction, "Write tests first.")

	// Matched guidelines are reported in priority order.
	var prev = model.MaxPriority + 1
	for _, mg := range verdict.Guidelines {
		assert.LessOrEqual(t, mg.Priority, prev)
		prev = mg.Priority
	}
}

func TestAuditEndpoints(t *testing.T) {
	g := createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "Audit test rule",
		Category:  model.CategoryCustom,
		Condition: model.Condition{Domains: []string{"audit-test"}},
		Action:    model.Action{Type: model.ActionCustom},
	})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/audit?guideline_id="+g.ID.String(), readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data  []model.AuditEntry `json:"data"`
		Total int                `json:"total"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Data, 1)
	assert.Equal(t, model.AuditGuidelineCreated, result.Data[0].EventType)
	require.NotNil(t, result.Data[0].Actor)
	assert.Equal(t, "test-agent", *result.Data[0].Actor)

	// Filter validation.
	resp2, err := authedRequest("GET", testSrv.URL+"/v1/audit?event_type=bogus", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	// The chain over everything written so far must verify.
	resp3, err := authedRequest("GET", testSrv.URL+"/v1/audit/verify", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	verification := decodeData[model.ChainVerificationResult](t, resp3)
	assert.True(t, verification.Valid)
	assert.Positive(t, verification.Entries)
}

func TestImportExport(t *testing.T) {
	createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "Export test rule",
		Category:  model.CategoryHITLGate,
		Condition: model.Condition{Domains: []string{"export-test"}},
		Action:    model.Action{Type: model.ActionHITLRequire, GateType: "release"},
	})

	resp, err := authedRequest("GET", testSrv.URL+"/v1/export/guidelines?category=hitl_gate", readerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exported []model.Guideline
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &exported))
	require.NotEmpty(t, exported)

	// Import: one valid item, one invalid. Partial success is reported
	// per item, not as a batch failure.
	items := []map[string]any{
		{
			"name":      "Imported rule",
			"category":  "custom",
			"condition": map[string]any{"domains": []string{"import-test"}},
			"action":    map[string]any{"action_type": "custom"},
		},
		{
			"category": "custom",
			"action":   map[string]any{"action_type": "custom"},
		},
	}
	resp2, err := authedRequest("POST", testSrv.URL+"/v1/import/guidelines", adminToken, items)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	result := decodeData[model.ImportResult](t, resp2)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "item 1:")

	// Import is admin-only.
	resp3, err := authedRequest("POST", testSrv.URL+"/v1/import/guidelines", agentToken, items)
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp3.StatusCode)
}

func TestRoleEnforcement(t *testing.T) {
	// Reader cannot create guidelines.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/guidelines", readerToken,
		model.CreateGuidelineRequest{
			Name:     "Should fail",
			Category: model.CategoryCustom,
			Action:   model.Action{Type: model.ActionCustom},
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Agent cannot delete guidelines.
	g := createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "RBAC delete target",
		Category:  model.CategoryCustom,
		Condition: model.Condition{Domains: []string{"rbac-test"}},
		Action:    model.Action{Type: model.ActionCustom},
	})
	resp2, err := authedRequest("DELETE", testSrv.URL+"/v1/guidelines/"+g.ID.String(), agentToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)

	// Agent cannot create agents.
	resp3, err := authedRequest("POST", testSrv.URL+"/v1/agents", agentToken,
		model.CreateAgentRequest{AgentID: "should-fail", Name: "Fail", Role: model.RoleAgent, APIKey: "some-long-enough-key"})
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp3.StatusCode)
}

func TestAuthRateLimit(t *testing.T) {
	// A separate server with a tight auth limiter so the main test server's
	// traffic is unaffected.
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              testJWTMgr,
		GuidelineSvc:        testSvc,
		Logger:              testutil.TestLogger(),
		AuthLimiter:         limiter,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})
	limited := httptest.NewServer(srv.Handler())
	defer limited.Close()

	body, _ := json.Marshal(model.AuthTokenRequest{AgentID: "admin", APIKey: "wrong-key-wrong-key"})
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(limited.URL+"/auth/token", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
		_ = resp.Body.Close()
	}
	assert.Equal(t, http.StatusUnauthorized, statuses[0])
	assert.Equal(t, http.StatusUnauthorized, statuses[1])
	assert.Equal(t, http.StatusTooManyRequests, statuses[2])
}

func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func initMCP(t *testing.T, c *mcpclient.Client) {
	t.Helper()
	_, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
}

func TestMCPInitialize(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()

	initResult, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "shishin", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)
}

func TestMCPListTools(t *testing.T) {
	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	initMCP(t, c)

	toolsResult, err := c.ListTools(context.Background(), mcplib.ListToolsRequest{})
	require.NoError(t, err)

	toolNames := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		toolNames[tool.Name] = true
	}
	assert.True(t, toolNames["shishin_evaluate"], "expected shishin_evaluate tool")
	assert.True(t, toolNames["shishin_guidelines"], "expected shishin_guidelines tool")
}

func TestMCPEvaluate(t *testing.T) {
	createGuideline(t, agentToken, model.CreateGuidelineRequest{
		Name:      "MCP eval rule",
		Category:  model.CategoryToolRestriction,
		Priority:  intPtr(800),
		Condition: model.Condition{Domains: []string{"mcp-test"}},
		Action:    model.Action{Type: model.ActionToolDeny, ToolsDenied: []string{"rm"}},
	})

	c := newMCPClient(t, agentToken)
	defer func() { _ = c.Close() }()
	initMCP(t, c)

	result, err := c.CallTool(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "shishin_evaluate",
			Arguments: map[string]any{
				"agent":  "test-agent",
				"domain": "mcp-test",
				"action": "shell",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "evaluate tool returned error: %v", result.Content)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var verdict model.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &verdict))
	assert.Contains(t, verdict.ToolsDenied, "rm")
}

func TestMCPUnauthenticated(t *testing.T) {
	req, _ := http.NewRequest("POST", testSrv.URL+"/mcp", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
