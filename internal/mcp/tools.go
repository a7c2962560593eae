package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/shishin/internal/model"
)

func (s *Server) registerTools() {
	// shishin_evaluate — check what the guardrails say about an action.
	s.mcpServer.AddTool(
		mcplib.NewTool("shishin_evaluate",
			mcplib.WithDescription(`Evaluate your current action against the active guidelines and get one combined verdict.

WHEN TO USE: BEFORE taking any consequential action — editing files, running
tools, deploying, committing. Call this with as much context as you have; every
field is optional and an empty call returns the globally applicable guidance.

WHAT YOU GET BACK:
- combined_instruction: all applicable instructions, highest priority first
- tools_allowed / tools_denied: tool name unions (deny wins on overlap)
- hitl_gates: gate types that require human approval before proceeding
- guidelines: which guidelines matched and on which fields

EXAMPLE: Before editing src/payments/charge.go, call shishin_evaluate with
action="edit", paths=["src/payments/charge.go"] and honor the verdict.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Your agent identifier. Defaults to your authenticated identity if omitted."),
			),
			mcplib.WithString("domain",
				mcplib.Description("The domain you are operating in (e.g. backend, infra, docs)"),
			),
			mcplib.WithString("action",
				mcplib.Description("The action you are about to take (e.g. edit, commit, deploy, shell)"),
			),
			mcplib.WithString("event",
				mcplib.Description("The lifecycle event triggering this evaluation (e.g. pre_commit, session_start)"),
			),
			mcplib.WithString("gate_type",
				mcplib.Description("The approval gate being considered, if any (e.g. production_deploy)"),
			),
			mcplib.WithArray("paths",
				mcplib.Description("Filesystem paths the action touches"),
				mcplib.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleEvaluate,
	)

	// shishin_guidelines — inspect the active rule set.
	s.mcpServer.AddTool(
		mcplib.NewTool("shishin_guidelines",
			mcplib.WithDescription(`List the guidelines currently governing agent behavior.

WHEN TO USE: At the start of a session to understand the rules of the road,
or when a shishin_evaluate verdict surprised you and you want to see the
underlying guideline. Returns guidelines in evaluation order (highest
priority first).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("category",
				mcplib.Description("Optional: only show guidelines in this category (cognitive_isolation, tdd_protocol, hitl_gate, tool_restriction, path_restriction, commit_policy, custom)"),
			),
			mcplib.WithBoolean("include_disabled",
				mcplib.Description("Include disabled guidelines (default false)"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleGuidelines,
	)
}

func (s *Server) handleEvaluate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	evalCtx := model.EvaluationContext{
		Agent:    request.GetString("agent", ""),
		Domain:   request.GetString("domain", ""),
		Action:   request.GetString("action", ""),
		Event:    request.GetString("event", ""),
		GateType: request.GetString("gate_type", ""),
		Paths:    request.GetStringSlice("paths", nil),
	}

	var actor *string
	if evalCtx.Agent != "" {
		actor = &evalCtx.Agent
	}

	result, err := s.svc.Evaluate(ctx, evalCtx, actor)
	if err != nil {
		return errorResult(fmt.Sprintf("evaluation failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(result, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleGuidelines(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var filters model.GuidelineFilters

	if c := request.GetString("category", ""); c != "" {
		cat := model.Category(c)
		if !model.ValidCategory(cat) {
			return errorResult(fmt.Sprintf("unknown category: %s", c)), nil
		}
		filters.Category = &cat
	}
	if !request.GetBool("include_disabled", false) {
		enabled := true
		filters.Enabled = &enabled
	}

	limit := request.GetInt("limit", 50)

	items, total, err := s.svc.List(ctx, filters, model.Page{Page: 1, PageSize: limit})
	if err != nil {
		return errorResult(fmt.Sprintf("list failed: %v", err)), nil
	}

	// Present in evaluation order, not creation order.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].ID.String() < items[j].ID.String()
	})

	compact := make([]map[string]any, 0, len(items))
	for _, g := range items {
		compact = append(compact, compactGuideline(g))
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"guidelines": compact,
		"total":      total,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
