package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-action — guides the agent through evaluating before acting.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-action",
			mcplib.WithPromptDescription("Evaluate your next action against the active guidelines before taking it"),
			mcplib.WithArgument("action",
				mcplib.ArgumentDescription("The action you're about to take (e.g. edit, commit, deploy, shell)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeActionPrompt,
	)

	// agent-setup — system prompt snippet explaining the guardrail workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the Shishin guardrail workflow (evaluate-before-acting)"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleBeforeActionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	action := request.Params.Arguments["action"]
	if action == "" {
		return nil, fmt.Errorf("action argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Evaluate guidelines before performing %s", action),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`You are about to perform: %s

Before proceeding:
1. Call shishin_evaluate with action=%q plus whatever context you have (domain, paths, event, gate_type).
2. Read combined_instruction carefully and follow it.
3. If the action involves a tool in tools_denied, do NOT use that tool, even if it also appears in tools_allowed — deny wins.
4. If hitl_gates is non-empty, stop and request human approval before continuing.

Only proceed once the verdict permits it.`, action, action),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Shishin guardrail workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You operate under Shishin, a guideline governance service that constrains what you may do.

WORKFLOW:
- At session start, read the shishin://guidelines/active resource to learn the current rule set.
- Before any consequential action (editing files, running tools, committing, deploying), call shishin_evaluate with your context: agent, domain, action, event, gate_type, and the paths you will touch.
- Follow combined_instruction exactly. Instructions are ordered by priority; earlier instructions take precedence when they conflict.
- Never use a tool listed in tools_denied. A tool in both tools_allowed and tools_denied is denied.
- When hitl_gates is non-empty, pause and obtain human approval before proceeding.
- Evaluations are audited. Do not attempt to act first and evaluate after.`,
				},
			},
		},
	}, nil
}
