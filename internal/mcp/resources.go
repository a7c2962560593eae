package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/shishin/internal/model"
)

func (s *Server) registerResources() {
	// shishin://guidelines/active — the enabled rule set in evaluation order.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shishin://guidelines/active",
			"Active Guidelines",
			mcplib.WithResourceDescription("All enabled guidelines in evaluation order (priority descending)"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveGuidelines,
	)

	// shishin://audit/recent — recent governance and evaluation activity.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shishin://audit/recent",
			"Recent Audit Entries",
			mcplib.WithResourceDescription("Most recent audit entries across all guidelines and evaluations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentAudit,
	)
}

func (s *Server) handleActiveGuidelines(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	items, err := s.db.ListEnabledGuidelines(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: active guidelines: %w", err)
	}

	compact := make([]map[string]any, 0, len(items))
	for _, g := range items {
		compact = append(compact, compactGuideline(g))
	}

	data, err := json.MarshalIndent(compact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal guidelines: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "shishin://guidelines/active",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRecentAudit(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	entries, _, err := s.db.QueryAuditEntries(ctx, model.AuditFilters{}, model.Page{Page: 1, PageSize: 20})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent audit: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal audit entries: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "shishin://audit/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
