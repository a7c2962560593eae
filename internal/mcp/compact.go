package mcp

import (
	"github.com/ashita-ai/shishin/internal/model"
)

const maxCompactDescription = 200

// compactGuideline returns a minimal representation of a guideline for MCP
// responses. Drops bookkeeping fields (version, timestamps, created_by) that
// agents don't act on; what remains is exactly what matching and combination
// consume.
func compactGuideline(g model.Guideline) map[string]any {
	m := map[string]any{
		"id":       g.ID,
		"name":     g.Name,
		"category": g.Category,
		"priority": g.Priority,
		"enabled":  g.Enabled,
		"action":   g.Action,
	}
	if g.Description != "" {
		m["description"] = truncate(g.Description, maxCompactDescription)
	}
	if g.Condition.IsGlobal() {
		m["applies_to"] = "all contexts"
	} else {
		m["condition"] = g.Condition
	}
	return m
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
