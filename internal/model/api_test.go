package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/shishin/internal/model"
)

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   model.Page
		want model.Page
	}{
		{"zero values", model.Page{}, model.Page{Page: 1, PageSize: model.DefaultPageSize}},
		{"negative page", model.Page{Page: -3, PageSize: 10}, model.Page{Page: 1, PageSize: 10}},
		{"oversized page_size clamped", model.Page{Page: 2, PageSize: model.MaxPageSize + 1}, model.Page{Page: 2, PageSize: model.MaxPageSize}},
		{"within bounds unchanged", model.Page{Page: 7, PageSize: 25}, model.Page{Page: 7, PageSize: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, model.Page{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, model.Page{Page: 3, PageSize: 20}.Offset())
	// Unset values normalize before the offset computes.
	assert.Equal(t, 0, model.Page{}.Offset())
}

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		role, minimum model.AgentRole
		want          bool
	}{
		{model.RoleAdmin, model.RoleAdmin, true},
		{model.RoleAdmin, model.RoleAgent, true},
		{model.RoleAdmin, model.RoleReader, true},
		{model.RoleAgent, model.RoleAdmin, false},
		{model.RoleAgent, model.RoleAgent, true},
		{model.RoleReader, model.RoleAgent, false},
		{model.AgentRole("unknown"), model.RoleReader, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.RoleAtLeast(tt.role, tt.minimum),
			"RoleAtLeast(%q, %q)", tt.role, tt.minimum)
	}
}

func TestValidRole(t *testing.T) {
	assert.True(t, model.ValidRole(model.RoleAdmin))
	assert.True(t, model.ValidRole(model.RoleAgent))
	assert.True(t, model.ValidRole(model.RoleReader))
	assert.False(t, model.ValidRole("owner"))
	assert.False(t, model.ValidRole(""))
}

func TestValidateAgentID(t *testing.T) {
	assert.NoError(t, model.ValidateAgentID("coder-01"))
	assert.NoError(t, model.ValidateAgentID("svc@orchestrator"))
	assert.NoError(t, model.ValidateAgentID("Agent.v2"))

	assert.Error(t, model.ValidateAgentID(""))
	assert.Error(t, model.ValidateAgentID("has space"))
	assert.Error(t, model.ValidateAgentID("slash/agent"))
}

func TestValidAuditEventType(t *testing.T) {
	for _, et := range []model.AuditEventType{
		model.AuditGuidelineCreated,
		model.AuditGuidelineUpdated,
		model.AuditGuidelineToggled,
		model.AuditGuidelineDeleted,
		model.AuditContextEvaluated,
	} {
		assert.True(t, model.ValidAuditEventType(et), "event type %q", et)
	}
	assert.False(t, model.ValidAuditEventType("guideline_archived"))
	assert.False(t, model.ValidAuditEventType(""))
}
