// Package guidelines provides the shared business logic for guideline
// operations and evaluation.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (validation, versioned
// writes, verdict combination, audit, notification) across all interfaces.
package guidelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/shishin/internal/match"
	"github.com/ashita-ai/shishin/internal/model"
	"github.com/ashita-ai/shishin/internal/storage"
	"github.com/ashita-ai/shishin/internal/telemetry"
)

// EventHook observes committed guideline lifecycle and evaluation events.
// Hooks run synchronously after the mutation commits; a slow hook slows the
// request it runs in.
type EventHook func(ctx context.Context, event model.AuditEventType, guidelineID uuid.UUID)

// Service encapsulates guideline business logic shared by HTTP and MCP handlers.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
	hook   EventHook

	evalDuration metric.Float64Histogram
	evalMatched  metric.Int64Histogram
}

// New creates a new guideline Service. hook may be nil.
func New(db *storage.DB, logger *slog.Logger, hook EventHook) *Service {
	meter := telemetry.Meter("shishin/guidelines")
	evalDur, _ := meter.Float64Histogram("shishin.evaluate.duration",
		metric.WithDescription("Time to evaluate a context against enabled guidelines (ms)"),
		metric.WithUnit("ms"),
	)
	evalMatched, _ := meter.Int64Histogram("shishin.evaluate.matched",
		metric.WithDescription("Guidelines matched per evaluation"),
	)
	return &Service{
		db:           db,
		logger:       logger,
		hook:         hook,
		evalDuration: evalDur,
		evalMatched:  evalMatched,
	}
}

// Create validates and persists a new guideline.
func (s *Service) Create(ctx context.Context, req model.CreateGuidelineRequest, actor *string) (model.Guideline, error) {
	g := req.Guideline()
	if err := g.Validate(); err != nil {
		return model.Guideline{}, err
	}

	created, err := s.db.CreateGuideline(ctx, g, actor)
	if err != nil {
		return model.Guideline{}, fmt.Errorf("create guideline: %w", err)
	}

	s.logger.Info("guideline created",
		"guideline_id", created.ID, "name", created.Name, "category", created.Category)
	s.emit(ctx, model.AuditGuidelineCreated, created.ID)
	return created, nil
}

// Get returns one guideline by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Guideline, error) {
	return s.db.GetGuideline(ctx, id)
}

// List returns guidelines matching the filters with the total match count.
func (s *Service) List(ctx context.Context, filters model.GuidelineFilters, page model.Page) ([]model.Guideline, int, error) {
	return s.db.ListGuidelines(ctx, filters, page)
}

// Update applies a partial update under optimistic locking. A stale
// ExpectedVersion surfaces storage.ErrVersionConflict; the caller is expected
// to re-fetch and retry, never to overwrite blindly.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req model.UpdateGuidelineRequest, actor *string) (model.Guideline, error) {
	if req.ExpectedVersion < 1 {
		return model.Guideline{}, model.NewValidationError("expected_version", "is required and must be >= 1")
	}
	if req.Condition != nil {
		if err := req.Condition.Validate(); err != nil {
			return model.Guideline{}, err
		}
	}
	if req.Action != nil {
		if err := req.Action.Validate(); err != nil {
			return model.Guideline{}, err
		}
	}

	updated, err := s.db.UpdateGuideline(ctx, id, req, actor)
	if err != nil {
		return model.Guideline{}, err
	}
	if updated.Version == req.ExpectedVersion {
		// The patch changed nothing: no write, no audit entry, no event.
		return updated, nil
	}

	s.logger.Info("guideline updated",
		"guideline_id", updated.ID, "version", updated.Version)
	s.emit(ctx, model.AuditGuidelineUpdated, updated.ID)
	return updated, nil
}

// Toggle flips a guideline's enabled flag. expectedVersion is optional;
// when nil the toggle applies regardless of concurrent edits.
func (s *Service) Toggle(ctx context.Context, id uuid.UUID, expectedVersion *int, actor *string) (model.Guideline, error) {
	toggled, err := s.db.ToggleGuideline(ctx, id, expectedVersion, actor)
	if err != nil {
		return model.Guideline{}, err
	}

	s.logger.Info("guideline toggled",
		"guideline_id", toggled.ID, "enabled", toggled.Enabled, "version", toggled.Version)
	s.emit(ctx, model.AuditGuidelineToggled, toggled.ID)
	return toggled, nil
}

// Delete removes a guideline permanently. The deletion audit entry keeps its
// final state.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor *string) error {
	if err := s.db.DeleteGuideline(ctx, id, actor); err != nil {
		return err
	}

	s.logger.Info("guideline deleted", "guideline_id", id)
	s.emit(ctx, model.AuditGuidelineDeleted, id)
	return nil
}

// Evaluate matches evalCtx against every enabled guideline and combines the
// matched actions into a single verdict:
//
//   - combined_instruction: instruction text of matched instruction,
//     hitl_require, and custom guidelines, joined by single spaces in priority
//     order (priority descending, ID ascending on ties). No deduplication;
//     later text may reference earlier text.
//   - tools_allowed / tools_denied: order-preserving de-duplicated unions of
//     matched tool_allow / tool_deny lists. The two sets are not reconciled
//     here; enforcement downstream applies deny-wins precedence.
//   - hitl_gates: de-duplicated union of matched hitl_require gate types.
//
// Zero matches is a valid outcome, not an error. The context_evaluated audit
// entry is written only after the full verdict is computed, so a cancelled or
// failed evaluation never leaves a partial audit trail.
func (s *Service) Evaluate(ctx context.Context, evalCtx model.EvaluationContext, actor *string) (model.EvaluationResult, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("shishin.agent", evalCtx.Agent))

	start := time.Now()
	enabled, err := s.db.ListEnabledGuidelines(ctx)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluate: %w", err)
	}

	// enabled comes back priority descending, ID ascending; the matched
	// subset inherits that order, which fixes instruction concatenation.
	result := model.EvaluationResult{
		ToolsAllowed: []string{},
		ToolsDenied:  []string{},
		HITLGates:    []string{},
		Guidelines:   []model.MatchedGuideline{},
		EvaluatedAt:  time.Now().UTC(),
	}
	var instructions []string
	var matchedIDs []uuid.UUID
	seenAllowed := make(map[string]bool)
	seenDenied := make(map[string]bool)
	seenGates := make(map[string]bool)

	for _, g := range enabled {
		m := match.Match(g.Condition, evalCtx)
		if !m.Matches {
			continue
		}

		matchedIDs = append(matchedIDs, g.ID)
		result.Guidelines = append(result.Guidelines, model.MatchedGuideline{
			ID:            g.ID,
			Name:          g.Name,
			Priority:      g.Priority,
			Score:         m.Score,
			MatchedFields: m.MatchedFields,
		})

		switch g.Action.Type {
		case model.ActionInstruction, model.ActionHITLRequire, model.ActionCustom:
			if g.Action.Instruction != "" {
				instructions = append(instructions, g.Action.Instruction)
			}
		}
		switch g.Action.Type {
		case model.ActionToolAllow:
			for _, tool := range g.Action.ToolsAllowed {
				if !seenAllowed[tool] {
					seenAllowed[tool] = true
					result.ToolsAllowed = append(result.ToolsAllowed, tool)
				}
			}
		case model.ActionToolDeny:
			for _, tool := range g.Action.ToolsDenied {
				if !seenDenied[tool] {
					seenDenied[tool] = true
					result.ToolsDenied = append(result.ToolsDenied, tool)
				}
			}
		case model.ActionHITLRequire:
			if g.Action.GateType != "" && !seenGates[g.Action.GateType] {
				seenGates[g.Action.GateType] = true
				result.HITLGates = append(result.HITLGates, g.Action.GateType)
			}
		}
	}

	result.MatchedCount = len(result.Guidelines)
	result.CombinedInstruction = strings.Join(instructions, " ")

	s.evalDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.evalMatched.Record(ctx, int64(result.MatchedCount))

	// Side effects only after the verdict is fully computed.
	_, err = s.db.InsertAuditEntry(ctx, storage.AuditEntryInput{
		EventType: model.AuditContextEvaluated,
		Actor:     actor,
		Context:   &evalCtx,
		Decision: &model.DecisionSummary{
			MatchedCount: result.MatchedCount,
			GuidelineIDs: matchedIDs,
			ToolsAllowed: result.ToolsAllowed,
			ToolsDenied:  result.ToolsDenied,
			HITLGates:    result.HITLGates,
		},
	})
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluate: record decision: %w", err)
	}

	s.logger.Debug("context evaluated",
		"agent", evalCtx.Agent, "matched", result.MatchedCount,
		"duration_ms", time.Since(start).Milliseconds())
	s.emit(ctx, model.AuditContextEvaluated, uuid.Nil)
	return result, nil
}

// Audit returns audit entries matching the filters, newest first.
func (s *Service) Audit(ctx context.Context, filters model.AuditFilters, page model.Page) ([]model.AuditEntry, int, error) {
	return s.db.QueryAuditEntries(ctx, filters, page)
}

// VerifyAuditChain recomputes the audit hash chain end to end.
func (s *Service) VerifyAuditChain(ctx context.Context) (model.ChainVerificationResult, error) {
	return s.db.VerifyAuditChain(ctx)
}

// emit notifies LISTEN/NOTIFY subscribers and the configured hook after a
// committed event. Both are best-effort: failures are logged, never surfaced.
func (s *Service) emit(ctx context.Context, event model.AuditEventType, guidelineID uuid.UUID) {
	payload, err := json.Marshal(map[string]any{
		"event_type":   event,
		"guideline_id": guidelineID,
	})
	if err != nil {
		s.logger.Error("marshal notify payload", "error", err)
	} else if err := s.db.Notify(ctx, storage.ChannelAudit, string(payload)); err != nil {
		s.logger.Error("notify subscribers", "error", err, "event_type", event)
	}

	if s.hook != nil {
		s.hook(ctx, event, guidelineID)
	}
}
