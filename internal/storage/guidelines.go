package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shishin/internal/model"
)

const guidelineColumns = `id, name, description, category, priority, enabled, condition, action, version, created_at, updated_at, created_by`

// CreateGuideline inserts a validated guideline and its creation audit entry
// in one transaction. Identity, version, and timestamps are assigned by the
// database; the returned guideline carries them.
func (db *DB) CreateGuideline(ctx context.Context, g model.Guideline, actor *string) (model.Guideline, error) {
	return mutate(ctx, func() (model.Guideline, error) {
		return db.createGuideline(ctx, g, actor)
	})
}

func (db *DB) createGuideline(ctx context.Context, g model.Guideline, actor *string) (model.Guideline, error) {
	conditionJSON, actionJSON, err := marshalGuidelinePayload(g)
	if err != nil {
		return model.Guideline{}, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	g.ID = uuid.New()
	g.Version = 1
	g.CreatedBy = actor
	err = tx.QueryRow(ctx,
		`INSERT INTO guidelines (id, name, description, category, priority, enabled, condition, action, version, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
		 RETURNING created_at, updated_at`,
		g.ID, g.Name, g.Description, g.Category, g.Priority, g.Enabled,
		conditionJSON, actionJSON, g.Version, g.CreatedBy,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: insert guideline: %w", err)
	}

	_, err = appendAudit(ctx, tx, AuditEntryInput{
		EventType:   model.AuditGuidelineCreated,
		GuidelineID: &g.ID,
		Actor:       actor,
		Snapshot: map[string]any{
			"name":     g.Name,
			"category": string(g.Category),
		},
	})
	if err != nil {
		return model.Guideline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Guideline{}, fmt.Errorf("storage: commit create tx: %w", err)
	}
	return g, nil
}

// GetGuideline returns one guideline by ID, or ErrNotFound.
func (db *DB) GetGuideline(ctx context.Context, id uuid.UUID) (model.Guideline, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+guidelineColumns+` FROM guidelines WHERE id = $1`, id)
	g, err := scanGuideline(row)
	if err == pgx.ErrNoRows {
		return model.Guideline{}, ErrNotFound
	}
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: get guideline: %w", err)
	}
	return g, nil
}

// ListGuidelines returns guidelines matching the filters in creation order,
// with the total match count for pagination.
func (db *DB) ListGuidelines(ctx context.Context, filters model.GuidelineFilters, page model.Page) ([]model.Guideline, int, error) {
	where, args := buildGuidelineWhereClause(filters, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM guidelines"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count guidelines: %w", err)
	}

	p := page.Normalize()
	query := fmt.Sprintf(
		"SELECT "+guidelineColumns+" FROM guidelines%s ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d",
		where, p.PageSize, page.Offset(),
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list guidelines: %w", err)
	}
	defer rows.Close()

	guidelines, err := scanGuidelines(rows)
	if err != nil {
		return nil, 0, err
	}
	return guidelines, total, nil
}

// ListEnabledGuidelines returns every enabled guideline ordered by priority
// descending, ID ascending. This is the evaluation working set; ordering here
// fixes the instruction concatenation order of combined verdicts.
func (db *DB) ListEnabledGuidelines(ctx context.Context) ([]model.Guideline, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+guidelineColumns+` FROM guidelines WHERE enabled ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list enabled guidelines: %w", err)
	}
	defer rows.Close()
	return scanGuidelines(rows)
}

// UpdateGuideline applies a partial update under optimistic locking. The
// stored row must be at exactly req.ExpectedVersion or the update fails with
// ErrVersionConflict and nothing changes, including the audit log. The merged
// result is revalidated so a partial update cannot produce an invalid
// guideline. Version increments by one whenever the update changes anything;
// a patch that changes no field is a no-op with no version bump and no audit
// entry, keeping versions and the audit log in one-to-one correspondence.
func (db *DB) UpdateGuideline(ctx context.Context, id uuid.UUID, req model.UpdateGuidelineRequest, actor *string) (model.Guideline, error) {
	return mutate(ctx, func() (model.Guideline, error) {
		return db.updateGuideline(ctx, id, req, actor)
	})
}

func (db *DB) updateGuideline(ctx context.Context, id uuid.UUID, req model.UpdateGuidelineRequest, actor *string) (model.Guideline, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: begin update tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Content at a given version is immutable, so reading the row at the
	// expected version gives a stable diff base even before the CAS write.
	row := tx.QueryRow(ctx,
		`SELECT `+guidelineColumns+` FROM guidelines WHERE id = $1 AND version = $2`,
		id, req.ExpectedVersion)
	old, err := scanGuideline(row)
	if err == pgx.ErrNoRows {
		return model.Guideline{}, db.classifyMissingVersion(ctx, tx, id)
	}
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: read guideline for update: %w", err)
	}

	merged := applyGuidelineUpdate(old, req)
	if err := merged.Validate(); err != nil {
		return model.Guideline{}, err
	}
	changes, err := diffGuidelines(old, merged)
	if err != nil {
		return model.Guideline{}, err
	}
	if len(changes) == 0 {
		// Nothing changed, nothing recorded: no write, no version bump.
		return old, nil
	}

	conditionJSON, actionJSON, err := marshalGuidelinePayload(merged)
	if err != nil {
		return model.Guideline{}, err
	}

	// The version guard on the write is the actual CAS: the read above does
	// not lock the row, so a concurrent committed update still loses here.
	err = tx.QueryRow(ctx,
		`UPDATE guidelines
		 SET name = $3, description = $4, category = $5, priority = $6, enabled = $7,
		     condition = $8::jsonb, action = $9::jsonb, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		id, req.ExpectedVersion,
		merged.Name, merged.Description, merged.Category, merged.Priority, merged.Enabled,
		conditionJSON, actionJSON,
	).Scan(&merged.Version, &merged.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Guideline{}, db.classifyMissingVersion(ctx, tx, id)
	}
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: update guideline: %w", err)
	}

	_, err = appendAudit(ctx, tx, AuditEntryInput{
		EventType:   model.AuditGuidelineUpdated,
		GuidelineID: &id,
		Actor:       actor,
		Changes:     changes,
	})
	if err != nil {
		return model.Guideline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Guideline{}, fmt.Errorf("storage: commit update tx: %w", err)
	}
	return merged, nil
}

// ToggleGuideline flips the enabled flag atomically. When expectedVersion is
// nil the toggle always succeeds regardless of concurrent updates; when set
// it behaves like a CAS update. Version increments either way.
func (db *DB) ToggleGuideline(ctx context.Context, id uuid.UUID, expectedVersion *int, actor *string) (model.Guideline, error) {
	return mutate(ctx, func() (model.Guideline, error) {
		return db.toggleGuideline(ctx, id, expectedVersion, actor)
	})
}

func (db *DB) toggleGuideline(ctx context.Context, id uuid.UUID, expectedVersion *int, actor *string) (model.Guideline, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: begin toggle tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE guidelines
		 SET enabled = NOT enabled, version = version + 1, updated_at = now()
		 WHERE id = $1`
	args := []any{id}
	if expectedVersion != nil {
		query += ` AND version = $2`
		args = append(args, *expectedVersion)
	}
	query += ` RETURNING ` + guidelineColumns

	row := tx.QueryRow(ctx, query, args...)
	g, err := scanGuideline(row)
	if err == pgx.ErrNoRows {
		if expectedVersion == nil {
			return model.Guideline{}, ErrNotFound
		}
		return model.Guideline{}, db.classifyMissingVersion(ctx, tx, id)
	}
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: toggle guideline: %w", err)
	}

	_, err = appendAudit(ctx, tx, AuditEntryInput{
		EventType:   model.AuditGuidelineToggled,
		GuidelineID: &id,
		Actor:       actor,
		Changes: map[string]model.FieldChange{
			"enabled": {Old: !g.Enabled, New: g.Enabled},
		},
	})
	if err != nil {
		return model.Guideline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Guideline{}, fmt.Errorf("storage: commit toggle tx: %w", err)
	}
	return g, nil
}

// DeleteGuideline removes a guideline, recording its full final state in the
// deletion audit entry for forensic replay.
func (db *DB) DeleteGuideline(ctx context.Context, id uuid.UUID, actor *string) error {
	return WithRetry(ctx, mutationMaxRetries, mutationRetryBase, func() error {
		return db.deleteGuideline(ctx, id, actor)
	})
}

func (db *DB) deleteGuideline(ctx context.Context, id uuid.UUID, actor *string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`DELETE FROM guidelines WHERE id = $1 RETURNING `+guidelineColumns, id)
	g, err := scanGuideline(row)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: delete guideline: %w", err)
	}

	snapshot, err := jsonSnapshot(g)
	if err != nil {
		return err
	}
	_, err = appendAudit(ctx, tx, AuditEntryInput{
		EventType:   model.AuditGuidelineDeleted,
		GuidelineID: &id,
		Actor:       actor,
		Snapshot:    snapshot,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete tx: %w", err)
	}
	return nil
}

// ExportGuidelines returns every guideline matching the filters in creation
// order, without pagination.
func (db *DB) ExportGuidelines(ctx context.Context, filters model.GuidelineFilters) ([]model.Guideline, error) {
	where, args := buildGuidelineWhereClause(filters, 1)
	rows, err := db.pool.Query(ctx,
		"SELECT "+guidelineColumns+" FROM guidelines"+where+" ORDER BY created_at ASC, id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("storage: export guidelines: %w", err)
	}
	defer rows.Close()
	return scanGuidelines(rows)
}

// classifyMissingVersion distinguishes a stale expected version from a
// missing row after a CAS read or write found nothing.
func (db *DB) classifyMissingVersion(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guidelines WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check guideline existence: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

func applyGuidelineUpdate(g model.Guideline, req model.UpdateGuidelineRequest) model.Guideline {
	if req.Name != nil {
		g.Name = *req.Name
	}
	if req.Description != nil {
		g.Description = *req.Description
	}
	if req.Category != nil {
		g.Category = *req.Category
	}
	if req.Priority != nil {
		g.Priority = *req.Priority
	}
	if req.Enabled != nil {
		g.Enabled = *req.Enabled
	}
	if req.Condition != nil {
		g.Condition = *req.Condition
	}
	if req.Action != nil {
		g.Action = *req.Action
	}
	return g
}

// diffGuidelines computes the old→new change set recorded in update audit
// entries. Structured fields are stored as decoded JSON values so the audit
// payload re-encodes identically when read back for chain verification.
func diffGuidelines(old, updated model.Guideline) (map[string]model.FieldChange, error) {
	changes := make(map[string]model.FieldChange)
	if old.Name != updated.Name {
		changes["name"] = model.FieldChange{Old: old.Name, New: updated.Name}
	}
	if old.Description != updated.Description {
		changes["description"] = model.FieldChange{Old: old.Description, New: updated.Description}
	}
	if old.Category != updated.Category {
		changes["category"] = model.FieldChange{Old: string(old.Category), New: string(updated.Category)}
	}
	if old.Priority != updated.Priority {
		changes["priority"] = model.FieldChange{Old: old.Priority, New: updated.Priority}
	}
	if old.Enabled != updated.Enabled {
		changes["enabled"] = model.FieldChange{Old: old.Enabled, New: updated.Enabled}
	}

	structured := []struct {
		field    string
		old, new any
	}{
		{"condition", old.Condition, updated.Condition},
		{"action", old.Action, updated.Action},
	}
	for _, s := range structured {
		oldJSON, err := json.Marshal(s.old)
		if err != nil {
			return nil, fmt.Errorf("storage: marshal %s diff: %w", s.field, err)
		}
		newJSON, err := json.Marshal(s.new)
		if err != nil {
			return nil, fmt.Errorf("storage: marshal %s diff: %w", s.field, err)
		}
		if !bytes.Equal(oldJSON, newJSON) {
			var oldVal, newVal any
			_ = json.Unmarshal(oldJSON, &oldVal)
			_ = json.Unmarshal(newJSON, &newVal)
			changes[s.field] = model.FieldChange{Old: oldVal, New: newVal}
		}
	}
	return changes, nil
}

// jsonSnapshot converts a guideline to generic JSON values for audit storage,
// for the same re-encoding stability reason as diffGuidelines.
func jsonSnapshot(g model.Guideline) (map[string]any, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal guideline snapshot: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("storage: decode guideline snapshot: %w", err)
	}
	return snapshot, nil
}

func marshalGuidelinePayload(g model.Guideline) (conditionJSON, actionJSON []byte, err error) {
	conditionJSON, err = json.Marshal(g.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal condition: %w", err)
	}
	actionJSON, err = json.Marshal(g.Action)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal action: %w", err)
	}
	return conditionJSON, actionJSON, nil
}

func buildGuidelineWhereClause(f model.GuidelineFilters, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	if f.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", idx))
		args = append(args, *f.Category)
		idx++
	}
	if f.Enabled != nil {
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", idx))
		args = append(args, *f.Enabled)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanGuidelines(rows pgx.Rows) ([]model.Guideline, error) {
	var guidelines []model.Guideline
	for rows.Next() {
		g, err := scanGuideline(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan guideline: %w", err)
		}
		guidelines = append(guidelines, g)
	}
	return guidelines, rows.Err()
}

func scanGuideline(row pgx.Row) (model.Guideline, error) {
	var g model.Guideline
	err := row.Scan(
		&g.ID, &g.Name, &g.Description, &g.Category, &g.Priority, &g.Enabled,
		&g.Condition, &g.Action, &g.Version, &g.CreatedAt, &g.UpdatedAt, &g.CreatedBy,
	)
	return g, err
}
