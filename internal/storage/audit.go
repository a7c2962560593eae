package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shishin/internal/integrity"
	"github.com/ashita-ai/shishin/internal/model"
)

// auditChainLockKey is the advisory lock key serializing audit appends so
// that each entry's prev_hash references the true chain tip. The lock is
// transaction-scoped (pg_advisory_xact_lock) and released on commit/rollback.
const auditChainLockKey = int64(0x5348_4953_4849_4e31) // "SHISHIN1"

// AuditEntryInput is an audit entry before identity, hash, and timestamp
// assignment. Exactly one payload group should be populated, per event type.
type AuditEntryInput struct {
	EventType   model.AuditEventType
	GuidelineID *uuid.UUID
	Actor       *string
	Changes     map[string]model.FieldChange
	Snapshot    map[string]any
	Context     *model.EvaluationContext
	Decision    *model.DecisionSummary
}

// auditPayload is the canonical JSON shape of an entry's payload column.
// The entry hash covers its marshalled bytes, so both insert and verification
// marshal through this struct to get byte-identical encodings.
type auditPayload struct {
	Changes  map[string]model.FieldChange `json:"changes,omitempty"`
	Snapshot map[string]any               `json:"snapshot,omitempty"`
	Context  *model.EvaluationContext     `json:"context,omitempty"`
	Decision *model.DecisionSummary       `json:"decision,omitempty"`
}

// InsertAuditEntry appends one entry to the audit log in its own transaction.
// Mutating guideline operations instead append within their own transaction
// via appendAudit so the mutation and its audit entry commit atomically.
func (db *DB) InsertAuditEntry(ctx context.Context, in AuditEntryInput) (model.AuditEntry, error) {
	return mutate(ctx, func() (model.AuditEntry, error) {
		return db.insertAuditEntry(ctx, in)
	})
}

func (db *DB) insertAuditEntry(ctx context.Context, in AuditEntryInput) (model.AuditEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err := appendAudit(ctx, tx, in)
	if err != nil {
		return model.AuditEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: commit audit tx: %w", err)
	}
	return entry, nil
}

// appendAudit computes the next chain hash and inserts one audit entry using
// the given transaction. The advisory lock serializes concurrent appends;
// without it two writers could both chain onto the same tip.
func appendAudit(ctx context.Context, tx pgx.Tx, in AuditEntryInput) (model.AuditEntry, error) {
	if !model.ValidAuditEventType(in.EventType) {
		return model.AuditEntry{}, fmt.Errorf("storage: unknown audit event type %q", in.EventType)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", auditChainLockKey); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: acquire audit chain lock: %w", err)
	}

	prevHash := integrity.ChainGenesis
	err := tx.QueryRow(ctx,
		`SELECT entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`,
	).Scan(&prevHash)
	if err != nil && err != pgx.ErrNoRows {
		return model.AuditEntry{}, fmt.Errorf("storage: read audit chain tip: %w", err)
	}

	payload := auditPayload{
		Changes:  in.Changes,
		Snapshot: in.Snapshot,
		Context:  in.Context,
		Decision: in.Decision,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: marshal audit payload: %w", err)
	}

	entry := model.AuditEntry{
		ID:          uuid.New(),
		EventType:   in.EventType,
		GuidelineID: in.GuidelineID,
		Actor:       in.Actor,
		Changes:     in.Changes,
		Snapshot:    in.Snapshot,
		Context:     in.Context,
		Decision:    in.Decision,
		PrevHash:    prevHash,
		// Truncated to what TIMESTAMPTZ stores, so the returned entry equals
		// the row a later read scans back.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	entry.EntryHash = integrity.ComputeEntryHash(
		entry.ID, string(entry.EventType), entry.GuidelineID, payloadJSON, prevHash, entry.CreatedAt,
	)

	err = tx.QueryRow(ctx,
		`INSERT INTO audit_entries (id, event_type, guideline_id, actor, payload, entry_hash, prev_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
		 RETURNING seq`,
		entry.ID, entry.EventType, entry.GuidelineID, entry.Actor,
		payloadJSON, entry.EntryHash, entry.PrevHash, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: insert audit entry: %w", err)
	}

	return entry, nil
}

// QueryAuditEntries returns audit entries matching the filters, newest first,
// with the total count of matches.
func (db *DB) QueryAuditEntries(ctx context.Context, filters model.AuditFilters, page model.Page) ([]model.AuditEntry, int, error) {
	where, args := buildAuditWhereClause(filters, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count audit entries: %w", err)
	}

	p := page.Normalize()
	query := fmt.Sprintf(
		`SELECT seq, id, event_type, guideline_id, actor, payload, entry_hash, prev_hash, created_at
		 FROM audit_entries%s ORDER BY seq DESC LIMIT %d OFFSET %d`,
		where, p.PageSize, page.Offset(),
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// VerifyAuditChain walks the full audit log in insertion order and recomputes
// every entry hash. It reports the first entry (if any) whose stored hash or
// prev_hash link does not match the recomputation.
func (db *DB) VerifyAuditChain(ctx context.Context) (model.ChainVerificationResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT seq, id, event_type, guideline_id, actor, payload, entry_hash, prev_hash, created_at
		 FROM audit_entries ORDER BY seq ASC`,
	)
	if err != nil {
		return model.ChainVerificationResult{}, fmt.Errorf("storage: read audit chain: %w", err)
	}
	defer rows.Close()

	result := model.ChainVerificationResult{Valid: true}
	prevHash := integrity.ChainGenesis

	for rows.Next() {
		entry, payloadJSON, err := scanAuditEntry(rows)
		if err != nil {
			return model.ChainVerificationResult{}, err
		}
		result.Entries++

		ok := entry.PrevHash == prevHash && integrity.VerifyEntryHash(
			entry.EntryHash, entry.ID, string(entry.EventType), entry.GuidelineID,
			payloadJSON, entry.PrevHash, entry.CreatedAt,
		)
		if !ok {
			seq := entry.Seq
			id := entry.ID
			result.Valid = false
			result.BrokenSeq = &seq
			result.BrokenID = &id
			return result, nil
		}
		prevHash = entry.EntryHash
	}
	return result, rows.Err()
}

func buildAuditWhereClause(f model.AuditFilters, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	if f.GuidelineID != nil {
		conditions = append(conditions, fmt.Sprintf("guideline_id = $%d", idx))
		args = append(args, *f.GuidelineID)
		idx++
	}
	if f.EventType != nil {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, *f.EventType)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanAuditEntries(rows pgx.Rows) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	for rows.Next() {
		entry, _, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanAuditEntry scans one row and returns both the entry and the canonical
// payload bytes used for hash verification.
func scanAuditEntry(row pgx.Rows) (model.AuditEntry, []byte, error) {
	var e model.AuditEntry
	var payload auditPayload
	if err := row.Scan(
		&e.Seq, &e.ID, &e.EventType, &e.GuidelineID, &e.Actor,
		&payload, &e.EntryHash, &e.PrevHash, &e.CreatedAt,
	); err != nil {
		return model.AuditEntry{}, nil, fmt.Errorf("storage: scan audit entry: %w", err)
	}
	e.Changes = payload.Changes
	e.Snapshot = payload.Snapshot
	e.Context = payload.Context
	e.Decision = payload.Decision

	canonical, err := json.Marshal(payload)
	if err != nil {
		return model.AuditEntry{}, nil, fmt.Errorf("storage: remarshal audit payload: %w", err)
	}
	return e, canonical, nil
}
