package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/shishin/internal/model"
)

// HandleListAudit handles GET /v1/audit.
// Entries are returned newest first.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	var filters model.AuditFilters

	if v := r.URL.Query().Get("guideline_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid guideline_id: "+v)
			return
		}
		filters.GuidelineID = &id
	}

	if v := r.URL.Query().Get("event_type"); v != "" {
		et := model.AuditEventType(v)
		if !model.ValidAuditEventType(et) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown event_type: "+v)
			return
		}
		filters.EventType = &et
	}

	page := queryPage(r)
	entries, total, err := h.svc.Audit(r.Context(), filters, page)
	if err != nil {
		h.writeInternalError(w, r, "failed to list audit entries", err)
		return
	}

	writeList(w, r, entries, total, page.Normalize())
}

// HandleVerifyAudit handles GET /v1/audit/verify.
// Walks the full chain and reports the first break, if any.
func (h *Handlers) HandleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyAuditChain(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "chain verification failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
