package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashita-ai/shishin/internal/model"
)

// HandleExportGuidelines handles GET /v1/export/guidelines.
// Exports the full guideline set (or a category/enabled subset) as a JSON
// array suitable for re-import.
func (h *Handlers) HandleExportGuidelines(w http.ResponseWriter, r *http.Request) {
	var filters model.GuidelineFilters

	if c := r.URL.Query().Get("category"); c != "" {
		cat := model.Category(c)
		if !model.ValidCategory(cat) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown category: "+c)
			return
		}
		filters.Category = &cat
	}

	enabled, err := queryBool(r, "enabled")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	filters.Enabled = enabled

	items, err := h.svc.Export(r.Context(), filters)
	if err != nil {
		h.writeInternalError(w, r, "export failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="guidelines.json"`)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(items)
}

// HandleImportGuidelines handles POST /v1/import/guidelines.
// Accepts a JSON array of guideline definitions. Invalid items are skipped
// and reported by position; valid items are created with fresh identities.
func (h *Handlers) HandleImportGuidelines(w http.ResponseWriter, r *http.Request) {
	var items []json.RawMessage
	if err := decodeJSON(w, r, &items, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if h.maxImportItems > 0 && len(items) > h.maxImportItems {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("import exceeds maximum of %d items", h.maxImportItems))
		return
	}

	result, err := h.svc.Import(r.Context(), items, actorFromContext(r.Context()))
	if err != nil {
		h.writeInternalError(w, r, "import failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
