package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/shishin/internal/model"
	"github.com/ashita-ai/shishin/internal/storage"
)

// writeGuidelineError maps domain and storage errors to HTTP responses.
func (h *Handlers) writeGuidelineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "guideline not found")
	case errors.Is(err, storage.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"version conflict: guideline was modified concurrently, re-read and retry")
	default:
		h.writeInternalError(w, r, "guideline operation failed", err)
	}
}

// HandleCreateGuideline handles POST /v1/guidelines.
func (h *Handlers) HandleCreateGuideline(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGuidelineRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	g, err := h.svc.Create(r.Context(), req, actorFromContext(r.Context()))
	if err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, g)
}

// HandleListGuidelines handles GET /v1/guidelines.
func (h *Handlers) HandleListGuidelines(w http.ResponseWriter, r *http.Request) {
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

	page := queryPage(r)
	items, total, err := h.svc.List(r.Context(), filters, page)
	if err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	writeList(w, r, items, total, page.Normalize())
}

// HandleGetGuideline handles GET /v1/guidelines/{id}.
func (h *Handlers) HandleGetGuideline(w http.ResponseWriter, r *http.Request) {
	id, err := parseGuidelineID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	g, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, g)
}

// HandleUpdateGuideline handles PUT /v1/guidelines/{id}.
func (h *Handlers) HandleUpdateGuideline(w http.ResponseWriter, r *http.Request) {
	id, err := parseGuidelineID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.UpdateGuidelineRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	g, err := h.svc.Update(r.Context(), id, req, actorFromContext(r.Context()))
	if err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, g)
}

// HandleToggleGuideline handles POST /v1/guidelines/{id}/toggle.
// The body is optional: an empty body toggles unconditionally.
func (h *Handlers) HandleToggleGuideline(w http.ResponseWriter, r *http.Request) {
	id, err := parseGuidelineID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.ToggleGuidelineRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}

	g, err := h.svc.Toggle(r.Context(), id, req.ExpectedVersion, actorFromContext(r.Context()))
	if err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, g)
}

// HandleDeleteGuideline handles DELETE /v1/guidelines/{id}.
func (h *Handlers) HandleDeleteGuideline(w http.ResponseWriter, r *http.Request) {
	id, err := parseGuidelineID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id, actorFromContext(r.Context())); err != nil {
		h.writeGuidelineError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
