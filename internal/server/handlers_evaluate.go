package server

import (
	"net/http"

	"github.com/ashita-ai/shishin/internal/model"
)

// HandleEvaluate handles POST /v1/evaluate.
// Matches the submitted context against all enabled guidelines and returns
// the combined verdict. An empty context is valid and matches only global
// guidelines.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var evalCtx model.EvaluationContext
	if err := decodeJSON(w, r, &evalCtx, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.svc.Evaluate(r.Context(), evalCtx, actorFromContext(r.Context()))
	if err != nil {
		h.writeInternalError(w, r, "evaluation failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
