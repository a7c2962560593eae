package guidelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/shishin/internal/model"
)

// Import creates guidelines from a JSON array of creation specs. Items are
// processed independently in order: a malformed item is reported by position
// in the result's Errors and does not abort later items. Partial success is
// the normal outcome for mixed batches, not an error.
func (s *Service) Import(ctx context.Context, items []json.RawMessage, actor *string) (model.ImportResult, error) {
	result := model.ImportResult{Errors: []string{}}

	for i, raw := range items {
		var req model.CreateGuidelineRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: invalid guideline: %v", i, err))
			continue
		}

		if _, err := s.Create(ctx, req, actor); err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				result.Errors = append(result.Errors, fmt.Sprintf("item %d: %s", i, verr.Error()))
				continue
			}
			// Storage failure: the batch cannot meaningfully continue.
			return model.ImportResult{}, fmt.Errorf("import item %d: %w", i, err)
		}
		result.Imported++
	}

	return result, nil
}

// Export returns every guideline matching the filters as a direct snapshot of
// the store, suitable for re-import.
func (s *Service) Export(ctx context.Context, filters model.GuidelineFilters) ([]model.Guideline, error) {
	return s.db.ExportGuidelines(ctx, filters)
}
