// Package match implements the pure condition-matching algorithm that decides
// whether one guideline applies to one evaluation context.
//
// Matching is deterministic and side-effect free: a nil condition field is a
// wildcard that always matches, a non-nil field matches when any of its
// elements intersects the corresponding context value (paths by substring
// containment), and all non-nil fields must match for the guideline to match.
package match

import (
	"strings"

	"github.com/ashita-ai/shishin/internal/model"
)

// Result is the outcome of matching one condition against one context.
// MatchedFields lists the non-wildcard fields that matched, in a fixed
// field order independent of input order. Score is the normalized
// specificity in [0, 1]: matched non-wildcard fields over non-nil fields,
// or 1.0 when every field is a wildcard. Score ranks matches for display;
// inclusion is decided by Matches alone.
type Result struct {
	Matches       bool
	MatchedFields []string
	Score         float64
}

// Match evaluates cond against ctx.
//
// A condition with all fields nil matches every context, including the empty
// one — this is intentional, used for blanket policies that must always apply.
func Match(cond model.Condition, ctx model.EvaluationContext) Result {
	type field struct {
		name  string
		set   []string
		match func([]string) bool
	}

	fields := []field{
		{"agents", cond.Agents, func(set []string) bool { return containsValue(set, ctx.Agent) }},
		{"domains", cond.Domains, func(set []string) bool { return containsValue(set, ctx.Domain) }},
		{"actions", cond.Actions, func(set []string) bool { return containsValue(set, ctx.Action) }},
		{"paths", cond.Paths, func(set []string) bool { return pathsIntersect(set, ctx.Paths) }},
		{"events", cond.Events, func(set []string) bool { return containsValue(set, ctx.Event) }},
		{"gate_types", cond.GateTypes, func(set []string) bool { return containsValue(set, ctx.GateType) }},
	}

	var matched []string
	nonNil := 0
	for _, f := range fields {
		if f.set == nil {
			continue // Wildcard: matches, contributes nothing to the matched set.
		}
		nonNil++
		if !f.match(f.set) {
			return Result{Matches: false}
		}
		matched = append(matched, f.name)
	}

	score := 1.0
	if nonNil > 0 {
		score = float64(len(matched)) / float64(nonNil)
	}
	return Result{Matches: true, MatchedFields: matched, Score: score}
}

// containsValue reports whether value equals any element of set. An empty
// context value never matches a non-wildcard field.
func containsValue(set []string, value string) bool {
	if value == "" {
		return false
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// pathsIntersect reports whether any condition path is contained in any
// context path or vice versa. Containment rather than equality lets a
// condition path like ".workitems/" match a context path
// ".workitems/task-7/plan.md" and a condition prefix "src/" match "src".
func pathsIntersect(set, paths []string) bool {
	for _, p := range paths {
		if p == "" {
			continue
		}
		for _, s := range set {
			if strings.Contains(p, s) || strings.Contains(s, p) {
				return true
			}
		}
	}
	return false
}
