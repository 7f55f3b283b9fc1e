package reconciler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
)

// SourceList is every entity one source produced, at that source's priority.
type SourceList struct {
	Source   string
	Priority int
	Entities []entity.CanonicalEntity
}

// Result represents the outcome of a full reconciliation.
type Result struct {
	Entities []entity.CanonicalEntity
	Matched  []TextMatch
	Unmapped []TextMatch
	Stats    ResultStatistics
}

// ResultStatistics contains statistics about the reconciliation.
type ResultStatistics struct {
	Sources          int
	InputEntities    int
	OutputEntities   int
	SnippetsMatched  int
	SnippetsUnmapped int
	StartTime        time.Time
	Duration         time.Duration
}

// Summary returns a human-readable summary of the result.
func (r *Result) Summary() string {
	return fmt.Sprintf("Reconciled %d entities from %d sources into %d canonical entities; %d snippets matched, %d unmapped",
		r.Stats.InputEntities, r.Stats.Sources, r.Stats.OutputEntities,
		r.Stats.SnippetsMatched, r.Stats.SnippetsUnmapped)
}

// ReconcileAllSources reconciles lists in priority order (most authoritative
// first), then attaches snippets. Each source must appear in exactly one list.
func ReconcileAllSources(ctx context.Context, lists []SourceList, snippets []Snippet, opts ...Option) (*Result, error) {
	if err := validateLists(lists); err != nil {
		return nil, err
	}
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}

	result := &Result{Stats: ResultStatistics{StartTime: time.Now(), Sources: len(lists)}}
	ordered := slices.Clone(lists)
	slices.SortStableFunc(ordered, func(a, b SourceList) int {
		return a.Priority - b.Priority
	})

	for _, list := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapCanceled(err)
		}
		r.AddEntities(logging.WithSource(ctx, list.Source), tagSource(list), list.Priority)
		result.Stats.InputEntities += len(list.Entities)
	}

	texts := r.MatchText(ctx, snippets)
	result.Entities = r.Entities()
	result.Matched = texts.Matched
	result.Unmapped = texts.Unmapped
	result.Stats.OutputEntities = len(result.Entities)
	result.Stats.SnippetsMatched = len(texts.Matched)
	result.Stats.SnippetsUnmapped = len(texts.Unmapped)
	result.Stats.Duration = time.Since(result.Stats.StartTime)

	logging.FromContext(ctx).Info().
		Int("sources", result.Stats.Sources).
		Int("input_entities", result.Stats.InputEntities).
		Int("entities", result.Stats.OutputEntities).
		Dur("duration", result.Stats.Duration).
		Msg("Reconciled sources")
	return result, nil
}

// validateLists rejects a source tag that appears in more than one list, since
// the priority of that source would be ambiguous.
func validateLists(lists []SourceList) error {
	seen := make(map[string]int, len(lists))
	for _, list := range lists {
		if list.Source == "" {
			continue
		}
		if p, ok := seen[list.Source]; ok {
			return &errors.ValidationError{
				Field:   "source",
				Value:   list.Source,
				Message: fmt.Sprintf("listed more than once (priorities %d and %d)", p, list.Priority),
			}
		}
		seen[list.Source] = list.Priority
	}
	return nil
}

// tagSource returns the list's entities with the list source recorded in
// their sources, so entities from loaders without provenance still count it.
func tagSource(list SourceList) []entity.CanonicalEntity {
	if list.Source == "" {
		return list.Entities
	}
	out := make([]entity.CanonicalEntity, len(list.Entities))
	for i, e := range list.Entities {
		if !slices.Contains(e.Sources, list.Source) {
			e.Sources = append(slices.Clone(e.Sources), list.Source)
		}
		out[i] = e
	}
	return out
}
