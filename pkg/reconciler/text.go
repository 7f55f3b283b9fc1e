package reconciler

import (
	"context"

	"github.com/agentstation/grimoire/internal/matcher"
	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/match"
	"github.com/agentstation/grimoire/pkg/provenance"
)

// Snippet is free text with no strong type signal, to be attached to an
// existing entity by name.
type Snippet struct {
	Name string
	Text string

	// EntityType optionally restricts candidates to one type.
	EntityType entity.Type

	Provenance []provenance.Provenance
}

// MatchStatus tags the outcome of matching one snippet.
type MatchStatus int

const (
	// Unmatched means no candidate reached the threshold.
	Unmatched MatchStatus = iota
	// Matched means the snippet was attached to an entity.
	Matched
)

// String returns the status name.
func (s MatchStatus) String() string {
	if s == Matched {
		return "matched"
	}
	return "unmatched"
}

// TextMatch is the outcome for one snippet. For unmatched snippets EntityKey
// and Score describe the closest candidate, if any, for operator review.
type TextMatch struct {
	Snippet   Snippet
	Status    MatchStatus
	EntityKey string
	Score     float64
	Exact     bool
}

// TextMatchResult splits the outcomes of one MatchText call.
type TextMatchResult struct {
	Matched  []TextMatch
	Unmapped []TextMatch
}

// MatchText attaches snippets to reconciled entities. An exact normalized
// name hit always matches with score 1. Otherwise the closest indexed name
// is accepted when its similarity ratio reaches the threshold. Accepted
// snippets append their text to the entity description and merge their
// provenance; the rest are returned as unmapped. Not finding a match is an
// expected outcome, not an error.
func (r *Reconciler) MatchText(ctx context.Context, snippets []Snippet) *TextMatchResult {
	logger := logging.FromContext(ctx)

	idx := matcher.NewIndex[string]()
	for _, key := range r.order {
		idx.Add(match.NormalizeName(r.entries[key].entity.Name), key)
	}

	result := &TextMatchResult{}
	for _, snippet := range snippets {
		tm := r.matchOne(idx, snippet)
		if tm.Status == Matched {
			r.attach(tm.EntityKey, snippet)
			result.Matched = append(result.Matched, tm)
			continue
		}
		result.Unmapped = append(result.Unmapped, tm)
		logger.Debug().
			Str("snippet", snippet.Name).
			Str("closest", tm.EntityKey).
			Float64("score", tm.Score).
			Msg("Snippet left unmapped")
	}

	logger.Info().
		Int("matched", len(result.Matched)).
		Int("unmapped", len(result.Unmapped)).
		Float64("threshold", r.threshold).
		Msg("Matched text snippets")
	return result
}

func (r *Reconciler) matchOne(idx *matcher.Index[string], snippet Snippet) TextMatch {
	tm := TextMatch{Snippet: snippet, Status: Unmatched}

	name := match.NormalizeName(snippet.Name)
	if name == "" {
		return tm
	}

	var keep func(string) bool
	if snippet.EntityType != "" {
		keep = func(key string) bool {
			return r.entries[key].entity.EntityType == snippet.EntityType
		}
	}

	best := idx.Best(name, keep)
	if !best.Found {
		return tm
	}
	tm.EntityKey = best.Candidate.Value
	tm.Score = best.Score
	tm.Exact = best.Exact
	if best.Exact || best.Score >= r.threshold {
		tm.Status = Matched
	}
	return tm
}

func (r *Reconciler) attach(key string, snippet Snippet) {
	e := r.entries[key]
	if snippet.Text != "" {
		if e.entity.Description == "" {
			e.entity.Description = snippet.Text
		} else {
			e.entity.Description += constants.DescriptionSeparator + snippet.Text
		}
	}
	e.entity.Provenance = provenance.Merge(e.entity.Provenance, snippet.Provenance...)
	for _, s := range provenance.Sources(snippet.Provenance) {
		e.sources[s] = struct{}{}
	}
	e.entity.Sources = sortedKeys(e.sources)
}
