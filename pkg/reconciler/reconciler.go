// Package reconciler merges canonical entities from heterogeneous sources into
// one entity per (entity type, match key) and attaches orphan text snippets to
// them by name similarity.
//
// Sources are added in batches, each with a fixed priority (lower wins). The
// winning batch supplies an entity's visible fields; every batch ever added
// contributes to its provenance and sources. Call order does not matter as
// long as each source arrives in exactly one batch.
package reconciler

import (
	"context"
	"maps"
	"slices"

	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/match"
	"github.com/agentstation/grimoire/pkg/provenance"
)

// Reconciler owns the entity store built across AddEntities calls.
// It is not safe for concurrent use; run one per goroutine.
type Reconciler struct {
	threshold float64
	entries   map[string]*entry
	order     []string
}

// entry is the current winner for one key.
type entry struct {
	entity   entity.CanonicalEntity
	priority int
	sources  map[string]struct{}
}

// New creates an empty Reconciler.
func New(opts ...Option) (*Reconciler, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		threshold: options.threshold,
		entries:   make(map[string]*entry),
	}, nil
}

// Threshold returns the similarity threshold used by MatchText.
func (r *Reconciler) Threshold() float64 {
	return r.threshold
}

// EntityKey returns the store key of e: its type and match key joined by ":".
// Entities without a usable name fall back to their slug.
func EntityKey(e entity.CanonicalEntity) string {
	k := match.KeyFor(e.Name, e.Slug)
	if k == "" {
		return ""
	}
	return string(e.EntityType) + ":" + string(k)
}

// AddEntities merges a batch of entities that all come from sources ranked at
// priority. An unseen key stores a copy of the entity. A seen key is taken
// over only by a strictly smaller priority; the previous winner's provenance
// is carried across so no source is lost. Provenance and sources of the
// incoming entity are always merged, deduplicated.
func (r *Reconciler) AddEntities(ctx context.Context, entities []entity.CanonicalEntity, priority int) {
	logger := logging.FromContext(ctx)
	added, promoted, merged, skipped := 0, 0, 0, 0

	for _, incoming := range entities {
		key := EntityKey(incoming)
		if key == "" {
			skipped++
			continue
		}

		current, ok := r.entries[key]
		switch {
		case !ok:
			current = &entry{
				entity:   incoming.Clone(),
				priority: priority,
				sources:  make(map[string]struct{}),
			}
			r.entries[key] = current
			r.order = append(r.order, key)
			added++
		case priority < current.priority:
			previous := current.entity
			current.entity = incoming.Clone()
			current.entity.Provenance = provenance.Merge(previous.Provenance, incoming.Provenance...)
			current.entity.IsDLC = previous.IsDLC || incoming.IsDLC
			current.priority = priority
			promoted++
		default:
			current.entity.Provenance = provenance.Merge(current.entity.Provenance, incoming.Provenance...)
			current.entity.IsDLC = current.entity.IsDLC || incoming.IsDLC
			merged++
		}

		for _, s := range provenance.Sources(incoming.Provenance) {
			current.sources[s] = struct{}{}
		}
		for _, s := range incoming.Sources {
			current.sources[s] = struct{}{}
		}
		current.entity.Sources = sortedKeys(current.sources)
	}

	logger.Debug().
		Int("priority", priority).
		Int("added", added).
		Int("promoted", promoted).
		Int("merged", merged).
		Int("skipped", skipped).
		Msg("Added entity batch")
}

// Entities returns copies of the current winners in first-seen order.
func (r *Reconciler) Entities() []entity.CanonicalEntity {
	out := make([]entity.CanonicalEntity, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key].entity.Clone())
	}
	return out
}

// Entity returns a copy of the winner stored under key.
func (r *Reconciler) Entity(key string) (entity.CanonicalEntity, bool) {
	e, ok := r.entries[key]
	if !ok {
		return entity.CanonicalEntity{}, false
	}
	return e.entity.Clone(), true
}

// Priority returns the priority of the batch that supplied key's fields.
func (r *Reconciler) Priority(key string) (int, bool) {
	e, ok := r.entries[key]
	if !ok {
		return 0, false
	}
	return e.priority, true
}

// Len returns the number of reconciled entities.
func (r *Reconciler) Len() int {
	return len(r.order)
}

func sortedKeys(m map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(m))
}
