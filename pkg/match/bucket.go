// Package match groups source records that describe the same entity and picks
// the most authoritative record of each group.
//
// Records are grouped by a normalized match key. Within a bucket the record
// with the lowest source_priority is the best one; ties keep whichever record
// was seen first.
package match

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/records"
)

// Bucket holds every record that shares one match key.
type Bucket struct {
	Key     Key
	Best    *records.SourceRecord
	Entries []*records.SourceRecord
}

// Buckets is the set of buckets built by one pass, in first-seen key order.
type Buckets struct {
	order []Key
	byKey map[Key]*Bucket
}

// Get returns the bucket for key.
func (b *Buckets) Get(key Key) (*Bucket, bool) {
	bucket, ok := b.byKey[key]
	return bucket, ok
}

// Keys returns the match keys in first-seen order.
func (b *Buckets) Keys() []Key {
	return slices.Clone(b.order)
}

// List returns the buckets in first-seen order.
func (b *Buckets) List() []*Bucket {
	out := make([]*Bucket, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.byKey[k])
	}
	return out
}

// Len returns the number of buckets.
func (b *Buckets) Len() int {
	return len(b.order)
}

// BuildBuckets groups recs by match key. Records without a name cannot be
// matched or reported on and are dropped. Each record's priority is synced
// back onto its field map.
func BuildBuckets(recs []*records.SourceRecord) *Buckets {
	out := &Buckets{byKey: make(map[Key]*Bucket)}
	dropped := 0
	for _, rec := range recs {
		if rec == nil || strings.TrimSpace(rec.Name) == "" {
			dropped++
			continue
		}
		key := KeyFor(rec.Name, rec.SourceID)
		if key == "" {
			dropped++
			continue
		}
		rec.SyncPriority()

		bucket, ok := out.byKey[key]
		if !ok {
			out.byKey[key] = &Bucket{Key: key, Best: rec, Entries: []*records.SourceRecord{rec}}
			out.order = append(out.order, key)
			continue
		}
		bucket.Entries = append(bucket.Entries, rec)
		if rec.Priority < bucket.Best.Priority {
			bucket.Best = rec
		}
	}
	if dropped > 0 {
		logging.Debug().Int("dropped", dropped).Msg("Dropped records without a matchable name")
	}
	return out
}

// Contributor is one entry of a bucket's provenance trail.
type Contributor struct {
	Source   string `json:"source" yaml:"source"`
	SourceID string `json:"source_id" yaml:"source_id"`
	Priority int    `json:"priority" yaml:"priority"`
}

// BucketProvenance lists who contributed to a bucket, most authoritative
// first. Entries with equal priority keep insertion order.
func BucketProvenance(b *Bucket) []Contributor {
	out := make([]Contributor, 0, len(b.Entries))
	for _, rec := range b.Entries {
		out = append(out, Contributor{Source: rec.Source, SourceID: rec.SourceID, Priority: rec.Priority})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// LogConflicts counts, per column, the buckets whose entries disagree on a
// non-empty value. It is a diagnostic for operators and never fails.
func LogConflicts(ctx context.Context, buckets *Buckets, columns []string) map[string]int {
	logger := logging.FromContext(ctx)
	counts := make(map[string]int, len(columns))
	for _, column := range columns {
		n := 0
		for _, bucket := range buckets.List() {
			distinct := make(map[string]struct{})
			for _, rec := range bucket.Entries {
				if v := rec.Get(column); v != "" {
					distinct[v] = struct{}{}
				}
			}
			if len(distinct) > 1 {
				n++
			}
		}
		counts[column] = n
		if n > 0 {
			logger.Warn().
				Str("column", column).
				Int("buckets", n).
				Msg("Sources disagree on column values")
		}
	}
	return counts
}
