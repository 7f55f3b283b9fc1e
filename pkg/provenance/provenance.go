// Package provenance records where canonical data came from.
//
// A canonical entity may carry many provenance records. Two records are the
// same record when their identity (source, uri, sha256, retrieved_at) matches;
// the other fields are descriptive and never take part in deduplication.
package provenance

import (
	"slices"
	"strings"
	"time"
)

// Provenance describes one retrieval of source data.
type Provenance struct {
	Source        string    `json:"source" yaml:"source"`
	Dataset       string    `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	SourceFile    string    `json:"source_file,omitempty" yaml:"source_file,omitempty"`
	URI           string    `json:"uri,omitempty" yaml:"uri,omitempty"`
	SHA256        string    `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	RetrievedAt   time.Time `json:"retrieved_at,omitzero" yaml:"retrieved_at,omitempty"`
	IngestionMode string    `json:"ingestion_mode,omitempty" yaml:"ingestion_mode,omitempty"`
}

// Key is the identity of a provenance record.
type Key struct {
	Source      string
	URI         string
	SHA256      string
	RetrievedAt string
}

// Key returns the identity of p.
func (p Provenance) Key() Key {
	k := Key{Source: p.Source, URI: p.URI, SHA256: p.SHA256}
	if !p.RetrievedAt.IsZero() {
		k.RetrievedAt = p.RetrievedAt.UTC().Format(time.RFC3339Nano)
	}
	return k
}

// String renders the key for logs.
func (k Key) String() string {
	return strings.Join([]string{k.Source, k.URI, k.SHA256, k.RetrievedAt}, "|")
}

// Merge appends every record of incoming that base does not already hold,
// preserving the order in which identities were first seen. Duplicates inside
// base itself are collapsed too.
func Merge(base []Provenance, incoming ...Provenance) []Provenance {
	seen := make(map[Key]struct{}, len(base)+len(incoming))
	out := make([]Provenance, 0, len(base)+len(incoming))
	for _, list := range [][]Provenance{base, incoming} {
		for _, p := range list {
			k := p.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Sources returns the distinct, sorted, non-empty source tags in list.
func Sources(list []Provenance) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p.Source != "" {
			out = append(out, p.Source)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Contains reports whether list holds a record with the identity of p.
func Contains(list []Provenance, p Provenance) bool {
	k := p.Key()
	return slices.ContainsFunc(list, func(q Provenance) bool { return q.Key() == k })
}

// Clone returns a copy of list that shares no backing array with it.
func Clone(list []Provenance) []Provenance {
	if list == nil {
		return nil
	}
	return slices.Clone(list)
}
