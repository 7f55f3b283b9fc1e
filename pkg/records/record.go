// Package records defines the flat source records produced by loaders and
// the contract loaders implement.
//
// A record always has a name, a source tag, a source-local id and a priority
// (lower wins). Everything else a loader extracted rides along in Fields.
package records

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/provenance"
)

// Well-known field names.
const (
	FieldName           = "name"
	FieldSource         = "source"
	FieldSourceID       = "source_id"
	FieldSourcePriority = "source_priority"
	FieldEntityType     = "entity_type"
	FieldDescription    = "description"
	FieldIsDLC          = "is_dlc"
	FieldDataset        = "dataset"
	FieldSourceFile     = "source_file"
	FieldURI            = "uri"
	FieldSHA256         = "sha256"
	FieldRetrievedAt    = "retrieved_at"
	FieldIngestionMode  = "ingestion_mode"
)

// SourceRecord is one raw record from one source.
type SourceRecord struct {
	Name     string
	Source   string
	SourceID string
	Priority int

	// Fields holds every field the loader produced, including the typed ones above.
	Fields map[string]any
}

// FromFields builds a record from a loader's field map. The priority is
// normalized to an int (DefaultPriority when absent or unparseable) and
// written back into the copied field map.
func FromFields(fields map[string]any) *SourceRecord {
	f := maps.Clone(fields)
	if f == nil {
		f = make(map[string]any)
	}
	rec := &SourceRecord{
		Name:     strings.TrimSpace(stringValue(f[FieldName])),
		Source:   strings.TrimSpace(stringValue(f[FieldSource])),
		SourceID: strings.TrimSpace(stringValue(f[FieldSourceID])),
		Priority: ParsePriority(f[FieldSourcePriority]),
		Fields:   f,
	}
	rec.SyncPriority()
	return rec
}

// SyncPriority stores the normalized priority back onto the field map so
// downstream consumers of Fields see the same value as Priority.
func (r *SourceRecord) SyncPriority() {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[FieldSourcePriority] = r.Priority
}

// Get returns the trimmed string form of a field, or "" when absent.
func (r *SourceRecord) Get(field string) string {
	switch field {
	case FieldName:
		return r.Name
	case FieldSource:
		return r.Source
	case FieldSourceID:
		return r.SourceID
	}
	return strings.TrimSpace(stringValue(r.Fields[field]))
}

// IsDLC reports whether the record is flagged as downloadable content.
func (r *SourceRecord) IsDLC() bool {
	return ParseBool(r.Fields[FieldIsDLC])
}

// Provenance describes where the record came from.
func (r *SourceRecord) Provenance() provenance.Provenance {
	p := provenance.Provenance{
		Source:        r.Source,
		Dataset:       r.Get(FieldDataset),
		SourceFile:    r.Get(FieldSourceFile),
		URI:           r.Get(FieldURI),
		SHA256:        r.Get(FieldSHA256),
		IngestionMode: r.Get(FieldIngestionMode),
	}
	switch v := r.Fields[FieldRetrievedAt].(type) {
	case time.Time:
		p.RetrievedAt = v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			p.RetrievedAt = t.UTC()
		}
	}
	return p
}

// ParsePriority converts a raw source_priority value to an int.
// Absent, empty, fractional or unparseable values yield DefaultPriority.
func ParsePriority(v any) int {
	switch p := v.(type) {
	case int:
		return p
	case int32:
		return int(p)
	case int64:
		return int(p)
	case uint64:
		if p <= math.MaxInt32 {
			return int(p)
		}
	case float64:
		if p == math.Trunc(p) && !math.IsInf(p, 0) {
			return int(p)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil && f == math.Trunc(f) {
			return int(f)
		}
	}
	return constants.DefaultPriority
}

// ParseBool interprets loader truthiness: booleans, 1/0 and yes/no/true/false strings.
func ParseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case uint64:
		return b != 0
	case float64:
		return b != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "y", "t":
			return true
		}
	}
	return false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
