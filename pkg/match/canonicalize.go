package match

import (
	"maps"
	"sort"

	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/provenance"
	"github.com/agentstation/grimoire/pkg/records"
)

// reservedFields are carried as typed entity fields or provenance, not in Fields.
var reservedFields = []string{
	records.FieldName,
	records.FieldSource,
	records.FieldSourceID,
	records.FieldSourcePriority,
	records.FieldEntityType,
	records.FieldDescription,
	records.FieldIsDLC,
	records.FieldDataset,
	records.FieldSourceFile,
	records.FieldURI,
	records.FieldSHA256,
	records.FieldRetrievedAt,
	records.FieldIngestionMode,
	"slug",
}

// Canonicalize turns every bucket into one canonical entity of entityType.
// Visible fields come from the bucket's best record; provenance is the union
// of every entry, most authoritative first; is_dlc is set if any entry sets it.
func Canonicalize(entityType entity.Type, buckets *Buckets) []entity.CanonicalEntity {
	out := make([]entity.CanonicalEntity, 0, buckets.Len())
	for _, bucket := range buckets.List() {
		out = append(out, canonical(entityType, bucket))
	}
	return out
}

func canonical(entityType entity.Type, bucket *Bucket) entity.CanonicalEntity {
	best := bucket.Best

	entries := append([]*records.SourceRecord(nil), bucket.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority < entries[j].Priority
	})

	var prov []provenance.Provenance
	isDLC := false
	for _, rec := range entries {
		prov = provenance.Merge(prov, rec.Provenance())
		isDLC = isDLC || rec.IsDLC()
	}

	slug := best.Get("slug")
	if slug == "" {
		slug = Slug(best.Name)
	}

	fields := maps.Clone(best.Fields)
	for _, k := range reservedFields {
		delete(fields, k)
	}
	if len(fields) == 0 {
		fields = nil
	}

	return entity.CanonicalEntity{
		EntityType:  entityType,
		Name:        best.Name,
		Slug:        slug,
		IsDLC:       isDLC,
		Description: best.Get(records.FieldDescription),
		Provenance:  prov,
		Sources:     provenance.Sources(prov),
		Fields:      fields,
	}
}
