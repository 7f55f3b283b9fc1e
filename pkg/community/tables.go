package community

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/save"
)

// AnnotationRow is one row of the annotations table.
type AnnotationRow struct {
	AnnotationID      string   `json:"annotation_id"`
	CanonicalID       string   `json:"canonical_id"`
	ContributorHandle string   `json:"contributor_handle"`
	Title             string   `json:"title"`
	Body              string   `json:"body"`
	Tags              []string `json:"tags"`
	BundleID          string   `json:"bundle_id"`
	UpdatedAt         string   `json:"updated_at"`
}

// RevisionRow is one row of the revisions table.
type RevisionRow struct {
	AnnotationID string `json:"annotation_id"`
	RevisionID   string `json:"revision_id"`
	Position     int    `json:"position"`
	Author       string `json:"author"`
	CreatedAt    string `json:"created_at"`
	Body         string `json:"body"`
}

// ReferenceRow is one row of the references table.
type ReferenceRow struct {
	AnnotationID string `json:"annotation_id"`
	RevisionID   string `json:"revision_id"`
	Position     int    `json:"position"`
	ReferenceID  string `json:"reference_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
}

// SymbolismRow is one row of the symbolism table.
type SymbolismRow struct {
	AnnotationID string `json:"annotation_id"`
	RevisionID   string `json:"revision_id"`
	Position     int    `json:"position"`
	Symbol       string `json:"symbol"`
	Meaning      string `json:"meaning"`
}

// Tables holds the four parallel annotation tables in memory.
type Tables struct {
	Annotations []AnnotationRow
	Revisions   []RevisionRow
	References  []ReferenceRow
	Symbolism   []SymbolismRow
}

// Remove drops every row of annotationID from all four tables and reports
// whether anything was removed.
func (t *Tables) Remove(annotationID string) bool {
	n := len(t.Annotations) + len(t.Revisions) + len(t.References) + len(t.Symbolism)
	t.Annotations = slices.DeleteFunc(t.Annotations, func(r AnnotationRow) bool { return r.AnnotationID == annotationID })
	t.Revisions = slices.DeleteFunc(t.Revisions, func(r RevisionRow) bool { return r.AnnotationID == annotationID })
	t.References = slices.DeleteFunc(t.References, func(r ReferenceRow) bool { return r.AnnotationID == annotationID })
	t.Symbolism = slices.DeleteFunc(t.Symbolism, func(r SymbolismRow) bool { return r.AnnotationID == annotationID })
	return n != len(t.Annotations)+len(t.Revisions)+len(t.References)+len(t.Symbolism)
}

// Replace removes the annotation's rows and inserts fresh rows from b.
func (t *Tables) Replace(b *Bundle) {
	a := b.Annotation
	t.Remove(a.AnnotationID)

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	t.Annotations = append(t.Annotations, AnnotationRow{
		AnnotationID:      a.AnnotationID,
		CanonicalID:       a.CanonicalID,
		ContributorHandle: a.ContributorHandle,
		Title:             a.Title,
		Body:              a.Body,
		Tags:              slices.Clone(tags),
		BundleID:          b.Header.BundleID,
		UpdatedAt:         formatTimestamp(b.Header.UpdatedAt),
	})
	for i, rev := range a.Revisions {
		t.Revisions = append(t.Revisions, RevisionRow{
			AnnotationID: a.AnnotationID,
			RevisionID:   rev.RevisionID,
			Position:     i,
			Author:       rev.Author,
			CreatedAt:    rev.CreatedAt,
			Body:         rev.Body,
		})
		for j, ref := range rev.References {
			t.References = append(t.References, ReferenceRow{
				AnnotationID: a.AnnotationID,
				RevisionID:   rev.RevisionID,
				Position:     j,
				ReferenceID:  ref.ReferenceID,
				Title:        ref.Title,
				URL:          ref.URL,
			})
		}
		for j, sym := range rev.Symbolism {
			t.Symbolism = append(t.Symbolism, SymbolismRow{
				AnnotationID: a.AnnotationID,
				RevisionID:   rev.RevisionID,
				Position:     j,
				Symbol:       sym.Symbol,
				Meaning:      sym.Meaning,
			})
		}
	}
}

// sort orders every table so its encoding depends only on content.
func (t *Tables) sort() {
	slices.SortStableFunc(t.Annotations, func(a, b AnnotationRow) int {
		return cmp.Compare(a.AnnotationID, b.AnnotationID)
	})
	slices.SortStableFunc(t.Revisions, func(a, b RevisionRow) int {
		return cmp.Or(cmp.Compare(a.AnnotationID, b.AnnotationID), cmp.Compare(a.Position, b.Position))
	})
	slices.SortStableFunc(t.References, func(a, b ReferenceRow) int {
		return cmp.Or(
			cmp.Compare(a.AnnotationID, b.AnnotationID),
			cmp.Compare(a.RevisionID, b.RevisionID),
			cmp.Compare(a.Position, b.Position),
		)
	})
	slices.SortStableFunc(t.Symbolism, func(a, b SymbolismRow) int {
		return cmp.Or(
			cmp.Compare(a.AnnotationID, b.AnnotationID),
			cmp.Compare(a.RevisionID, b.RevisionID),
			cmp.Compare(a.Position, b.Position),
		)
	})
}

// TablePath returns the file holding table under dir.
func TablePath(dir, table string) string {
	return filepath.Join(dir, table+".json")
}

// LoadTables reads the four tables from dir. Missing files are empty tables.
func LoadTables(dir string) (*Tables, error) {
	t := &Tables{}
	if err := loadTable(TablePath(dir, constants.AnnotationsTable), &t.Annotations); err != nil {
		return nil, err
	}
	if err := loadTable(TablePath(dir, constants.RevisionsTable), &t.Revisions); err != nil {
		return nil, err
	}
	if err := loadTable(TablePath(dir, constants.ReferencesTable), &t.References); err != nil {
		return nil, err
	}
	if err := loadTable(TablePath(dir, constants.SymbolismTable), &t.Symbolism); err != nil {
		return nil, err
	}
	return t, nil
}

func loadTable[T any](path string, rows *[]T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			*rows = nil
			return nil
		}
		return errors.WrapIO("read", path, err)
	}
	if err := json.Unmarshal(data, rows); err != nil {
		return errors.WrapParse("json", path, err)
	}
	return nil
}

// Save writes the four tables to dir as sorted, indented JSON.
func (t *Tables) Save(dir string) error {
	t.sort()
	if err := saveTable(TablePath(dir, constants.AnnotationsTable), t.Annotations); err != nil {
		return err
	}
	if err := saveTable(TablePath(dir, constants.RevisionsTable), t.Revisions); err != nil {
		return err
	}
	if err := saveTable(TablePath(dir, constants.ReferencesTable), t.References); err != nil {
		return err
	}
	return saveTable(TablePath(dir, constants.SymbolismTable), t.Symbolism)
}

func saveTable[T any](path string, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	return save.Write(rows, save.WithPath(path), save.WithFormat(save.FormatJSON))
}
