// Package community merges contributor-authored annotation bundles into the
// processed annotation tables, detecting stale writes.
//
// A bundle is applied at most once per checksum. An update whose updated_at
// does not strictly exceed the last applied one is a conflict: it is reported
// and, unless forced or explicitly allowed, left unapplied.
package community

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/grimoire/pkg/errors"
)

// Operation is the kind of write a bundle requests.
type Operation string

// Bundle operations.
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid reports whether o is a known operation.
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Header identifies one submitted version of an annotation.
type Header struct {
	BundleID  string    `json:"bundle_id" yaml:"bundle_id"`
	Operation Operation `json:"operation" yaml:"operation"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Annotation is the contributor payload.
type Annotation struct {
	AnnotationID      string     `json:"annotation_id" yaml:"annotation_id"`
	CanonicalID       string     `json:"canonical_id" yaml:"canonical_id"`
	ContributorHandle string     `json:"contributor_handle" yaml:"contributor_handle"`
	Title             string     `json:"title,omitempty" yaml:"title,omitempty"`
	Body              string     `json:"body,omitempty" yaml:"body,omitempty"`
	Tags              []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Revisions         []Revision `json:"revisions,omitempty" yaml:"revisions,omitempty"`
}

// Revision is one historical version of the annotation text.
type Revision struct {
	RevisionID string      `json:"revision_id" yaml:"revision_id"`
	Author     string      `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt  string      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Body       string      `json:"body,omitempty" yaml:"body,omitempty"`
	References []Reference `json:"references,omitempty" yaml:"references,omitempty"`
	Symbolism  []Symbol    `json:"symbolism,omitempty" yaml:"symbolism,omitempty"`
}

// Reference cites an external source for a revision.
type Reference struct {
	ReferenceID string `json:"reference_id" yaml:"reference_id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Symbol is one symbolic reading proposed by a revision.
type Symbol struct {
	Symbol  string `json:"symbol" yaml:"symbol"`
	Meaning string `json:"meaning,omitempty" yaml:"meaning,omitempty"`
}

// Bundle is a versioned, externally authored unit of annotation content.
type Bundle struct {
	Header     Header     `json:"bundle" yaml:"bundle"`
	Annotation Annotation `json:"annotation" yaml:"annotation"`

	// Path is the file the bundle was read from, if any.
	Path string `json:"-" yaml:"-"`
}

// Validate checks the fields the merge depends on.
func (b *Bundle) Validate() error {
	switch {
	case strings.TrimSpace(b.Header.BundleID) == "":
		return errors.NewValidationError("bundle.bundle_id", b.Header.BundleID, "is required")
	case !b.Header.Operation.IsValid():
		return errors.NewValidationError("bundle.operation", b.Header.Operation, "must be create, update or delete")
	case b.Header.UpdatedAt.IsZero():
		return errors.NewValidationError("bundle.updated_at", b.Header.UpdatedAt, "is required")
	case strings.TrimSpace(b.Annotation.AnnotationID) == "":
		return errors.NewValidationError("annotation.annotation_id", b.Annotation.AnnotationID, "is required")
	}
	return nil
}

// Checksum returns the hex SHA-256 of the canonical JSON encoding of the
// whole bundle, header included. Equal checksums mean equal payloads.
func Checksum(b *Bundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", errors.WrapParse("json", b.Path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Summary is the short form of a bundle used in conflict artifacts.
type Summary struct {
	AnnotationID string    `json:"annotation_id"`
	CanonicalID  string    `json:"canonical_id,omitempty"`
	BundleID     string    `json:"bundle_id"`
	Operation    Operation `json:"operation"`
	UpdatedAt    string    `json:"updated_at"`
	Checksum     string    `json:"checksum"`
	Path         string    `json:"path,omitempty"`
}

func (b *Bundle) summary(checksum string) Summary {
	return Summary{
		AnnotationID: b.Annotation.AnnotationID,
		CanonicalID:  b.Annotation.CanonicalID,
		BundleID:     b.Header.BundleID,
		Operation:    b.Header.Operation,
		UpdatedAt:    formatTimestamp(b.Header.UpdatedAt),
		Checksum:     checksum,
		Path:         b.Path,
	}
}

// ParseBundle decodes a JSON or YAML bundle.
func ParseBundle(data []byte, path string) (*Bundle, error) {
	var b Bundle
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, errors.WrapParse(format, path, err)
		}
	} else if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.WrapParse(format, path, err)
	}
	b.Path = path
	if err := b.Validate(); err != nil {
		return nil, errors.NewParseError(format, path, err.Error(), err)
	}
	return &b, nil
}

// LoadBundle reads and decodes the bundle file at path.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingInputError("bundle", path, err)
		}
		return nil, errors.WrapIO("read", path, err)
	}
	return ParseBundle(data, path)
}

// isBundleFile reports whether name has a bundle extension.
func isBundleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
