package community

import (
	"encoding/json"
	"os"

	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/save"
)

// ManifestEntry is the last known good write of one annotation.
type ManifestEntry struct {
	AnnotationID      string    `json:"annotation_id"`
	CanonicalID       string    `json:"canonical_id"`
	ContributorHandle string    `json:"contributor_handle"`
	BundleID          string    `json:"bundle_id"`
	BundleOperation   Operation `json:"bundle_operation"`
	BundleUpdatedAt   string    `json:"bundle_updated_at"`
	Checksum          string    `json:"checksum"`
}

// Manifest maps annotation ids to their applied entry.
type Manifest struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

func newManifestEntry(b *Bundle, checksum string) ManifestEntry {
	return ManifestEntry{
		AnnotationID:      b.Annotation.AnnotationID,
		CanonicalID:       b.Annotation.CanonicalID,
		ContributorHandle: b.Annotation.ContributorHandle,
		BundleID:          b.Header.BundleID,
		BundleOperation:   b.Header.Operation,
		BundleUpdatedAt:   formatTimestamp(b.Header.UpdatedAt),
		Checksum:          checksum,
	}
}

// LoadManifest reads the community manifest. A missing file is empty; one
// that cannot be parsed is a *errors.ManifestError.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{Entries: make(map[string]ManifestEntry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.WrapIO("read", path, err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.NewManifestError(path, err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]ManifestEntry)
	}
	return m, nil
}

// Save writes the manifest as indented JSON with sorted keys.
func (m *Manifest) Save(path string) error {
	return save.Write(m, save.WithPath(path))
}
