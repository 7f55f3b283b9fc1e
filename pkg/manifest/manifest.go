// Package manifest records which (dataset, signature) pairs a previous run
// already processed, so later runs can skip unchanged records.
//
// All mutations are in memory until Save. A run that stops before Save
// leaves the file exactly as it was loaded, so work is reprocessed at least
// once and never silently lost.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/save"
)

// Dataset is the persisted state of one dataset key. Fields are declared in
// alphabetical order so the JSON encoding is key-sorted.
type Dataset struct {
	FileHashes   map[string]string `json:"file_hashes"`
	LastRecorded string            `json:"last_recorded,omitempty"`
	Records      map[string]string `json:"records"`
}

// document is the on-disk layout.
type document struct {
	Datasets  map[string]*Dataset `json:"datasets"`
	UpdatedAt string              `json:"updated_at,omitempty"`
	Version   int                 `json:"version"`
}

// Manifest is the incremental ingestion manifest. It is safe for concurrent
// use so datasets may be processed in parallel.
type Manifest struct {
	mu       sync.RWMutex
	path     string
	readOnly bool
	now      func() time.Time
	doc      document
}

// Option configures a Manifest.
type Option func(*Manifest)

// WithReadOnly makes Save a no-op. Dry runs use it.
func WithReadOnly() Option {
	return func(m *Manifest) {
		m.readOnly = true
	}
}

// WithClock overrides the time source used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manifest) {
		m.now = now
	}
}

// New returns an empty manifest that will be saved to path.
func New(path string, opts ...Option) *Manifest {
	m := &Manifest{
		path: path,
		now:  time.Now,
		doc: document{
			Version:  constants.ManifestVersion,
			Datasets: make(map[string]*Dataset),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the manifest at path. A missing file yields an empty manifest.
// A file that exists but cannot be parsed is fatal and reported as a
// *errors.ManifestError.
func Load(ctx context.Context, path string, opts ...Option) (*Manifest, error) {
	m := New(path, opts...)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.FromContext(ctx).Debug().
				Str("path", path).
				Msg("No manifest found, starting empty")
			return m, nil
		}
		return nil, errors.WrapIO("read", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewManifestError(path, err)
	}
	if doc.Version == 0 {
		doc.Version = constants.ManifestVersion
	}
	if doc.Datasets == nil {
		doc.Datasets = make(map[string]*Dataset)
	}
	for key, ds := range doc.Datasets {
		if ds == nil {
			ds = &Dataset{}
			doc.Datasets[key] = ds
		}
		ds.init()
	}
	m.doc = doc

	logging.FromContext(ctx).Debug().
		Str("path", path).
		Int("datasets", len(doc.Datasets)).
		Msg("Loaded manifest")
	return m, nil
}

func (d *Dataset) init() {
	if d.Records == nil {
		d.Records = make(map[string]string)
	}
	if d.FileHashes == nil {
		d.FileHashes = make(map[string]string)
	}
}

// Path returns the file the manifest saves to.
func (m *Manifest) Path() string {
	return m.path
}

// ReadOnly reports whether Save is disabled.
func (m *Manifest) ReadOnly() bool {
	return m.readOnly
}

// BuildSignature returns the hex SHA-256 of dataset and parts joined by "|".
// Parts must identify one logical record deterministically, for example a
// table name, an entity slug and a source file.
func BuildSignature(dataset string, parts ...string) string {
	sum := sha256.Sum256([]byte(dataset + constants.SignatureSeparator + strings.Join(parts, constants.SignatureSeparator)))
	return hex.EncodeToString(sum[:])
}

// ShouldSkip reports whether signature was already processed for dataset.
// Without a cutoff any recorded signature is skipped. With since, only
// signatures recorded strictly before since are skipped, which forces
// reprocessing of anything touched at or after the cutoff.
func (m *Manifest) ShouldSkip(dataset, signature string, since *time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.doc.Datasets[dataset]
	if !ok {
		return false
	}
	recorded, ok := ds.Records[signature]
	if !ok {
		return false
	}
	if since == nil {
		return true
	}
	ts, err := parseTimestamp(recorded)
	if err != nil {
		return false
	}
	return ts.Before(*since)
}

// ShouldProcess is the negation of ShouldSkip.
func (m *Manifest) ShouldProcess(dataset, signature string, since *time.Time) bool {
	return !m.ShouldSkip(dataset, signature, since)
}

// RecordSignature upserts the timestamp of signature. A zero ts records now.
// It also moves the dataset's last_recorded marker and the manifest's
// updated_at.
func (m *Manifest) RecordSignature(dataset, signature string, ts time.Time) {
	if ts.IsZero() {
		ts = m.now()
	}
	stamp := formatTimestamp(ts)

	m.mu.Lock()
	defer m.mu.Unlock()

	ds := m.dataset(dataset)
	ds.Records[signature] = stamp
	ds.LastRecorded = stamp
	m.doc.UpdatedAt = formatTimestamp(m.now())
}

// UpdateFileHash tracks the last seen content hash of a whole supporting file.
func (m *Manifest) UpdateFileHash(dataset, fileName, sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dataset(dataset).FileHashes[fileName] = sha
	m.doc.UpdatedAt = formatTimestamp(m.now())
}

// FileHash returns the recorded hash of fileName.
func (m *Manifest) FileHash(dataset, fileName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.doc.Datasets[dataset]
	if !ok {
		return "", false
	}
	sha, ok := ds.FileHashes[fileName]
	return sha, ok
}

// FileChanged reports whether sha differs from the recorded hash of fileName.
// A file never seen before counts as changed.
func (m *Manifest) FileChanged(dataset, fileName, sha string) bool {
	recorded, ok := m.FileHash(dataset, fileName)
	return !ok || recorded != sha
}

// Dataset returns a copy of the state recorded for dataset.
func (m *Manifest) Dataset(dataset string) (Dataset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.doc.Datasets[dataset]
	if !ok {
		return Dataset{}, false
	}
	out := Dataset{
		LastRecorded: ds.LastRecorded,
		Records:      make(map[string]string, len(ds.Records)),
		FileHashes:   make(map[string]string, len(ds.FileHashes)),
	}
	for k, v := range ds.Records {
		out.Records[k] = v
	}
	for k, v := range ds.FileHashes {
		out.FileHashes[k] = v
	}
	return out, true
}

// Datasets returns the recorded dataset keys in no particular order.
func (m *Manifest) Datasets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.doc.Datasets))
	for k := range m.doc.Datasets {
		keys = append(keys, k)
	}
	return keys
}

// UpdatedAt returns the manifest-wide modification marker.
func (m *Manifest) UpdatedAt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.UpdatedAt
}

// Save writes the manifest as indented, key-sorted JSON, replacing the file
// atomically. Read-only manifests are left untouched.
func (m *Manifest) Save(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	if m.readOnly {
		logger.Debug().Str("path", m.path).Msg("Read-only manifest, skipping save")
		return nil
	}
	if m.path == "" {
		return &errors.ConfigError{
			Component: "manifest",
			Message:   "no path configured for saving",
		}
	}

	m.mu.RLock()
	data, err := save.Encode(&m.doc, save.FormatJSON)
	m.mu.RUnlock()
	if err != nil {
		return errors.WrapResource("save", "manifest", m.path, err)
	}

	if err := save.WriteFile(m.path, data); err != nil {
		return err
	}
	logger.Info().Str("path", m.path).Msg("Saved manifest")
	return nil
}

// dataset returns the bucket for key, creating it. Callers hold the lock.
func (m *Manifest) dataset(key string) *Dataset {
	ds, ok := m.doc.Datasets[key]
	if !ok {
		ds = &Dataset{}
		ds.init()
		m.doc.Datasets[key] = ds
	}
	return ds
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewMissingInputError("file", path, err)
		}
		return "", errors.WrapIO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.WrapIO("read", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
