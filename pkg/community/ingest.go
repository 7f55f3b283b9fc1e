package community

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/save"
)

// ReasonStaleBundle marks an incoming bundle whose updated_at does not
// strictly exceed the recorded one.
const ReasonStaleBundle = "stale_bundle"

// Options controls one Ingest call.
type Options struct {
	// DryRun computes and counts every transition but writes nothing.
	DryRun bool
	// Force applies stale bundles without reporting a conflict.
	Force bool
	// AllowConflicts applies stale bundles but still reports the conflict.
	AllowConflicts bool
	// FailOnConflict makes any conflict fail the run with *errors.ConflictError.
	// Only conflict artifacts are written in that case.
	FailOnConflict bool
	// Actor is recorded in audit log lines.
	Actor string
}

// ConflictRecord reports a bundle that could not be safely applied.
type ConflictRecord struct {
	AnnotationID string `json:"annotation_id"`
	BundleID     string `json:"bundle_id"`
	Reason       string `json:"reason"`
	ConflictPath string `json:"conflict_path"`
}

// Result counts the transitions of one Ingest call.
type Result struct {
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Deleted   int              `json:"deleted"`
	Skipped   int              `json:"skipped"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// conflictArtifact is the JSON written for each conflict.
type conflictArtifact struct {
	Reason        string         `json:"reason"`
	Bundle        Summary        `json:"bundle"`
	ManifestEntry *ManifestEntry `json:"manifest_entry"`
}

// snapshot is the standalone state file of one applied annotation.
type snapshot struct {
	ManifestEntry ManifestEntry `json:"manifest_entry"`
	Annotation    Annotation    `json:"annotation"`
}

// Store is the processed community state rooted at one directory.
type Store struct {
	dir       string
	bundleDir string
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBundleDir sets where Ingest looks for bundles when given no paths.
func WithBundleDir(dir string) Option {
	return func(s *Store) {
		s.bundleDir = dir
	}
}

// WithClock overrides the time source used for audit log lines.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns a Store that persists under dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:       dir,
		bundleDir: filepath.Join(dir, constants.BundleDirName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string { return s.dir }

// ManifestPath returns the community manifest file.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.dir, constants.CommunityManifestFileName)
}

// AuditLogPath returns the append-only provenance log.
func (s *Store) AuditLogPath() string {
	return filepath.Join(s.dir, constants.AuditLogFileName)
}

// ConflictPath returns the artifact file for a conflicting bundle.
func (s *Store) ConflictPath(annotationID, bundleID string) string {
	return filepath.Join(s.dir, constants.ConflictDirName, annotationID+"_"+bundleID+".json")
}

// StatePath returns the standalone snapshot of an annotation.
func (s *Store) StatePath(annotationID string) string {
	return filepath.Join(s.dir, constants.StateDirName, annotationID+".json")
}

// run is the in-memory state of one Ingest call.
type run struct {
	tables    *Tables
	manifest  *Manifest
	dirty     bool
	audit     []string
	snapshots map[string]*snapshot // nil value means delete
	artifacts map[string]conflictArtifact
}

// Ingest merges bundles into the store. With no paths, every bundle file in
// the bundle directory is read. Directories are expanded to their bundle
// files in name order; bundles are applied in the resulting order.
//
// State is loaded once, mutated in memory and written once at the end of a
// successful non-dry run. Conflicts are data, not errors, unless
// FailOnConflict is set.
func (s *Store) Ingest(ctx context.Context, paths []string, opts Options) (*Result, error) {
	logger := logging.FromContext(ctx)

	files, err := s.bundleFiles(paths)
	if err != nil {
		return nil, err
	}
	bundles := make([]*Bundle, 0, len(files))
	for _, path := range files {
		b, err := LoadBundle(path)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}

	tables, err := LoadTables(s.dir)
	if err != nil {
		return nil, err
	}
	m, err := LoadManifest(s.ManifestPath())
	if err != nil {
		return nil, err
	}

	r := &run{
		tables:    tables,
		manifest:  m,
		snapshots: make(map[string]*snapshot),
		artifacts: make(map[string]conflictArtifact),
	}
	result := &Result{Conflicts: []ConflictRecord{}}
	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapCanceled(err)
		}
		if err := s.apply(ctx, r, result, b, opts); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Int("bundles", len(bundles)).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("skipped", result.Skipped).
		Int("conflicts", len(result.Conflicts)).
		Bool("dry_run", opts.DryRun).
		Msg("Ingested community bundles")

	if opts.DryRun {
		return result, nil
	}
	if opts.FailOnConflict && len(result.Conflicts) > 0 {
		if err := s.writeArtifacts(r); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(result.Conflicts))
		for _, c := range result.Conflicts {
			ids = append(ids, c.AnnotationID)
		}
		return result, errors.NewConflictError(ids)
	}
	if err := s.persist(r); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) apply(ctx context.Context, r *run, result *Result, b *Bundle, opts Options) error {
	aid := b.Annotation.AnnotationID
	bid := b.Header.BundleID
	logger := logging.FromContext(logging.WithAnnotation(ctx, aid, bid))

	checksum, err := Checksum(b)
	if err != nil {
		return err
	}
	prior, exists := r.manifest.Entries[aid]

	if b.Header.Operation == OperationDelete {
		if !exists {
			logger.Debug().Msg("Delete of unknown annotation skipped")
			result.Skipped++
			return nil
		}
	} else if exists && prior.Checksum == checksum {
		logger.Debug().Msg("Unchanged bundle skipped")
		result.Skipped++
		return nil
	}

	if exists && !opts.Force && isStale(b, prior) {
		conflict := ConflictRecord{
			AnnotationID: aid,
			BundleID:     bid,
			Reason:       ReasonStaleBundle,
			ConflictPath: s.ConflictPath(aid, bid),
		}
		result.Conflicts = append(result.Conflicts, conflict)
		entry := prior
		r.artifacts[conflict.ConflictPath] = conflictArtifact{
			Reason:        conflict.Reason,
			Bundle:        b.summary(checksum),
			ManifestEntry: &entry,
		}
		logger.Warn().
			Str("reason", conflict.Reason).
			Str("incoming_updated_at", formatTimestamp(b.Header.UpdatedAt)).
			Str("recorded_updated_at", prior.BundleUpdatedAt).
			Bool("applied", opts.AllowConflicts).
			Msg("Stale bundle conflict")
		if !opts.AllowConflicts {
			return nil
		}
	}

	now := formatTimestamp(s.now())
	actor := opts.Actor
	if actor == "" {
		actor = "unknown"
	}

	if b.Header.Operation == OperationDelete {
		r.tables.Remove(aid)
		delete(r.manifest.Entries, aid)
		r.snapshots[aid] = nil
		r.audit = append(r.audit, auditLine(now, "delete", aid, bid, actor))
		r.dirty = true
		result.Deleted++
		logger.Info().Msg("Deleted annotation")
		return nil
	}

	entry := newManifestEntry(b, checksum)
	r.tables.Replace(b)
	r.manifest.Entries[aid] = entry
	r.snapshots[aid] = &snapshot{ManifestEntry: entry, Annotation: b.Annotation}
	r.audit = append(r.audit, auditLine(now, "upsert", aid, bid, actor))
	r.dirty = true
	if exists {
		result.Updated++
		logger.Info().Msg("Updated annotation")
	} else {
		result.Created++
		logger.Info().Msg("Created annotation")
	}
	return nil
}

// isStale reports whether b does not strictly postdate the recorded write.
// An unreadable recorded timestamp never blocks a write.
func isStale(b *Bundle, prior ManifestEntry) bool {
	recorded, ok := parseTimestamp(prior.BundleUpdatedAt)
	if !ok {
		return false
	}
	return !b.Header.UpdatedAt.After(recorded)
}

func auditLine(ts, action, annotationID, bundleID, actor string) string {
	return fmt.Sprintf("[%s] action=%s annotation_id=%s bundle_id=%s actor=%s",
		ts, action, annotationID, bundleID, actor)
}

func (s *Store) persist(r *run) error {
	if r.dirty {
		if err := r.tables.Save(s.dir); err != nil {
			return err
		}
		if err := r.manifest.Save(s.ManifestPath()); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(r.snapshots))
	for id := range r.snapshots {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		path := s.StatePath(id)
		snap := r.snapshots[id]
		if snap == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.WrapIO("delete", path, err)
			}
			continue
		}
		if err := save.Write(snap, save.WithPath(path)); err != nil {
			return err
		}
	}

	if err := s.writeArtifacts(r); err != nil {
		return err
	}
	return s.appendAudit(r.audit)
}

func (s *Store) writeArtifacts(r *run) error {
	paths := make([]string, 0, len(r.artifacts))
	for p := range r.artifacts {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if err := save.Write(r.artifacts[p], save.WithPath(p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendAudit(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	path := s.AuditLogPath()
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return errors.WrapIO("create", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.FilePermissions)
	if err != nil {
		return errors.WrapIO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}

// bundleFiles expands paths into the ordered list of bundle files.
func (s *Store) bundleFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{s.bundleDir}
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewMissingInputError("bundle", p, err)
			}
			return nil, errors.WrapIO("stat", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errors.WrapIO("read", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() && isBundleFile(e.Name()) {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}
