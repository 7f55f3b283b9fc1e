package reconcile

import (
	"cmp"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/agentstation/grimoire/internal/config"
	"github.com/agentstation/grimoire/internal/lock"
	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/corpus"
	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/manifest"
	"github.com/agentstation/grimoire/pkg/match"
	"github.com/agentstation/grimoire/pkg/provenance"
	"github.com/agentstation/grimoire/pkg/reconciler"
	"github.com/agentstation/grimoire/pkg/records"
)

// conflictColumns are checked for disagreement between records of a bucket.
var conflictColumns = []string{records.FieldDescription, records.FieldIsDLC}

// Options controls one reconcile run.
type Options struct {
	DryRun bool
	Force  bool
	Since  *time.Time
	RunID  string
}

// Summary is the outcome of one reconcile run.
type Summary struct {
	RunID     string   `json:"run_id"`
	UpToDate  bool     `json:"up_to_date"`
	Sources   int      `json:"sources"`
	Records   int      `json:"records"`
	Entities  int      `json:"entities"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Written   int      `json:"written"`
	Unchanged int      `json:"unchanged"`
	Removed   int      `json:"removed"`
	Matched   int      `json:"snippets_matched"`
	Unmapped  []string `json:"snippets_unmapped"`
	DryRun    bool     `json:"dry_run"`
}

// Run loads every configured source, reconciles them into canonical
// entities, attaches snippets and exports the corpus. When no source file
// changed since the last run the whole run is skipped unless forced or a
// since cutoff is given. Otherwise only entities with a record signature that
// needs processing are rewritten; Force rewrites all of them.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Summary, error) {
	if opts.RunID == "" {
		opts.RunID = logging.RunID(ctx)
	}
	if opts.RunID == "" {
		opts.RunID = corpus.NewRunID()
	}
	if err := requireSources(cfg); err != nil {
		return nil, err
	}
	ctx = logging.WithRunID(ctx, opts.RunID)
	logger := logging.FromContext(ctx)
	summary := &Summary{RunID: opts.RunID, DryRun: opts.DryRun, Unmapped: []string{}}

	if !opts.DryRun {
		l, err := lock.Acquire(cfg.ProcessedDir)
		if err != nil {
			return nil, err
		}
		defer func() { _ = l.Release() }()
	}

	var mopts []manifest.Option
	if opts.DryRun {
		mopts = append(mopts, manifest.WithReadOnly())
	}
	m, err := manifest.Load(ctx, cfg.ManifestPath, mopts...)
	if err != nil {
		return nil, err
	}

	hashes, changed, err := sourceHashes(cfg, m)
	if err != nil {
		return nil, err
	}
	if !changed && !opts.Force && opts.Since == nil && corpusExists(cfg) {
		logger.Info().Msg("No source changes since last run")
		summary.UpToDate = true
		return summary, nil
	}

	loaders := make([]records.Loader, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		loaders = append(loaders, records.FileLoader{
			Path:       src.Path,
			Source:     sourceName(src),
			Priority:   cfg.LoaderPriority(src, sourceName(src)),
			Dataset:    datasetName(src),
			EntityType: src.EntityType,
			Mode:       src.Mode,
		})
	}
	recs, err := records.LoadSourceRecords(ctx, cfg.RawRoot, loaders...)
	if err != nil {
		return nil, err
	}
	summary.Records = len(recs)

	lists := sourceLists(ctx, cfg, recs)
	summary.Sources = len(lists)

	var snippets []reconciler.Snippet
	for _, path := range cfg.Snippets {
		s, err := loadSnippets(cfg.RawRoot, path)
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, s...)
	}

	result, err := reconciler.ReconcileAllSources(ctx, lists, snippets, reconciler.WithThreshold(cfg.FuzzyThreshold))
	if err != nil {
		return nil, err
	}
	summary.Entities = len(result.Entities)
	summary.Matched = len(result.Matched)
	for _, u := range result.Unmapped {
		summary.Unmapped = append(summary.Unmapped, u.Snippet.Name)
	}

	now := time.Now()
	changedKeys := make(map[string]bool, len(result.Entities))
	for _, e := range result.Entities {
		key := reconciler.EntityKey(e)
		digest := provenanceDigest(e.Provenance)
		signed := false
		for _, p := range e.Provenance {
			if p.Dataset == "" {
				continue
			}
			signed = true
			sig := manifest.BuildSignature(p.Dataset, string(e.EntityType), e.Slug, p.SourceFile, digest)
			if opts.Force || m.ShouldProcess(p.Dataset, sig, opts.Since) {
				summary.Processed++
				changedKeys[key] = true
				m.RecordSignature(p.Dataset, sig, now)
			} else {
				summary.Skipped++
			}
		}
		if !signed {
			changedKeys[key] = true
		}
	}
	for _, h := range hashes {
		m.UpdateFileHash(h.dataset, h.file, h.sha)
	}

	if opts.DryRun {
		return summary, nil
	}
	stats, err := corpus.Export(ctx, cfg.ProcessedDir, corpus.Run{
		ID:        opts.RunID,
		CreatedAt: now,
		Unmapped:  len(result.Unmapped),
	}, result.Entities, func(e entity.CanonicalEntity) bool {
		return changedKeys[reconciler.EntityKey(e)]
	})
	if err != nil {
		return nil, err
	}
	summary.Written = stats.Written
	summary.Unchanged = stats.Unchanged
	summary.Removed = stats.Removed
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}

// provenanceDigest folds every provenance identity of an entity into one
// string, so a signature changes when any contributing file changes or a
// contributor disappears.
func provenanceDigest(list []provenance.Provenance) string {
	keys := make([]string, 0, len(list))
	for _, p := range list {
		keys = append(keys, p.Key().String())
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}

// sourceLists groups records by source and canonicalizes each entity type of
// a source separately, so types never share a bucket. A source list ranks at
// its override from source_priorities, or else at the best normalized
// priority among its records.
func sourceLists(ctx context.Context, cfg *config.Config, recs []*records.SourceRecord) []reconciler.SourceList {
	type group struct {
		priority int
		byType   map[string][]*records.SourceRecord
		types    []string
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range recs {
		priority := cfg.PriorityFor(r.Source, r.Priority)
		g, ok := groups[r.Source]
		if !ok {
			g = &group{priority: priority, byType: make(map[string][]*records.SourceRecord)}
			groups[r.Source] = g
			order = append(order, r.Source)
		}
		g.priority = min(g.priority, priority)
		t := r.Get(records.FieldEntityType)
		if _, seen := g.byType[t]; !seen {
			g.types = append(g.types, t)
		}
		g.byType[t] = append(g.byType[t], r)
	}

	lists := make([]reconciler.SourceList, 0, len(order))
	for _, source := range order {
		g := groups[source]
		list := reconciler.SourceList{Source: source, Priority: g.priority}
		for _, t := range g.types {
			buckets := match.BuildBuckets(g.byType[t])
			match.LogConflicts(logging.WithEntityType(logging.WithSource(ctx, source), t), buckets, conflictColumns)
			list.Entities = append(list.Entities, match.Canonicalize(entity.Type(t), buckets)...)
		}
		lists = append(lists, list)
	}
	return lists
}

type fileHash struct {
	dataset string
	file    string
	sha     string
}

// sourceHashes hashes every configured source and snippet file and reports
// whether any differs from the manifest.
func sourceHashes(cfg *config.Config, m *manifest.Manifest) ([]fileHash, bool, error) {
	var (
		out     []fileHash
		changed bool
	)
	add := func(dataset, file string) error {
		full := file
		if !filepath.IsAbs(full) {
			full = filepath.Join(cfg.RawRoot, file)
		}
		sha, err := manifest.HashFile(full)
		if err != nil {
			return err
		}
		if m.FileChanged(dataset, file, sha) {
			changed = true
		}
		out = append(out, fileHash{dataset: dataset, file: file, sha: sha})
		return nil
	}

	for _, src := range cfg.Sources {
		if err := add(datasetName(src), src.Path); err != nil {
			return nil, false, err
		}
	}
	for _, path := range cfg.Snippets {
		if err := add("snippets", path); err != nil {
			return nil, false, err
		}
	}
	slices.SortFunc(out, func(a, b fileHash) int {
		return cmp.Or(cmp.Compare(a.dataset, b.dataset), cmp.Compare(a.file, b.file))
	})
	return out, changed, nil
}

func corpusExists(cfg *config.Config) bool {
	_, err := os.Stat(filepath.Join(cfg.ProcessedDir, constants.CorpusYAMLFileName))
	return err == nil
}

func sourceName(src config.Source) string {
	if src.Name != "" {
		return src.Name
	}
	return filepath.Base(src.Path)
}

func datasetName(src config.Source) string {
	if src.Dataset != "" {
		return src.Dataset
	}
	return sourceName(src)
}

func requireSources(cfg *config.Config) error {
	if len(cfg.Sources) == 0 {
		return &errors.ConfigError{
			Component: "reconcile",
			Message:   "no sources configured",
		}
	}
	return nil
}
