package corpus

import (
	"context"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/reconciler"
	"github.com/agentstation/grimoire/pkg/save"
)

// Snapshot is the YAML form of one exported corpus.
type Snapshot struct {
	RunID    string                   `yaml:"run_id"`
	Entities []entity.CanonicalEntity `yaml:"entities"`
}

// Export applies one run to the corpus in dir. An entity is written when it
// is not stored yet or when changed reports true for it (nil writes all);
// stored entities absent from entities are removed. The YAML snapshot is
// then rewritten from the stored corpus.
func Export(ctx context.Context, dir string, run Run, entities []entity.CanonicalEntity, changed func(entity.CanonicalEntity) bool) (ApplyStats, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}

	store, err := Open(ctx, filepath.Join(dir, constants.CorpusDBFileName))
	if err != nil {
		return ApplyStats{}, err
	}
	defer func() { _ = store.Close() }()

	stored, err := store.EntityRuns(ctx)
	if err != nil {
		return ApplyStats{}, err
	}
	keep := make([]string, 0, len(entities))
	var writes []entity.CanonicalEntity
	for _, e := range entities {
		key := reconciler.EntityKey(e)
		if key == "" {
			continue
		}
		keep = append(keep, key)
		if _, ok := stored[key]; !ok || changed == nil || changed(e) {
			writes = append(writes, e)
		}
	}

	stats, err := store.Apply(ctx, run, writes, keep)
	if err != nil {
		return stats, err
	}
	current, err := store.Entities(ctx)
	if err != nil {
		return stats, err
	}
	err = WriteSnapshot(ctx, filepath.Join(dir, constants.CorpusYAMLFileName), Snapshot{RunID: run.ID, Entities: current})
	return stats, err
}

// WriteSnapshot writes snap as YAML, replacing path atomically.
func WriteSnapshot(ctx context.Context, path string, snap Snapshot) error {
	if err := save.Write(snap, save.WithPath(path), save.WithFormat(save.FormatYAML)); err != nil {
		return err
	}
	logging.FromContext(ctx).Info().
		Str("path", path).
		Int("entities", len(snap.Entities)).
		Msg("Wrote corpus snapshot")
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingInputError("file", path, err)
		}
		return nil, errors.WrapIO("read", path, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, errors.WrapParse("yaml", path, err)
	}
	return &snap, nil
}
