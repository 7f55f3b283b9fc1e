package corpus_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/corpus"
	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/provenance"
)

func sampleEntities() []entity.CanonicalEntity {
	return []entity.CanonicalEntity{
		{
			EntityType:  entity.TypeWeapon,
			Name:        "Moonlight Greatsword",
			Slug:        "moonlight-greatsword",
			IsDLC:       true,
			Description: "DLC text",
			Provenance: []provenance.Provenance{{
				Source:      "kaggle_dlc",
				URI:         "file:///raw/dlc.json",
				SHA256:      "abc",
				RetrievedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			}},
			Sources: []string{"kaggle_base", "kaggle_dlc"},
			Fields:  map[string]any{"weight": "10.5"},
		},
		{EntityType: entity.TypeBoss, Name: "Radahn", Slug: "radahn"},
	}
}

func TestStoreReplaceAndRead(t *testing.T) {
	ctx := context.Background()
	store, err := corpus.Open(ctx, filepath.Join(t.TempDir(), "db", constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.LastRun(ctx)
	assert.True(t, errors.IsNotFound(err))

	runID := corpus.NewRunID()
	require.NoError(t, store.Replace(ctx, corpus.Run{ID: runID, Unmapped: 3}, sampleEntities()))

	got, err := store.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// ordered by entity key: "boss:radahn" < "weapon:moonlight greatsword"
	assert.Equal(t, "Radahn", got[0].Name)
	assert.Nil(t, got[0].Provenance)
	assert.Nil(t, got[0].Fields)

	mg := got[1]
	assert.True(t, mg.IsDLC)
	assert.Equal(t, "DLC text", mg.Description)
	assert.Equal(t, []string{"kaggle_base", "kaggle_dlc"}, mg.Sources)
	require.Len(t, mg.Provenance, 1)
	assert.Equal(t, "kaggle_dlc", mg.Provenance[0].Source)
	assert.True(t, mg.Provenance[0].RetrievedAt.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "10.5", mg.Fields["weight"])

	run, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, 2, run.Entities)
	assert.Equal(t, 3, run.Unmapped)
}

func TestStoreReplaceSwapsCorpus(t *testing.T) {
	ctx := context.Background()
	store, err := corpus.Open(ctx, filepath.Join(t.TempDir(), constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Replace(ctx, corpus.Run{ID: corpus.NewRunID()}, sampleEntities()))
	require.NoError(t, store.Replace(ctx, corpus.Run{ID: corpus.NewRunID()}, sampleEntities()[1:]))

	got, err := store.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Radahn", got[0].Name)
}

func TestLastRunOrdersByTime(t *testing.T) {
	ctx := context.Background()
	store, err := corpus.Open(ctx, filepath.Join(t.TempDir(), constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	base := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	later := base.Add(100 * time.Millisecond)
	require.NoError(t, store.Replace(ctx, corpus.Run{ID: "later", CreatedAt: later}, nil))
	require.NoError(t, store.Replace(ctx, corpus.Run{ID: "earlier", CreatedAt: base}, nil))

	run, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", run.ID)
	assert.True(t, run.CreatedAt.Equal(later))
}

func TestExportWritesDatabaseAndSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	stats, err := corpus.Export(ctx, dir, corpus.Run{ID: "run-1"}, sampleEntities(), nil)
	require.NoError(t, err)
	assert.Equal(t, corpus.ApplyStats{Written: 2}, stats)

	snap, err := corpus.ReadSnapshot(filepath.Join(dir, constants.CorpusYAMLFileName))
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.RunID)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "Radahn", snap.Entities[0].Name)
	assert.Equal(t, "Moonlight Greatsword", snap.Entities[1].Name)
	assert.Equal(t, []string{"kaggle_base", "kaggle_dlc"}, snap.Entities[1].Sources)

	store, err := corpus.Open(ctx, filepath.Join(dir, constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	got, err := store.Entities(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExportSkipsUnchangedEntities(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	entities := sampleEntities()

	_, err := corpus.Export(ctx, dir, corpus.Run{ID: "run-1"}, entities, nil)
	require.NoError(t, err)

	// only the boss changed; the weapon row must keep its first write
	entities[0].Description = "not written"
	entities[1].Description = "Lord of the stars"
	onlyBoss := func(e entity.CanonicalEntity) bool { return e.EntityType == entity.TypeBoss }
	stats, err := corpus.Export(ctx, dir, corpus.Run{ID: "run-2"}, entities, onlyBoss)
	require.NoError(t, err)
	assert.Equal(t, corpus.ApplyStats{Written: 1, Unchanged: 1}, stats)

	store, err := corpus.Open(ctx, filepath.Join(dir, constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	runs, err := store.EntityRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"boss:radahn":                 "run-2",
		"weapon:moonlight greatsword": "run-1",
	}, runs)

	got, err := store.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lord of the stars", got[0].Description)
	assert.Equal(t, "DLC text", got[1].Description)

	// entities no longer produced are pruned
	stats, err = corpus.Export(ctx, dir, corpus.Run{ID: "run-3"}, entities[1:], onlyBoss)
	require.NoError(t, err)
	assert.Equal(t, corpus.ApplyStats{Written: 1, Removed: 1}, stats)

	snap, err := corpus.ReadSnapshot(filepath.Join(dir, constants.CorpusYAMLFileName))
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "Radahn", snap.Entities[0].Name)
}

func TestReadSnapshotMissing(t *testing.T) {
	_, err := corpus.ReadSnapshot(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsNotFound(err))
}
