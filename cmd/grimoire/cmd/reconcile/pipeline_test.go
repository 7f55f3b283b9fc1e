package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/internal/appcontext"
	"github.com/agentstation/grimoire/internal/config"
	"github.com/agentstation/grimoire/internal/utils/ptr"
	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/corpus"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	raw := filepath.Join(root, "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))

	files := map[string]string{
		"base.yaml": `- name: Moonlight Greatsword
  description: ""
- name: Uchigatana
  description: Katana
`,
		"dlc.yaml": `- name: Moonlight Greatsword
  description: DLC text
  is_dlc: true
`,
		"bosses.yaml": `- name: Starscourge Radahn
`,
		"lore.yaml": `- name: moonlight greatsword
  text: Carian heirloom
- name: Something Unknown
  text: Nobody knows
`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(raw, name), []byte(body), 0o644))
	}

	processed := filepath.Join(root, "processed")
	return &config.Config{
		RawRoot:        raw,
		ProcessedDir:   processed,
		ManifestPath:   filepath.Join(processed, constants.ManifestFileName),
		FuzzyThreshold: constants.DefaultFuzzyThreshold,
		SourcePriorities: map[string]int{
			"kaggle_dlc": 1,
		},
		Sources: []config.Source{
			{Name: "kaggle_base", Path: "base.yaml", Priority: ptr.To(2), Dataset: "weapons", EntityType: "weapon"},
			{Name: "kaggle_base", Path: "bosses.yaml", Priority: ptr.To(2), Dataset: "bosses", EntityType: "boss"},
			{Name: "kaggle_dlc", Path: "dlc.yaml", Priority: ptr.To(5), Dataset: "weapons", EntityType: "weapon"},
		},
		Snippets: []string{"lore.yaml"},
	}
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	summary, err := Run(ctx, cfg, Options{RunID: "run-1"})
	require.NoError(t, err)
	assert.False(t, summary.UpToDate)
	assert.Equal(t, 2, summary.Sources)
	assert.Equal(t, 4, summary.Records)
	assert.Equal(t, 3, summary.Entities)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, []string{"Something Unknown"}, summary.Unmapped)
	assert.Positive(t, summary.Processed)

	snap, err := corpus.ReadSnapshot(filepath.Join(cfg.ProcessedDir, constants.CorpusYAMLFileName))
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.RunID)

	var mg bool
	for _, e := range snap.Entities {
		if e.Name == "Moonlight Greatsword" {
			mg = true
			assert.Equal(t, "DLC text\n\nCarian heirloom", e.Description)
			assert.True(t, e.IsDLC)
			assert.Equal(t, []string{"kaggle_base", "kaggle_dlc", "lore"}, e.Sources)
		}
	}
	assert.True(t, mg)

	// nothing changed: the second run is skipped
	again, err := Run(ctx, cfg, Options{})
	require.NoError(t, err)
	assert.True(t, again.UpToDate)

	// forced: every entity is rewritten even though its signatures are recorded
	forced, err := Run(ctx, cfg, Options{Force: true})
	require.NoError(t, err)
	assert.Positive(t, forced.Processed)
	assert.Zero(t, forced.Skipped)
	assert.Equal(t, 3, forced.Written)
	assert.Zero(t, forced.Unchanged)
}

func TestRunZeroPriorityWins(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RawRoot, "official.yaml"), []byte(`- name: Uchigatana
  description: Official
  source_priority: 0
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RawRoot, "patch.yaml"), []byte(`- name: Starscourge Radahn
  description: Patched
`), 0o644))
	cfg.Sources = append(cfg.Sources,
		config.Source{Name: "official", Path: "official.yaml", Dataset: "weapons", EntityType: "weapon"},
		config.Source{Name: "patch", Path: "patch.yaml", Priority: ptr.To(-1), Dataset: "bosses", EntityType: "boss"},
	)

	_, err := Run(context.Background(), cfg, Options{RunID: "run-1"})
	require.NoError(t, err)

	snap, err := corpus.ReadSnapshot(filepath.Join(cfg.ProcessedDir, constants.CorpusYAMLFileName))
	require.NoError(t, err)
	descriptions := make(map[string]string)
	for _, e := range snap.Entities {
		descriptions[e.Name] = e.Description
	}
	assert.Equal(t, "Official", descriptions["Uchigatana"], "priority 0 beats priority 2")
	assert.Equal(t, "Patched", descriptions["Starscourge Radahn"], "negative priority beats priority 2")
}

func TestRunRewritesOnlyChangedEntities(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := Run(ctx, cfg, Options{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Written)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.RawRoot, "bosses.yaml"),
		[]byte("- name: Starscourge Radahn\n  description: Lord of the stars\n"), 0o644))

	second, err := Run(ctx, cfg, Options{RunID: "run-2"})
	require.NoError(t, err)
	assert.False(t, second.UpToDate)
	assert.Equal(t, 1, second.Written)
	assert.Equal(t, 2, second.Unchanged)
	assert.Positive(t, second.Skipped)

	store, err := corpus.Open(ctx, filepath.Join(cfg.ProcessedDir, constants.CorpusDBFileName))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.EntityRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"boss:starscourge radahn":     "run-2",
		"weapon:moonlight greatsword": "run-1",
		"weapon:uchigatana":           "run-1",
	}, runs)

	snap, err := corpus.ReadSnapshot(filepath.Join(cfg.ProcessedDir, constants.CorpusYAMLFileName))
	require.NoError(t, err)
	assert.Equal(t, "run-2", snap.RunID)
	assert.Len(t, snap.Entities, 3)
}

func TestRunAdoptsContextRunID(t *testing.T) {
	cfg := testConfig(t)
	tl := logging.NewTestLogger(t)
	ctx := logging.WithRunID(logging.WithLogger(context.Background(), tl.Logger), "cli-run")

	summary, err := Run(ctx, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "cli-run", summary.RunID)

	entries := tl.Entries()
	require.NotEmpty(t, entries)
	for _, line := range strings.Split(strings.TrimSpace(tl.Output()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"run_id"`), 1, line)
	}
	e, ok := tl.Find("Applied corpus changes")
	require.True(t, ok)
	assert.Equal(t, "cli-run", e["run_id"])
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	summary, err := Run(context.Background(), cfg, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)

	_, err = os.Stat(cfg.ProcessedDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRunMissingSourceFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = append(cfg.Sources, config.Source{Name: "absent", Path: "absent.yaml"})

	_, err := Run(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunRequiresSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = nil
	_, err := Run(context.Background(), cfg, Options{})
	var ce *errors.ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestCommandPrintsSummary(t *testing.T) {
	cfg := testConfig(t)
	cmd := NewCommand(&appcontext.Mock{ConfigFunc: func() *config.Config { return cfg }})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dry-run"})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())

	var summary Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 3, summary.Entities)
	assert.True(t, summary.DryRun)
}
