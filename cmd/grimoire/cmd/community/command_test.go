package community

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/internal/appcontext"
	"github.com/agentstation/grimoire/internal/config"
	"github.com/agentstation/grimoire/pkg/community"
)

const bundleYAML = `bundle:
  bundle_id: b1
  operation: create
  updated_at: "2024-06-01T10:00:00Z"
annotation:
  annotation_id: ann-1
  canonical_id: weapon:moonlight greatsword
  contributor_handle: ranni
  body: Carian heirloom
`

func TestIngestCommand(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		ProcessedDir: filepath.Join(root, "processed"),
		BundleDir:    filepath.Join(root, "bundles"),
		Actor:        "melina",
	}
	require.NoError(t, os.MkdirAll(cfg.BundleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.BundleDir, "b1.yaml"), []byte(bundleYAML), 0o644))

	run := func(args ...string) community.Result {
		cmd := NewCommand(&appcontext.Mock{ConfigFunc: func() *config.Config { return cfg }})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"ingest"}, args...))
		cmd.SetContext(context.Background())
		require.NoError(t, cmd.Execute())

		var res community.Result
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		return res
	}

	res := run("--dry-run")
	assert.Equal(t, 1, res.Created)
	_, err := os.Stat(filepath.Join(cfg.ProcessedDir, "annotations.json"))
	assert.True(t, os.IsNotExist(err))

	res = run()
	assert.Equal(t, 1, res.Created)

	res = run()
	assert.Equal(t, 1, res.Skipped)

	log, err := os.ReadFile(community.New(cfg.ProcessedDir).AuditLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(log), "actor=melina")
}
