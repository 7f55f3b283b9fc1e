package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/provenance"
	"github.com/agentstation/grimoire/pkg/reconciler"
)

// snippetRow is one entry of a snippet file.
type snippetRow struct {
	Name       string `yaml:"name"`
	Text       string `yaml:"text"`
	EntityType string `yaml:"entity_type"`
	Source     string `yaml:"source"`
}

// loadSnippets reads a YAML or JSON array of free-text snippets. Every
// snippet carries provenance pointing back at the file.
func loadSnippets(rawRoot, path string) ([]reconciler.Snippet, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(rawRoot, path)
	}
	data, err := os.ReadFile(full) //nolint:gosec // path comes from operator configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingInputError("file", full, err)
		}
		return nil, errors.WrapIO("read", full, err)
	}

	var rows []snippetRow
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, errors.WrapParse("yaml", full, err)
	}

	sum := sha256.Sum256(data)
	abs, _ := filepath.Abs(full)
	retrievedAt := time.Now().UTC()
	if info, err := os.Stat(full); err == nil {
		retrievedAt = info.ModTime().UTC()
	}
	defaultSource := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	out := make([]reconciler.Snippet, 0, len(rows))
	for _, row := range rows {
		source := row.Source
		if source == "" {
			source = defaultSource
		}
		out = append(out, reconciler.Snippet{
			Name:       row.Name,
			Text:       strings.TrimSpace(row.Text),
			EntityType: entity.Type(row.EntityType),
			Provenance: []provenance.Provenance{{
				Source:        source,
				SourceFile:    path,
				URI:           "file://" + filepath.ToSlash(abs),
				SHA256:        hex.EncodeToString(sum[:]),
				RetrievedAt:   retrievedAt,
				IngestionMode: "snippet",
			}},
		})
	}
	return out, nil
}
