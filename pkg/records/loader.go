package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
)

// Loader extracts flat field maps from one source under a raw data root.
type Loader interface {
	// Name identifies the loader in logs and errors.
	Name() string

	// Load returns one field map per record.
	Load(ctx context.Context, rawRoot string) ([]map[string]any, error)
}

// LoadSourceRecords runs every loader against rawRoot and converts the
// results into SourceRecords. The first loader error aborts the whole load;
// no source is ever skipped silently at this layer.
func LoadSourceRecords(ctx context.Context, rawRoot string, loaders ...Loader) ([]*SourceRecord, error) {
	if _, err := os.Stat(rawRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingInputError("directory", rawRoot, err)
		}
		return nil, errors.WrapIO("stat", rawRoot, err)
	}

	logger := logging.FromContext(ctx)
	var out []*SourceRecord
	for _, loader := range loaders {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapCanceled(err)
		}
		rows, err := loader.Load(ctx, rawRoot)
		if err != nil {
			return nil, fmt.Errorf("loader %s: %w", loader.Name(), err)
		}
		for _, row := range rows {
			out = append(out, FromFields(row))
		}
		logger.Debug().
			Str("loader", loader.Name()).
			Int("records", len(rows)).
			Msg("Loaded source records")
	}
	return out, nil
}

// FileLoader reads a YAML or JSON array of field maps from a file below the
// raw root and stamps every row with its source, priority and provenance.
type FileLoader struct {
	Path       string // relative to rawRoot unless absolute
	Source     string
	Priority   *int // stamped on rows without source_priority; nil leaves them at the default
	Dataset    string
	EntityType string
	Mode       string // ingestion mode recorded in provenance, e.g. "full"
}

// Name identifies the loader.
func (l FileLoader) Name() string {
	if l.Source != "" {
		return l.Source
	}
	return filepath.Base(l.Path)
}

// Load implements Loader.
func (l FileLoader) Load(_ context.Context, rawRoot string) ([]map[string]any, error) {
	path := l.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(rawRoot, path)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingInputError("file", path, err)
		}
		return nil, errors.WrapIO("read", path, err)
	}

	var rows []map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, errors.WrapParse("yaml", path, err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	retrievedAt := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		retrievedAt = info.ModTime().UTC()
	}
	abs, _ := filepath.Abs(path)

	for i, row := range rows {
		if row == nil {
			row = make(map[string]any)
			rows[i] = row
		}
		setDefault(row, FieldSource, l.Source)
		setDefault(row, FieldDataset, l.Dataset)
		setDefault(row, FieldEntityType, l.EntityType)
		setDefault(row, FieldIngestionMode, l.Mode)
		if _, ok := row[FieldSourcePriority]; !ok && l.Priority != nil {
			row[FieldSourcePriority] = *l.Priority
		}
		if _, ok := row[FieldSourceID]; !ok {
			row[FieldSourceID] = fmt.Sprintf("%s:%d", l.Name(), i)
		}
		row[FieldSourceFile] = l.Path
		row[FieldURI] = "file://" + filepath.ToSlash(abs)
		row[FieldSHA256] = digest
		row[FieldRetrievedAt] = retrievedAt.Format(time.RFC3339Nano)
	}
	return rows, nil
}

func setDefault(row map[string]any, key, value string) {
	if value == "" {
		return
	}
	if v, ok := row[key]; !ok || v == nil || v == "" {
		row[key] = value
	}
}
