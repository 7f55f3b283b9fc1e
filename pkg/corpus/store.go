// Package corpus persists the reconciled canonical corpus. It is the storage
// boundary: provenance, sources and fields are typed everywhere else and only
// serialized to JSON strings here.
package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
	"github.com/agentstation/grimoire/pkg/provenance"
	"github.com/agentstation/grimoire/pkg/reconciler"
)

// Store is the SQLite-backed corpus.
type Store struct {
	db   *sql.DB
	path string
}

// Run describes one export of the corpus.
type Run struct {
	ID        string
	CreatedAt time.Time
	Entities  int
	Written   int
	Unmapped  int
}

// ApplyStats counts what one Apply changed.
type ApplyStats struct {
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    entities INTEGER NOT NULL,
    written INTEGER NOT NULL DEFAULT 0,
    unmapped INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
    entity_key TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    is_dlc INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    provenance_json TEXT NOT NULL DEFAULT '[]',
    sources_json TEXT NOT NULL DEFAULT '[]',
    fields_json TEXT NOT NULL DEFAULT '{}',
    run_id TEXT NOT NULL REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
`

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open initializes or connects to the corpus database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return nil, errors.WrapIO("create", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Replace swaps the stored corpus for entities in one transaction and records
// the run.
func (s *Store) Replace(ctx context.Context, run Run, entities []entity.CanonicalEntity) error {
	keep := make([]string, 0, len(entities))
	for _, e := range entities {
		if key := reconciler.EntityKey(e); key != "" {
			keep = append(keep, key)
		}
	}
	_, err := s.Apply(ctx, run, entities, keep)
	return err
}

// Apply upserts changed, deletes every row whose key is not in keep and
// records the run, all in one transaction. Rows in keep that are not
// rewritten retain the run id of the run that last wrote them.
func (s *Store) Apply(ctx context.Context, run Run, changed []entity.CanonicalEntity, keep []string) (ApplyStats, error) {
	var stats ApplyStats

	existing, err := s.EntityRuns(ctx)
	if err != nil {
		return stats, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, entities, written, unmapped) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), len(keep), len(changed), run.Unmapped,
	); err != nil {
		return stats, fmt.Errorf("insert run: %w", err)
	}

	kept := make(map[string]struct{}, len(keep))
	for _, key := range keep {
		kept[key] = struct{}{}
	}
	for key := range existing {
		if _, ok := kept[key]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_key = ?`, key); err != nil {
			return stats, fmt.Errorf("delete entity %s: %w", key, err)
		}
		stats.Removed++
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (
            entity_key, entity_type, name, slug, is_dlc, description,
            provenance_json, sources_json, fields_json, run_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(entity_key) DO UPDATE SET
            entity_type = excluded.entity_type,
            name = excluded.name,
            slug = excluded.slug,
            is_dlc = excluded.is_dlc,
            description = excluded.description,
            provenance_json = excluded.provenance_json,
            sources_json = excluded.sources_json,
            fields_json = excluded.fields_json,
            run_id = excluded.run_id`)
	if err != nil {
		return stats, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := make(map[string]struct{}, len(changed))
	for _, e := range changed {
		key := reconciler.EntityKey(e)
		if key == "" {
			continue
		}
		prov, err := encodeJSON(e.Provenance, "[]")
		if err != nil {
			return stats, err
		}
		sources, err := encodeJSON(e.Sources, "[]")
		if err != nil {
			return stats, err
		}
		fields, err := encodeJSON(e.Fields, "{}")
		if err != nil {
			return stats, err
		}
		if _, err := stmt.ExecContext(ctx,
			key, string(e.EntityType), e.Name, e.Slug, e.IsDLC, e.Description,
			prov, sources, fields, run.ID,
		); err != nil {
			return stats, fmt.Errorf("upsert entity %s: %w", key, err)
		}
		written[key] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}

	stats.Written = len(written)
	for key := range kept {
		if _, ok := written[key]; !ok {
			stats.Unchanged++
		}
	}
	logging.FromContext(ctx).Info().
		Str("path", s.path).
		Int("written", stats.Written).
		Int("unchanged", stats.Unchanged).
		Int("removed", stats.Removed).
		Msg("Applied corpus changes")
	return stats, nil
}

// EntityRuns maps every stored entity key to the id of the run that last
// wrote it.
func (s *Store) EntityRuns(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_key, run_id FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("query entity runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var key, runID string
		if err := rows.Scan(&key, &runID); err != nil {
			return nil, fmt.Errorf("scan entity run: %w", err)
		}
		out[key] = runID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity runs: %w", err)
	}
	return out, nil
}

// Entities reads the stored corpus ordered by key, decoding the serialized
// columns back into typed values.
func (s *Store) Entities(ctx context.Context) ([]entity.CanonicalEntity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
            entity_type, name, slug, is_dlc, description,
            provenance_json, sources_json, fields_json
        FROM entities ORDER BY entity_key`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.CanonicalEntity
	for rows.Next() {
		var (
			e                       entity.CanonicalEntity
			entityType              string
			prov, sources, fieldsJS string
		)
		if err := rows.Scan(&entityType, &e.Name, &e.Slug, &e.IsDLC, &e.Description, &prov, &sources, &fieldsJS); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.EntityType = entity.Type(entityType)

		var list []provenance.Provenance
		if err := json.Unmarshal([]byte(prov), &list); err != nil {
			return nil, errors.WrapParse("json", s.path, err)
		}
		if len(list) > 0 {
			e.Provenance = list
		}
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			return nil, errors.WrapParse("json", s.path, err)
		}
		if len(e.Sources) == 0 {
			e.Sources = nil
		}
		if err := json.Unmarshal([]byte(fieldsJS), &e.Fields); err != nil {
			return nil, errors.WrapParse("json", s.path, err)
		}
		if len(e.Fields) == 0 {
			e.Fields = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// LastRun returns the most recent run.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	var (
		run       Run
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, entities, written, unmapped FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&run.ID, &createdAt, &run.Entities, &run.Written, &run.Unmapped)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("run", "latest")
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	return &run, nil
}

func encodeJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.WrapParse("json", "", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
