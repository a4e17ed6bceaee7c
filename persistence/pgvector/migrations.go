package pgvector

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS face_collections (
		name       TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL CHECK (dimension > 0),
		distance   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS face_vectors (
		collection TEXT NOT NULL REFERENCES face_collections(name) ON DELETE CASCADE,
		id         TEXT NOT NULL,
		embedding  vector NOT NULL,
		group_id   TEXT NOT NULL,
		person_id  TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS face_vectors_scope_idx
		ON face_vectors (collection, group_id, person_id)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *pgStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	return nil
}
