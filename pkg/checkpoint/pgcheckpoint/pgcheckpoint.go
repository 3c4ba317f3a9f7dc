// Package pgcheckpoint is a Postgres-backed checkpoint.Store, using the
// same version-guarded upsert style as pgstore's snapshot table.
package pgcheckpoint

import (
	"context"
	"database/sql"

	"eventflux/pkg/checkpoint"
)

// Store expects a schema:
//
//	CREATE TABLE checkpoints (
//	    projection_name TEXT PRIMARY KEY,
//	    offset_value BIGINT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed checkpoint store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SavePosition upserts pos for name. An offset lower than the stored one
// is ignored, except an offset of zero, which is how Manager.Rebuild
// resets a checkpoint.
func (s *Store) SavePosition(ctx context.Context, name string, pos checkpoint.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (projection_name, offset_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (projection_name) DO UPDATE
		SET offset_value = EXCLUDED.offset_value, updated_at = EXCLUDED.updated_at
		WHERE checkpoints.offset_value <= EXCLUDED.offset_value OR EXCLUDED.offset_value = 0
	`, name, int64(pos.Offset), pos.Timestamp)
	return err
}

func (s *Store) LoadPosition(ctx context.Context, name string) (*checkpoint.Position, error) {
	var pos checkpoint.Position
	var offset int64
	err := s.db.QueryRowContext(ctx, `
		SELECT offset_value, updated_at FROM checkpoints WHERE projection_name = $1
	`, name).Scan(&offset, &pos.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos.Offset = uint64(offset)
	return &pos, nil
}

var _ checkpoint.Store = (*Store)(nil)
