package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	checkpointUpsertSQL = `
INSERT INTO checkpoints (name, checked_at, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET
    checked_at = EXCLUDED.checked_at,
    updated_at = NOW();
`

	checkpointSelectSQL = `
SELECT checked_at
FROM checkpoints
WHERE name = $1;
`
)

// SetCheckpoint records a pipeline watermark.
func (s *Store) SetCheckpoint(ctx context.Context, name string, at time.Time) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, checkpointUpsertSQL, name, at.UTC()); err != nil {
		return fmt.Errorf("postgres: set checkpoint: %w", err)
	}
	return nil
}

// Checkpoint returns the stored watermark, zero time when never set.
func (s *Store) Checkpoint(ctx context.Context, name string) (time.Time, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	if err := pool.QueryRow(ctx, checkpointSelectSQL, name).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("postgres: select checkpoint: %w", err)
	}
	return at, nil
}
