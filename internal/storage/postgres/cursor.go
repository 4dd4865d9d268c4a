package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// ReadCursor returns the next page for pipeline, 1 when no row exists.
func (s *Store) ReadCursor(ctx context.Context, pipeline string) (int, error) {
	var next int32
	err := s.db.QueryRow(ctx, `SELECT next_page FROM progress_cursor WHERE pipeline_id = $1`, pipeline).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1, nil
		}
		return 0, catalog.WrapStore("read cursor", err)
	}
	return int(next), nil
}

// AdvanceCursor moves the cursor forward; it never moves back.
func (s *Store) AdvanceCursor(ctx context.Context, pipeline string, nextPage int) error {
	query := `
		INSERT INTO progress_cursor (pipeline_id, next_page, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (pipeline_id) DO UPDATE
		SET next_page = GREATEST(progress_cursor.next_page, EXCLUDED.next_page),
		    updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, pipeline, int32(nextPage)); err != nil {
		return catalog.WrapStore("advance cursor", err)
	}
	return nil
}
