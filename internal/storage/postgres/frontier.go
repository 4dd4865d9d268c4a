package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// Enqueue bulk-inserts keys for parentKey. Existing rows are reset to
// fetched=false so re-running discovery never drops an item.
func (s *Store) Enqueue(ctx context.Context, source, parentKey string, keys []string) (int, error) {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO work_item (source, key, parent_key, fetched, inserted_at)
		SELECT $1, k, $2, FALSE, NOW() FROM UNNEST($3::text[]) AS k
		ON CONFLICT (source, key) DO UPDATE
		SET fetched = FALSE, parent_key = EXCLUDED.parent_key
	`
	tag, err := s.db.Exec(ctx, query, source, parentKey, keys)
	if err != nil {
		return 0, catalog.WrapStore("enqueue", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimNext selects one unfetched row in scope. No lock is taken: two workers
// may observe the same row and both fetch it, which idempotent record upserts
// absorb.
func (s *Store) ClaimNext(ctx context.Context, filter catalog.ClaimFilter) (catalog.WorkItem, bool, error) {
	query := `
		SELECT source, key, parent_key, fetched, inserted_at
		FROM work_item
		WHERE source = $1
		  AND NOT fetched
		  AND ($2 = '' OR parent_key = $2)
		  AND key > $3
		ORDER BY key
		LIMIT 1
	`
	var item catalog.WorkItem
	err := s.db.QueryRow(ctx, query, filter.Source, filter.ParentKey, filter.AfterKey).Scan(
		&item.Source,
		&item.Key,
		&item.ParentKey,
		&item.Fetched,
		&item.InsertedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.WorkItem{}, false, nil
		}
		return catalog.WorkItem{}, false, catalog.WrapStore("claim next", err)
	}
	return item, true, nil
}

// MarkFetched sets fetched=true in a standalone statement.
func (s *Store) MarkFetched(ctx context.Context, source, key string) error {
	tag, err := s.db.Exec(ctx, `UPDATE work_item SET fetched = TRUE WHERE source = $1 AND key = $2`, source, key)
	if err != nil {
		return catalog.WrapStore("mark fetched", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("work item %s/%s: %w", source, key, catalog.ErrNotFound)
	}
	return nil
}

// CountItems reports total and pending rows for source, optionally one parent.
func (s *Store) CountItems(ctx context.Context, source, parentKey string) (catalog.ItemCounts, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT fetched)
		FROM work_item
		WHERE source = $1 AND ($2 = '' OR parent_key = $2)
	`
	var total, pending int64
	if err := s.db.QueryRow(ctx, query, source, parentKey).Scan(&total, &pending); err != nil {
		return catalog.ItemCounts{}, catalog.WrapStore("count items", err)
	}
	return catalog.ItemCounts{Total: int(total), Pending: int(pending)}, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
