package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

const collectionColumns = `source, key, name, series, url, meta, is_synced, discovered_at, updated_at`

// UpsertCollection inserts or refreshes a parent. The sync flag is owned by
// the completion tracker and is not touched on conflict.
func (s *Store) UpsertCollection(ctx context.Context, c catalog.ParentCollection) error {
	meta, err := encodeMap(c.Meta)
	if err != nil {
		return fmt.Errorf("encode meta for %s/%s: %w", c.Source, c.Key, err)
	}
	query := `
		INSERT INTO parent_collection (source, key, name, series, url, meta, is_synced, discovered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW(), NOW())
		ON CONFLICT (source, key) DO UPDATE
		SET name = EXCLUDED.name,
		    series = EXCLUDED.series,
		    url = EXCLUDED.url,
		    meta = EXCLUDED.meta,
		    updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, c.Source, c.Key, c.Name, c.Series, c.URL, meta); err != nil {
		return catalog.WrapStore("upsert collection", err)
	}
	return nil
}

// GetCollection returns one parent or catalog.ErrNotFound.
func (s *Store) GetCollection(ctx context.Context, source, key string) (catalog.ParentCollection, error) {
	row := s.db.QueryRow(ctx, `SELECT `+collectionColumns+` FROM parent_collection WHERE source = $1 AND key = $2`, source, key)
	c, err := scanCollection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ParentCollection{}, fmt.Errorf("collection %s/%s: %w", source, key, catalog.ErrNotFound)
		}
		return catalog.ParentCollection{}, catalog.WrapStore("get collection", err)
	}
	return c, nil
}

// ListCollections returns the parents of source in the given state, ordered by key.
func (s *Store) ListCollections(ctx context.Context, source string, state catalog.SyncState) ([]catalog.ParentCollection, error) {
	var synced *bool
	switch state {
	case catalog.SyncSynced:
		v := true
		synced = &v
	case catalog.SyncUnsynced:
		v := false
		synced = &v
	}
	query := `SELECT ` + collectionColumns + ` FROM parent_collection
		WHERE source = $1 AND ($2::boolean IS NULL OR is_synced = $2)
		ORDER BY key`
	rows, err := s.db.Query(ctx, query, source, synced)
	if err != nil {
		return nil, catalog.WrapStore("list collections", err)
	}
	defer rows.Close()

	var out []catalog.ParentCollection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, catalog.WrapStore("list collections: scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, catalog.WrapStore("list collections", err)
	}
	return out, nil
}

// SetSynced flips the sync flag and stamps updated_at.
func (s *Store) SetSynced(ctx context.Context, source, key string, synced bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE parent_collection SET is_synced = $3, updated_at = NOW() WHERE source = $1 AND key = $2`,
		source, key, synced)
	if err != nil {
		return catalog.WrapStore("set synced", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %s/%s: %w", source, key, catalog.ErrNotFound)
	}
	return nil
}

func scanCollection(row pgx.Row) (catalog.ParentCollection, error) {
	var (
		c    catalog.ParentCollection
		meta []byte
	)
	if err := row.Scan(&c.Source, &c.Key, &c.Name, &c.Series, &c.URL, &meta, &c.IsSynced, &c.DiscoveredAt, &c.UpdatedAt); err != nil {
		return catalog.ParentCollection{}, err
	}
	m, err := decodeMap(meta)
	if err != nil {
		return catalog.ParentCollection{}, fmt.Errorf("decode meta: %w", err)
	}
	c.Meta = m
	return c, nil
}

func encodeMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func decodeMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
