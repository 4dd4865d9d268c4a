package postgres

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// UpsertRecords writes a batch in one transaction. Rows keyed by (source, key)
// are replaced, so re-fetching an item never duplicates it.
func (s *Store) UpsertRecords(ctx context.Context, records []catalog.DetailRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return catalog.WrapStore("upsert records: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := `
		INSERT INTO detail_record (source, key, parent_key, name, fields, url, content_hash, blob_uri, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, key) DO UPDATE
		SET parent_key = EXCLUDED.parent_key,
		    name = EXCLUDED.name,
		    fields = EXCLUDED.fields,
		    url = EXCLUDED.url,
		    content_hash = EXCLUDED.content_hash,
		    blob_uri = EXCLUDED.blob_uri,
		    fetched_at = EXCLUDED.fetched_at
	`
	for _, r := range records {
		fields, err := encodeMap(r.Fields)
		if err != nil {
			return fmt.Errorf("encode fields for %s/%s: %w", r.Source, r.Key, err)
		}
		fetchedAt := r.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, query, r.Source, r.Key, r.ParentKey, r.Name, fields, r.URL, r.ContentHash, r.BlobURI, fetchedAt); err != nil {
			return catalog.WrapStore("upsert records", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return catalog.WrapStore("upsert records: commit", err)
	}
	return nil
}

// StreamRecords yields records matching filter in key order. The iterator
// holds a pooled connection until it finishes or the caller stops.
func (s *Store) StreamRecords(ctx context.Context, filter catalog.RecordFilter) iter.Seq2[catalog.DetailRecord, error] {
	return func(yield func(catalog.DetailRecord, error) bool) {
		query := `
			SELECT source, key, parent_key, name, fields, url, content_hash, blob_uri, fetched_at
			FROM detail_record
			WHERE source = $1 AND ($2 = '' OR parent_key = $2)
			ORDER BY key
		`
		rows, err := s.db.Query(ctx, query, filter.Source, filter.ParentKey)
		if err != nil {
			yield(catalog.DetailRecord{}, catalog.WrapStore("stream records", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r      catalog.DetailRecord
				fields []byte
			)
			if err := rows.Scan(&r.Source, &r.Key, &r.ParentKey, &r.Name, &fields, &r.URL, &r.ContentHash, &r.BlobURI, &r.FetchedAt); err != nil {
				yield(catalog.DetailRecord{}, catalog.WrapStore("stream records: scan", err))
				return
			}
			m, err := decodeMap(fields)
			if err != nil {
				yield(catalog.DetailRecord{}, fmt.Errorf("decode fields for %s: %w", r.Key, err))
				return
			}
			r.Fields = m
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(catalog.DetailRecord{}, catalog.WrapStore("stream records", err))
		}
	}
}

// CountRecords counts records matching filter.
func (s *Store) CountRecords(ctx context.Context, filter catalog.RecordFilter) (int, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM detail_record WHERE source = $1 AND ($2 = '' OR parent_key = $2)`,
		filter.Source, filter.ParentKey).Scan(&n)
	if err != nil {
		return 0, catalog.WrapStore("count records", err)
	}
	return int(n), nil
}
