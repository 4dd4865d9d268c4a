package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// SeedLinks inserts urls into queue; existing rows are left as they are.
func (s *Store) SeedLinks(ctx context.Context, queue string, urls []string) (int, error) {
	urls = dedupe(urls)
	if len(urls) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO leased_link (queue, url)
		SELECT $1, u FROM UNNEST($2::text[]) AS u
		ON CONFLICT (queue, url) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, queue, urls)
	if err != nil {
		return 0, catalog.WrapStore("seed links", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimLease opens a transaction and locks one row of queue, skipping rows
// locked by other claimants. The lock lives exactly as long as the
// transaction: a crashed holder's row is reclaimable as soon as the server
// rolls the transaction back.
func (s *Store) ClaimLease(ctx context.Context, queue, afterURL string) (catalog.Lease, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, catalog.WrapStore("claim lease: begin", err)
	}
	query := `
		SELECT url FROM leased_link
		WHERE queue = $1 AND url > $2
		ORDER BY url
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var url string
	if err := tx.QueryRow(ctx, query, queue, afterURL).Scan(&url); err != nil {
		rbErr := tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			if rbErr != nil {
				return nil, false, catalog.WrapStore("claim lease: rollback", rbErr)
			}
			return nil, false, nil
		}
		return nil, false, catalog.WrapStore("claim lease", err)
	}
	return &lease{tx: tx, queue: queue, url: url}, true, nil
}

// PendingLinks counts rows left in queue, including currently leased ones.
func (s *Store) PendingLinks(ctx context.Context, queue string) (int, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM leased_link WHERE queue = $1`, queue).Scan(&n); err != nil {
		return 0, catalog.WrapStore("pending links", err)
	}
	return int(n), nil
}

type lease struct {
	tx    pgx.Tx
	queue string
	url   string
	done  bool
}

func (l *lease) URL() string   { return l.url }
func (l *lease) Queue() string { return l.queue }

// Complete deletes the row inside the lease transaction and commits.
func (l *lease) Complete(ctx context.Context) error {
	if l.done {
		return fmt.Errorf("lease %s: already finished", l.url)
	}
	l.done = true
	if _, err := l.tx.Exec(ctx, `DELETE FROM leased_link WHERE queue = $1 AND url = $2`, l.queue, l.url); err != nil {
		if rbErr := l.tx.Rollback(ctx); rbErr != nil {
			return catalog.WrapStore("complete lease", fmt.Errorf("%w (rollback: %v)", err, rbErr))
		}
		return catalog.WrapStore("complete lease", err)
	}
	if err := l.tx.Commit(ctx); err != nil {
		return catalog.WrapStore("complete lease: commit", err)
	}
	return nil
}

// Release rolls the lease transaction back.
func (l *lease) Release(ctx context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	if err := l.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return catalog.WrapStore("release lease", err)
	}
	return nil
}
