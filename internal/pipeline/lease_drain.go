package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// LeaseHandler consumes one fetched page of a leased link. Returning an
// error releases the lease so the link stays queued.
type LeaseHandler func(ctx context.Context, page catalog.Page) error

// LeaseDrain drains a single-shot link queue. Each link is held under an
// exclusive transaction-scoped lease for the duration of its fetch and is
// deleted in that same transaction when the handler succeeds.
type LeaseDrain struct {
	store   catalog.LeaseStore
	fetcher catalog.PageFetcher
	handler LeaseHandler
	// Delay is slept between claims to stay under the source's rate limit.
	Delay time.Duration
	opts  Options
}

// NewLeaseDrain constructs a LeaseDrain.
func NewLeaseDrain(store catalog.LeaseStore, fetcher catalog.PageFetcher, handler LeaseHandler, delay time.Duration, opts Options) *LeaseDrain {
	return &LeaseDrain{
		store:   store,
		fetcher: fetcher,
		handler: handler,
		Delay:   delay,
		opts:    opts.withDefaults(),
	}
}

// Run claims links from queue until none remain after the last claimed URL.
func (l *LeaseDrain) Run(ctx context.Context, queue string) (catalog.Tally, error) {
	logger := l.opts.Logger.With(zap.String("queue", queue), zap.String("stage", "lease"))
	var (
		tally catalog.Tally
		after string
	)
	for {
		lease, ok, err := l.store.ClaimLease(ctx, queue, after)
		if err != nil {
			return tally, err
		}
		if !ok {
			break
		}
		after = lease.URL()

		if err := l.handle(ctx, queue, lease); err != nil {
			if rbErr := lease.Release(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			if catalog.IsStoreError(err) {
				return tally, err
			}
			tally.Failed++
			l.opts.Recorder.LeaseFinished(queue, OutcomeFailed)
			logger.Warn("link failed; lease released", zap.String("url", lease.URL()), zap.Error(err))
		} else {
			tally.Succeeded++
			l.opts.Recorder.LeaseFinished(queue, OutcomeSuccess)
		}

		if err := sleep(ctx, l.Delay); err != nil {
			return tally, err
		}
	}
	logger.Info("lease queue drained", zap.Int("succeeded", tally.Succeeded), zap.Int("failed", tally.Failed))
	return tally, nil
}

func (l *LeaseDrain) handle(ctx context.Context, queue string, lease catalog.Lease) error {
	page, err := fetch(ctx, l.opts, l.fetcher, queue, lease.URL())
	if err != nil {
		return err
	}
	if err := l.handler(ctx, page); err != nil {
		return err
	}
	return lease.Complete(ctx)
}

// FanOut seeds next with every link the extractor finds on the page.
func FanOut(store catalog.LeaseStore, extractor catalog.Extractor[string], next string) LeaseHandler {
	return func(ctx context.Context, page catalog.Page) error {
		ext, err := extractor.Extract(ctx, page)
		if err != nil {
			return err
		}
		found, _ := catalog.Split(ext.Items, nil)
		links, _ := NormalizeLinks(found)
		if len(links) == 0 {
			return &catalog.ExtractError{URL: page.URL, Reason: "no links found"}
		}
		if _, err := store.SeedLinks(ctx, next, links); err != nil {
			return err
		}
		return nil
	}
}

// Persist upserts the detail records the extractor finds on the page.
// Entry-level failures fail the link so it is retried.
func Persist(store catalog.RecordStore, source string, extractor catalog.Extractor[catalog.DetailRecord], clock catalog.Clock) LeaseHandler {
	return func(ctx context.Context, page catalog.Page) error {
		ext, err := extractor.Extract(ctx, page)
		if err != nil {
			return err
		}
		records, errs := catalog.Split(ext.Items, nil)
		now := clock.Now()
		for i := range records {
			records[i].Source = source
			if records[i].URL == "" {
				records[i].URL = page.URL
			}
			if records[i].FetchedAt.IsZero() {
				records[i].FetchedAt = now
			}
		}
		if err := store.UpsertRecords(ctx, records); err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d entries failed: %w", len(errs), len(ext.Items), errors.Join(errs...))
		}
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
