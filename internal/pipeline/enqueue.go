package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// EnqueueReport summarizes enqueueing one parent's children.
type EnqueueReport struct {
	Parent   string
	Pages    int
	Keys     int
	Inserted int
	Skipped  int
}

// Enqueuer walks a parent's child listing and enqueues the work item keys.
type Enqueuer struct {
	store   catalog.FrontierStore
	fetcher catalog.PageFetcher
	opts    Options
}

// NewEnqueuer constructs an Enqueuer.
func NewEnqueuer(store catalog.FrontierStore, fetcher catalog.PageFetcher, opts Options) *Enqueuer {
	return &Enqueuer{store: store, fetcher: fetcher, opts: opts.withDefaults()}
}

// EnqueueParent collects every key from the parent's full child listing and
// enqueues them in one call. Nothing is enqueued when a listing page fails,
// so a parent never ends up with a partial frontier that looks complete.
func (e *Enqueuer) EnqueueParent(ctx context.Context, src Source, parent catalog.ParentCollection) (EnqueueReport, error) {
	report := EnqueueReport{Parent: parent.Key}
	start := src.ChildrenURL(parent)
	if start == "" {
		return report, nil
	}
	logger := e.opts.Logger.With(
		zap.String("source", src.Name()),
		zap.String("stage", "enqueue"),
		zap.String("parent", parent.Key),
	)

	var keys []string
	pages, err := walk(ctx, e.opts, e.fetcher, src.Name(), start, src.Children(),
		func(page catalog.Page, ext catalog.Extraction[string]) error {
			for _, res := range ext.Items {
				if res.Err != nil || res.Value == "" {
					report.Skipped++
					logger.Warn("skipping malformed child entry", zap.String("url", page.URL), zap.Error(res.Err))
					continue
				}
				keys = append(keys, res.Value)
			}
			return nil
		})
	report.Pages = pages
	if err != nil {
		return report, fmt.Errorf("enqueue %s/%s: %w", src.Name(), parent.Key, err)
	}

	inserted, err := e.store.Enqueue(ctx, src.Name(), parent.Key, keys)
	if err != nil {
		return report, err
	}
	report.Keys = len(keys)
	report.Inserted = inserted
	logger.Info("enqueued children",
		zap.Int("pages", pages),
		zap.Int("keys", report.Keys),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// EnqueueAll enqueues every parent. A parent whose listing cannot be fetched
// is counted as failed and the rest continue; store errors abort.
func (e *Enqueuer) EnqueueAll(ctx context.Context, src Source, parents []catalog.ParentCollection) (catalog.Tally, error) {
	var tally catalog.Tally
	for _, parent := range parents {
		if _, err := e.EnqueueParent(ctx, src, parent); err != nil {
			if catalog.IsStoreError(err) {
				return tally, err
			}
			tally.Failed++
			e.opts.Logger.Warn("enqueue failed",
				zap.String("source", src.Name()),
				zap.String("parent", parent.Key),
				zap.Error(err),
			)
			continue
		}
		tally.Succeeded++
	}
	return tally, nil
}
