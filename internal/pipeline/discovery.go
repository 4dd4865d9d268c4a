package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// DiscoveryReport summarizes one directory walk.
type DiscoveryReport struct {
	Pages       int
	Collections []catalog.ParentCollection
	Tally       catalog.Tally
}

// Discovery walks a source's paginated directory and upserts every parent
// collection it finds.
type Discovery struct {
	store   catalog.CollectionStore
	fetcher catalog.PageFetcher
	opts    Options
}

// NewDiscovery constructs a Discovery stage.
func NewDiscovery(store catalog.CollectionStore, fetcher catalog.PageFetcher, opts Options) *Discovery {
	return &Discovery{store: store, fetcher: fetcher, opts: opts.withDefaults()}
}

// Run walks the directory from its first page until no next link remains.
// A malformed entry is skipped and counted. A page fetch failure ends the
// walk with an error; parents upserted before it are kept.
func (d *Discovery) Run(ctx context.Context, src Source) (DiscoveryReport, error) {
	name := src.Name()
	logger := d.opts.Logger.With(zap.String("source", name), zap.String("stage", "discover"))
	var report DiscoveryReport

	pages, err := walk(ctx, d.opts, d.fetcher, name, src.DirectoryURL(), src.Collections(),
		func(page catalog.Page, ext catalog.Extraction[catalog.ParentCollection]) error {
			for _, res := range ext.Items {
				parent, err := validParent(res, page.URL)
				if err != nil {
					report.Tally.Skipped++
					d.opts.Recorder.DiscoveryEntry(name, OutcomeSkipped)
					logger.Warn("skipping malformed directory entry", zap.String("url", page.URL), zap.Error(err))
					continue
				}
				parent.Source = name
				if err := d.store.UpsertCollection(ctx, parent); err != nil {
					return err
				}
				report.Tally.Succeeded++
				report.Collections = append(report.Collections, parent)
				d.opts.Recorder.DiscoveryEntry(name, OutcomeSuccess)
			}
			return nil
		})
	report.Pages = pages
	if err != nil {
		if catalog.IsStoreError(err) {
			return report, err
		}
		logger.Error("discovery halted", zap.Int("pages", pages), zap.Error(err))
		return report, fmt.Errorf("discover %s: %w", name, err)
	}
	logger.Info("discovery complete",
		zap.Int("pages", pages),
		zap.Int("collections", report.Tally.Succeeded),
		zap.Int("skipped", report.Tally.Skipped),
	)
	return report, nil
}

func validParent(res catalog.Result[catalog.ParentCollection], url string) (catalog.ParentCollection, error) {
	if res.Err != nil {
		return catalog.ParentCollection{}, res.Err
	}
	if res.Value.Key == "" {
		return catalog.ParentCollection{}, &catalog.ExtractError{URL: url, Field: "key", Reason: "empty"}
	}
	return res.Value, nil
}
