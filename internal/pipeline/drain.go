package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// DrainStore is the store surface the drain loop needs.
type DrainStore interface {
	catalog.FrontierStore
	catalog.RecordStore
}

// Archive stores the raw detail page next to the record it produced.
type Archive struct {
	Blobs  catalog.BlobStore
	Hasher catalog.Hasher
	Prefix string
}

// DrainConfig tunes a Drainer.
type DrainConfig struct {
	// MaxItems stops the loop after that many claims; zero means no limit.
	MaxItems int
	Archive  *Archive
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Tally catalog.Tally
	// Drained is false when MaxItems stopped the pass before the queue emptied.
	Drained bool
}

// Drainer runs the claim, fetch, persist, complete loop over the frontier.
type Drainer struct {
	store   DrainStore
	fetcher catalog.PageFetcher
	cfg     DrainConfig
	opts    Options
}

// NewDrainer constructs a Drainer.
func NewDrainer(store DrainStore, fetcher catalog.PageFetcher, cfg DrainConfig, opts Options) *Drainer {
	return &Drainer{store: store, fetcher: fetcher, cfg: cfg, opts: opts.withDefaults()}
}

// Drain processes unfetched items of src, scoped to parentKey when set, until
// the scoped queue is empty. Items are claimed in key order once per pass, so
// an item that fails stays unfetched and is retried by a later invocation.
// Only store failures end the pass early.
func (d *Drainer) Drain(ctx context.Context, src Source, parentKey string) (DrainReport, error) {
	name := src.Name()
	logger := d.opts.Logger.With(zap.String("source", name), zap.String("stage", "drain"))
	if parentKey != "" {
		logger = logger.With(zap.String("parent", parentKey))
	}

	var report DrainReport
	filter := catalog.ClaimFilter{Source: name, ParentKey: parentKey}
	claimed := 0
	for {
		if d.cfg.MaxItems > 0 && claimed >= d.cfg.MaxItems {
			logger.Info("drain stopped at item limit", zap.Int("limit", d.cfg.MaxItems))
			break
		}
		item, ok, err := d.store.ClaimNext(ctx, filter)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Drained = true
			break
		}
		claimed++
		filter.AfterKey = item.Key

		n, err := d.process(ctx, src, item)
		if err != nil {
			if catalog.IsStoreError(err) {
				logger.Error("store failure during drain", zap.String("key", item.Key), zap.Error(err))
				return report, err
			}
			report.Tally.Failed++
			d.opts.Recorder.ItemProcessed(name, OutcomeFailed)
			logger.Warn("item failed; left for retry",
				zap.String("key", item.Key),
				zap.Bool("transient", catalog.IsTransient(err)),
				zap.Error(err),
			)
			continue
		}
		report.Tally.Succeeded++
		d.opts.Recorder.ItemProcessed(name, OutcomeSuccess)
		logger.Debug("item fetched", zap.String("key", item.Key), zap.Int("records", n))
	}

	if counts, err := d.store.CountItems(ctx, name, parentKey); err == nil {
		d.opts.Recorder.FrontierPending(name, counts.Pending)
	}
	logger.Info("drain finished",
		zap.Int("succeeded", report.Tally.Succeeded),
		zap.Int("failed", report.Tally.Failed),
		zap.Bool("drained", report.Drained),
	)
	return report, nil
}

// process fetches one item, persists its records and marks it fetched.
// Records extracted cleanly are persisted even when a sibling entry failed,
// but the item itself is only completed when every entry succeeded.
func (d *Drainer) process(ctx context.Context, src Source, item catalog.WorkItem) (int, error) {
	url := src.DetailURL(item)
	page, err := fetch(ctx, d.opts, d.fetcher, src.Name(), url)
	if err != nil {
		return 0, err
	}
	ext, err := src.Details().Extract(ctx, page)
	if err != nil {
		return 0, err
	}
	records, errs := catalog.Split(ext.Items, nil)
	if len(records) == 0 && len(errs) == 0 {
		return 0, &catalog.ExtractError{URL: page.URL, Reason: "no records on detail page"}
	}

	var hash, uri string
	if d.cfg.Archive != nil && len(records) > 0 {
		hash, uri, err = d.archive(ctx, src.Name(), item.ParentKey, page)
		if err != nil {
			return 0, err
		}
	}

	now := d.opts.Clock.Now()
	for i := range records {
		r := &records[i]
		r.Source = src.Name()
		if r.Key == "" {
			r.Key = item.Key
		}
		if r.ParentKey == "" {
			r.ParentKey = item.ParentKey
		}
		if r.URL == "" {
			r.URL = page.URL
		}
		if r.FetchedAt.IsZero() {
			r.FetchedAt = now
		}
		if hash != "" {
			r.ContentHash = hash
			r.BlobURI = uri
		}
	}
	if err := d.store.UpsertRecords(ctx, records); err != nil {
		return 0, err
	}
	if len(errs) > 0 {
		return len(records), errors.Join(errs...)
	}
	if err := d.store.MarkFetched(ctx, src.Name(), item.Key); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return len(records), fmt.Errorf("mark fetched %s: %w", item.Key, err)
		}
		return len(records), err
	}
	return len(records), nil
}

func (d *Drainer) archive(ctx context.Context, source, parent string, page catalog.Page) (string, string, error) {
	a := d.cfg.Archive
	hash, err := a.Hasher.Hash(page.Body)
	if err != nil {
		return "", "", fmt.Errorf("hash page: %w", err)
	}
	objectPath := path.Join(a.Prefix, source, parent, hash+".html")
	uri, err := a.Blobs.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader(page.Body))
	if err != nil {
		return "", "", fmt.Errorf("archive page: %w", err)
	}
	return hash, uri, nil
}
