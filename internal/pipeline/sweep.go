package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// ErrSweepHalted reports a sweep stopped by a page failure. The cursor still
// points at the failed page, so re-running the sweep resumes there.
var ErrSweepHalted = errors.New("sweep halted")

// SweepStore is the store surface a cursor sweep needs.
type SweepStore interface {
	catalog.CursorStore
	catalog.RecordStore
}

// SweepReport summarizes one sweep invocation.
type SweepReport struct {
	StartPage  int
	NextPage   int
	TotalPages int
	Pages      int
	Tally      catalog.Tally
}

// Sweep walks a strictly ordered listing, resuming from a persisted cursor.
type Sweep struct {
	store   SweepStore
	fetcher catalog.PageFetcher
	opts    Options
}

// NewSweep constructs a Sweep.
func NewSweep(store SweepStore, fetcher catalog.PageFetcher, opts Options) *Sweep {
	return &Sweep{store: store, fetcher: fetcher, opts: opts.withDefaults()}
}

// CursorID names the progress cursor of a source's listing sweep.
func CursorID(source string) string {
	return source + ":listing"
}

// Run sweeps from the stored cursor to the last page. Page n+1 is fetched
// only after page n's records are persisted and the cursor advanced past it.
// The total page count is read from the first listing page; when the source
// does not report one, the sweep follows next links instead.
func (s *Sweep) Run(ctx context.Context, src Source) (SweepReport, error) {
	name := src.Name()
	id := CursorID(name)
	logger := s.opts.Logger.With(zap.String("source", name), zap.String("stage", "sweep"))

	page, err := s.store.ReadCursor(ctx, id)
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{StartPage: page, NextPage: page}
	if src.ListingURL(1) == "" {
		return report, fmt.Errorf("source %s has no listing", name)
	}

	first, err := s.load(ctx, src, 1)
	if err != nil {
		return report, s.halt(logger, name, 1, err)
	}
	total := first.TotalPages
	report.TotalPages = total

	for total == 0 || page <= total {
		ext := first
		if page != 1 {
			if ext, err = s.load(ctx, src, page); err != nil {
				return report, s.halt(logger, name, page, err)
			}
		}

		if total == 0 && len(ext.Items) == 0 && ext.Next == "" {
			// Past the last linked page. The cursor stays here so entries
			// published on this page later are picked up by the next sweep.
			logger.Debug("listing exhausted", zap.Int("page", page))
			break
		}

		records, errs := catalog.Split(ext.Items, &report.Tally)
		for _, err := range errs {
			logger.Warn("skipping malformed listing entry", zap.Int("page", page), zap.Error(err))
		}
		records = s.prepare(name, src.ListingURL(page), records, &report.Tally, logger)
		if err := s.store.UpsertRecords(ctx, records); err != nil {
			return report, err
		}
		if err := s.store.AdvanceCursor(ctx, id, page+1); err != nil {
			return report, err
		}
		report.Tally.Succeeded += len(records)
		report.Pages++
		report.NextPage = page + 1
		s.opts.Recorder.SweepPage(name, OutcomeSuccess)
		logger.Debug("page persisted", zap.Int("page", page), zap.Int("records", len(records)))

		if total == 0 && ext.Next == "" {
			break
		}
		page++
	}

	logger.Info("sweep complete",
		zap.Int("start_page", report.StartPage),
		zap.Int("pages", report.Pages),
		zap.Int("total_pages", total),
		zap.Int("records", report.Tally.Succeeded),
		zap.Int("skipped", report.Tally.Skipped),
	)
	return report, nil
}

func (s *Sweep) load(ctx context.Context, src Source, page int) (catalog.Extraction[catalog.DetailRecord], error) {
	url := src.ListingURL(page)
	raw, err := fetch(ctx, s.opts, s.fetcher, src.Name(), url)
	if err != nil {
		return catalog.Extraction[catalog.DetailRecord]{}, err
	}
	return src.Listing().Extract(ctx, raw)
}

func (s *Sweep) prepare(
	source, url string,
	records []catalog.DetailRecord,
	tally *catalog.Tally,
	logger *zap.Logger,
) []catalog.DetailRecord {
	now := s.opts.Clock.Now()
	out := records[:0]
	for _, r := range records {
		if r.Key == "" {
			tally.Skipped++
			logger.Warn("skipping listing entry without key", zap.String("url", url))
			continue
		}
		r.Source = source
		if r.URL == "" {
			r.URL = url
		}
		if r.FetchedAt.IsZero() {
			r.FetchedAt = now
		}
		out = append(out, r)
	}
	return out
}

func (s *Sweep) halt(logger *zap.Logger, source string, page int, err error) error {
	if catalog.IsStoreError(err) {
		return err
	}
	s.opts.Recorder.SweepPage(source, OutcomeFailed)
	logger.Warn("sweep halted; cursor not advanced", zap.Int("page", page), zap.Error(err))
	return fmt.Errorf("%w at page %d: %w", ErrSweepHalted, page, err)
}
