package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/clock/system"
)

// Source describes one catalog site. The queue, lease and cursor protocols
// are written once against this interface.
type Source interface {
	Name() string
	// DirectoryURL is the first page of the parent collection directory.
	DirectoryURL() string
	Collections() catalog.Extractor[catalog.ParentCollection]
	// ChildrenURL is the first page listing a parent's work item keys, or ""
	// when the source has no per-parent listing.
	ChildrenURL(parent catalog.ParentCollection) string
	Children() catalog.Extractor[string]
	DetailURL(item catalog.WorkItem) string
	Details() catalog.Extractor[catalog.DetailRecord]
	// ListingURL addresses page n of a strictly ordered listing, or "" when
	// the source has none.
	ListingURL(page int) string
	Listing() catalog.Extractor[catalog.DetailRecord]
}

// Pacer delays requests to respect source rate limits.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Recorder receives stage outcomes for metrics.
type Recorder interface {
	ItemProcessed(source, outcome string)
	DiscoveryEntry(source, outcome string)
	SweepPage(source, outcome string)
	LeaseFinished(queue, outcome string)
	FrontierPending(source string, pending int)
	FetchObserved(source string, d time.Duration)
}

// Outcome labels passed to Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Options carries the collaborators every stage accepts. Zero values are
// replaced with no-op or system implementations.
type Options struct {
	Logger   *zap.Logger
	Recorder Recorder
	Pacer    Pacer
	Clock    catalog.Clock
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Pacer == nil {
		o.Pacer = noPacer{}
	}
	if o.Clock == nil {
		o.Clock = system.New()
	}
	return o
}

type nopRecorder struct{}

func (nopRecorder) ItemProcessed(string, string)        {}
func (nopRecorder) DiscoveryEntry(string, string)       {}
func (nopRecorder) SweepPage(string, string)            {}
func (nopRecorder) LeaseFinished(string, string)        {}
func (nopRecorder) FrontierPending(string, int)         {}
func (nopRecorder) FetchObserved(string, time.Duration) {}

type noPacer struct{}

func (noPacer) Wait(context.Context, string) error { return nil }

// fetch wraps a page fetch with pacing and latency recording.
func fetch(ctx context.Context, opts Options, fetcher catalog.PageFetcher, source, url string) (catalog.Page, error) {
	if err := opts.Pacer.Wait(ctx, url); err != nil {
		return catalog.Page{}, err
	}
	start := time.Now()
	page, err := fetcher.Fetch(ctx, url)
	opts.Recorder.FetchObserved(source, time.Since(start))
	return page, err
}
