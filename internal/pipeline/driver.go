package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// SyncEvent is published when a parent collection becomes synced.
type SyncEvent struct {
	Source     string    `json:"source"`
	Collection string    `json:"collection"`
	SyncedAt   time.Time `json:"synced_at"`
	Records    int       `json:"records"`
}

// Attributes returns message attributes for brokers that support filtering.
func (e SyncEvent) Attributes() map[string]string {
	return map[string]string{"source": e.Source, "collection": e.Collection}
}

// DriverConfig tunes a Driver.
type DriverConfig struct {
	Drain DrainConfig
	// Topic receives SyncEvents; empty disables publishing.
	Topic string
}

// RunOptions controls one driver run.
type RunOptions struct {
	// Reenqueue re-walks every unsynced parent's child listing, resetting
	// fetched flags, instead of only enqueueing parents with no items.
	Reenqueue bool
	// SkipDiscovery works from the parents already stored.
	SkipDiscovery bool
}

// ParentReport is the outcome of updating one parent.
type ParentReport struct {
	Key      string
	Enqueued *EnqueueReport
	Drain    DrainReport
	Pending  int
	Synced   bool
	Err      error
}

// RunReport summarizes a driver run.
type RunReport struct {
	Discovery DiscoveryReport
	Parents   []ParentReport
	Synced    int
	Unsynced  int
}

// Driver sequences discovery, enqueue, drain and completion for one source.
type Driver struct {
	store     catalog.Store
	discovery *Discovery
	enqueuer  *Enqueuer
	drainer   *Drainer
	tracker   *Tracker
	publisher catalog.Publisher
	cfg       DriverConfig
	opts      Options
}

// NewDriver wires the stages over one shared store handle. publisher may be nil.
func NewDriver(
	store catalog.Store,
	fetcher catalog.PageFetcher,
	publisher catalog.Publisher,
	cfg DriverConfig,
	opts Options,
) *Driver {
	opts = opts.withDefaults()
	return &Driver{
		store:     store,
		discovery: NewDiscovery(store, fetcher, opts),
		enqueuer:  NewEnqueuer(store, fetcher, opts),
		drainer:   NewDrainer(store, fetcher, cfg.Drain, opts),
		tracker:   NewTracker(store, opts.Logger),
		publisher: publisher,
		cfg:       cfg,
		opts:      opts,
	}
}

// Tracker exposes the driver's completion tracker.
func (d *Driver) Tracker() *Tracker { return d.tracker }

// Run updates every unsynced parent of src. A discovery failure is logged and
// the run continues with the parents already stored; store errors abort.
func (d *Driver) Run(ctx context.Context, src Source, ro RunOptions) (RunReport, error) {
	name := src.Name()
	logger := d.opts.Logger.With(zap.String("source", name), zap.String("stage", "run"))
	var report RunReport

	if !ro.SkipDiscovery {
		disc, err := d.discovery.Run(ctx, src)
		report.Discovery = disc
		if err != nil {
			if catalog.IsStoreError(err) {
				return report, err
			}
			logger.Warn("discovery failed; continuing with stored collections", zap.Error(err))
		}
	}

	parents, err := d.tracker.ListByState(ctx, name, catalog.SyncUnsynced)
	if err != nil {
		return report, err
	}
	logger.Info("updating unsynced collections", zap.Int("collections", len(parents)))

	for _, parent := range parents {
		pr, err := d.UpdateParent(ctx, src, parent, ro.Reenqueue)
		report.Parents = append(report.Parents, pr)
		if err != nil {
			return report, err
		}
		if pr.Synced {
			report.Synced++
		} else {
			report.Unsynced++
		}
	}
	logger.Info("run complete", zap.Int("synced", report.Synced), zap.Int("unsynced", report.Unsynced))
	return report, nil
}

// UpdateParent enqueues the parent when it has no items (or always when
// reenqueue is set), drains its items and records the resulting sync state.
// The parent becomes Synced only when the drain had no failures and no
// pending items remain. Only store errors are returned; other failures are
// carried in the report.
func (d *Driver) UpdateParent(ctx context.Context, src Source, parent catalog.ParentCollection, reenqueue bool) (ParentReport, error) {
	name := src.Name()
	pr := ParentReport{Key: parent.Key}
	logger := d.opts.Logger.With(zap.String("source", name), zap.String("parent", parent.Key))

	counts, err := d.store.CountItems(ctx, name, parent.Key)
	if err != nil {
		return pr, err
	}
	if counts.Total == 0 || reenqueue {
		er, err := d.enqueuer.EnqueueParent(ctx, src, parent)
		pr.Enqueued = &er
		if err != nil {
			if catalog.IsStoreError(err) {
				return pr, err
			}
			pr.Err = err
			logger.Warn("enqueue failed; collection left unsynced", zap.Error(err))
			return pr, d.tracker.MarkUnsynced(ctx, name, parent.Key)
		}
	}

	pr.Drain, err = d.drainer.Drain(ctx, src, parent.Key)
	if err != nil {
		return pr, err
	}
	after, err := d.store.CountItems(ctx, name, parent.Key)
	if err != nil {
		return pr, err
	}
	pr.Pending = after.Pending

	if pr.Drain.Drained && pr.Drain.Tally.Clean() && after.Done() {
		if err := d.tracker.MarkSynced(ctx, name, parent.Key); err != nil {
			return pr, err
		}
		pr.Synced = true
		d.publish(ctx, logger, name, parent.Key)
		return pr, nil
	}
	return pr, d.tracker.MarkUnsynced(ctx, name, parent.Key)
}

// Resync returns parents to Unsynced and re-enqueues their children so the
// next drain re-fetches every item. With keys empty every parent of src is
// resynced.
func (d *Driver) Resync(ctx context.Context, src Source, keys []string) (catalog.Tally, error) {
	name := src.Name()
	var (
		tally   catalog.Tally
		parents []catalog.ParentCollection
	)
	if len(keys) == 0 {
		all, err := d.tracker.ListByState(ctx, name, catalog.SyncAny)
		if err != nil {
			return tally, err
		}
		parents = all
	}
	for _, key := range keys {
		p, err := d.store.GetCollection(ctx, name, key)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				tally.Skipped++
				d.opts.Logger.Warn("resync: unknown collection", zap.String("source", name), zap.String("parent", key))
				continue
			}
			return tally, err
		}
		parents = append(parents, p)
	}

	for _, p := range parents {
		if err := d.tracker.MarkUnsynced(ctx, name, p.Key); err != nil {
			return tally, err
		}
		if _, err := d.enqueuer.EnqueueParent(ctx, src, p); err != nil {
			if catalog.IsStoreError(err) {
				return tally, err
			}
			tally.Failed++
			d.opts.Logger.Warn("resync: re-enqueue failed", zap.String("source", name), zap.String("parent", p.Key), zap.Error(err))
			continue
		}
		tally.Succeeded++
	}
	return tally, nil
}

func (d *Driver) publish(ctx context.Context, logger *zap.Logger, source, key string) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	n, err := d.store.CountRecords(ctx, catalog.RecordFilter{Source: source, ParentKey: key})
	if err != nil {
		logger.Warn("count records for sync event", zap.Error(err))
	}
	event := SyncEvent{
		Source:     source,
		Collection: key,
		SyncedAt:   d.opts.Clock.Now(),
		Records:    n,
	}
	id, err := d.publisher.Publish(ctx, d.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish sync event failed", zap.Error(err))
		return
	}
	logger.Debug("sync event published", zap.String("message_id", id))
}
