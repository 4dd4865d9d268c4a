package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// Tracker owns the synced/unsynced lifecycle of parent collections.
type Tracker struct {
	store  catalog.CollectionStore
	logger *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(store catalog.CollectionStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// MarkSynced records a zero-error full drain of the parent.
func (t *Tracker) MarkSynced(ctx context.Context, source, key string) error {
	if err := t.store.SetSynced(ctx, source, key, true); err != nil {
		return err
	}
	t.logger.Info("collection synced", zap.String("source", source), zap.String("parent", key))
	return nil
}

// MarkUnsynced returns the parent to Unsynced. Work item flags are untouched.
func (t *Tracker) MarkUnsynced(ctx context.Context, source, key string) error {
	if err := t.store.SetSynced(ctx, source, key, false); err != nil {
		return err
	}
	t.logger.Debug("collection unsynced", zap.String("source", source), zap.String("parent", key))
	return nil
}

// ListByState returns the parents of source in state, ordered by key.
func (t *Tracker) ListByState(ctx context.Context, source string, state catalog.SyncState) ([]catalog.ParentCollection, error) {
	return t.store.ListCollections(ctx, source, state)
}
