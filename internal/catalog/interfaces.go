package catalog

import (
	"context"
	"io"
	"iter"
	"time"
)

// PageFetcher retrieves one URL. Failures are *FetchError values. Fetchers
// never retry internally.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor turns one raw page into entry results.
type Extractor[T any] interface {
	Extract(ctx context.Context, page Page) (Extraction[T], error)
}

// FrontierStore holds discovered-but-unprocessed WorkItems.
type FrontierStore interface {
	// Enqueue inserts keys for parentKey, resetting fetched=false on conflict.
	Enqueue(ctx context.Context, source, parentKey string, keys []string) (int, error)
	// ClaimNext returns one unfetched item in scope, or false when empty.
	ClaimNext(ctx context.Context, filter ClaimFilter) (WorkItem, bool, error)
	MarkFetched(ctx context.Context, source, key string) error
	CountItems(ctx context.Context, source, parentKey string) (ItemCounts, error)
}

// Lease is an exclusive, transaction-scoped claim on one LeasedLink row.
// Exactly one of Complete or Release must be called.
type Lease interface {
	URL() string
	Queue() string
	// Complete deletes the row inside the lease transaction and commits.
	Complete(ctx context.Context) error
	// Release rolls the transaction back so the row is immediately claimable.
	Release(ctx context.Context) error
}

// LeaseStore is the single-shot exclusive link queue.
type LeaseStore interface {
	SeedLinks(ctx context.Context, queue string, urls []string) (int, error)
	// ClaimLease locks the first unlocked row of queue whose URL sorts after
	// afterURL. Passing the last claimed URL lets one pass skip rows it
	// already released.
	ClaimLease(ctx context.Context, queue, afterURL string) (Lease, bool, error)
	PendingLinks(ctx context.Context, queue string) (int, error)
}

// CursorStore persists linear pagination progress.
type CursorStore interface {
	// ReadCursor returns the next page to fetch, 1 when nothing is stored.
	ReadCursor(ctx context.Context, pipeline string) (int, error)
	// AdvanceCursor stores nextPage unless the stored value is already higher.
	AdvanceCursor(ctx context.Context, pipeline string, nextPage int) error
}

// CollectionStore persists ParentCollections and their sync flags.
type CollectionStore interface {
	// UpsertCollection inserts or refreshes a collection. The stored sync
	// flag is left untouched on conflict.
	UpsertCollection(ctx context.Context, c ParentCollection) error
	GetCollection(ctx context.Context, source, key string) (ParentCollection, error)
	ListCollections(ctx context.Context, source string, state SyncState) ([]ParentCollection, error)
	SetSynced(ctx context.Context, source, key string, synced bool) error
}

// RecordStore persists DetailRecords keyed by (source, key).
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []DetailRecord) error
	StreamRecords(ctx context.Context, filter RecordFilter) iter.Seq2[DetailRecord, error]
	CountRecords(ctx context.Context, filter RecordFilter) (int, error)
}

// Store is the shared store handle injected into every component.
type Store interface {
	FrontierStore
	LeaseStore
	CursorStore
	CollectionStore
	RecordStore
	Ping(ctx context.Context) error
	Close()
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
