// Package memory provides in-process implementations of the catalog stores
// for development and tests. Semantics mirror the Postgres store, including
// lease exclusivity and rollback-on-release.
package memory

import (
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

type itemKey struct {
	source string
	key    string
}

type linkKey struct {
	queue string
	url   string
}

// Store is a mutex-guarded catalog.Store.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	collections map[itemKey]catalog.ParentCollection
	items       map[itemKey]catalog.WorkItem
	links       map[linkKey]bool // value: currently leased
	cursors     map[string]int
	records     map[itemKey]catalog.DetailRecord
	faults      map[string]error
	closed      bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		collections: make(map[itemKey]catalog.ParentCollection),
		items:       make(map[itemKey]catalog.WorkItem),
		links:       make(map[linkKey]bool),
		cursors:     make(map[string]int),
		records:     make(map[itemKey]catalog.DetailRecord),
		faults:      make(map[string]error),
	}
}

var errClosed = errors.New("memory store closed")

func (s *Store) check(op string) error {
	if s.closed {
		return catalog.WrapStore(op, errClosed)
	}
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return catalog.WrapStore(op, err)
	}
	return nil
}

// FailNext makes the next call of op (for example "complete lease" or
// "advance cursor") fail with err as a StoreError. It simulates an aborted
// transaction or a dropped connection.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check("ping")
}

// Close marks the store unusable; later calls return StoreErrors.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Enqueue inserts keys or resets fetched=false for existing ones. Empty and
// repeated keys are dropped; the count is of distinct keys written.
func (s *Store) Enqueue(_ context.Context, source, parentKey string, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("enqueue"); err != nil {
		return 0, err
	}
	keys = dedupe(keys)
	now := s.now()
	for _, k := range keys {
		id := itemKey{source, k}
		item, ok := s.items[id]
		if !ok {
			item = catalog.WorkItem{Source: source, Key: k, InsertedAt: now}
		}
		item.ParentKey = parentKey
		item.Fetched = false
		s.items[id] = item
	}
	return len(keys), nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ClaimNext returns the first unfetched item in key order after filter.AfterKey.
func (s *Store) ClaimNext(_ context.Context, filter catalog.ClaimFilter) (catalog.WorkItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("claim next"); err != nil {
		return catalog.WorkItem{}, false, err
	}
	var (
		best  catalog.WorkItem
		found bool
	)
	for id, item := range s.items {
		if id.source != filter.Source || item.Fetched {
			continue
		}
		if filter.ParentKey != "" && item.ParentKey != filter.ParentKey {
			continue
		}
		if item.Key <= filter.AfterKey {
			continue
		}
		if !found || item.Key < best.Key {
			best, found = item, true
		}
	}
	return best, found, nil
}

// MarkFetched flips the item to fetched.
func (s *Store) MarkFetched(_ context.Context, source, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("mark fetched"); err != nil {
		return err
	}
	id := itemKey{source, key}
	item, ok := s.items[id]
	if !ok {
		return catalog.ErrNotFound
	}
	item.Fetched = true
	s.items[id] = item
	return nil
}

// CountItems counts items for a source, optionally narrowed to one parent.
func (s *Store) CountItems(_ context.Context, source, parentKey string) (catalog.ItemCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("count items"); err != nil {
		return catalog.ItemCounts{}, err
	}
	var c catalog.ItemCounts
	for id, item := range s.items {
		if id.source != source || (parentKey != "" && item.ParentKey != parentKey) {
			continue
		}
		c.Total++
		if !item.Fetched {
			c.Pending++
		}
	}
	return c, nil
}

// Item returns a copy of one WorkItem (test helper).
func (s *Store) Item(source, key string) (catalog.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemKey{source, key}]
	return item, ok
}

// SeedLinks inserts urls into queue, ignoring duplicates.
func (s *Store) SeedLinks(_ context.Context, queue string, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("seed links"); err != nil {
		return 0, err
	}
	inserted := 0
	for _, u := range urls {
		id := linkKey{queue, u}
		if _, ok := s.links[id]; ok {
			continue
		}
		s.links[id] = false
		inserted++
	}
	return inserted, nil
}

// ClaimLease locks one unleased row of queue, skipping rows held by others.
func (s *Store) ClaimLease(_ context.Context, queue, afterURL string) (catalog.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("claim lease"); err != nil {
		return nil, false, err
	}
	candidates := make([]string, 0)
	for id, leased := range s.links {
		if id.queue == queue && !leased && id.url > afterURL {
			candidates = append(candidates, id.url)
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	sort.Strings(candidates)
	id := linkKey{queue, candidates[0]}
	s.links[id] = true
	return &lease{store: s, id: id}, true, nil
}

// PendingLinks counts rows in queue, leased or not.
func (s *Store) PendingLinks(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("pending links"); err != nil {
		return 0, err
	}
	n := 0
	for id := range s.links {
		if id.queue == queue {
			n++
		}
	}
	return n, nil
}

var errLeaseFinished = errors.New("lease already finished")

type lease struct {
	store *Store
	id    linkKey
	done  bool
}

func (l *lease) URL() string   { return l.id.url }
func (l *lease) Queue() string { return l.id.queue }

func (l *lease) Complete(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.done {
		return errLeaseFinished
	}
	l.done = true
	if err := l.store.check("complete lease"); err != nil {
		l.store.links[l.id] = false
		return err
	}
	delete(l.store.links, l.id)
	return nil
}

func (l *lease) Release(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	if _, ok := l.store.links[l.id]; ok {
		l.store.links[l.id] = false
	}
	return nil
}

// ReadCursor returns the stored next page or 1.
func (s *Store) ReadCursor(_ context.Context, pipeline string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("read cursor"); err != nil {
		return 0, err
	}
	if p, ok := s.cursors[pipeline]; ok {
		return p, nil
	}
	return 1, nil
}

// AdvanceCursor stores nextPage if it is ahead of the stored value.
func (s *Store) AdvanceCursor(_ context.Context, pipeline string, nextPage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("advance cursor"); err != nil {
		return err
	}
	if cur, ok := s.cursors[pipeline]; !ok || nextPage > cur {
		s.cursors[pipeline] = nextPage
	}
	return nil
}

// UpsertCollection inserts or refreshes c, keeping the stored sync flag.
func (s *Store) UpsertCollection(_ context.Context, c catalog.ParentCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert collection"); err != nil {
		return err
	}
	id := itemKey{c.Source, c.Key}
	now := s.now()
	if existing, ok := s.collections[id]; ok {
		c.IsSynced = existing.IsSynced
		c.DiscoveredAt = existing.DiscoveredAt
	} else {
		c.IsSynced = false
		c.DiscoveredAt = now
	}
	c.Meta = maps.Clone(c.Meta)
	c.UpdatedAt = now
	s.collections[id] = c
	return nil
}

// GetCollection returns one collection or catalog.ErrNotFound.
func (s *Store) GetCollection(_ context.Context, source, key string) (catalog.ParentCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get collection"); err != nil {
		return catalog.ParentCollection{}, err
	}
	c, ok := s.collections[itemKey{source, key}]
	if !ok {
		return catalog.ParentCollection{}, catalog.ErrNotFound
	}
	return c, nil
}

// ListCollections returns collections of source in key order.
func (s *Store) ListCollections(
	_ context.Context,
	source string,
	state catalog.SyncState,
) ([]catalog.ParentCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list collections"); err != nil {
		return nil, err
	}
	var out []catalog.ParentCollection
	for id, c := range s.collections {
		if id.source == source && state.Matches(c.IsSynced) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b catalog.ParentCollection) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// SetSynced flips the sync flag of one collection.
func (s *Store) SetSynced(_ context.Context, source, key string, synced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set synced"); err != nil {
		return err
	}
	id := itemKey{source, key}
	c, ok := s.collections[id]
	if !ok {
		return catalog.ErrNotFound
	}
	c.IsSynced = synced
	c.UpdatedAt = s.now()
	s.collections[id] = c
	return nil
}

// UpsertRecords writes records keyed by (source, key); re-writes overwrite.
func (s *Store) UpsertRecords(_ context.Context, records []catalog.DetailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert records"); err != nil {
		return err
	}
	for _, r := range records {
		r.Fields = maps.Clone(r.Fields)
		s.records[itemKey{r.Source, r.Key}] = r
	}
	return nil
}

// StreamRecords yields a snapshot of matching records in key order.
func (s *Store) StreamRecords(_ context.Context, filter catalog.RecordFilter) iter.Seq2[catalog.DetailRecord, error] {
	s.mu.Lock()
	err := s.check("stream records")
	snapshot := s.matching(filter)
	s.mu.Unlock()

	return func(yield func(catalog.DetailRecord, error) bool) {
		if err != nil {
			yield(catalog.DetailRecord{}, err)
			return
		}
		for _, r := range snapshot {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// CountRecords counts matching records.
func (s *Store) CountRecords(_ context.Context, filter catalog.RecordFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("count records"); err != nil {
		return 0, err
	}
	return len(s.matching(filter)), nil
}

func (s *Store) matching(filter catalog.RecordFilter) []catalog.DetailRecord {
	out := make([]catalog.DetailRecord, 0)
	for id, r := range s.records {
		if filter.Source != "" && id.source != filter.Source {
			continue
		}
		if filter.ParentKey != "" && r.ParentKey != filter.ParentKey {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
