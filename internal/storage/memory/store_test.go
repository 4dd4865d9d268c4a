package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

func TestEnqueueIsIdempotentAndResetsFetched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	keys := []string{"a", "b", "c"}
	_, err := s.Enqueue(ctx, "ptcg", "SV1", keys)
	require.NoError(t, err)
	require.NoError(t, s.MarkFetched(ctx, "ptcg", "a"))
	require.NoError(t, s.MarkFetched(ctx, "ptcg", "b"))

	_, err = s.Enqueue(ctx, "ptcg", "SV1", keys)
	require.NoError(t, err)

	counts, err := s.CountItems(ctx, "ptcg", "SV1")
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemCounts{Total: 3, Pending: 3}, counts)
}

func TestEnqueueDropsEmptyAndRepeatedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	n, err := s.Enqueue(ctx, "ptcg", "SV1", []string{"a", "", "b", "a", "b", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, found, err := s.ClaimNext(ctx, catalog.ClaimFilter{Source: "ptcg"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", item.Key)
	counts, err := s.CountItems(ctx, "ptcg", "SV1")
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemCounts{Total: 2, Pending: 2}, counts)

	n, err = s.Enqueue(ctx, "ptcg", "SV1", []string{""})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClaimNextWalksKeysOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	_, err := s.Enqueue(ctx, "ptcg", "SV1", []string{"c", "a", "b"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "ptcg", "SV2", []string{"z"})
	require.NoError(t, err)

	var seen []string
	after := ""
	for {
		item, ok, err := s.ClaimNext(ctx, catalog.ClaimFilter{Source: "ptcg", ParentKey: "SV1", AfterKey: after})
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, item.Key)
		after = item.Key
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestLeaseExclusivityUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	const n = 200
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%03d", i)
	}
	inserted, err := s.SeedLinks(ctx, "printing", urls)
	require.NoError(t, err)
	require.Equal(t, n, inserted)

	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				l, ok, err := s.ClaimLease(ctx, "printing", "")
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed = append(claimed, l.URL())
				mu.Unlock()
				if err := l.Complete(ctx); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	sort.Strings(claimed)
	assert.Equal(t, urls, claimed)
	pending, err := s.PendingLinks(ctx, "printing")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestReleasedLeaseIsReclaimable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	_, err := s.SeedLinks(ctx, "expansion", []string{"/set/1"})
	require.NoError(t, err)

	l, ok, err := s.ClaimLease(ctx, "expansion", "")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.ClaimLease(ctx, "expansion", "")
	require.NoError(t, err)
	assert.False(t, ok, "held row must be skipped")

	require.NoError(t, l.Release(ctx))

	again, ok, err := s.ClaimLease(ctx, "expansion", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/set/1", again.URL())
	require.NoError(t, again.Release(ctx))

	_, ok, err = s.ClaimLease(ctx, "expansion", "/set/1")
	require.NoError(t, err)
	assert.False(t, ok, "rows at or before the cursor are skipped")
}

func TestCursorIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	p, err := s.ReadCursor(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	require.NoError(t, s.AdvanceCursor(ctx, "ws", 5))
	require.NoError(t, s.AdvanceCursor(ctx, "ws", 3))
	p, err = s.ReadCursor(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 5, p)
}

func TestUpsertCollectionKeepsSyncFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.UpsertCollection(ctx, catalog.ParentCollection{Source: "ptcg", Key: "SV1", Name: "Scarlet"}))
	require.NoError(t, s.SetSynced(ctx, "ptcg", "SV1", true))
	require.NoError(t, s.UpsertCollection(ctx, catalog.ParentCollection{Source: "ptcg", Key: "SV1", Name: "Scarlet ex"}))

	c, err := s.GetCollection(ctx, "ptcg", "SV1")
	require.NoError(t, err)
	assert.True(t, c.IsSynced)
	assert.Equal(t, "Scarlet ex", c.Name)

	_, err = s.GetCollection(ctx, "ptcg", "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.ErrorIs(t, s.SetSynced(ctx, "ptcg", "missing", true), catalog.ErrNotFound)
}

func TestUpsertRecordsOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	rec := catalog.DetailRecord{Source: "ws", Key: "BD/W54-001", ParentKey: "BD", Name: "Kasumi"}
	require.NoError(t, s.UpsertRecords(ctx, []catalog.DetailRecord{rec}))
	rec.Name = "Kasumi Toyama"
	require.NoError(t, s.UpsertRecords(ctx, []catalog.DetailRecord{rec}))

	n, err := s.CountRecords(ctx, catalog.RecordFilter{Source: "ws"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for r, err := range s.StreamRecords(ctx, catalog.RecordFilter{Source: "ws", ParentKey: "BD"}) {
		require.NoError(t, err)
		assert.Equal(t, "Kasumi Toyama", r.Name)
	}
}

func TestClosedStoreReturnsStoreErrors(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Close()

	_, _, err := s.ClaimNext(context.Background(), catalog.ClaimFilter{Source: "ptcg"})
	require.Error(t, err)
	assert.True(t, catalog.IsStoreError(err))
}

func TestAbortedCompleteLeavesRowClaimable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	_, err := s.SeedLinks(ctx, "printing", []string{"/card/1"})
	require.NoError(t, err)

	l, ok, err := s.ClaimLease(ctx, "printing", "")
	require.NoError(t, err)
	require.True(t, ok)

	s.FailNext("complete lease", errors.New("connection reset"))
	err = l.Complete(ctx)
	require.Error(t, err)
	assert.True(t, catalog.IsStoreError(err))

	again, ok, err := s.ClaimLease(ctx, "printing", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/card/1", again.URL())
}
