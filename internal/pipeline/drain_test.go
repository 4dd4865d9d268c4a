package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seedParent(t *testing.T, store *memory.Store, source, parent string, keys ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertCollection(ctx, catalog.ParentCollection{Source: source, Key: parent, Name: parent}))
	_, err := store.Enqueue(ctx, source, parent, keys)
	require.NoError(t, err)
}

func TestDrainPersistsAndMarksFetched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	seedParent(t, store, "ygo", "LOB", "LOB-001", "LOB-002")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("LOB-001"), "LOB-001|Blue-Eyes White Dragon|rarity=UR")
	fetcher.set(detailURL("LOB-002"), "|Hitotsu-Me Giant|rarity=C")

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	report, err := NewDrainer(store, fetcher, DrainConfig{}, Options{Clock: fixedClock{now}}).Drain(ctx, testSource{name: "ygo"}, "")
	require.NoError(t, err)
	assert.True(t, report.Drained)
	assert.Equal(t, catalog.Tally{Succeeded: 2}, report.Tally)

	var recs []catalog.DetailRecord
	for r, err := range store.StreamRecords(ctx, catalog.RecordFilter{Source: "ygo", ParentKey: "LOB"}) {
		require.NoError(t, err)
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "LOB-002", recs[1].Key, "empty key defaults to the work item key")
	assert.Equal(t, "LOB", recs[1].ParentKey)
	assert.Equal(t, detailURL("LOB-002"), recs[1].URL)
	assert.Equal(t, now, recs[0].FetchedAt)
	assert.Equal(t, "UR", recs[0].Field("rarity"))

	counts, err := store.CountItems(ctx, "ygo", "LOB")
	require.NoError(t, err)
	assert.True(t, counts.Done())
}

func TestDrainFailedItemStaysUnfetchedAndPassTerminates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	seedParent(t, store, "ygo", "MRD", "MRD-001", "MRD-002", "MRD-003")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("MRD-001"), "MRD-001|Gaia The Fierce Knight")
	fetcher.fail(detailURL("MRD-002"), timeout(detailURL("MRD-002")))
	fetcher.set(detailURL("MRD-003"), "MRD-003|Swords of Revealing Light")

	report, err := NewDrainer(store, fetcher, DrainConfig{}, Options{}).Drain(ctx, testSource{name: "ygo"}, "MRD")
	require.NoError(t, err)
	assert.Equal(t, catalog.Tally{Succeeded: 2, Failed: 1}, report.Tally)
	assert.Equal(t, 1, fetcher.count(detailURL("MRD-002")), "a pass claims each pending item once")

	item, ok := store.Item("ygo", "MRD-002")
	require.True(t, ok)
	assert.False(t, item.Fetched)
}

func TestDrainExtractionFailureOnOneEntryLeavesItemPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	seedParent(t, store, "ygo", "LOB", "LOB-005")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("LOB-005"), "LOB-005-EN|Mystical Elf\n!no name cell")

	report, err := NewDrainer(store, fetcher, DrainConfig{}, Options{}).Drain(ctx, testSource{name: "ygo"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tally.Failed)

	n, err := store.CountRecords(ctx, catalog.RecordFilter{Source: "ygo"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clean sibling entries are still persisted")
	item, _ := store.Item("ygo", "LOB-005")
	assert.False(t, item.Fetched)
}

func TestDrainAbortsOnStoreError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	seedParent(t, store, "ygo", "LOB", "LOB-001", "LOB-002")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("LOB-001"), "LOB-001|Blue-Eyes White Dragon")
	fetcher.set(detailURL("LOB-002"), "LOB-002|Hitotsu-Me Giant")

	store.FailNext("upsert records", errors.New("connection refused"))
	_, err := NewDrainer(store, fetcher, DrainConfig{}, Options{}).Drain(ctx, testSource{name: "ygo"}, "")
	require.Error(t, err)
	assert.True(t, catalog.IsStoreError(err))
	assert.Zero(t, fetcher.count(detailURL("LOB-002")))
}

func TestDrainHonorsMaxItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	keys := make([]string, 5)
	fetcher := newFakeFetcher()
	for i := range keys {
		keys[i] = fmt.Sprintf("SV1-%03d", i+1)
		fetcher.set(detailURL(keys[i]), keys[i]+"|card")
	}
	seedParent(t, store, "ptcg", "SV1", keys...)

	report, err := NewDrainer(store, fetcher, DrainConfig{MaxItems: 2}, Options{}).Drain(ctx, testSource{name: "ptcg"}, "SV1")
	require.NoError(t, err)
	assert.False(t, report.Drained)
	assert.Equal(t, 2, report.Tally.Succeeded)

	counts, err := store.CountItems(ctx, "ptcg", "SV1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Pending)
}

func TestDrainArchivesRawPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	seedParent(t, store, "ygo", "LOB", "LOB-001")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("LOB-001"), "LOB-001|Blue-Eyes White Dragon")

	cfg := DrainConfig{Archive: &Archive{Blobs: blobs, Hasher: sha256.New(), Prefix: "raw"}}
	_, err := NewDrainer(store, fetcher, cfg, Options{}).Drain(ctx, testSource{name: "ygo"}, "")
	require.NoError(t, err)

	var rec catalog.DetailRecord
	for r, err := range store.StreamRecords(ctx, catalog.RecordFilter{Source: "ygo"}) {
		require.NoError(t, err)
		rec = r
	}
	require.Len(t, rec.ContentHash, 64)
	assert.Equal(t, "memory://raw/ygo/LOB/"+rec.ContentHash+".html", rec.BlobURI)
	body, ok := blobs.Object("raw/ygo/LOB/" + rec.ContentHash + ".html")
	require.True(t, ok)
	assert.Equal(t, "LOB-001|Blue-Eyes White Dragon", string(body))
}

type countingPacer struct{ calls int }

func (p *countingPacer) Wait(context.Context, string) error {
	p.calls++
	return nil
}

func TestDrainPacesEveryFetch(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	seedParent(t, store, "ygo", "LOB", "LOB-001", "LOB-002")
	fetcher := newFakeFetcher()
	fetcher.set(detailURL("LOB-001"), "LOB-001|a")
	fetcher.set(detailURL("LOB-002"), "LOB-002|b")

	pacer := &countingPacer{}
	_, err := NewDrainer(store, fetcher, DrainConfig{}, Options{Pacer: pacer}).Drain(context.Background(), testSource{name: "ygo"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, pacer.calls)
}
