package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/storage/memory"
)

func TestImageArchiverStoresImagesAndTalliesFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	fetcher := newFakeFetcher()
	fetcher.set("https://img.test/LOB-001.jpg", "jpeg-bytes")
	fetcher.fail("https://img.test/LOB-002.png", timeout("https://img.test/LOB-002.png"))

	now := time.Now().UTC()
	require.NoError(t, store.UpsertRecords(ctx, []catalog.DetailRecord{
		{Source: "ygo", Key: "LOB-001", ParentKey: "LOB", Fields: map[string]string{ImageField: "https://img.test/LOB-001.jpg"}, FetchedAt: now},
		{Source: "ygo", Key: "LOB-002", ParentKey: "LOB", Fields: map[string]string{ImageField: "https://img.test/LOB-002.png"}, FetchedAt: now},
		{Source: "ygo", Key: "LOB-003", ParentKey: "LOB", FetchedAt: now},
	}))

	tally, err := NewImageArchiver(store, fetcher, blobs, Options{}).Run(ctx, catalog.RecordFilter{Source: "ygo"})
	require.NoError(t, err)
	assert.Equal(t, catalog.Tally{Succeeded: 1, Failed: 1, Skipped: 1}, tally)

	body, ok := blobs.Object("ygo/images/LOB/LOB-001.jpg")
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(body))
}

func TestImageExt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ".png", imageExt("https://img.test/a/B.PNG?x=1", ""))
	assert.Equal(t, ".png", imageExt("https://img.test/render", "image/png"))
	assert.Equal(t, ".bin", imageExt("https://img.test/render", ""))
}
