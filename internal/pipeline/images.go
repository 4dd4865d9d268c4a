package pipeline

import (
	"bytes"
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// ImageField is the record field holding a card image URL.
const ImageField = "image_url"

// ImageArchiver downloads the images referenced by stored records into a
// BlobStore. Per-image failures are tallied and never stop the run.
type ImageArchiver struct {
	records catalog.RecordStore
	fetcher catalog.PageFetcher
	blobs   catalog.BlobStore
	opts    Options
}

// NewImageArchiver constructs an ImageArchiver.
func NewImageArchiver(records catalog.RecordStore, fetcher catalog.PageFetcher, blobs catalog.BlobStore, opts Options) *ImageArchiver {
	return &ImageArchiver{records: records, fetcher: fetcher, blobs: blobs, opts: opts.withDefaults()}
}

// Run archives the image of every record matching filter.
func (a *ImageArchiver) Run(ctx context.Context, filter catalog.RecordFilter) (catalog.Tally, error) {
	logger := a.opts.Logger.With(zap.String("source", filter.Source), zap.String("stage", "images"))
	var tally catalog.Tally
	for rec, err := range a.records.StreamRecords(ctx, filter) {
		if err != nil {
			return tally, err
		}
		src := rec.Field(ImageField)
		if src == "" {
			tally.Skipped++
			continue
		}
		page, err := fetch(ctx, a.opts, a.fetcher, rec.Source, src)
		if err != nil {
			if catalog.IsStoreError(err) {
				return tally, err
			}
			tally.Failed++
			logger.Warn("image fetch failed", zap.String("key", rec.Key), zap.String("url", src), zap.Error(err))
			continue
		}
		contentType := page.Headers.Get("Content-Type")
		objectPath := path.Join(rec.Source, "images", rec.ParentKey, rec.Key+imageExt(src, contentType))
		if _, err := a.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(page.Body)); err != nil {
			tally.Failed++
			logger.Warn("image store failed", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		tally.Succeeded++
	}
	logger.Info("images archived",
		zap.Int("stored", tally.Succeeded),
		zap.Int("failed", tally.Failed),
		zap.Int("without_image", tally.Skipped),
	)
	return tally, nil
}

func imageExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}
