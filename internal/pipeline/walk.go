package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// walk fetches start and every page reachable through Extraction.Next,
// handing each extraction to visit. A URL seen twice ends the walk so a
// self-referencing "next" link cannot loop forever.
func walk[T any](
	ctx context.Context,
	opts Options,
	fetcher catalog.PageFetcher,
	source string,
	start string,
	extractor catalog.Extractor[T],
	visit func(page catalog.Page, ext catalog.Extraction[T]) error,
) (int, error) {
	seen := make(map[string]struct{})
	pages := 0
	for next := start; next != ""; {
		if _, ok := seen[next]; ok {
			opts.Logger.Warn("pagination loop detected", zap.String("source", source), zap.String("url", next))
			break
		}
		seen[next] = struct{}{}

		page, err := fetch(ctx, opts, fetcher, source, next)
		if err != nil {
			return pages, err
		}
		ext, err := extractor.Extract(ctx, page)
		if err != nil {
			return pages, fmt.Errorf("extract %s: %w", next, err)
		}
		pages++
		if err := visit(page, ext); err != nil {
			return pages, err
		}
		next = ext.Next
	}
	return pages, nil
}
