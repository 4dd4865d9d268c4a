// Package promote upgrades plain HTTP fetches to a rendering browser when the
// response looks like a client-side application shell.
package promote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// DefaultThreshold is the body length under which script-heavy pages are promoted.
const DefaultThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector; a zero threshold selects DefaultThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote decides whether the page needs a rendered fetch.
func (h *Heuristic) ShouldPromote(page catalog.Page) bool {
	if page.Rendered || page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			// Malformed tag; count the remainder.
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}

// Fetcher probes with a plain fetcher and refetches through the browser when
// the heuristic asks for it. The browser is resolved lazily so sources that
// never promote never start one.
type Fetcher struct {
	probe     catalog.PageFetcher
	browser   func() (catalog.PageFetcher, error)
	heuristic *Heuristic
	logger    *zap.Logger
}

// New wraps probe. browser is called at most once per promoted fetch.
func New(probe catalog.PageFetcher, browser func() (catalog.PageFetcher, error), heuristic *Heuristic, logger *zap.Logger) *Fetcher {
	if heuristic == nil {
		heuristic = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, browser: browser, heuristic: heuristic, logger: logger}
}

// Fetch implements catalog.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	page, err := f.probe.Fetch(ctx, url)
	if err != nil || !f.heuristic.ShouldPromote(page) {
		return page, err
	}
	browser, err := f.browser()
	if err != nil {
		return catalog.Page{}, fmt.Errorf("promote %s: %w", url, err)
	}
	f.logger.Debug("promoting fetch to browser", zap.String("url", url), zap.Int("probe_bytes", len(page.Body)))
	rendered, err := browser.Fetch(ctx, url)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("rendered fetch %s: %w", url, err)
	}
	return rendered, nil
}
