// Package headless renders catalog pages in headless Chrome, for sources whose
// card tables are built client side.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// Config controls the browser fetcher.
type Config struct {
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must match before the DOM is captured. Defaults to "body".
	WaitSelector string
	// Settle is slept after WaitSelector matches so late XHR rows land.
	Settle time.Duration
	// ScrollToBottom triggers lazy-loaded card grids before capture.
	ScrollToBottom bool
	Headers        map[string]string
}

// Fetcher implements catalog.PageFetcher with chromedp.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts an exec allocator. Chrome itself is launched on the
// first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders url and returns the resulting DOM. The status and headers are
// those of the main document response.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return catalog.Page{}, fmt.Errorf("wait for browser slot: %w", err)
		}
		defer f.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, f.actions(url, &html, &location)...); err != nil {
		if ctx.Err() != nil {
			return catalog.Page{}, fmt.Errorf("headless fetch %s: %w", url, ctx.Err())
		}
		return catalog.Page{}, classify(url, doc.statusCode(), err)
	}

	status, headers, finalURL := doc.result()
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = url
	}
	if status >= http.StatusBadRequest {
		return catalog.Page{}, &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: status}
	}
	return catalog.Page{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (f *Fetcher) actions(url string, html, location *string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.ActionFunc(f.prepareTab),
		chromedp.Navigate(url),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.ScrollToBottom {
		actions = append(actions, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
	}
	return append(actions,
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

func (f *Fetcher) prepareTab(ctx context.Context) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if f.cfg.UserAgent != "" {
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if len(f.cfg.Headers) == 0 {
		return nil
	}
	headers := make(network.Headers, len(f.cfg.Headers))
	for k, v := range f.cfg.Headers {
		headers[k] = v
	}
	if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	return nil
}

func classify(url string, status int, err error) error {
	switch {
	case status >= http.StatusBadRequest:
		return &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: status, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &catalog.FetchError{Kind: catalog.FetchTimeout, URL: url, Err: err}
	default:
		return &catalog.FetchError{Kind: catalog.FetchNetwork, URL: url, Err: err}
	}
}

// documentResponse keeps the last main-document response seen by a tab.
// Redirects replace earlier entries.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for k, v := range resp.Response.Headers {
		switch vv := v.(type) {
		case string:
			headers.Add(k, vv)
		case []any:
			for _, item := range vv {
				headers.Add(k, fmt.Sprint(item))
			}
		default:
			headers.Add(k, fmt.Sprint(vv))
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

func (d *documentResponse) statusCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// result returns status 200 when no document response was observed, which
// happens for pages served from the browser cache.
func (d *documentResponse) result() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, d.url
}
