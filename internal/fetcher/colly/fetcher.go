// Package collyfetcher implements catalog.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Headers are added to every request (cookies, language selection).
	Headers http.Header
}

// Fetcher implements catalog.PageFetcher using the Colly collector. It never
// retries; a failed page is retried by the pipeline on a later claim.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	transport := &robotsAwareTransport{
		base: newHTTPTransport(),
		onFallback: func(host, reason string) {
			logger.Warn("robots.txt unreachable; allowing all", zap.String("host", host), zap.String("reason", reason))
		},
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// fetchState collects what the collector callbacks observe for one visit.
type fetchState struct {
	page   catalog.Page
	status int
	err    error
}

// Fetch executes a single HTTP GET. Failures are *catalog.FetchError values,
// except context cancellation which is returned as is.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	state := &fetchState{}
	collector := f.buildCollector(ctx, time.Now(), state)

	if err := f.runCollector(ctx, collector, url, state); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.Page{}, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}
		return catalog.Page{}, classify(url, state.status, err)
	}
	return state.page, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.page = catalog.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classify maps a collector failure onto the fetch error taxonomy.
func classify(url string, status int, err error) error {
	switch {
	case status >= http.StatusBadRequest:
		return &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: status, Err: err}
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: http.StatusForbidden, Err: err}
	case isTimeout(err):
		return &catalog.FetchError{Kind: catalog.FetchTimeout, URL: url, Err: err}
	case status != 0 && (status < 200 || status >= 300):
		return &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: status, Err: err}
	default:
		return &catalog.FetchError{Kind: catalog.FetchNetwork, URL: url, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
