package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// fakeFetcher serves canned bodies. Bodies use a line format understood by
// the line extractors below.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	counts map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:  make(map[string]string),
		errs:   make(map[string]error),
		counts: make(map[string]int),
	}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
	delete(f.errs, url)
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (catalog.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[url]++
	if err, ok := f.errs[url]; ok {
		return catalog.Page{}, err
	}
	body, ok := f.pages[url]
	if !ok {
		return catalog.Page{}, &catalog.FetchError{Kind: catalog.FetchHTTPStatus, URL: url, StatusCode: 404}
	}
	return catalog.Page{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func timeout(url string) error {
	return &catalog.FetchError{Kind: catalog.FetchTimeout, URL: url, Err: errors.New("deadline exceeded")}
}

// parseLines reads "next: url", "total: n", "!reason" (malformed entry) and
// "key|name|field=value,..." lines.
func parseLines[T any](page catalog.Page, build func(parts []string) T) catalog.Extraction[T] {
	var ext catalog.Extraction[T]
	for _, line := range strings.Split(string(page.Body), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "next:"):
			ext.Next = strings.TrimSpace(strings.TrimPrefix(line, "next:"))
		case strings.HasPrefix(line, "total:"):
			ext.TotalPages, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "total:")))
		case strings.HasPrefix(line, "!"):
			ext.Items = append(ext.Items, catalog.Fail[T](&catalog.ExtractError{URL: page.URL, Reason: line[1:]}))
		default:
			ext.Items = append(ext.Items, catalog.Ok(build(strings.Split(line, "|"))))
		}
	}
	return ext
}

type extractFunc[T any] func(ctx context.Context, page catalog.Page) (catalog.Extraction[T], error)

func (f extractFunc[T]) Extract(ctx context.Context, page catalog.Page) (catalog.Extraction[T], error) {
	return f(ctx, page)
}

func collectionLines() catalog.Extractor[catalog.ParentCollection] {
	return extractFunc[catalog.ParentCollection](func(_ context.Context, page catalog.Page) (catalog.Extraction[catalog.ParentCollection], error) {
		return parseLines(page, func(parts []string) catalog.ParentCollection {
			c := catalog.ParentCollection{Key: parts[0]}
			if len(parts) > 1 {
				c.Name = parts[1]
			}
			return c
		}), nil
	})
}

func keyLines() catalog.Extractor[string] {
	return extractFunc[string](func(_ context.Context, page catalog.Page) (catalog.Extraction[string], error) {
		return parseLines(page, func(parts []string) string { return parts[0] }), nil
	})
}

func recordLines() catalog.Extractor[catalog.DetailRecord] {
	return extractFunc[catalog.DetailRecord](func(_ context.Context, page catalog.Page) (catalog.Extraction[catalog.DetailRecord], error) {
		return parseLines(page, func(parts []string) catalog.DetailRecord {
			r := catalog.DetailRecord{Key: parts[0]}
			if len(parts) > 1 {
				r.Name = parts[1]
			}
			if len(parts) > 2 && parts[2] != "" {
				r.Fields = map[string]string{}
				for _, kv := range strings.Split(parts[2], ",") {
					k, v, _ := strings.Cut(kv, "=")
					r.Fields[k] = v
				}
			}
			if len(parts) > 3 {
				r.ParentKey = parts[3]
			}
			return r
		}), nil
	})
}

// testSource addresses pages under https://cards.test.
type testSource struct {
	name string
}

func (s testSource) Name() string         { return s.name }
func (s testSource) DirectoryURL() string { return "https://cards.test/sets?page=1" }
func (s testSource) Collections() catalog.Extractor[catalog.ParentCollection] {
	return collectionLines()
}
func (s testSource) ChildrenURL(p catalog.ParentCollection) string {
	return "https://cards.test/sets/" + p.Key
}
func (s testSource) Children() catalog.Extractor[string] { return keyLines() }
func (s testSource) DetailURL(item catalog.WorkItem) string {
	return "https://cards.test/cards/" + item.Key
}
func (s testSource) Details() catalog.Extractor[catalog.DetailRecord] { return recordLines() }
func (s testSource) ListingURL(page int) string {
	return "https://cards.test/list?page=" + strconv.Itoa(page)
}
func (s testSource) Listing() catalog.Extractor[catalog.DetailRecord] { return recordLines() }

func detailURL(key string) string { return "https://cards.test/cards/" + key }
func listingURL(page int) string  { return "https://cards.test/list?page=" + strconv.Itoa(page) }

type recordedEvent struct {
	topic   string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, payload: payload})
	return "msg-" + strconv.Itoa(len(p.events)), nil
}
