package selector

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// Reserved field names. Every other field lands in Meta or Fields.
const (
	FieldKey    = "key"
	FieldName   = "name"
	FieldSeries = "series"
	FieldURL    = "url"
	FieldParent = "parent"
)

// Definition configures one selector-driven source. URL templates accept
// {key}, {parent}, {url} and {page} placeholders.
type Definition struct {
	DirectoryURL string `mapstructure:"directory_url"`
	ChildrenURL  string `mapstructure:"children_url"`
	DetailURL    string `mapstructure:"detail_url"`
	ListingURL   string `mapstructure:"listing_url"`
	// Headless selects the browser fetcher for this source.
	Headless    bool  `mapstructure:"headless"`
	Collections Rules `mapstructure:"collections"`
	Children    Rules `mapstructure:"children"`
	Details     Rules `mapstructure:"details"`
	Listing     Rules `mapstructure:"listing"`
}

// Source is a pipeline.Source built from a Definition.
type Source struct {
	name        string
	def         Definition
	collections extractor[catalog.ParentCollection]
	children    extractor[string]
	details     extractor[catalog.DetailRecord]
	listing     extractor[catalog.DetailRecord]
}

// New compiles def into a Source.
func New(name string, def Definition) (*Source, error) {
	if name == "" {
		return nil, errors.New("source name is required")
	}
	if def.DirectoryURL == "" && def.ListingURL == "" {
		return nil, fmt.Errorf("source %s: directory_url or listing_url is required", name)
	}
	if def.DirectoryURL != "" && def.DetailURL == "" {
		return nil, fmt.Errorf("source %s: detail_url is required with directory_url", name)
	}
	s := &Source{name: name, def: def}

	var err error
	if s.collections.rules, err = compileRules(def.Collections); err != nil {
		return nil, fmt.Errorf("source %s collections: %w", name, err)
	}
	if s.children.rules, err = compileRules(def.Children); err != nil {
		return nil, fmt.Errorf("source %s children: %w", name, err)
	}
	if s.details.rules, err = compileRules(def.Details); err != nil {
		return nil, fmt.Errorf("source %s details: %w", name, err)
	}
	if s.listing.rules, err = compileRules(def.Listing); err != nil {
		return nil, fmt.Errorf("source %s listing: %w", name, err)
	}
	s.collections.build = buildCollection
	s.children.build = func(f map[string]string) string { return f[FieldKey] }
	s.details.build = buildRecord
	s.listing.build = buildRecord
	return s, nil
}

// Name returns the configured source name.
func (s *Source) Name() string { return s.name }

// Headless reports whether pages need a rendering browser.
func (s *Source) Headless() bool { return s.def.Headless }

// DirectoryURL returns the first directory page.
func (s *Source) DirectoryURL() string { return s.def.DirectoryURL }

// Collections extracts parent collections from directory pages.
func (s *Source) Collections() catalog.Extractor[catalog.ParentCollection] { return s.collections }

// ChildrenURL expands the child listing template for parent.
func (s *Source) ChildrenURL(parent catalog.ParentCollection) string {
	return expand(s.def.ChildrenURL, parent.Key, "", parent.URL, 0)
}

// Children extracts work item keys.
func (s *Source) Children() catalog.Extractor[string] { return s.children }

// DetailURL expands the detail template for item.
func (s *Source) DetailURL(item catalog.WorkItem) string {
	return expand(s.def.DetailURL, item.Key, item.ParentKey, "", 0)
}

// Details extracts records from detail pages.
func (s *Source) Details() catalog.Extractor[catalog.DetailRecord] { return s.details }

// ListingURL expands the listing template for page.
func (s *Source) ListingURL(page int) string {
	return expand(s.def.ListingURL, "", "", "", page)
}

// Listing extracts records from listing pages.
func (s *Source) Listing() catalog.Extractor[catalog.DetailRecord] { return s.listing }

func expand(tmpl, key, parent, rawURL string, page int) string {
	if tmpl == "" {
		return ""
	}
	switch tmpl {
	case "{key}":
		// keys harvested as absolute links are used verbatim
		return key
	case "{url}":
		return rawURL
	}
	r := strings.NewReplacer(
		"{key}", url.PathEscape(key),
		"{parent}", url.PathEscape(parent),
		"{url}", rawURL,
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(tmpl)
}

func buildCollection(f map[string]string) catalog.ParentCollection {
	c := catalog.ParentCollection{
		Key:    f[FieldKey],
		Name:   f[FieldName],
		Series: f[FieldSeries],
		URL:    f[FieldURL],
	}
	if c.Name == "" {
		c.Name = c.Key
	}
	for k, v := range f {
		switch k {
		case FieldKey, FieldName, FieldSeries, FieldURL:
		default:
			if c.Meta == nil {
				c.Meta = make(map[string]string)
			}
			c.Meta[k] = v
		}
	}
	return c
}

func buildRecord(f map[string]string) catalog.DetailRecord {
	r := catalog.DetailRecord{
		Key:       f[FieldKey],
		Name:      f[FieldName],
		ParentKey: f[FieldParent],
	}
	for k, v := range f {
		switch k {
		case FieldKey, FieldName, FieldParent:
		default:
			if r.Fields == nil {
				r.Fields = make(map[string]string)
			}
			r.Fields[k] = v
		}
	}
	return r
}
