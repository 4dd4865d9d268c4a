// Package selector builds catalog sources from CSS-selector rules evaluated
// with goquery, so a new site needs configuration rather than code.
package selector

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldRule extracts one value from an entry.
type FieldRule struct {
	// Selector is evaluated relative to the entry; empty means the entry itself.
	Selector string `mapstructure:"selector"`
	// Attr reads an attribute instead of the element text.
	Attr string `mapstructure:"attr"`
	// Pattern keeps the first capture group (or the whole match) of a regexp.
	Pattern  string `mapstructure:"pattern"`
	Required bool   `mapstructure:"required"`
	// Link resolves the value against the page URL.
	Link bool `mapstructure:"link"`
}

// Rules describe how to split one page into entries.
type Rules struct {
	// Item selects each entry; empty treats the whole page as one entry.
	Item string `mapstructure:"item"`
	// Next selects the anchor whose href is the following page.
	Next       string               `mapstructure:"next"`
	TotalPages FieldRule            `mapstructure:"total_pages"`
	Fields     map[string]FieldRule `mapstructure:"fields"`
}

type compiledField struct {
	FieldRule
	re *regexp.Regexp
}

type compiledRules struct {
	item       string
	next       string
	totalPages *compiledField
	fields     map[string]compiledField
	order      []string
}

func compileField(name string, r FieldRule) (compiledField, error) {
	cf := compiledField{FieldRule: r}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return compiledField{}, fmt.Errorf("field %s: compile pattern: %w", name, err)
		}
		cf.re = re
	}
	return cf, nil
}

func compileRules(r Rules) (compiledRules, error) {
	out := compiledRules{
		item:   r.Item,
		next:   r.Next,
		fields: make(map[string]compiledField, len(r.Fields)),
	}
	for name, fr := range r.Fields {
		cf, err := compileField(name, fr)
		if err != nil {
			return compiledRules{}, err
		}
		out.fields[name] = cf
		out.order = append(out.order, name)
	}
	sort.Strings(out.order)
	if r.TotalPages.Selector != "" || r.TotalPages.Pattern != "" {
		cf, err := compileField("total_pages", r.TotalPages)
		if err != nil {
			return compiledRules{}, err
		}
		out.totalPages = &cf
	}
	return out, nil
}

// eval reads the field from sel. The bool is false when nothing matched.
func (f compiledField) eval(sel *goquery.Selection, base *url.URL) (string, bool) {
	target := sel
	if f.Selector != "" {
		target = sel.Find(f.Selector).First()
	}
	if target.Length() == 0 {
		return "", false
	}
	var raw string
	if f.Attr != "" {
		v, ok := target.Attr(f.Attr)
		if !ok {
			return "", false
		}
		raw = v
	} else {
		raw = target.Text()
	}
	raw = strings.Join(strings.Fields(raw), " ")

	if f.re != nil {
		m := f.re.FindStringSubmatch(raw)
		if m == nil {
			return "", false
		}
		raw = m[0]
		if len(m) > 1 {
			raw = m[1]
		}
	}
	if f.Link && raw != "" {
		raw = resolve(base, raw)
	}
	return raw, raw != ""
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func atoiDigits(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, _ := strconv.Atoi(b.String())
	return n
}
