package selector

import (
	"bytes"
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// extractor evaluates compiled rules and hands each entry's fields to build.
type extractor[T any] struct {
	rules compiledRules
	build func(fields map[string]string) T
}

func (e extractor[T]) Extract(_ context.Context, page catalog.Page) (catalog.Extraction[T], error) {
	var ext catalog.Extraction[T]
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return ext, &catalog.ExtractError{URL: page.URL, Reason: "parse html: " + err.Error()}
	}
	base, _ := url.Parse(page.URL)

	entries := doc.Selection
	if e.rules.item != "" {
		entries = doc.Find(e.rules.item)
	}
	entries.Each(func(_ int, sel *goquery.Selection) {
		fields := make(map[string]string, len(e.rules.fields))
		for _, name := range e.rules.order {
			rule := e.rules.fields[name]
			v, ok := rule.eval(sel, base)
			if !ok {
				if rule.Required {
					ext.Items = append(ext.Items, catalog.Fail[T](&catalog.ExtractError{
						URL:    page.URL,
						Field:  name,
						Reason: "required field missing",
					}))
					return
				}
				continue
			}
			fields[name] = v
		}
		ext.Items = append(ext.Items, catalog.Ok(e.build(fields)))
	})

	if e.rules.next != "" {
		if href, ok := doc.Find(e.rules.next).First().Attr("href"); ok && href != "" {
			ext.Next = resolve(base, href)
		}
	}
	if e.rules.totalPages != nil {
		if v, ok := e.rules.totalPages.eval(doc.Selection, base); ok {
			ext.TotalPages = atoiDigits(v)
		}
	}
	return ext, nil
}
