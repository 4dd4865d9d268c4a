package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

var _ pipeline.Source = (*Source)(nil)

const directoryHTML = `<html><body>
<table id="sets">
  <tr class="set"><td class="code">LOB</td><td class="name"><a href="/sets/LOB">Legend of Blue Eyes White Dragon</a></td><td class="date">2002-03-08</td></tr>
  <tr class="set"><td class="code"></td><td class="name"><a href="/sets/XXX">Broken Row</a></td></tr>
  <tr class="set"><td class="code">MRD</td><td class="name"><a href="/sets/MRD">Metal Raiders</a></td><td class="date">2002-06-26</td></tr>
</table>
<div class="pager"><span>Page 1 of 7</span><a class="next" href="?page=2">Next</a></div>
</body></html>`

func testDefinition() Definition {
	return Definition{
		DirectoryURL: "https://cards.test/sets",
		ChildrenURL:  "{url}",
		DetailURL:    "https://cards.test/card/{parent}/{key}",
		ListingURL:   "https://cards.test/list?page={page}",
		Collections: Rules{
			Item:       "tr.set",
			Next:       "a.next",
			TotalPages: FieldRule{Selector: ".pager span", Pattern: `of (\d+)`},
			Fields: map[string]FieldRule{
				"key":     {Selector: "td.code", Required: true},
				"name":    {Selector: "td.name"},
				"url":     {Selector: "td.name a", Attr: "href", Link: true},
				"release": {Selector: "td.date"},
			},
		},
		Details: Rules{
			Fields: map[string]FieldRule{
				"name":   {Selector: "h1", Required: true},
				"rarity": {Selector: ".rarity"},
				"image_url": {
					Selector: "img.card",
					Attr:     "src",
					Link:     true,
				},
			},
		},
	}
}

func TestCollectionsExtraction(t *testing.T) {
	t.Parallel()

	src, err := New("ygo", testDefinition())
	require.NoError(t, err)

	page := catalog.Page{URL: "https://cards.test/sets", Body: []byte(directoryHTML)}
	ext, err := src.Collections().Extract(context.Background(), page)
	require.NoError(t, err)

	require.Len(t, ext.Items, 3)
	values, errs := catalog.Split(ext.Items, nil)
	require.Len(t, errs, 1)
	assert.True(t, catalog.IsExtractError(errs[0]))
	require.Len(t, values, 2)

	lob := values[0]
	assert.Equal(t, "LOB", lob.Key)
	assert.Equal(t, "Legend of Blue Eyes White Dragon", lob.Name)
	assert.Equal(t, "https://cards.test/sets/LOB", lob.URL)
	assert.Equal(t, "2002-03-08", lob.Meta["release"])

	assert.Equal(t, "https://cards.test/sets?page=2", ext.Next)
	assert.Equal(t, 7, ext.TotalPages)
	assert.Equal(t, "https://cards.test/sets/LOB", src.ChildrenURL(lob))
}

func TestDetailExtractionWholePage(t *testing.T) {
	t.Parallel()

	src, err := New("ygo", testDefinition())
	require.NoError(t, err)

	body := `<html><body><h1> Blue-Eyes   White Dragon </h1><span class="rarity">Ultra Rare</span><img class="card" src="/img/LOB-001.jpg"></body></html>`
	ext, err := src.Details().Extract(context.Background(), catalog.Page{URL: "https://cards.test/card/LOB/LOB-001", Body: []byte(body)})
	require.NoError(t, err)
	require.Len(t, ext.Items, 1)
	rec := ext.Items[0].Value
	require.NoError(t, ext.Items[0].Err)
	assert.Equal(t, "Blue-Eyes White Dragon", rec.Name)
	assert.Equal(t, "Ultra Rare", rec.Field("rarity"))
	assert.Equal(t, "https://cards.test/img/LOB-001.jpg", rec.Field("image_url"))

	ext, err = src.Details().Extract(context.Background(), catalog.Page{URL: "https://cards.test/x", Body: []byte(`<html><body></body></html>`)})
	require.NoError(t, err)
	require.Len(t, ext.Items, 1)
	var ee *catalog.ExtractError
	require.ErrorAs(t, ext.Items[0].Err, &ee)
	assert.Equal(t, "name", ee.Field)
}

func TestURLTemplates(t *testing.T) {
	t.Parallel()

	src, err := New("ygo", testDefinition())
	require.NoError(t, err)
	assert.Equal(t, "https://cards.test/card/LOB/LOB-EN001", src.DetailURL(catalog.WorkItem{Key: "LOB-EN001", ParentKey: "LOB"}))
	assert.Equal(t, "https://cards.test/list?page=3", src.ListingURL(3))
	assert.Equal(t, "https://cards.test/card/A%2FB/K", expand("https://cards.test/card/{parent}/{key}", "K", "A/B", "", 0))
	assert.Equal(t, "https://abs.test/card/9", expand("{key}", "https://abs.test/card/9", "", "", 0))
	assert.Empty(t, expand("", "k", "", "", 0))
}

func TestNewValidatesDefinition(t *testing.T) {
	t.Parallel()

	_, err := New("", testDefinition())
	require.Error(t, err)

	_, err = New("x", Definition{})
	require.Error(t, err)

	_, err = New("x", Definition{DirectoryURL: "https://cards.test"})
	require.Error(t, err, "detail_url is required with a directory")

	def := testDefinition()
	def.Details.Fields["bad"] = FieldRule{Pattern: "("}
	_, err = New("x", def)
	require.Error(t, err)

	_, err = New("ws", Definition{ListingURL: "https://cards.test/list?page={page}"})
	require.NoError(t, err)
}
