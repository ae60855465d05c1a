package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/fetcher"
	"github.com/spider-crawler/shopsync/internal/testutil"
)

const productConfig = `{
	"selectors": {"title": "h1.product-title", "price": "span.price@content", "sku": ".sku", "missing": ".nope"},
	"images": "img.product-image@src",
	"variants": {"container": ".variant", "fields": {"sku": "@data-sku", "size": ".size"}}
}`

func TestExtractHTML(t *testing.T) {
	html := testutil.NewProductPage().
		Title("Blue Shoe | Shop").
		Description("A very blue shoe").
		Canonical("/p/blue-shoe").
		OGImage("/img/og.jpg").
		H1("Blue   Shoe").
		Price("49.90").
		SKU("BS-1").
		Img("/img/1.jpg").
		Img("/img/2.jpg").
		Img("/img/1.jpg").
		Link("/p/red-shoe").
		Link("mailto:info@shop.example").
		Body(`<div class="variant" data-sku="BS-1-42"><span class="size">42</span></div>
<div class="variant" data-sku="BS-1-43"><span class="size">43</span></div>`).
		Build()

	cfg, err := ValidateConfig(json.RawMessage(productConfig))
	require.NoError(t, err)

	res, err := ExtractHTML(&Page{
		URL:        "https://shop.example/p/blue-shoe?ref=x",
		FinalURL:   "https://shop.example/p/blue-shoe",
		StatusCode: 200,
		HTML:       []byte(html),
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "Blue Shoe | Shop", res.Meta["title"])
	assert.Equal(t, "A very blue shoe", res.Meta["description"])
	assert.Equal(t, "https://shop.example/p/blue-shoe", res.Meta["canonical"])
	assert.Equal(t, "https://shop.example/img/og.jpg", res.Meta["og_image"])
	assert.Equal(t, 200, res.Meta["http_status"])

	assert.Equal(t, "Blue Shoe", res.Product["title"])
	assert.Equal(t, "49.90", res.Product["price"])
	assert.Equal(t, "BS-1", res.Product["sku"])
	assert.NotContains(t, res.Product, "missing")
	assert.Equal(t, []string{"https://shop.example/img/1.jpg", "https://shop.example/img/2.jpg"}, res.Product["images"])

	variants, ok := res.Product["variants"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, variants, 2)
	assert.Equal(t, "BS-1-43", variants[1]["sku"])
	assert.Equal(t, "43", variants[1]["size"])

	assert.Equal(t, []string{"https://shop.example/p/red-shoe"}, res.Links)
}

func TestSplitSelector(t *testing.T) {
	tests := []struct {
		expr, css, attr string
	}{
		{"h1", "h1", ""},
		{"img.main@src", "img.main", "src"},
		{"@data-sku", "", "data-sku"},
		{`a[href*="@"]`, `a[href*="@"]`, ""},
	}
	for _, tt := range tests {
		css, attr := splitSelector(tt.expr)
		assert.Equal(t, tt.css, css, tt.expr)
		assert.Equal(t, tt.attr, attr, tt.expr)
	}
}

func TestSelectorExtractorOverHTTP(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.AddPage("/p/1", testutil.NewProductPage().Title("One").H1("Product One").Build())
	ts.SetError("/p/gone", http.StatusNotFound)
	ts.AddPageWithType("/p/1/manual.pdf", "%PDF-1.4", "application/pdf")

	cfg := config.DefaultConfig()
	cfg.Fetch.RequestsPerSecond = 0
	cfg.Fetch.Timeout = 5 * time.Second
	ex := NewSelectorExtractor(FetcherSource{Fetcher: fetcher.NewFetcher(cfg.Fetch)})

	res, err := ex.Extract(context.Background(), ts.URL("/p/1"), json.RawMessage(`{"selectors":{"title":"h1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Product One", res.Product["title"])
	assert.Equal(t, "One", res.Meta["title"])

	_, err = ex.Extract(context.Background(), ts.URL("/p/gone"), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, apperr.ErrFetchFailed))

	_, err = ex.Extract(context.Background(), ts.URL("/p/1/manual.pdf"), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, apperr.ErrExtractor))
	assert.Contains(t, err.Error(), "application/pdf")

	_, err = ex.Extract(context.Background(), ts.URL("/p/1"), json.RawMessage(`{"selectors":{"title":1}}`))
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
	assert.Equal(t, 1, ts.GetHits("/p/1"))
}
