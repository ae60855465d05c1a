package sitemap

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/fetcher"
	"github.com/spider-crawler/shopsync/internal/testutil"
)

func newTestCrawler(max int) *Crawler {
	cfg := config.DefaultConfig()
	cfg.Fetch.RequestsPerSecond = 0
	cfg.Fetch.Timeout = 5 * time.Second
	if err := cfg.CompilePatterns(); err != nil {
		panic(err)
	}
	return NewCrawler(fetcher.NewFetcher(cfg.Fetch), NewClassifier(cfg.Crawl.TypeRules), max, zap.NewNop())
}

func TestTreeResolvesNestedIndex(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.AddSitemap("/sitemap.xml", testutil.SitemapIndex(ts.URL("/products.xml"), ts.URL("/nested.xml")))
	ts.AddSitemap("/products.xml", testutil.URLSet(ts.URL("/p/1"), ts.URL("/p/2")))
	ts.AddSitemap("/nested.xml", testutil.SitemapIndex(ts.URL("/cms.xml")))
	ts.AddSitemap("/cms.xml", testutil.URLSet(ts.URL("/content/about")))

	c := newTestCrawler(50)
	root, err := c.Tree(context.Background(), ts.URL("/sitemap.xml"), 50)
	require.NoError(t, err)

	assert.Equal(t, KindIndex, root.Kind)
	require.Len(t, root.Children, 2)
	assert.Equal(t, KindURLSet, root.Children[0].Kind)
	assert.Equal(t, 2, root.Children[0].URLCount)
	require.NotNil(t, root.Children[0].LastMod)
	assert.Equal(t, KindIndex, root.Children[1].Kind)
	require.Len(t, root.Children[1].Children, 1)
	assert.Equal(t, 1, root.Children[1].Children[0].URLCount)
	assert.False(t, root.Truncated)
	assert.Len(t, root.Leaves(), 2)
}

func TestTreeSubSitemapFailureDoesNotAbort(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.AddSitemap("/sitemap.xml", testutil.SitemapIndex(ts.URL("/broken.xml"), ts.URL("/ok.xml"), ts.URL("/junk.xml")))
	ts.SetError("/broken.xml", http.StatusInternalServerError)
	ts.AddSitemap("/ok.xml", testutil.URLSet(ts.URL("/p/1")))
	ts.AddPage("/junk.xml", "<html>not a sitemap</html>")

	c := newTestCrawler(50)
	root, err := c.Tree(context.Background(), ts.URL("/sitemap.xml"), 50)
	require.NoError(t, err)
	require.Len(t, root.Children, 3)

	assert.NotEmpty(t, root.Children[0].Error)
	assert.Equal(t, KindUnknown, root.Children[0].Kind)
	assert.Empty(t, root.Children[1].Error)
	assert.Equal(t, 1, root.Children[1].URLCount)
	assert.Contains(t, root.Children[2].Error, "unknown sitemap format")
}

func TestTreeRootFailureIsReturned(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()
	ts.AddPage("/sitemap.xml", "<html>hello</html>")

	c := newTestCrawler(50)
	root, err := c.Tree(context.Background(), ts.URL("/sitemap.xml"), 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Empty(t, root.Children)
	assert.Equal(t, KindUnknown, root.Kind)

	_, err = c.Tree(context.Background(), ts.URL("/missing.xml"), 50)
	assert.ErrorIs(t, err, apperr.ErrFetchFailed)
}

func TestTreeBudgetAndCycles(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	// Index references itself and three children.
	ts.AddSitemap("/sitemap.xml", testutil.SitemapIndex(
		ts.URL("/sitemap.xml"), ts.URL("/a.xml"), ts.URL("/b.xml"), ts.URL("/c.xml")))
	ts.AddSitemap("/a.xml", testutil.SitemapIndex(ts.URL("/sitemap.xml")))
	ts.AddSitemap("/b.xml", testutil.URLSet(ts.URL("/p/b")))
	ts.AddSitemap("/c.xml", testutil.URLSet(ts.URL("/p/c")))

	c := newTestCrawler(50)
	root, err := c.Tree(context.Background(), ts.URL("/sitemap.xml"), 3)
	require.NoError(t, err)
	assert.True(t, root.Truncated)
	assert.Len(t, root.Children, 2)
	assert.Equal(t, 1, ts.GetHits("/sitemap.xml"))
	assert.Equal(t, 0, ts.GetHits("/c.xml"))

	full, err := c.Tree(context.Background(), ts.URL("/sitemap.xml"), 50)
	require.NoError(t, err)
	assert.False(t, full.Truncated)
	assert.Len(t, full.Children, 3)
	assert.Empty(t, full.Children[0].Children)
}

func TestTreeGzipSitemap(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()
	ts.AddGzipSitemap("/sitemap.xml.gz", testutil.URLSet(ts.URL("/p/1"), ts.URL("/p/2")))

	c := newTestCrawler(10)
	root, err := c.Tree(context.Background(), ts.URL("/sitemap.xml.gz"), 10)
	require.NoError(t, err)
	assert.Equal(t, KindURLSet, root.Kind)
	assert.Equal(t, 2, root.URLCount)
}

func TestDiscoverAndCountShareFilters(t *testing.T) {
	ts := testutil.NewTestServer()
	defer ts.Close()

	ts.AddSitemap("/sitemap.xml", testutil.SitemapIndex(ts.URL("/sitemap_products.xml"), ts.URL("/sitemap_categories.xml")))
	ts.AddSitemap("/sitemap_products.xml", testutil.URLSet(
		ts.URL("/p/1"), ts.URL("/p/2"), ts.URL("/p/2"), ts.URL("/p/draft-3")))
	ts.AddSitemap("/sitemap_categories.xml", testutil.URLSet(ts.URL("/c/shoes"), ts.URL("/c/hats")))

	c := newTestCrawler(50)
	filters := Filters{ExcludeRegex: []string{`draft`}}

	d, err := c.Discover(context.Background(), ts.URL("/sitemap.xml"), filters)
	require.NoError(t, err)
	require.Len(t, d.URLs, 4)
	assert.Equal(t, TypeProduct, d.URLs[0].PageType)
	assert.Equal(t, ts.URL("/sitemap_products.xml"), d.URLs[0].Sitemap)

	count, err := c.Count(context.Background(), ts.URL("/sitemap.xml"), filters)
	require.NoError(t, err)
	assert.Equal(t, len(d.URLs), count.TotalURLs)
	assert.Equal(t, 2, count.PerType[TypeProduct])
	assert.Equal(t, 2, count.PerType[TypeCategory])
	assert.Len(t, count.Sitemaps, 3)

	onlyShoes, err := c.Count(context.Background(), ts.URL("/sitemap.xml"), Filters{IncludeGlobs: []string{"*/c/shoes"}})
	require.NoError(t, err)
	assert.Equal(t, 1, onlyShoes.TotalURLs)

	_, err = c.Count(context.Background(), ts.URL("/sitemap.xml"), Filters{IncludeRegex: []string{"("}})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}
