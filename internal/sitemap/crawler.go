package sitemap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/fetcher"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// Fetcher loads one document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

// Node is one sitemap document in a crawl tree.
type Node struct {
	URL      string     `json:"url"`
	Kind     Kind       `json:"kind"`
	LastMod  *time.Time `json:"lastmod,omitempty"`
	URLCount int        `json:"url_count,omitempty"`
	Children []*Node    `json:"children,omitempty"`

	// Error is set when this document could not be fetched or parsed.
	Error string `json:"error,omitempty"`

	// Truncated is set on the root when the node budget ran out.
	Truncated bool `json:"truncated,omitempty"`

	entries []Entry
}

// Leaves returns every urlset node under n, in BFS order.
func (n *Node) Leaves() []*Node {
	var out []*Node
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Kind == KindURLSet {
			out = append(out, cur)
		}
		queue = append(queue, cur.Children...)
	}
	return out
}

// Walk visits n and its descendants depth-first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Crawler resolves sitemap trees.
type Crawler struct {
	fetcher     Fetcher
	logger      *zap.Logger
	classifier  *Classifier
	maxSitemaps int
}

// NewCrawler creates a crawler. maxSitemaps is the default node budget for
// Discover and Count.
func NewCrawler(f Fetcher, classifier *Classifier, maxSitemaps int, logger *zap.Logger) *Crawler {
	if maxSitemaps < 1 {
		maxSitemaps = 1
	}
	return &Crawler{
		fetcher:     f,
		logger:      logger.Named("sitemap"),
		classifier:  classifier,
		maxSitemaps: maxSitemaps,
	}
}

// Classifier returns the crawler's classifier.
func (c *Crawler) Classifier() *Classifier {
	return c.classifier
}

// Tree walks the sitemap graph rooted at startURL breadth-first, visiting at
// most maxSitemaps documents. A root that cannot be fetched or parsed is
// returned as a leaf together with the error. Failures below the root are
// recorded on the failing node and the walk continues.
func (c *Crawler) Tree(ctx context.Context, startURL string, maxSitemaps int) (*Node, error) {
	if maxSitemaps < 1 {
		maxSitemaps = c.maxSitemaps
	}

	root := &Node{URL: startURL, Kind: KindUnknown}
	visited := map[string]struct{}{visitKey(startURL): {}}

	if err := c.load(ctx, root); err != nil {
		root.Error = err.Error()
		return root, err
	}

	budget := maxSitemaps - 1
	queue := []*Node{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return root, apperr.E(apperr.ErrFetchFailed, "sitemap tree", err)
		}

		parent := queue[0]
		queue = queue[1:]
		if parent.Kind != KindIndex {
			continue
		}

		for _, e := range parent.entries {
			key := visitKey(e.Loc)
			if _, seen := visited[key]; seen {
				continue
			}
			if budget <= 0 {
				root.Truncated = true
				break
			}
			visited[key] = struct{}{}
			budget--

			child := &Node{URL: e.Loc, Kind: KindUnknown, LastMod: e.LastMod}
			parent.Children = append(parent.Children, child)

			if err := c.load(ctx, child); err != nil {
				child.Error = err.Error()
				c.logger.Warn("sub-sitemap failed",
					zap.String("sitemap", e.Loc),
					zap.String("parent", parent.URL),
					zap.Error(err))
				continue
			}
			queue = append(queue, child)
		}
	}

	if root.Truncated {
		c.logger.Info("sitemap budget exhausted",
			zap.String("start", startURL),
			zap.Int("max_sitemaps", maxSitemaps))
	}
	return root, nil
}

// load fetches and parses one node in place.
func (c *Crawler) load(ctx context.Context, n *Node) error {
	resp, err := c.fetcher.Fetch(ctx, n.URL)
	if err != nil {
		return err
	}

	doc, err := ParseDocument(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", n.URL, err)
	}

	n.Kind = doc.Kind
	n.entries = doc.Entries
	if doc.Kind == KindURLSet {
		n.URLCount = len(doc.Entries)
	}
	return nil
}

func visitKey(rawURL string) string {
	if norm, err := urlutil.Canonical(rawURL); err == nil {
		return norm
	}
	return urlutil.Key(rawURL)
}

// DiscoveredURL is a leaf <url> entry with its provenance.
type DiscoveredURL struct {
	URL        string     `json:"url"`
	LastMod    *time.Time `json:"lastmod,omitempty"`
	Sitemap    string     `json:"sitemap"`
	PageType   string     `json:"page_type"`
	TypeReason string     `json:"type_reason"`
}

// Discovery is the result of Discover.
type Discovery struct {
	Root *Node           `json:"root"`
	URLs []DiscoveredURL `json:"urls"`
}

// Discover returns the filtered, de-duplicated union of leaf URLs under
// startURL. Tree errors below the root are reported in Root, not returned.
func (c *Crawler) Discover(ctx context.Context, startURL string, filters Filters) (*Discovery, error) {
	matcher, err := filters.Compile()
	if err != nil {
		return nil, err
	}

	root, err := c.Tree(ctx, startURL, c.maxSitemaps)
	if err != nil {
		return &Discovery{Root: root}, err
	}

	seen := make(map[string]struct{})
	out := &Discovery{Root: root, URLs: make([]DiscoveredURL, 0)}
	for _, leaf := range root.Leaves() {
		for _, e := range leaf.entries {
			if !matcher.Match(e.Loc) {
				continue
			}
			key := urlutil.Key(e.Loc)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			pageType, reason := c.classifier.Classify(e.Loc, leaf.URL)
			out.URLs = append(out.URLs, DiscoveredURL{
				URL:        e.Loc,
				LastMod:    e.LastMod,
				Sitemap:    leaf.URL,
				PageType:   pageType,
				TypeReason: reason,
			})
		}
	}
	return out, nil
}

// SitemapCount is the per-document part of a CountResult.
type SitemapCount struct {
	URL   string `json:"url"`
	Kind  Kind   `json:"kind"`
	URLs  int    `json:"urls"`
	Error string `json:"error,omitempty"`
}

// CountResult summarises a sitemap tree under filters.
type CountResult struct {
	TotalURLs int            `json:"total_urls"`
	Sitemaps  []SitemapCount `json:"sitemaps"`
	PerType   map[string]int `json:"per_type"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Count applies the same filters as Discover and tallies the result.
func (c *Crawler) Count(ctx context.Context, startURL string, filters Filters) (*CountResult, error) {
	d, err := c.Discover(ctx, startURL, filters)
	if err != nil {
		return nil, err
	}

	res := &CountResult{
		TotalURLs: len(d.URLs),
		Sitemaps:  make([]SitemapCount, 0),
		PerType:   make(map[string]int),
		Truncated: d.Root.Truncated,
	}

	perSitemap := make(map[string]int)
	for _, u := range d.URLs {
		res.PerType[u.PageType]++
		perSitemap[u.Sitemap]++
	}
	d.Root.Walk(func(n *Node) {
		res.Sitemaps = append(res.Sitemaps, SitemapCount{
			URL:   n.URL,
			Kind:  n.Kind,
			URLs:  perSitemap[n.URL],
			Error: n.Error,
		})
	})
	return res, nil
}
