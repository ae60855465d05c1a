package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/robots"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// Domain returns the domain record.
func (s *Service) Domain(ctx context.Context, domain string) (*storage.Domain, error) {
	domain = urlutil.NormalizeDomain(domain)
	rec, err := s.db.GetDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	if rec == nil {
		return nil, apperr.Ef(apperr.ErrNotFound, "domain", "unknown domain %s", domain)
	}
	return rec, nil
}

// Domains lists every domain record.
func (s *Service) Domains(ctx context.Context) ([]*storage.Domain, error) {
	return s.db.ListDomains(ctx)
}

// SetSitemapURL sets the root sitemap of a domain, creating the record if
// needed. An empty sitemapURL is looked up in the site's robots.txt.
func (s *Service) SetSitemapURL(ctx context.Context, domain, sitemapURL string) (*storage.Domain, error) {
	domain = urlutil.NormalizeDomain(domain)
	if domain == "" {
		return nil, apperr.Ef(apperr.ErrInvalidState, "set sitemap", "domain is required")
	}

	sitemapURL = strings.TrimSpace(sitemapURL)
	if sitemapURL == "" {
		info, err := robots.Discover(ctx, s.fetcher, domain, s.userAgent)
		if err != nil {
			return nil, fmt.Errorf("discover sitemap: %w", err)
		}
		sitemapURL = info.Sitemaps[0]
		s.logger.Info("sitemap discovered",
			zap.String("domain", domain),
			zap.String("sitemap", sitemapURL),
			zap.Bool("fallback", info.Fallback))
		s.applyCrawlDelay(domain, info.CrawlDelay)
	}
	if !urlutil.IsAbsoluteURL(sitemapURL) {
		return nil, apperr.Ef(apperr.ErrInvalidState, "set sitemap", "not an absolute http(s) URL: %q", sitemapURL)
	}

	rec, err := s.db.GetDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &storage.Domain{Domain: domain}
	}
	rec.SitemapURL = sitemapURL
	if err := s.db.SaveDomain(ctx, rec); err != nil {
		return nil, fmt.Errorf("save domain: %w", err)
	}
	return rec, nil
}

// crawlDelayer is implemented by fetchers that can slow down for a site.
type crawlDelayer interface {
	SetCrawlDelay(d time.Duration) bool
}

func (s *Service) applyCrawlDelay(domain string, d time.Duration) {
	cd, ok := s.fetcher.(crawlDelayer)
	if !ok || d <= 0 {
		return
	}
	if cd.SetCrawlDelay(d) {
		s.logger.Info("honouring robots.txt crawl-delay",
			zap.String("domain", domain),
			zap.Duration("delay", d))
	}
}

// RefreshSitemaps walks the domain's sitemap tree and stores every readable
// document as a known sitemap. Selections no longer known are dropped.
func (s *Service) RefreshSitemaps(ctx context.Context, domain string) (*storage.Domain, *sitemap.Node, error) {
	rec, err := s.Domain(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	if rec.SitemapURL == "" {
		return nil, nil, apperr.Ef(apperr.ErrInvalidState, "refresh sitemaps", "%s has no sitemap url", rec.Domain)
	}

	root, err := s.crawler.Tree(ctx, rec.SitemapURL, 0)
	if err != nil {
		return nil, root, err
	}

	known := make([]string, 0)
	root.Walk(func(n *sitemap.Node) {
		if n.Error == "" {
			known = append(known, n.URL)
		}
	})
	rec.KnownSitemaps = known
	rec.SelectedSitemaps = intersect(rec.SelectedSitemaps, append(append([]string{}, known...), rec.ManualSitemaps...))

	if err := s.db.SaveDomain(ctx, rec); err != nil {
		return nil, root, fmt.Errorf("save domain: %w", err)
	}
	s.logger.Info("sitemaps refreshed",
		zap.String("domain", rec.Domain),
		zap.Int("known", len(known)),
		zap.Bool("truncated", root.Truncated))
	return rec, root, nil
}

// AddSitemap registers a sitemap by hand.
func (s *Service) AddSitemap(ctx context.Context, domain, sitemapURL string) (*storage.Domain, error) {
	sitemapURL = strings.TrimSpace(sitemapURL)
	if !urlutil.IsAbsoluteURL(sitemapURL) {
		return nil, apperr.Ef(apperr.ErrInvalidState, "add sitemap", "not an absolute http(s) URL: %q", sitemapURL)
	}
	rec, err := s.Domain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !containsKey(rec.ManualSitemaps, sitemapURL) {
		rec.ManualSitemaps = append(rec.ManualSitemaps, sitemapURL)
	}
	if err := s.db.SaveDomain(ctx, rec); err != nil {
		return nil, fmt.Errorf("save domain: %w", err)
	}
	return rec, nil
}

// SelectSitemaps sets the sitemaps Extract reads by default. Every entry
// must be known or manually added.
func (s *Service) SelectSitemaps(ctx context.Context, domain string, sitemaps []string) (*storage.Domain, error) {
	rec, err := s.Domain(ctx, domain)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]string)
	for _, u := range append(append([]string{}, rec.KnownSitemaps...), rec.ManualSitemaps...) {
		allowed[urlutil.Key(u)] = u
	}

	selected := make([]string, 0, len(sitemaps))
	seen := make(map[string]struct{})
	for _, u := range sitemaps {
		k := urlutil.Key(u)
		canonical, ok := allowed[k]
		if !ok {
			return nil, apperr.Ef(apperr.ErrInvalidState, "select sitemaps", "%s is not a known or manual sitemap of %s", strings.TrimSpace(u), rec.Domain)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		selected = append(selected, canonical)
	}

	rec.SelectedSitemaps = selected
	if err := s.db.SaveDomain(ctx, rec); err != nil {
		return nil, fmt.Errorf("save domain: %w", err)
	}
	return rec, nil
}

func containsKey(list []string, u string) bool {
	k := urlutil.Key(u)
	for _, v := range list {
		if urlutil.Key(v) == k {
			return true
		}
	}
	return false
}

func intersect(selected, allowed []string) []string {
	out := make([]string, 0, len(selected))
	for _, u := range selected {
		if containsKey(allowed, u) {
			out = append(out, u)
		}
	}
	return out
}
