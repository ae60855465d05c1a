// Package catalog manages the per-domain URL catalog: sitemap bookkeeping,
// discovery into the catalog, listing and maintenance.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/robots"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// ManualSource is the source_sitemap of URLs added by hand.
const ManualSource = "manual"

// Service is the URL catalog.
type Service struct {
	db        *storage.Database
	crawler   *sitemap.Crawler
	fetcher   robots.Fetcher
	userAgent string
	runs      *runlog.Log
	logger    *zap.Logger
}

// NewService creates the catalog service. f is used for robots.txt lookups;
// runs may be nil, in which case extractions are not recorded as runs.
func NewService(db *storage.Database, crawler *sitemap.Crawler, f robots.Fetcher, userAgent string,
	runs *runlog.Log, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		crawler:   crawler,
		fetcher:   f,
		userAgent: userAgent,
		runs:      runs,
		logger:    logger.Named("catalog"),
	}
}

// ExtractResult reports one catalog extraction.
type ExtractResult struct {
	RunID     string           `json:"run_id,omitempty"`
	TotalURLs int              `json:"total_urls"`
	Inserted  int              `json:"inserted"`
	OffDomain int              `json:"off_domain"`
	Sitemaps  int              `json:"sitemaps"`
	Failed    []SitemapFailure `json:"failed,omitempty"`
}

// SitemapFailure names a sitemap that could not be read.
type SitemapFailure struct {
	Sitemap string `json:"sitemap"`
	Error   string `json:"error"`
}

// Extract discovers leaf URLs under the given sitemaps (or the domain's
// selected ones) and inserts unseen URLs with page type unknown. Re-running
// it never duplicates rows. A failing sitemap is reported and skipped, and
// URLs outside the domain's registrable domain are counted, not stored.
func (s *Service) Extract(ctx context.Context, domain string, sitemaps []string, filters sitemap.Filters) (*ExtractResult, error) {
	domain = urlutil.NormalizeDomain(domain)
	if len(sitemaps) == 0 {
		rec, err := s.Domain(ctx, domain)
		if err != nil {
			return nil, err
		}
		sitemaps = rec.SelectedSitemaps
		if len(sitemaps) == 0 && rec.SitemapURL != "" {
			sitemaps = []string{rec.SitemapURL}
		}
	}
	if len(sitemaps) == 0 {
		return nil, apperr.Ef(apperr.ErrInvalidState, "catalog extract", "no sitemaps selected for %s", domain)
	}
	if _, err := filters.Compile(); err != nil {
		return nil, err
	}

	res := &ExtractResult{}
	if s.runs != nil {
		runID, err := s.runs.Start(ctx, runlog.KindExtract, domain, len(sitemaps))
		if err != nil {
			return nil, err
		}
		res.RunID = runID
	}
	seen := make(map[string]struct{})
	var rows []*storage.CatalogURL

	for _, sm := range sitemaps {
		d, err := s.crawler.Discover(ctx, sm, filters)
		if err != nil {
			if ctx.Err() != nil {
				s.finishRun(ctx, res)
				return nil, ctx.Err()
			}
			s.logger.Warn("sitemap failed", zap.String("sitemap", sm), zap.Error(err))
			res.Failed = append(res.Failed, SitemapFailure{Sitemap: sm, Error: err.Error()})
			s.runErrorf(ctx, res.RunID, sm, "sitemap failed: %v", err)
			continue
		}
		res.Sitemaps++
		d.Root.Walk(func(n *sitemap.Node) {
			if n.Error != "" {
				res.Failed = append(res.Failed, SitemapFailure{Sitemap: n.URL, Error: n.Error})
				s.runErrorf(ctx, res.RunID, n.URL, "sitemap failed: %s", n.Error)
			}
		})
		if res.RunID != "" {
			s.runs.Infof(ctx, res.RunID, sm, "%d urls listed", len(d.URLs))
		}

		for _, u := range d.URLs {
			key := urlutil.Key(u.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if !urlutil.SameSite(u.URL, domain) {
				res.OffDomain++
				continue
			}
			rows = append(rows, &storage.CatalogURL{
				Domain:        domain,
				URL:           strings.TrimSpace(u.URL),
				URLKey:        key,
				PageType:      sitemap.TypeUnknown,
				SourceSitemap: u.Sitemap,
				LastMod:       u.LastMod,
			})
		}
	}

	res.TotalURLs = len(rows)
	inserted, err := s.db.InsertCatalogURLs(ctx, rows)
	if err != nil {
		s.runErrorf(ctx, res.RunID, "", "insert catalog urls: %v", err)
		s.finishRun(ctx, res)
		return nil, fmt.Errorf("insert catalog urls: %w", err)
	}
	res.Inserted = inserted
	if res.RunID != "" {
		s.runs.Infof(ctx, res.RunID, "", "%d urls kept, %d new, %d on other sites", res.TotalURLs, res.Inserted, res.OffDomain)
	}
	s.finishRun(ctx, res)

	s.logger.Info("catalog extracted",
		zap.String("domain", domain),
		zap.Int("total", res.TotalURLs),
		zap.Int("inserted", res.Inserted),
		zap.Int("off_domain", res.OffDomain),
		zap.Int("failed_sitemaps", len(res.Failed)))
	return res, nil
}

func (s *Service) runErrorf(ctx context.Context, runID, url, format string, args ...any) {
	if runID != "" {
		s.runs.Errorf(ctx, runID, url, format, args...)
	}
}

// finishRun closes the extraction run; a run counts sitemaps.
func (s *Service) finishRun(ctx context.Context, res *ExtractResult) {
	if res.RunID == "" {
		return
	}
	if err := s.runs.Finish(context.WithoutCancel(ctx), res.RunID, res.Sitemaps, len(res.Failed)); err != nil {
		s.logger.Warn("failed to finish run", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

// AddResult reports AddURLs.
type AddResult struct {
	Inserted  int      `json:"inserted"`
	OffDomain []string `json:"off_domain,omitempty"`
}

// AddURLs adds URLs by hand. URLs on another site are skipped and listed in
// the result.
func (s *Service) AddURLs(ctx context.Context, domain string, urls []string) (*AddResult, error) {
	domain = urlutil.NormalizeDomain(domain)
	res := &AddResult{}
	rows := make([]*storage.CatalogURL, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !urlutil.IsAbsoluteURL(u) {
			return nil, apperr.Ef(apperr.ErrInvalidState, "catalog add", "not an absolute http(s) URL: %q", u)
		}
		if !urlutil.SameSite(u, domain) {
			res.OffDomain = append(res.OffDomain, u)
			continue
		}
		rows = append(rows, &storage.CatalogURL{
			Domain:        domain,
			URL:           u,
			URLKey:        urlutil.Key(u),
			PageType:      sitemap.TypeUnknown,
			SourceSitemap: ManualSource,
		})
	}
	n, err := s.db.InsertCatalogURLs(ctx, rows)
	if err != nil {
		return nil, err
	}
	res.Inserted = n
	if len(res.OffDomain) > 0 {
		s.logger.Warn("skipped off-domain urls", zap.String("domain", domain), zap.Int("count", len(res.OffDomain)))
	}
	return res, nil
}

// ListFilter selects catalog rows. SortBy must be one of
// url, type, title, http_status, explored_at.
type ListFilter = storage.CatalogFilter

// List returns one page of catalog rows and the total count.
func (s *Service) List(ctx context.Context, domain string, f ListFilter) ([]*storage.CatalogURL, int, error) {
	if f.SortBy != "" {
		if _, ok := storage.CatalogSortColumns[f.SortBy]; !ok {
			return nil, 0, apperr.Ef(apperr.ErrInvalidFilter, "catalog list", "cannot sort by %q", f.SortBy)
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, 0, apperr.Ef(apperr.ErrInvalidFilter, "catalog list", "negative limit or offset")
	}
	return s.db.ListCatalogURLs(ctx, urlutil.NormalizeDomain(domain), f)
}

// ResetResult reports a reset or delete.
type ResetResult struct {
	AffectedRows     int64 `json:"affected_rows"`
	DeletedSnapshots int64 `json:"deleted_snapshots"`
	DeletedURLs      int64 `json:"deleted_urls"`
}

// ResetExplored clears explored state and snapshots for urls. With
// deleteURLs the rows are removed too.
func (s *Service) ResetExplored(ctx context.Context, domain string, urls []string, deleteURLs bool) (*ResetResult, error) {
	counts, err := s.db.ResetExplored(ctx, urlutil.NormalizeDomain(domain), keys(urls), deleteURLs)
	if err != nil {
		return nil, fmt.Errorf("reset explored: %w", err)
	}
	return &ResetResult{
		AffectedRows:     counts.AffectedRows,
		DeletedSnapshots: counts.DeletedSnapshots,
		DeletedURLs:      counts.DeletedURLs,
	}, nil
}

// ClearResult reports ClearFields.
type ClearResult struct {
	AffectedRows int64 `json:"affected_rows"`
}

// ClearFields blanks page type, title, http status and type reason.
func (s *Service) ClearFields(ctx context.Context, domain string, urls []string, resetDiscoveredAt bool) (*ClearResult, error) {
	n, err := s.db.ClearCatalogFields(ctx, urlutil.NormalizeDomain(domain), keys(urls), resetDiscoveredAt)
	if err != nil {
		return nil, fmt.Errorf("clear fields: %w", err)
	}
	return &ClearResult{AffectedRows: n}, nil
}

// Delete removes catalog rows and their snapshots.
func (s *Service) Delete(ctx context.Context, domain string, urls []string) (*ResetResult, error) {
	return s.ResetExplored(ctx, domain, urls, true)
}

// Snapshot returns the current extraction snapshot of a URL.
func (s *Service) Snapshot(ctx context.Context, domain, url string) (*storage.Snapshot, error) {
	snap, err := s.db.GetSnapshot(ctx, urlutil.NormalizeDomain(domain), urlutil.Key(url))
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if snap == nil {
		return nil, apperr.Ef(apperr.ErrNotFound, "snapshot", "no snapshot for %s", url)
	}
	return snap, nil
}

// Classify assigns a page type to every row still typed unknown, using the
// crawler's classifier over the page URL and its source sitemap. Returns
// the number of rows updated.
func (s *Service) Classify(ctx context.Context, domain string) (int64, error) {
	domain = urlutil.NormalizeDomain(domain)
	rows, _, err := s.db.ListCatalogURLs(ctx, domain, storage.CatalogFilter{PageType: sitemap.TypeUnknown})
	if err != nil {
		return 0, err
	}

	classifier := s.crawler.Classifier()
	types := make(map[string][2]string, len(rows))
	for _, r := range rows {
		source := r.SourceSitemap
		if source == ManualSource {
			source = ""
		}
		pageType, reason := classifier.Classify(r.URL, source)
		types[r.URLKey] = [2]string{pageType, reason}
	}
	n, err := s.db.SetPageTypes(ctx, domain, types)
	if err != nil {
		return 0, fmt.Errorf("classify: %w", err)
	}
	s.logger.Info("catalog classified", zap.String("domain", domain), zap.Int64("updated", n))
	return n, nil
}

func keys(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		k := urlutil.Key(u)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
