package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/configstore"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// RunOptions controls one extraction run.
type RunOptions struct {
	// Selector picks the config; nil means CurrentVersion.
	Selector ConfigSelector

	// PageType forces the page type; empty means infer it.
	PageType string

	// Preview runs the extraction without storing anything.
	Preview bool
}

// Runner runs extraction configs against URLs.
type Runner struct {
	db         *storage.Database
	configs    *configstore.Store
	extractor  Extractor
	classifier *sitemap.Classifier
	runs       *runlog.Log
	logger     *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(db *storage.Database, configs *configstore.Store, extractor Extractor,
	classifier *sitemap.Classifier, runs *runlog.Log, logger *zap.Logger) *Runner {
	return &Runner{
		db:         db,
		configs:    configs,
		extractor:  extractor,
		classifier: classifier,
		runs:       runs,
		logger:     logger.Named("extraction"),
	}
}

// Run extracts one URL and, unless previewing, stores the snapshot and
// updates the catalog row.
func (r *Runner) Run(ctx context.Context, domain, url string, opts RunOptions) (*storage.Snapshot, error) {
	domain = urlutil.NormalizeDomain(domain)
	url = strings.TrimSpace(url)
	key := urlutil.Key(url)
	if !urlutil.IsAbsoluteURL(url) {
		return nil, apperr.Ef(apperr.ErrInvalidState, "extract", "not an absolute http(s) URL: %q", url)
	}

	row, err := r.db.GetCatalogURL(ctx, domain, key)
	if err != nil {
		return nil, fmt.Errorf("load catalog row: %w", err)
	}
	pageType, reason := r.inferPageType(url, opts.PageType, row)

	resolved, err := r.resolve(ctx, configstore.Key{Domain: domain, Kind: configstore.KindExtraction, PageType: pageType}, opts.Selector)
	if err != nil {
		return nil, err
	}

	result, err := r.extractor.Extract(ctx, url, resolved.Raw)
	if err != nil {
		return nil, classifyError(url, err)
	}
	if result == nil {
		return nil, apperr.Ef(apperr.ErrExtractor, "extract "+url, "extractor returned no result")
	}
	if result.Meta == nil {
		result.Meta = make(map[string]any)
	}
	if result.Product == nil {
		result.Product = make(map[string]any)
	}
	if result.Links == nil {
		result.Links = make([]string, 0)
	}

	if resolved.Version != nil {
		result.Meta["config_version"] = *resolved.Version
	} else {
		result.Meta["config_version"] = nil
	}
	result.Meta["config_overridden"] = resolved.Overridden
	result.Meta["page_type"] = pageType
	result.Meta["preview"] = opts.Preview

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, apperr.E(apperr.ErrExtractor, "encode result", err)
	}

	snap := &storage.Snapshot{
		Domain:           domain,
		URL:              url,
		URLKey:           key,
		PageType:         pageType,
		Result:           raw,
		ExploredAt:       r.db.Now(),
		ConfigVersion:    resolved.Version,
		ConfigOverridden: resolved.Overridden,
	}
	if opts.Preview {
		return snap, nil
	}

	upd := storage.ExplorationUpdate{
		PageType:      pageType,
		TypeReason:    reason,
		Title:         metaString(result.Meta, "title"),
		HTTPStatus:    metaInt(result.Meta, "http_status"),
		ConfigVersion: resolved.Version,
	}
	if err := r.db.SaveExploration(ctx, snap, upd); err != nil {
		return nil, fmt.Errorf("save exploration: %w", err)
	}

	r.logger.Debug("url explored",
		zap.String("domain", domain),
		zap.String("url", url),
		zap.String("page_type", pageType))
	return snap, nil
}

// inferPageType picks the page type: explicit, then the catalog's (unless
// unknown), then the classifier's, then product.
func (r *Runner) inferPageType(url, explicit string, row *storage.CatalogURL) (string, string) {
	if t := strings.TrimSpace(explicit); t != "" {
		return t, "explicit"
	}
	if row != nil && row.PageType != "" && row.PageType != sitemap.TypeUnknown {
		reason := row.TypeReason
		if reason == "" {
			reason = "catalog"
		}
		return row.PageType, reason
	}
	if r.classifier != nil {
		source := ""
		if row != nil {
			source = row.SourceSitemap
		}
		if t, reason := r.classifier.Classify(url, source); t != sitemap.TypeOther {
			return t, reason
		}
	}
	return sitemap.TypeProduct, "default"
}

func (r *Runner) resolve(ctx context.Context, key configstore.Key, sel ConfigSelector) (*ResolvedConfig, error) {
	var (
		stored *storage.ConfigVersion
		err    error
	)
	switch s := sel.(type) {
	case InlineOverride:
	case ExplicitVersion:
		v := int(s)
		stored, err = r.configs.Get(ctx, key, &v)
	default:
		stored, err = r.configs.Get(ctx, key, nil)
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return ResolveConfig(sel, stored)
}

// BatchItem is the outcome of one URL in a batch.
type BatchItem struct {
	URL      string `json:"url"`
	OK       bool   `json:"ok"`
	PageType string `json:"page_type,omitempty"`
	Error    string `json:"error,omitempty"`

	// Retryable marks fetch failures worth another run.
	Retryable bool `json:"retryable,omitempty"`
}

// BatchResult tallies a batch run.
type BatchResult struct {
	RunID  string      `json:"run_id,omitempty"`
	OK     int         `json:"ok"`
	Failed int         `json:"failed"`
	Items  []BatchItem `json:"items"`
}

// RunBatch runs urls one after another. A failing URL is logged to the run
// log and counted; it never stops the batch. Previews are not logged.
func (r *Runner) RunBatch(ctx context.Context, domain string, urls []string, opts RunOptions) (*BatchResult, error) {
	domain = urlutil.NormalizeDomain(domain)
	res := &BatchResult{Items: make([]BatchItem, 0, len(urls))}

	if !opts.Preview && r.runs != nil {
		runID, err := r.runs.Start(ctx, runlog.KindExplore, domain, len(urls))
		if err != nil {
			return nil, err
		}
		res.RunID = runID
	}

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			r.finish(ctx, res)
			return res, err
		}

		item := BatchItem{URL: u}
		snap, err := r.Run(ctx, domain, u, opts)
		if err != nil {
			item.Error = err.Error()
			item.Retryable = apperr.Retryable(err)
			res.Failed++
			if res.RunID != "" {
				if item.Retryable {
					r.runs.Errorf(ctx, res.RunID, u, "%v (retryable)", err)
				} else {
					r.runs.Errorf(ctx, res.RunID, u, "%v", err)
				}
			}
		} else {
			item.OK = true
			item.PageType = snap.PageType
			res.OK++
			if res.RunID != "" {
				r.runs.Infof(ctx, res.RunID, u, "explored as %s", snap.PageType)
			}
		}
		res.Items = append(res.Items, item)
		if res.RunID != "" {
			r.runs.Progress(ctx, res.RunID, res.OK, res.Failed)
		}
	}

	r.finish(ctx, res)
	r.logger.Info("batch finished",
		zap.String("domain", domain),
		zap.String("run_id", res.RunID),
		zap.Int("ok", res.OK),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (r *Runner) finish(ctx context.Context, res *BatchResult) {
	if res.RunID == "" {
		return
	}
	if err := r.runs.Finish(context.WithoutCancel(ctx), res.RunID, res.OK, res.Failed); err != nil {
		r.logger.Warn("failed to finish run", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
