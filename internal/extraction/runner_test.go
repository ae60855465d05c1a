package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/configstore"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
)

const testDomain = "shop.example"

type runnerFixture struct {
	runner  *Runner
	db      *storage.Database
	configs *configstore.Store
	runs    *runlog.Log
	calls   *atomic.Int32
}

// fakeExtractor echoes the config's title selector into the product. URLs
// under /broken/ fail untyped, URLs under /down/ fail as fetch errors.
func fakeExtractor(calls *atomic.Int32) Extractor {
	return ExtractorFunc(func(_ context.Context, url string, cfg json.RawMessage) (*Result, error) {
		calls.Add(1)
		switch {
		case strings.Contains(url, "/broken/"):
			return nil, errors.New("selector engine exploded")
		case strings.Contains(url, "/down/"):
			return nil, apperr.Ef(apperr.ErrFetchFailed, "fetch", "HTTP 503")
		}
		var c Config
		_ = json.Unmarshal(cfg, &c)
		return &Result{
			Meta:    map[string]any{"title": "Title of " + url, "http_status": 200},
			Product: map[string]any{"title_selector": c.Selectors["title"]},
		}, nil
	})
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.CompilePatterns())

	calls := &atomic.Int32{}
	configs := configstore.New(db, zap.NewNop())
	runs := runlog.New(db, zap.NewNop())
	r := NewRunner(db, configs, fakeExtractor(calls), sitemap.NewClassifier(cfg.Crawl.TypeRules), runs, zap.NewNop())
	return &runnerFixture{runner: r, db: db, configs: configs, runs: runs, calls: calls}
}

func (f *runnerFixture) save(t *testing.T, pageType, raw string) *storage.ConfigVersion {
	t.Helper()
	cv, err := f.configs.Save(context.Background(),
		configstore.Key{Domain: testDomain, Kind: configstore.KindExtraction, PageType: pageType}, json.RawMessage(raw), "")
	require.NoError(t, err)
	return cv
}

func decodeResult(t *testing.T, snap *storage.Snapshot) Result {
	t.Helper()
	var res Result
	require.NoError(t, json.Unmarshal(snap.Result, &res))
	return res
}

func TestRunStoresSnapshotAndUpdatesCatalog(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	f.save(t, "product", `{"selectors":{"title":"h1"}}`)
	f.save(t, "product", `{"selectors":{"title":"h1.name"}}`)

	u := "https://shop.example/product/shoe"
	snap, err := f.runner.Run(ctx, testDomain, u, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "product", snap.PageType)
	require.NotNil(t, snap.ConfigVersion)
	assert.Equal(t, 2, *snap.ConfigVersion)

	res := decodeResult(t, snap)
	assert.EqualValues(t, 2, res.Meta["config_version"])
	assert.Equal(t, false, res.Meta["config_overridden"])
	assert.Equal(t, "product", res.Meta["page_type"])
	assert.Equal(t, false, res.Meta["preview"])
	assert.Equal(t, "h1.name", res.Product["title_selector"])

	row, err := f.db.GetCatalogURL(ctx, testDomain, u)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.IsExplored())
	assert.Equal(t, "Title of "+u, row.Title)
	assert.Equal(t, 200, row.HTTPStatus)
	require.NotNil(t, row.ConfigVersionUsed)
	assert.Equal(t, 2, *row.ConfigVersionUsed)

	stored, err := f.db.GetSnapshot(ctx, testDomain, u)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	f.save(t, "product", `{"selectors":{"title":"h1"}}`)

	u := "https://shop.example/product/shoe"
	_, err := f.runner.Run(ctx, testDomain, u, RunOptions{Preview: true})
	require.NoError(t, err)

	batch, err := f.runner.RunBatch(ctx, testDomain, []string{u}, RunOptions{Preview: true})
	require.NoError(t, err)
	assert.Empty(t, batch.RunID)
	assert.Equal(t, 1, batch.OK)

	snap, err := f.runner.Run(ctx, testDomain, u, RunOptions{Preview: true, Selector: InlineOverride(`{"selectors":{"title":"b"}}`)})
	require.NoError(t, err)
	res := decodeResult(t, snap)
	assert.Equal(t, true, res.Meta["preview"])
	assert.Equal(t, true, res.Meta["config_overridden"])
	assert.Nil(t, res.Meta["config_version"])

	row, err := f.db.GetCatalogURL(ctx, testDomain, u)
	require.NoError(t, err)
	assert.Nil(t, row)
	n, err := f.db.CountSnapshots(ctx, testDomain)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPageTypeInference(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	f.save(t, "product", `{}`)
	f.save(t, "category", `{}`)
	f.save(t, "page", `{}`)

	_, err := f.db.InsertCatalogURLs(ctx, []*storage.CatalogURL{
		{Domain: testDomain, URL: "https://shop.example/x/typed", URLKey: "https://shop.example/x/typed", PageType: "category"},
		{Domain: testDomain, URL: "https://shop.example/x/untyped", URLKey: "https://shop.example/x/untyped", PageType: "unknown",
			SourceSitemap: "https://shop.example/cms-sitemap.xml"},
	})
	require.NoError(t, err)

	tests := []struct {
		url, explicit, want string
	}{
		{"https://shop.example/x/typed", "page", "page"},
		{"https://shop.example/x/typed", "", "category"},
		{"https://shop.example/x/untyped", "", "page"},
		{"https://shop.example/collections/summer", "", "category"},
		{"https://shop.example/whatever", "", "product"},
	}
	for _, tt := range tests {
		snap, err := f.runner.Run(ctx, testDomain, tt.url, RunOptions{PageType: tt.explicit, Preview: true})
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, snap.PageType, tt.url)
	}
}

func TestRunFailureModes(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	_, err := f.runner.Run(ctx, testDomain, "https://shop.example/p/1", RunOptions{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
	assert.EqualValues(t, 0, f.calls.Load())

	_, err = f.runner.Run(ctx, testDomain, "https://shop.example/p/1", RunOptions{Selector: InlineOverride(`{"images": 5}`)})
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))
	assert.EqualValues(t, 0, f.calls.Load())

	f.save(t, "product", `{}`)
	_, err = f.runner.Run(ctx, testDomain, "https://shop.example/p/1", RunOptions{Selector: ExplicitVersion(9)})
	assert.True(t, errors.Is(err, apperr.ErrInvalidConfig))

	_, err = f.runner.Run(ctx, testDomain, "https://shop.example/broken/1", RunOptions{})
	assert.True(t, errors.Is(err, apperr.ErrExtractor))

	_, err = f.runner.Run(ctx, testDomain, "https://shop.example/down/1", RunOptions{})
	assert.True(t, errors.Is(err, apperr.ErrFetchFailed))
	assert.False(t, errors.Is(err, apperr.ErrExtractor))
}

func TestRunBatchTalliesAndLogs(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	f.save(t, "product", `{}`)

	urls := []string{
		"https://shop.example/p/1",
		"https://shop.example/broken/2",
		"https://shop.example/p/3",
		"https://shop.example/down/4",
	}
	// A mixed-case domain lands in the same catalog as the lower-case one.
	res, err := f.runner.RunBatch(ctx, "Shop.EXAMPLE", urls, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.OK)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Items, 4)
	assert.False(t, res.Items[1].OK)
	assert.NotEmpty(t, res.Items[1].Error)
	assert.False(t, res.Items[1].Retryable)
	assert.True(t, res.Items[3].Retryable)

	run, err := f.runs.Status(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunFinished, run.Status)
	assert.Equal(t, runlog.KindExplore, run.Kind)
	assert.Equal(t, testDomain, run.Domain)
	assert.Equal(t, 4, run.Total)
	assert.Equal(t, 2, run.Failed)

	errs, err := f.runs.Errors(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, urls[1], errs[0].URL)
	assert.NotContains(t, errs[0].Message, "retryable")
	assert.Contains(t, errs[1].Message, "(retryable)")

	tail, err := f.runs.Tail(ctx, res.RunID, 0)
	require.NoError(t, err)
	assert.Contains(t, tail[0].Message, "explored as product")

	n, err := f.db.CountSnapshots(ctx, testDomain)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	f := newRunnerFixture(t)
	f.save(t, "product", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.runner.RunBatch(ctx, testDomain, []string{"https://shop.example/p/1"}, RunOptions{Preview: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Items)
}
