package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// SQL drivers for the transfer target.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/spider-crawler/shopsync/internal/catalog"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/configstore"
	"github.com/spider-crawler/shopsync/internal/extraction"
	"github.com/spider-crawler/shopsync/internal/fetcher"
	"github.com/spider-crawler/shopsync/internal/logger"
	"github.com/spider-crawler/shopsync/internal/renderer"
	"github.com/spider-crawler/shopsync/internal/report"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/transfer"
)

// app holds the services a command needs. Heavy parts (Chromium, the
// target database) are created on first use.
type app struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	db      *storage.Database
	fetcher *fetcher.Fetcher
	crawler *sitemap.Crawler
	catalog *catalog.Service
	configs *configstore.Store
	runs    *runlog.Log
	reports *report.Generator

	renderer *renderer.Renderer
	target   *transfer.SQLTarget
}

// newApp loads configuration and opens local storage.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	f := fetcher.NewFetcher(cfg.Fetch)
	crawler := sitemap.NewCrawler(f, sitemap.NewClassifier(cfg.Crawl.TypeRules), cfg.Crawl.MaxSitemaps, log)
	runs := runlog.New(db, log)

	return &app{
		cfg:     cfg,
		logger:  log,
		db:      db,
		fetcher: f,
		crawler: crawler,
		catalog: catalog.NewService(db, crawler, f, f.UserAgent(), runs, log),
		configs: configstore.New(db, log),
		runs:    runs,
		reports: report.NewGenerator(db),
	}, nil
}

// runner builds the extraction runner, loading pages with Chromium when the
// render mode asks for it.
func (a *app) runner() (*extraction.Runner, error) {
	var source extraction.PageSource = extraction.FetcherSource{Fetcher: a.fetcher}
	if a.cfg.Render.Mode == config.RenderJS {
		if a.renderer == nil {
			r, err := renderer.NewRenderer(a.cfg.Render, a.fetcher.UserAgent())
			if err != nil {
				return nil, fmt.Errorf("start renderer: %w", err)
			}
			a.renderer = r
		}
		source = extraction.RendererSource{Renderer: a.renderer}
	}
	return extraction.NewRunner(a.db, a.configs, extraction.NewSelectorExtractor(source),
		a.crawler.Classifier(), a.runs, a.logger), nil
}

// pipeline builds the transfer pipeline. The target database is only
// opened when withTarget is set, so prepare and list work offline.
func (a *app) pipeline(withTarget bool) (*transfer.Pipeline, error) {
	var target transfer.Target
	if withTarget {
		if a.target == nil {
			t, err := transfer.Open(a.cfg.Target, a.logger)
			if err != nil {
				return nil, err
			}
			a.target = t
		}
		target = a.target
	}
	return transfer.NewPipeline(a.db, a.configs, target, a.runs, a.cfg.ImagesDir, a.logger), nil
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var errs []error
	if a.target != nil {
		errs = append(errs, a.target.Close())
	}
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	a.fetcher.Close()
	errs = append(errs, a.db.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// withApp adapts a command body that needs the app.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a table writer mirrored to w.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func rowOf(cells ...any) table.Row {
	return table.Row(cells)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
