// Package report builds tabular reports over the catalog, the transfer
// queue and run logs, and exports them.
package report

import (
	"cmp"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// ReportType defines the type of report.
type ReportType string

const (
	ReportCatalog    ReportType = "catalog"
	ReportTransfers  ReportType = "transfers"
	ReportRunLog     ReportType = "run_log"
	ReportConfigKeys ReportType = "config_keys"
	ReportSummary    ReportType = "summary"
)

// ReportDefinition defines a report type.
type ReportDefinition struct {
	Type        ReportType
	Name        string
	Description string
	Category    string
	Columns     []string
}

// AllReports returns all available report definitions.
func AllReports() []*ReportDefinition {
	return []*ReportDefinition{
		{ReportCatalog, "URL Catalog", "Discovered URLs with classification and exploration state", "Catalog",
			[]string{"URL", "Page Type", "Type Reason", "Title", "HTTP Status", "Sitemap", "Last Modified", "Discovered", "Explored", "Config Version"}},
		{ReportTransfers, "Transfer Queue", "Staged products and their transfer state", "Transfer",
			[]string{"ID", "URL", "Page Type", "Title", "Status", "ID Product", "Notes", "Prepared", "Updated"}},
		{ReportRunLog, "Run Log", "Log lines of one batch run", "Runs",
			[]string{"Time", "Level", "URL", "Message"}},
		{ReportConfigKeys, "Config Histories", "Extraction and mapping config histories", "Configs",
			[]string{"Kind", "Page Type", "Current Version", "Versions", "Last Saved"}},
		{ReportSummary, "Domain Summary", "Catalog and transfer counters", "Summary",
			[]string{"Metric", "Value"}},
	}
}

// Definition returns the definition of a report type.
func Definition(reportType ReportType) (*ReportDefinition, error) {
	for _, def := range AllReports() {
		if def.Type == reportType {
			return def, nil
		}
	}
	return nil, apperr.Ef(apperr.ErrInvalidFilter, "report", "unknown report type %q", reportType)
}

// ReportRow represents a single row in a report.
type ReportRow struct {
	Values map[string]interface{}
}

// Report represents a generated report.
type Report struct {
	Definition *ReportDefinition
	Domain     string
	Rows       []*ReportRow
	TotalCount int
	Generated  time.Time
}

// Options select the rows of a report.
type Options struct {
	Domain string

	// Catalog filter; paging is ignored so exports are complete.
	Catalog storage.CatalogFilter

	// Transfer status filter.
	Status string

	// Run for ReportRunLog, with an optional level filter.
	RunID string
	Level string
}

// Generator generates reports from the local store.
type Generator struct {
	db  *storage.Database
	now func() time.Time
}

// NewGenerator creates a new report generator.
func NewGenerator(db *storage.Database) *Generator {
	return &Generator{db: db, now: db.Now}
}

// Generate generates a report of the specified type.
func (g *Generator) Generate(ctx context.Context, reportType ReportType, opts Options) (*Report, error) {
	def, err := Definition(reportType)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Definition: def,
		Domain:     opts.Domain,
		Rows:       make([]*ReportRow, 0),
		Generated:  g.now(),
	}

	switch reportType {
	case ReportCatalog:
		err = g.generateCatalog(ctx, report, opts)
	case ReportTransfers:
		err = g.generateTransfers(ctx, report, opts)
	case ReportRunLog:
		err = g.generateRunLog(ctx, report, opts)
	case ReportConfigKeys:
		err = g.generateConfigKeys(ctx, report, opts)
	case ReportSummary:
		err = g.generateSummary(ctx, report, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", reportType, err)
	}

	report.TotalCount = len(report.Rows)
	return report, nil
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return *t
}

func (g *Generator) generateCatalog(ctx context.Context, report *Report, opts Options) error {
	filter := opts.Catalog
	filter.Limit, filter.Offset = 0, 0
	if filter.SortBy != "" {
		if _, ok := storage.CatalogSortColumns[filter.SortBy]; !ok {
			return apperr.Ef(apperr.ErrInvalidFilter, "catalog report", "unknown sort column %q", filter.SortBy)
		}
	}

	urls, _, err := g.db.ListCatalogURLs(ctx, opts.Domain, filter)
	if err != nil {
		return err
	}
	for _, u := range urls {
		version := interface{}("")
		if u.ConfigVersionUsed != nil {
			version = *u.ConfigVersionUsed
		}
		report.Rows = append(report.Rows, &ReportRow{
			Values: map[string]interface{}{
				"URL":            u.URL,
				"Page Type":      u.PageType,
				"Type Reason":    u.TypeReason,
				"Title":          u.Title,
				"HTTP Status":    u.HTTPStatus,
				"Sitemap":        u.SourceSitemap,
				"Last Modified":  timeValue(u.LastMod),
				"Discovered":     timeValue(u.DiscoveredAt),
				"Explored":       timeValue(u.ExploredAt),
				"Config Version": version,
			},
		})
	}
	return nil
}

func (g *Generator) generateTransfers(ctx context.Context, report *Report, opts Options) error {
	rows, err := g.db.ListReadyTransfers(ctx, opts.Domain, opts.Status)
	if err != nil {
		return err
	}
	for _, rt := range rows {
		idProduct := interface{}("")
		if rt.IDProduct != nil {
			idProduct = *rt.IDProduct
		}
		report.Rows = append(report.Rows, &ReportRow{
			Values: map[string]interface{}{
				"ID":         rt.ID,
				"URL":        rt.URL,
				"Page Type":  rt.PageType,
				"Title":      rt.Title,
				"Status":     rt.Status,
				"ID Product": idProduct,
				"Notes":      rt.Notes,
				"Prepared":   rt.PreparedAt,
				"Updated":    rt.UpdatedAt,
			},
		})
	}
	return nil
}

func (g *Generator) generateRunLog(ctx context.Context, report *Report, opts Options) error {
	if opts.RunID == "" {
		return apperr.Ef(apperr.ErrInvalidFilter, "run log report", "run id required")
	}
	run, err := g.db.GetRun(ctx, opts.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		return apperr.Ef(apperr.ErrNotFound, "run log report", "no run %s", opts.RunID)
	}
	report.Domain = run.Domain

	entries, err := g.db.ListRunLogs(ctx, opts.RunID, opts.Level, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		report.Rows = append(report.Rows, &ReportRow{
			Values: map[string]interface{}{
				"Time":    e.TS,
				"Level":   e.Level,
				"URL":     e.URL,
				"Message": e.Message,
			},
		})
	}
	return nil
}

func (g *Generator) generateConfigKeys(ctx context.Context, report *Report, opts Options) error {
	keys, err := g.db.ListConfigKeys(ctx, opts.Domain)
	if err != nil {
		return err
	}
	for _, k := range keys {
		report.Rows = append(report.Rows, &ReportRow{
			Values: map[string]interface{}{
				"Kind":            k.Kind,
				"Page Type":       k.PageType,
				"Current Version": k.CurrentVersion,
				"Versions":        k.Versions,
				"Last Saved":      k.LastSavedAt,
			},
		})
	}
	return nil
}

func (g *Generator) generateSummary(ctx context.Context, report *Report, opts Options) error {
	_, total, err := g.db.ListCatalogURLs(ctx, opts.Domain, storage.CatalogFilter{Limit: 1})
	if err != nil {
		return err
	}
	explored := true
	_, exploredCount, err := g.db.ListCatalogURLs(ctx, opts.Domain, storage.CatalogFilter{Explored: &explored, Limit: 1})
	if err != nil {
		return err
	}
	snapshots, err := g.db.CountSnapshots(ctx, opts.Domain)
	if err != nil {
		return err
	}
	byStatus, err := g.db.CountTransfersByStatus(ctx, opts.Domain)
	if err != nil {
		return err
	}

	metrics := []struct {
		name  string
		value interface{}
	}{
		{"Catalog URLs", total},
		{"Explored URLs", exploredCount},
		{"Snapshots", snapshots},
		{"Transfers Pending", byStatus[storage.StatusPending]},
		{"Transfers Ready", byStatus[storage.StatusReady]},
		{"Transfers Failed", byStatus[storage.StatusFailed]},
		{"Transfers Done", byStatus[storage.StatusTransferred]},
	}
	for _, m := range metrics {
		report.Rows = append(report.Rows, &ReportRow{
			Values: map[string]interface{}{
				"Metric": m.name,
				"Value":  m.value,
			},
		})
	}
	return nil
}

// Column resolves name to one of the report's columns, ignoring case.
func (r *Report) Column(name string) (string, error) {
	name = strings.TrimSpace(name)
	for _, c := range r.Definition.Columns {
		if strings.EqualFold(c, name) {
			return c, nil
		}
	}
	return "", apperr.Ef(apperr.ErrInvalidFilter, "report", "%s has no column %q", r.Definition.Type, name)
}

// SortReport sorts report rows by a column. Rows keep their order on ties.
func (r *Report) SortReport(column string, ascending bool) error {
	col, err := r.Column(column)
	if err != nil {
		return err
	}
	sort.SliceStable(r.Rows, func(i, j int) bool {
		c := compareValues(r.Rows[i].Values[col], r.Rows[j].Values[col])
		if ascending {
			return c < 0
		}
		return c > 0
	})
	return nil
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case int:
		if bv, ok := b.(int); ok {
			return cmp.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

// FilterReport returns the rows whose column, as exported, equals value
// (case-insensitive).
func (r *Report) FilterReport(column, value string) (*Report, error) {
	col, err := r.Column(column)
	if err != nil {
		return nil, err
	}
	filtered := &Report{
		Definition: r.Definition,
		Domain:     r.Domain,
		Rows:       make([]*ReportRow, 0),
		Generated:  r.Generated,
	}

	for _, row := range r.Rows {
		if strings.EqualFold(formatValue(row.Values[col]), value) {
			filtered.Rows = append(filtered.Rows, row)
		}
	}

	filtered.TotalCount = len(filtered.Rows)
	return filtered, nil
}
