package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

const domain = "shop.example"

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetClock(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) })

	_, err = db.InsertCatalogURLs(context.Background(), []*storage.CatalogURL{
		{Domain: domain, URL: "https://shop.example/p/a", URLKey: "https://shop.example/p/a", PageType: "product", SourceSitemap: "https://shop.example/products.xml"},
		{Domain: domain, URL: "https://shop.example/about", URLKey: "https://shop.example/about", PageType: "page"},
	})
	require.NoError(t, err)
	return db
}

func catalogReport(t *testing.T, db *storage.Database) *Report {
	t.Helper()
	r, err := NewGenerator(db).Generate(context.Background(), ReportCatalog, Options{Domain: domain})
	require.NoError(t, err)
	return r
}

func TestGenerateCatalog(t *testing.T) {
	db := newTestDB(t)
	r := catalogReport(t, db)

	assert.Equal(t, 2, r.TotalCount)
	assert.Equal(t, "https://shop.example/p/a", r.Rows[0].Values["URL"])
	assert.Equal(t, "product", r.Rows[0].Values["Page Type"])
	assert.Equal(t, "", r.Rows[0].Values["Explored"])

	products, err := NewGenerator(db).Generate(context.Background(), ReportCatalog,
		Options{Domain: domain, Catalog: storage.CatalogFilter{PageType: "product", Limit: 1, Offset: 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, products.TotalCount, "paging is ignored for exports")

	_, err = NewGenerator(db).Generate(context.Background(), ReportCatalog,
		Options{Domain: domain, Catalog: storage.CatalogFilter{SortBy: "nope"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestGenerateUnknownAndRunLog(t *testing.T) {
	db := newTestDB(t)
	g := NewGenerator(db)

	_, err := g.Generate(context.Background(), "seo_overview", Options{})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)

	_, err = g.Generate(context.Background(), ReportRunLog, Options{})
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)

	_, err = g.Generate(context.Background(), ReportRunLog, Options{RunID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerateSummary(t *testing.T) {
	db := newTestDB(t)
	r, err := NewGenerator(db).Generate(context.Background(), ReportSummary, Options{Domain: domain})
	require.NoError(t, err)

	values := map[string]interface{}{}
	for _, row := range r.Rows {
		values[row.Values["Metric"].(string)] = row.Values["Value"]
	}
	assert.Equal(t, 2, values["Catalog URLs"])
	assert.Equal(t, 0, values["Explored URLs"])
	assert.Equal(t, 0, values["Transfers Ready"])
}

func TestExportCSV(t *testing.T) {
	r := catalogReport(t, newTestDB(t))

	var buf bytes.Buffer
	require.NoError(t, NewExporter(nil).Export(&buf, r))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, r.Definition.Columns, records[0])
	assert.Equal(t, "https://shop.example/p/a", records[1][0])
	assert.Equal(t, "https://shop.example/products.xml", records[1][5])
}

func TestExportCSVMaxRowsAndDelimiter(t *testing.T) {
	r := catalogReport(t, newTestDB(t))

	var buf bytes.Buffer
	require.NoError(t, NewExporter(&ExportOptions{Format: FormatCSV, MaxRows: 1, Delimiter: ';', IncludeEmpty: true}).Export(&buf, r))

	reader := csv.NewReader(bytes.NewReader(buf.Bytes()[3:]))
	reader.Comma = ';'
	records, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestExportJSON(t *testing.T) {
	r := catalogReport(t, newTestDB(t))

	var buf bytes.Buffer
	require.NoError(t, NewExporter(&ExportOptions{Format: FormatJSON}).Export(&buf, r))

	var got JSONReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "catalog", got.Metadata.ReportType)
	assert.Equal(t, domain, got.Metadata.Domain)
	assert.Equal(t, "2024-03-01T09:00:00Z", got.Metadata.Generated)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "https://shop.example/about", got.Rows[1]["URL"])
}

func TestExportXLSX(t *testing.T) {
	r := catalogReport(t, newTestDB(t))

	var buf bytes.Buffer
	require.NoError(t, NewExporter(&ExportOptions{Format: FormatXLSX, IncludeEmpty: true}).Export(&buf, r))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"URL Catalog", "Metadata"}, f.GetSheetList())
	header, err := f.GetCellValue("URL Catalog", "A1")
	require.NoError(t, err)
	assert.Equal(t, "URL", header)
	first, err := f.GetCellValue("URL Catalog", "A2")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/p/a", first)
	dom, err := f.GetCellValue("Metadata", "B3")
	require.NoError(t, err)
	assert.Equal(t, domain, dom)
}

func TestWriteWorkbook(t *testing.T) {
	db := newTestDB(t)
	g := NewGenerator(db)
	var reports []*Report
	for _, typ := range []ReportType{ReportCatalog, ReportTransfers, ReportSummary} {
		r, err := g.Generate(context.Background(), typ, Options{Domain: domain})
		require.NoError(t, err)
		reports = append(reports, r)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, reports))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "URL Catalog", "Transfer Queue", "Domain Summary"}, f.GetSheetList())
	rows, err := f.GetCellValue("Summary", "D2")
	require.NoError(t, err)
	assert.Equal(t, "2", rows)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(".XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")

	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestSortAndFilterReport(t *testing.T) {
	r := catalogReport(t, newTestDB(t))

	require.NoError(t, r.SortReport("URL", true))
	assert.Equal(t, "https://shop.example/about", r.Rows[0].Values["URL"])
	require.NoError(t, r.SortReport("url", false))
	assert.Equal(t, "https://shop.example/p/a", r.Rows[0].Values["URL"])

	products, err := r.FilterReport("page type", "PRODUCT")
	require.NoError(t, err)
	assert.Equal(t, 1, products.TotalCount)
	assert.Equal(t, "https://shop.example/p/a", products.Rows[0].Values["URL"])

	err = r.SortReport("Password", true)
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
	_, err = r.FilterReport("Password", "x")
	assert.ErrorIs(t, err, apperr.ErrInvalidFilter)
}

func TestSortReportByNumbers(t *testing.T) {
	r := &Report{
		Definition: &ReportDefinition{Type: ReportSummary, Columns: []string{"Metric", "Value"}},
		Rows: []*ReportRow{
			{Values: map[string]interface{}{"Metric": "a", "Value": 9}},
			{Values: map[string]interface{}{"Metric": "b", "Value": 10}},
			{Values: map[string]interface{}{"Metric": "c", "Value": 2}},
		},
	}
	require.NoError(t, r.SortReport("Value", true))
	assert.Equal(t, []interface{}{"c", "a", "b"}, []interface{}{
		r.Rows[0].Values["Metric"], r.Rows[1].Values["Metric"], r.Rows[2].Values["Metric"]})

	tens, err := r.FilterReport("Value", "10")
	require.NoError(t, err)
	assert.Equal(t, 1, tens.TotalCount)
}
