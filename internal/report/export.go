package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spider-crawler/shopsync/internal/apperr"
)

// ExportFormat defines the export file format.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
	FormatJSON ExportFormat = "json"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	}
	return "", apperr.Ef(apperr.ErrInvalidFilter, "export", "unsupported export format %q", s)
}

// ContentType returns the MIME type of a format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "text/csv; charset=utf-8"
	}
}

// ExportOptions defines export configuration.
type ExportOptions struct {
	Format       ExportFormat
	IncludeEmpty bool // Include rows with empty values
	MaxRows      int  // 0 = unlimited
	Delimiter    rune // For CSV, default is comma
}

// DefaultExportOptions returns default export options.
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		Format:       FormatCSV,
		IncludeEmpty: true,
		Delimiter:    ',',
	}
}

// Exporter handles exporting reports to various formats.
type Exporter struct {
	options *ExportOptions
}

// NewExporter creates a new exporter.
func NewExporter(options *ExportOptions) *Exporter {
	if options == nil {
		options = DefaultExportOptions()
	}
	return &Exporter{options: options}
}

// Export writes a report to w.
func (e *Exporter) Export(w io.Writer, report *Report) error {
	switch e.options.Format {
	case FormatCSV:
		return e.exportCSV(w, report)
	case FormatXLSX:
		return e.exportXLSX(w, report)
	case FormatJSON:
		return e.exportJSON(w, report)
	default:
		return apperr.Ef(apperr.ErrInvalidFilter, "export", "unsupported export format %q", e.options.Format)
	}
}

// ExportFile writes a report to path.
func (e *Exporter) ExportFile(path string, report *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	bw := bufio.NewWriter(file)
	if err := e.Export(bw, report); err != nil {
		file.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// rows returns the exported rows in column order, applying MaxRows and
// IncludeEmpty.
func (e *Exporter) rows(report *Report) []*ReportRow {
	out := make([]*ReportRow, 0, len(report.Rows))
	for _, row := range report.Rows {
		if e.options.MaxRows > 0 && len(out) >= e.options.MaxRows {
			break
		}
		if !e.options.IncludeEmpty && isEmptyRow(row) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func isEmptyRow(row *ReportRow) bool {
	for _, v := range row.Values {
		if formatValue(v) != "" {
			return false
		}
	}
	return true
}

func (e *Exporter) exportCSV(w io.Writer, report *Report) error {
	// UTF-8 BOM for Excel
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if e.options.Delimiter != 0 {
		writer.Comma = e.options.Delimiter
	}

	if err := writer.Write(report.Definition.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, row := range e.rows(report) {
		values := make([]string, len(report.Definition.Columns))
		for i, col := range report.Definition.Columns {
			values[i] = formatValue(row.Values[col])
		}
		if err := writer.Write(values); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (e *Exporter) exportXLSX(w io.Writer, report *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := sanitizeSheetName(report.Definition.Name)
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := writeSheet(f, sheetName, report.Definition.Columns, e.rows(report)); err != nil {
		return err
	}
	addMetadataSheet(f, report)

	_, err := f.WriteTo(w)
	return err
}

// widthFor sizes a column by its header; free-text columns get room.
func widthFor(col string) float64 {
	switch col {
	case "URL", "Message", "Notes", "Description":
		return 60
	}
	return max(float64(len(col)+5), 15)
}

// writeSheet fills sheetName with a styled header row, zebra-striped rows,
// an auto filter and a frozen header.
func writeSheet(f *excelize.File, sheetName string, cols []string, rows []*ReportRow) error {
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1565C0"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	stripe, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F5F5F5"}},
	})
	if err != nil {
		return fmt.Errorf("stripe style: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &cols); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(cols))
	_ = f.SetCellStyle(sheetName, "A1", lastCol+"1", header)
	for i, col := range cols {
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, name, name, widthFor(col))
	}

	for r, row := range rows {
		values := make([]interface{}, len(cols))
		for i, col := range cols {
			values[i] = cellValue(row.Values[col])
		}
		first := fmt.Sprintf("A%d", r+2)
		if err := f.SetSheetRow(sheetName, first, &values); err != nil {
			return err
		}
		if r%2 == 1 {
			_ = f.SetCellStyle(sheetName, first, fmt.Sprintf("%s%d", lastCol, r+2), stripe)
		}
	}

	_ = f.AutoFilter(sheetName, fmt.Sprintf("A1:%s%d", lastCol, len(rows)+1), nil)
	return f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func addMetadataSheet(f *excelize.File, report *Report) {
	sheetName := "Metadata"
	f.NewSheet(sheetName)

	metadata := [][]string{
		{"Report Name", report.Definition.Name},
		{"Description", report.Definition.Description},
		{"Domain", report.Domain},
		{"Total Rows", fmt.Sprintf("%d", report.TotalCount)},
		{"Generated", report.Generated.Format(time.RFC3339)},
		{"Tool", "shopsync"},
	}
	for i, row := range metadata {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", i+1), row[1])
	}
	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "B", 50)
}

// cellValue keeps numbers numeric and renders times as RFC 3339.
func cellValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

func (e *Exporter) exportJSON(w io.Writer, report *Report) error {
	data := &JSONReport{
		Metadata: JSONMetadata{
			ReportType:  string(report.Definition.Type),
			Name:        report.Definition.Name,
			Description: report.Definition.Description,
			Domain:      report.Domain,
			TotalCount:  report.TotalCount,
			Generated:   report.Generated.Format(time.RFC3339),
			Columns:     report.Definition.Columns,
		},
		Rows: make([]map[string]interface{}, 0, len(report.Rows)),
	}
	for _, row := range e.rows(report) {
		data.Rows = append(data.Rows, row.Values)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

// JSONReport represents the JSON export structure.
type JSONReport struct {
	Metadata JSONMetadata             `json:"metadata"`
	Rows     []map[string]interface{} `json:"rows"`
}

// JSONMetadata represents report metadata.
type JSONMetadata struct {
	ReportType  string   `json:"report_type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Domain      string   `json:"domain,omitempty"`
	TotalCount  int      `json:"total_count"`
	Generated   string   `json:"generated"`
	Columns     []string `json:"columns"`
}

// formatValue converts a value to string for export.
func formatValue(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%.2f", val)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// sanitizeSheetName ensures sheet name is valid for Excel.
func sanitizeSheetName(name string) string {
	invalid := []string{"\\", "/", "?", "*", "[", "]", ":"}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	// Max 31 characters
	if len(result) > 31 {
		result = result[:31]
	}
	return result
}

// WriteWorkbook writes several reports into one XLSX file, one sheet each,
// behind a summary sheet linking to them.
func WriteWorkbook(w io.Writer, reports []*Report) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	_ = f.SetSheetRow(summary, "A1", &[]string{"Report", "Category", "Description", "Rows"})

	for idx, report := range reports {
		sheetName := sanitizeSheetName(report.Definition.Name)
		if _, err := f.NewSheet(sheetName); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeSheet(f, sheetName, report.Definition.Columns, report.Rows); err != nil {
			return fmt.Errorf("sheet %s: %w", sheetName, err)
		}

		cell := fmt.Sprintf("A%d", idx+2)
		_ = f.SetSheetRow(summary, cell, &[]interface{}{
			report.Definition.Name,
			report.Definition.Category,
			report.Definition.Description,
			report.TotalCount,
		})
		_ = f.SetCellHyperLink(summary, cell, fmt.Sprintf("'%s'!A1", sheetName), "Location")
	}

	for col, width := range map[string]float64{"A": 30, "B": 15, "C": 50, "D": 10} {
		_ = f.SetColWidth(summary, col, col, width)
	}
	f.SetActiveSheet(0)

	_, err := f.WriteTo(w)
	return err
}
