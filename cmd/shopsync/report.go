package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/report"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// reportCommand writes reports and workbooks.
func reportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		format, out, runID, level string
		view                      reportView
	)
	single := &cobra.Command{
		Use:   "show [type] [domain]",
		Short: "Export one report (catalog, transfers, run_log, config_keys or summary)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			opts := report.Options{RunID: runID, Level: level}
			if len(args) == 2 {
				opts.Domain = urlutil.NormalizeDomain(args[1])
			}
			return exportReport(cmd, a, report.ReportType(args[0]), opts, &view, format, out)
		}),
	}
	view.bind(single)
	single.Flags().StringVar(&format, "format", "csv", "csv, xlsx or json")
	single.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	single.Flags().StringVar(&runID, "run", "", "run id for the run_log report")
	single.Flags().StringVar(&level, "level", "", "log level filter for the run_log report")

	var workbookOut string
	workbook := &cobra.Command{
		Use:   "workbook [domain]",
		Short: "Write an XLSX workbook with every domain report",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			opts := report.Options{Domain: urlutil.NormalizeDomain(args[0])}
			types := []report.ReportType{
				report.ReportSummary,
				report.ReportCatalog,
				report.ReportTransfers,
				report.ReportConfigKeys,
			}
			reports := make([]*report.Report, 0, len(types))
			for _, rt := range types {
				r, err := a.reports.Generate(cmd.Context(), rt, opts)
				if err != nil {
					return fmt.Errorf("generate %s: %w", rt, err)
				}
				reports = append(reports, r)
			}

			if workbookOut == "" {
				workbookOut = opts.Domain + ".xlsx"
			}
			f, err := os.Create(workbookOut)
			if err != nil {
				return fmt.Errorf("create workbook: %w", err)
			}
			if err := report.WriteWorkbook(f, reports); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workbook written to %s\n", workbookOut)
			return nil
		}),
	}
	workbook.Flags().StringVarP(&workbookOut, "output", "o", "", "output file (default <domain>.xlsx)")

	cmd.AddCommand(single, workbook)
	return cmd
}

// reportView sorts and filters a generated report before it is exported.
type reportView struct {
	sortBy  string
	asc     bool
	filters []string
}

func (v *reportView) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&v.sortBy, "sort", "", "column to sort by")
	cmd.Flags().BoolVar(&v.asc, "asc", false, "sort ascending (default descending)")
	cmd.Flags().StringArrayVar(&v.filters, "filter", nil, "keep rows where column=value (repeatable)")
}

// apply is a no-op on a nil view.
func (v *reportView) apply(rep *report.Report) (*report.Report, error) {
	if v == nil {
		return rep, nil
	}
	for _, f := range v.filters {
		col, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, apperr.Ef(apperr.ErrInvalidFilter, "report", "filter %q is not column=value", f)
		}
		var err error
		if rep, err = rep.FilterReport(col, value); err != nil {
			return nil, err
		}
	}
	if v.sortBy != "" {
		if err := rep.SortReport(v.sortBy, v.asc); err != nil {
			return nil, err
		}
	}
	return rep, nil
}
