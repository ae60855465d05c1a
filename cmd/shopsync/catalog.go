package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/catalog"
	"github.com/spider-crawler/shopsync/internal/report"
	"github.com/spider-crawler/shopsync/internal/sitemap"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// catalogCommand groups URL catalog maintenance.
func catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the per-domain URL catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		catalogExtractCmd(),
		catalogListCmd(),
		catalogAddCmd(),
		catalogResetCmd(),
		catalogClearCmd(),
		catalogDeleteCmd(),
		catalogClassifyCmd(),
		catalogSnapshotCmd(),
		catalogExportCmd(),
	)
	return cmd
}

func catalogExtractCmd() *cobra.Command {
	var (
		sitemaps []string
		filters  sitemap.Filters
	)
	cmd := &cobra.Command{
		Use:   "extract [domain]",
		Short: "Discover URLs from the selected sitemaps into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.catalog.Extract(cmd.Context(), args[0], sitemaps, filters)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d URLs found in %d sitemaps, %d new\n", res.TotalURLs, res.Sitemaps, res.Inserted)
			if res.OffDomain > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d URLs on other sites skipped\n", res.OffDomain)
			}
			if len(res.Failed) > 0 {
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(rowOf("Failed sitemap", "Error"))
				for _, f := range res.Failed {
					t.AppendRow(rowOf(f.Sitemap, f.Error))
				}
				t.Render()
			}
			if res.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", res.RunID)
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&sitemaps, "sitemap", nil, "sitemap to read (default: the domain's selected sitemaps)")
	addFilterFlags(cmd, &filters)
	return cmd
}

// catalogFlags binds the listing filter shared by list and export.
type catalogFlags struct {
	pageType string
	search   string
	explored string
	sortBy   string
	desc     bool
}

func (f *catalogFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.pageType, "page-type", "", "only rows of this page type")
	cmd.Flags().StringVar(&f.search, "search", "", "substring of the URL or title")
	cmd.Flags().StringVar(&f.explored, "explored", "", "true or false to filter by explored state")
	cmd.Flags().StringVar(&f.sortBy, "sort", "", "url, type, title, http_status or explored_at")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "sort descending")
}

func (f *catalogFlags) filter() (storage.CatalogFilter, error) {
	out := storage.CatalogFilter{
		PageType: f.pageType,
		Search:   f.search,
		SortBy:   f.sortBy,
		SortDesc: f.desc,
	}
	if f.explored != "" {
		b, err := strconv.ParseBool(f.explored)
		if err != nil {
			return out, apperr.Ef(apperr.ErrInvalidFilter, "catalog filter", "explored must be true or false, got %q", f.explored)
		}
		out.Explored = &b
	}
	return out, nil
}

func catalogListCmd() *cobra.Command {
	var (
		flags         catalogFlags
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list [domain]",
		Short: "List catalog rows",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			f.Limit, f.Offset = limit, offset
			rows, total, err := a.catalog.List(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"total": total, "rows": rows})
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("URL", "Type", "Title", "Status", "Explored"))
			for _, r := range rows {
				explored := "-"
				if r.ExploredAt != nil {
					explored = r.ExploredAt.Format("2006-01-02 15:04")
				}
				t.AppendRow(rowOf(r.URL, r.PageType, orDash(r.Title), r.HTTPStatus, explored))
			}
			t.AppendFooter(rowOf(fmt.Sprintf("%d of %d", len(rows), total), "", "", "", ""))
			t.Render()
			return nil
		}),
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 50, "rows per page (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func catalogAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [domain] [url...]",
		Short: "Add URLs by hand",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.catalog.AddURLs(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d URLs added\n", res.Inserted)
			for _, u := range res.OffDomain {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped (other site): %s\n", u)
			}
			return nil
		}),
	}
}

func catalogResetCmd() *cobra.Command {
	var deleteURLs bool
	cmd := &cobra.Command{
		Use:   "reset [domain] [url...]",
		Short: "Forget extraction results (all rows when no URL is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.catalog.ResetExplored(cmd.Context(), args[0], args[1:], deleteURLs)
			if err != nil {
				return err
			}
			return printReset(cmd, res)
		}),
	}
	cmd.Flags().BoolVar(&deleteURLs, "delete", false, "delete the catalog rows too")
	return cmd
}

func catalogDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [domain] [url...]",
		Short: "Delete catalog rows and their snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.catalog.Delete(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return printReset(cmd, res)
		}),
	}
}

func printReset(cmd *cobra.Command, res *catalog.ResetResult) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rows reset, %d snapshots deleted, %d URLs deleted\n",
		res.AffectedRows, res.DeletedSnapshots, res.DeletedURLs)
	return nil
}

func catalogClearCmd() *cobra.Command {
	var resetDiscovered bool
	cmd := &cobra.Command{
		Use:   "clear [domain] [url...]",
		Short: "Blank page type, title and HTTP status",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.catalog.ClearFields(cmd.Context(), args[0], args[1:], resetDiscovered)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows cleared\n", res.AffectedRows)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&resetDiscovered, "reset-discovered", false, "also clear discovered_at")
	return cmd
}

func catalogClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [domain]",
		Short: "Assign page types to unknown rows from the classification rules",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			n, err := a.catalog.Classify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows classified\n", n)
			return nil
		}),
	}
}

func catalogSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [domain] [url]",
		Short: "Print the stored extraction result of a URL",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			snap, err := a.catalog.Snapshot(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		}),
	}
}

func catalogExportCmd() *cobra.Command {
	var (
		flags  catalogFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export [domain]",
		Short: "Export the catalog as csv, xlsx or json",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			return exportReport(cmd, a, report.ReportCatalog, report.Options{
				Domain:  urlutil.NormalizeDomain(args[0]),
				Catalog: f,
			}, nil, format, out)
		}),
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "csv, xlsx or json")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

// exportReport generates one report and writes it to out or stdout.
func exportReport(cmd *cobra.Command, a *app, reportType report.ReportType, opts report.Options, view *reportView, format, out string) error {
	exportFormat, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	rep, err := a.reports.Generate(cmd.Context(), reportType, opts)
	if err != nil {
		return err
	}
	if rep, err = view.apply(rep); err != nil {
		return err
	}

	exportOpts := report.DefaultExportOptions()
	exportOpts.Format = exportFormat
	exporter := report.NewExporter(exportOpts)
	if out == "" {
		return exporter.Export(cmd.OutOrStdout(), rep)
	}
	if err := exporter.ExportFile(out, rep); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d rows written to %s\n", len(rep.Rows), out)
	return nil
}
