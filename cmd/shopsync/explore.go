package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/extraction"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

func exploreCommand() *cobra.Command {
	var (
		version    int
		override   string
		pageType   string
		preview    bool
		unexplored bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "explore [domain] [url...]",
		Short: "Extract pages with the stored (or an overriding) config",
		Long: `Extract the given URLs, or with --unexplored every catalog row not yet
explored. --preview prints the result without storing anything.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			domain, urls := urlutil.NormalizeDomain(args[0]), args[1:]

			opts := extraction.RunOptions{PageType: pageType, Preview: preview}
			switch {
			case override != "" && cmd.Flags().Changed("version"):
				return apperr.Ef(apperr.ErrInvalidConfig, "explore", "--version and --override are exclusive")
			case override != "":
				raw, err := readInput(override)
				if err != nil {
					return err
				}
				opts.Selector = extraction.InlineOverride(json.RawMessage(raw))
			case cmd.Flags().Changed("version"):
				opts.Selector = extraction.ExplicitVersion(version)
			}

			if unexplored {
				explored := false
				rows, _, err := a.catalog.List(ctx, domain, storage.CatalogFilter{
					PageType: pageType,
					Explored: &explored,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				for _, r := range rows {
					urls = append(urls, r.URL)
				}
			}
			if len(urls) == 0 {
				return apperr.Ef(apperr.ErrInvalidState, "explore", "no URLs to explore")
			}

			runner, err := a.runner()
			if err != nil {
				return err
			}

			if preview && len(urls) == 1 {
				snap, err := runner.Run(ctx, domain, urls[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			}

			res, err := runner.RunBatch(ctx, domain, urls, opts)
			if err != nil && res == nil {
				return err
			}
			if asJSON {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			}
			printBatch(cmd, res.RunID, res.OK, res.Failed, func(add func(url string, ok bool, detail string)) {
				for _, it := range res.Items {
					detail := it.PageType
					if !it.OK {
						detail = it.Error
					}
					add(it.URL, it.OK, detail)
				}
			})
			return err
		}),
	}
	cmd.Flags().IntVar(&version, "version", 0, "use this stored config version")
	cmd.Flags().StringVar(&override, "override", "", "use the config in this JSON file (- for stdin) instead of a stored one")
	cmd.Flags().StringVar(&pageType, "page-type", "", "force the page type instead of inferring it")
	cmd.Flags().BoolVar(&preview, "preview", false, "extract without storing anything")
	cmd.Flags().BoolVar(&unexplored, "unexplored", false, "also explore every unexplored catalog row")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap on unexplored rows (0 = all)")
	return cmd
}

// printBatch renders a batch tally as a table.
func printBatch(cmd *cobra.Command, runID string, ok, failed int, items func(add func(url string, ok bool, detail string))) {
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(rowOf("URL", "OK", "Detail"))
	items(func(url string, ok bool, detail string) {
		t.AppendRow(rowOf(url, ok, detail))
	})
	t.AppendFooter(rowOf(fmt.Sprintf("%d ok, %d failed", ok, failed), "", ""))
	t.Render()
	if runID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", runID)
	}
}
