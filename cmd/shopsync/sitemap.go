package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/sitemap"
)

// sitemapCommand groups read-only sitemap inspection.
func sitemapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemap",
		Short: "Inspect sitemap trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(sitemapTreeCmd(), sitemapCountCmd(), sitemapDiscoverCmd())
	return cmd
}

func sitemapTreeCmd() *cobra.Command {
	var maxSitemaps int
	cmd := &cobra.Command{
		Use:   "tree [sitemap-url]",
		Short: "Print the sitemap index tree",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			root, err := a.crawler.Tree(cmd.Context(), args[0], maxSitemaps)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), root)
			}
			printNode(cmd.OutOrStdout(), root, 0)
			if root.Truncated {
				fmt.Fprintln(cmd.OutOrStdout(), "(truncated: sitemap budget reached)")
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&maxSitemaps, "max", 0, "maximum sitemap documents to visit (0 = configured default)")
	return cmd
}

func printNode(w io.Writer, n *sitemap.Node, depth int) {
	line := fmt.Sprintf("%s%s [%s]", strings.Repeat("  ", depth), n.URL, n.Kind)
	if n.Kind == sitemap.KindURLSet {
		line += fmt.Sprintf(" %d urls", n.URLCount)
	}
	if n.Error != "" {
		line += " error: " + n.Error
	}
	fmt.Fprintln(w, line)
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}

// addFilterFlags binds the include/exclude flags shared by discovery commands.
func addFilterFlags(cmd *cobra.Command, f *sitemap.Filters) {
	cmd.Flags().StringSliceVar(&f.IncludeGlobs, "include", nil, "glob a URL must match")
	cmd.Flags().StringSliceVar(&f.ExcludeGlobs, "exclude", nil, "glob that drops a URL")
	cmd.Flags().StringSliceVar(&f.IncludeRegex, "include-regex", nil, "regex a URL must match")
	cmd.Flags().StringSliceVar(&f.ExcludeRegex, "exclude-regex", nil, "regex that drops a URL")
}

func sitemapCountCmd() *cobra.Command {
	var filters sitemap.Filters
	cmd := &cobra.Command{
		Use:   "count [sitemap-url]",
		Short: "Count URLs per sitemap and page type",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.crawler.Count(cmd.Context(), args[0], filters)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("Sitemap", "Kind", "URLs", "Error"))
			for _, s := range res.Sitemaps {
				t.AppendRow(rowOf(s.URL, s.Kind, s.URLs, orDash(s.Error)))
			}
			t.AppendFooter(rowOf("Total", "", res.TotalURLs, ""))
			t.Render()

			pt := newTable(cmd.OutOrStdout())
			pt.AppendHeader(rowOf("Page type", "URLs"))
			for _, name := range sortedKeys(res.PerType) {
				pt.AppendRow(rowOf(name, res.PerType[name]))
			}
			pt.Render()
			return nil
		}),
	}
	addFilterFlags(cmd, &filters)
	return cmd
}

func sitemapDiscoverCmd() *cobra.Command {
	var filters sitemap.Filters
	cmd := &cobra.Command{
		Use:   "discover [sitemap-url]",
		Short: "List leaf URLs with their inferred page type",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			d, err := a.crawler.Discover(cmd.Context(), args[0], filters)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d.URLs)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("URL", "Type", "Reason", "Sitemap"))
			for _, u := range d.URLs {
				t.AppendRow(rowOf(u.URL, u.PageType, u.TypeReason, u.Sitemap))
			}
			t.AppendFooter(rowOf("Total", len(d.URLs), "", ""))
			t.Render()
			return nil
		}),
	}
	addFilterFlags(cmd, &filters)
	return cmd
}
