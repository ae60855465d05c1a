package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/storage"
)

// domainCommand groups per-domain sitemap bookkeeping.
func domainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Manage domains and their sitemaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List known domains",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				domains, err := a.catalog.Domains(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), domains)
				}
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(rowOf("Domain", "Sitemap", "Known", "Selected", "Updated"))
				for _, d := range domains {
					t.AppendRow(rowOf(d.Domain, orDash(d.SitemapURL), len(d.KnownSitemaps)+len(d.ManualSitemaps),
						len(d.SelectedSitemaps), d.UpdatedAt.Format("2006-01-02 15:04")))
				}
				t.Render()
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show [domain]",
			Short: "Show a domain's sitemaps",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				d, err := a.catalog.Domain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDomain(cmd.OutOrStdout(), d)
			}),
		},
		&cobra.Command{
			Use:   "set [domain] [sitemap-url]",
			Short: "Set the root sitemap (looked up in robots.txt when omitted)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				sitemapURL := ""
				if len(args) == 2 {
					sitemapURL = args[1]
				}
				d, err := a.catalog.SetSitemapURL(cmd.Context(), args[0], sitemapURL)
				if err != nil {
					return err
				}
				return printDomain(cmd.OutOrStdout(), d)
			}),
		},
		&cobra.Command{
			Use:   "refresh [domain]",
			Short: "Re-read the root sitemap and update the known sitemap list",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				d, root, err := a.catalog.RefreshSitemaps(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{"domain": d, "tree": root})
				}
				printNode(cmd.OutOrStdout(), root, 0)
				return printDomain(cmd.OutOrStdout(), d)
			}),
		},
		&cobra.Command{
			Use:   "add-sitemap [domain] [sitemap-url]",
			Short: "Add a sitemap by hand",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				d, err := a.catalog.AddSitemap(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printDomain(cmd.OutOrStdout(), d)
			}),
		},
		&cobra.Command{
			Use:   "select [domain] [sitemap-url...]",
			Short: "Choose which sitemaps catalog extraction reads",
			Args:  cobra.MinimumNArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				d, err := a.catalog.SelectSitemaps(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}
				return printDomain(cmd.OutOrStdout(), d)
			}),
		},
	)
	return cmd
}

func printDomain(w io.Writer, d *storage.Domain) error {
	if asJSON {
		return printJSON(w, d)
	}
	selected := make(map[string]bool, len(d.SelectedSitemaps))
	for _, s := range d.SelectedSitemaps {
		selected[strings.ToLower(s)] = true
	}

	fmt.Fprintf(w, "Domain:  %s\nSitemap: %s\n", d.Domain, orDash(d.SitemapURL))
	t := newTable(w)
	t.AppendHeader(rowOf("Sitemap", "Origin", "Selected"))
	for _, s := range d.KnownSitemaps {
		t.AppendRow(rowOf(s, "discovered", selected[strings.ToLower(s)]))
	}
	for _, s := range d.ManualSitemaps {
		t.AppendRow(rowOf(s, "manual", selected[strings.ToLower(s)]))
	}
	t.Render()
	return nil
}
