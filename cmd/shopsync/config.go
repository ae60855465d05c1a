package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/configstore"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// configCommand groups the versioned extraction and mapping configs.
func configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage versioned extraction and mapping configs",
		Long: `Configs are keyed by domain, kind (extraction or mapping) and page type.
Every save appends a new version; history is never rewritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		configSaveCmd(),
		configGetCmd(),
		configHistoryCmd(),
		configRevertCmd(),
		configPruneCmd(),
		configKeysCmd(),
	)
	return cmd
}

// parseKey reads [domain] [kind] [page-type] from args.
func parseKey(args []string) (configstore.Key, error) {
	kind, err := configstore.ParseKind(args[1])
	if err != nil {
		return configstore.Key{}, err
	}
	return configstore.Key{
		Domain:   urlutil.NormalizeDomain(args[0]),
		Kind:     kind,
		PageType: args[2],
	}, nil
}

func configSaveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "save [domain] [kind] [page-type] [file|-]",
		Short: "Save a new config version from a JSON file or stdin",
		Args:  cobra.ExactArgs(4),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			raw, err := readInput(args[3])
			if err != nil {
				return err
			}
			cv, err := a.configs.Save(cmd.Context(), key, json.RawMessage(raw), note)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s saved as v%d (id %d)\n", key, cv.Version, cv.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&note, "note", "", "free-text note stored with the version")
	return cmd
}

func configGetCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "get [domain] [kind] [page-type]",
		Short: "Print the current (or a given) config version",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			var v *int
			if cmd.Flags().Changed("version") {
				v = &version
			}
			cv, err := a.configs.Get(cmd.Context(), key, v)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cv)
			}
			return printJSON(cmd.OutOrStdout(), cv.Config)
		}),
	}
	cmd.Flags().IntVar(&version, "version", 0, "version number (default: current)")
	return cmd
}

func configHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [domain] [kind] [page-type]",
		Short: "List every stored version",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			history, err := a.configs.History(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printHistory(cmd, history)
		}),
	}
}

func printHistory(cmd *cobra.Command, history []*storage.ConfigVersion) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), history)
	}
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(rowOf("ID", "Version", "Saved", "Note"))
	for _, cv := range history {
		t.AppendRow(rowOf(cv.ID, cv.Version, cv.SavedAt.Format(time.RFC3339), orDash(cv.Note)))
	}
	t.Render()
	return nil
}

func configRevertCmd() *cobra.Command {
	var toID int64
	cmd := &cobra.Command{
		Use:   "revert [domain] [kind] [page-type]",
		Short: "Save an older version's content as a new version",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			cv, err := a.configs.Revert(cmd.Context(), key, toID)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reverted as v%d\n", key, cv.Version)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&toID, "to", 0, "history entry id to restore")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func configPruneCmd() *cobra.Command {
	var (
		ids           []int64
		beforeVersion int
		beforeDate    string
		keepLast      int
	)
	cmd := &cobra.Command{
		Use:   "prune [domain] [kind] [page-type]",
		Short: "Delete old history entries (the current version is always kept)",
		Long:  `Exactly one of --ids, --before-version, --before-date or --keep-last selects the entries to delete.`,
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}

			var fs configstore.FilterSpec
			fs.IDs = ids
			if cmd.Flags().Changed("before-version") {
				fs.BeforeVersion = &beforeVersion
			}
			if cmd.Flags().Changed("keep-last") {
				fs.KeepLast = &keepLast
			}
			if beforeDate != "" {
				t, err := parseDate(beforeDate)
				if err != nil {
					return err
				}
				fs.BeforeDate = &t
			}
			filter, err := fs.Filter()
			if err != nil {
				return err
			}

			res, err := a.configs.BulkDeleteHistory(cmd.Context(), key, filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d versions deleted\n", res.Deleted)
			if res.KeptCurrent {
				fmt.Fprintln(cmd.OutOrStdout(), "the current version matched and was kept")
			}
			return nil
		}),
	}
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "history entry ids")
	cmd.Flags().IntVar(&beforeVersion, "before-version", 0, "delete versions below this number")
	cmd.Flags().StringVar(&beforeDate, "before-date", "", "delete versions saved before this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep only the newest N versions")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func configKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [domain]",
		Short: "List the config histories of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			keys, err := a.configs.Keys(cmd.Context(), urlutil.NormalizeDomain(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("Kind", "Page type", "Current", "Versions", "Last saved"))
			for _, k := range keys {
				t.AppendRow(rowOf(k.Kind, k.PageType, k.CurrentVersion, k.Versions, k.LastSavedAt.Format(time.RFC3339)))
			}
			t.Render()
			return nil
		}),
	}
}
