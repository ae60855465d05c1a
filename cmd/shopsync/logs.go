package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// logsCommand reads the persisted run logs.
func logsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect batch run logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var lines int
	tail := &cobra.Command{
		Use:   "tail [run-id]",
		Short: "Print the last lines of a run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			entries, err := a.runs.Tail(cmd.Context(), args[0], lines)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries)
		}),
	}
	tail.Flags().IntVarP(&lines, "lines", "n", runlog.DefaultTailLines, "number of lines")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status [run-id]",
			Short: "Show the tally of a run",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				run, err := a.runs.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), run)
				}
				finished := "-"
				if run.FinishedAt != nil {
					finished = run.FinishedAt.Format(time.RFC3339)
				}
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(rowOf("Run", "Kind", "Domain", "Status", "Total", "OK", "Failed", "Started", "Finished"))
				t.AppendRow(rowOf(run.RunID, run.Kind, run.Domain, run.Status, run.Total, run.OK, run.Failed,
					run.StartedAt.Format(time.RFC3339), finished))
				t.Render()
				return nil
			}),
		},
		&cobra.Command{
			Use:   "errors [run-id]",
			Short: "Print the error lines of a run",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				entries, err := a.runs.Errors(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			}),
		},
		tail,
	)
	return cmd
}

func printEntries(cmd *cobra.Command, entries []*storage.RunLogEntry) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s %-5s %s", e.TS.Format("15:04:05"), e.Level, e.Message)
		if e.URL != "" {
			line += " (" + e.URL + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
