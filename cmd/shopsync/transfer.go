package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/mapper"
	"github.com/spider-crawler/shopsync/internal/report"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/transfer"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// transferCommand groups the ready-transfer queue.
func transferCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Prepare and send products to the target shop",
		Long: `Rows move pending -> ready (prepare) -> transferred (send). A failed send
marks the row failed; retry puts it back to pending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		transferPrepareCmd(),
		transferListCmd(),
		transferShowCmd(),
		transferSendCmd(),
		transferResendCmd(),
		transferResendImagesCmd(),
		transferPreflightCmd(),
		transferStateCmd("retry", "Move a failed row back to pending", (*transfer.Pipeline).Retry),
		transferStateCmd("reset", "Move any row back to pending", (*transfer.Pipeline).Reset),
		transferExportCmd(),
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Ef(apperr.ErrInvalidFilter, "transfer id", "invalid id %q", s)
	}
	return id, nil
}

func transferPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare [domain] [url...]",
		Short: "Map snapshots into ready transfers (all explored products when no URL is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				rt, err := p.Prepare(cmd.Context(), urlutil.NormalizeDomain(args[0]), args[1])
				if err != nil {
					return err
				}
				return printTransfer(cmd, rt)
			}
			res, err := p.PrepareAll(cmd.Context(), urlutil.NormalizeDomain(args[0]), args[1:])
			return printTransferBatch(cmd, res, err)
		}),
	}
}

func printTransferBatch(cmd *cobra.Command, res *transfer.BatchResult, err error) error {
	if res == nil {
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
			detail := fmt.Sprintf("#%d", it.ID)
			if !it.OK {
				detail = it.Error
			}
			add(it.URL, it.OK, detail)
		}
	})
	return err
}

func printTransfer(cmd *cobra.Command, rt *storage.ReadyTransfer) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), rt)
	}
	idProduct := "-"
	if rt.IDProduct != nil {
		idProduct = strconv.FormatInt(*rt.IDProduct, 10)
	}
	t := newTable(cmd.OutOrStdout())
	t.AppendRows([]table.Row{
		rowOf("ID", rt.ID),
		rowOf("URL", rt.URL),
		rowOf("Title", orDash(rt.Title)),
		rowOf("Status", rt.Status),
		rowOf("id_product", idProduct),
		rowOf("Attributes", mappedAttributes(rt.Mapped)),
		rowOf("Prepared", rt.PreparedAt.Format("2006-01-02 15:04")),
		rowOf("Notes", orDash(rt.Notes)),
	})
	t.Render()
	return nil
}

// mappedAttributes lists the attribute groups the prepared variants use.
func mappedAttributes(mapped json.RawMessage) string {
	var p mapper.Payload
	if len(mapped) == 0 || json.Unmarshal(mapped, &p) != nil {
		return "-"
	}
	names := mapper.AttributeNames(p.Variants)
	if len(names) == 0 {
		return "-"
	}
	return fmt.Sprintf("%s (%d variants)", strings.Join(names, ", "), len(p.Variants))
}

func transferListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list [domain]",
		Short: "List ready transfers",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			rows, err := p.List(cmd.Context(), urlutil.NormalizeDomain(args[0]), status)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("ID", "Title", "Status", "id_product", "URL"))
			for _, rt := range rows {
				idProduct := "-"
				if rt.IDProduct != nil {
					idProduct = strconv.FormatInt(*rt.IDProduct, 10)
				}
				t.AppendRow(rowOf(rt.ID, orDash(rt.Title), rt.Status, idProduct, rt.URL))
			}
			t.Render()
			return nil
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, ready, failed or transferred")
	return cmd
}

func transferShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one ready transfer with its mapped payload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			rt, err := p.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rt)
		}),
	}
}

func transferSendCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "send [id] | --all [domain]",
		Short: "Create products in the target shop",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}
			if all {
				res, err := p.SendAll(cmd.Context(), urlutil.NormalizeDomain(args[0]))
				return printTransferBatch(cmd, res, err)
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := p.Send(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transfer %d created as product %d\n", res.ID, res.IDProduct)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "send every ready row of the domain")
	return cmd
}

func transferResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend [id]",
		Short: "Update (or re-create) the product of a transferred row",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}
			res, err := p.Resend(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transfer %d %s product %d\n", res.ID, res.Action, res.IDProduct)
			return nil
		}),
	}
}

func transferResendImagesCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "resend-images [id]",
		Short: "Resync product images (optionally from custom sources)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}
			res, err := p.ResendImages(cmd.Context(), id, sources)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("Position", "id_image", "Action", "Source"))
			for _, r := range res.Results {
				t.AppendRow(rowOf(r.Position, r.IDImage, r.Action, r.Source))
			}
			t.AppendFooter(rowOf(fmt.Sprintf("%d updated, %d inserted, %d removed", res.Updated, res.Inserted, res.Removed), "", "", ""))
			t.Render()
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "image URL or local path, in position order")
	return cmd
}

func transferPreflightCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "preflight [id]",
		Short: "Check image sources before a resync",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			items, err := p.Preflight(cmd.Context(), id, sources)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), items)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(rowOf("#", "Type", "Exists", "Source", "Destination"))
			for _, it := range items {
				t.AppendRow(rowOf(it.Idx, it.SourceType, it.LocalExists, it.Source, orDash(it.Dest)))
			}
			t.Render()
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "image URL or local path, in position order")
	return cmd
}

func transferStateCmd(use, short string, move func(*transfer.Pipeline, context.Context, int64) (*storage.ReadyTransfer, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			rt, err := move(p, cmd.Context(), id)
			if err != nil {
				return err
			}
			return printTransfer(cmd, rt)
		}),
	}
}

func transferExportCmd() *cobra.Command {
	var (
		status, format, out string
		view                reportView
	)
	cmd := &cobra.Command{
		Use:   "export [domain]",
		Short: "Export the transfer queue as csv, xlsx or json",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return exportReport(cmd, a, report.ReportTransfers, report.Options{
				Domain: urlutil.NormalizeDomain(args[0]),
				Status: status,
			}, &view, format, out)
		}),
	}
	view.bind(cmd)
	cmd.Flags().StringVar(&status, "status", "", "only rows with this status")
	cmd.Flags().StringVar(&format, "format", "csv", "csv, xlsx or json")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}
