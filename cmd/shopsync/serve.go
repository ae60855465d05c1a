package main

import (
	"github.com/spf13/cobra"

	"github.com/spider-crawler/shopsync/internal/api"
)

func serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only ops API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			cfg := a.cfg.API
			if addr != "" {
				cfg.Addr = addr
			}
			srv := api.NewServer(cfg, a.runs, a.catalog, a.reports, a.logger)
			return srv.Run(cmd.Context())
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
