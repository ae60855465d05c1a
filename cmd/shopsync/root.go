package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug forces debug logging for all commands.
	debug bool

	// asJSON prints results as JSON instead of tables.
	asJSON bool

	rootCmd = &cobra.Command{
		Use:           "shopsync",
		Short:         "Crawl shop sitemaps and sync products into a store",
		Long:          `shopsync discovers product pages through sitemaps, extracts them with versioned selector configs and transfers the mapped products into a PrestaShop-compatible SQL database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	// Load .env early so environment overrides are visible to config.Load.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML; defaults plus SHOPSYNC_* environment when empty)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shopsync version %s\n", version)
		},
	})

	rootCmd.AddCommand(
		sitemapCommand(),
		domainCommand(),
		catalogCommand(),
		configCommand(),
		exploreCommand(),
		transferCommand(),
		logsCommand(),
		reportCommand(),
		serveCommand(),
	)
}

// version is overridden at build time with -ldflags.
var version = "dev"
