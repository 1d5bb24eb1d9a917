package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "respectaso",
		Short:         "App Store keyword research: popularity, difficulty and download estimates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(searchCmd())
	root.AddCommand(opportunityCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(chartsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func searchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search KEYWORD...",
		Short: "Score keywords and record them in history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.countries, "country", "c", []string{"us"}, "storefronts to search (max 5)")
	cmd.Flags().Int64Var(&opts.appID, "app", 0, "tracked app id to rank")
	cmd.Flags().BoolVar(&opts.force, "force", false, "re-run keywords already searched today")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	return cmd
}

func opportunityCmd() *cobra.Command {
	var opts opportunityOptions

	cmd := &cobra.Command{
		Use:   "opportunity KEYWORD",
		Short: "Rank storefronts by opportunity for one keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpportunity(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.countries, "country", "c", nil, "storefronts to scan (default: 30 major markets)")
	cmd.Flags().Int64Var(&opts.appID, "app", 0, "tracked app id to rank")
	cmd.Flags().BoolVar(&opts.save, "save", false, "store the scanned countries in history")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest result for every keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.appID, "app", 0, "only keywords of this app")
	cmd.Flags().StringVarP(&opts.country, "country", "c", "", "only this storefront")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "max rows to show")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	return cmd
}

func chartsCmd() *cobra.Command {
	var opts chartOptions

	cmd := &cobra.Command{
		Use:   "charts",
		Short: "Show an App Store top chart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCharts(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "free", "chart: free, paid or grossing")
	cmd.Flags().StringVarP(&opts.country, "country", "c", "us", "storefront")
	cmd.Flags().IntVar(&opts.limit, "limit", 25, "entries to show")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, false)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with auto-refresh scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, true)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
