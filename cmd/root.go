// Package cmd defines the coordinator's command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl-coordinator",
		Short: "Coordinates postal-area crawl work for the company directory.",
		Long: `crawl-coordinator hands out search tasks to crawl workers, one
postal area at a time, and escalates queries that hit the result cap
into finer-grained follow-up tasks until every company is enumerated.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
