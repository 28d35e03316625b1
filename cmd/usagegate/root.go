package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagegate",
	Short: "Rate limiting, usage metering, and billing for module APIs",
	Long: `Usagegate is a self-hosted usage accounting service.

It enforces per-minute, per-hour, and per-day rate limits, meters
every billable call into a usage ledger, and rolls the ledger up
into monthly billing cycles.

Quick start:
  usagegate serve      # Start the API server

Management:
  usagegate subjects   # Manage billed subjects
  usagegate keys       # Issue and revoke API keys
  usagegate plans      # Inspect the plan catalog
  usagegate cycles     # Billing cycle maintenance
  usagegate validate   # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagegate.yaml", "config file path")
}
