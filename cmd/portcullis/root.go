package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "portcullis",
	Short: "Portcullis - access decision and integrity ledger daemon",
	Long: `Portcullis decides gate access for a facility and seals every decision
into a tamper-evident, hash-chained ledger.

It provides:
  - A schema-flexible registry for people, vehicles, visits and providers
  - Priority-ordered deny policies (time windows, day sets, daily limits,
    authorization and deny lists) with hot reload from YAML files
  - An append-only event ledger with chained SHA-256 hashes and
    scheduled integrity verification
  - An operator-visible audit trail with before/after snapshots`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
