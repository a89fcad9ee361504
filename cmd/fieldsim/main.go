// Command fieldsim runs a conservation-constrained evolution engine:
// units exchanging energy over decaying links, with an observer that
// props up units drifting toward retirement.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fieldsim",
		Short: "Conservation-constrained evolution engine",
		Long: `fieldsim evolves a population of units that exchange energy over
decaying links. Total energy is conserved against a ledger, entropy only
grows, and units whose stability collapses are retired.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (default $FIELDSIM_CONFIG)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSimulateCmd(),
		newInspectCmd(),
	)
	return rootCmd
}
