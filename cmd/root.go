// Package cmd wires the rotator's command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rotator",
	Short: "Spot position rotation engine",
	Long: `Rotator manages a portfolio of spot positions through a fixed cycle:
quote every symbol, classify each open position (take profit, stop loss,
stale exit, consolidate, hold), execute the exits in priority order, then
scan for new entries that clear the risk gates.

State lives in SQLite; every executed fill is journaled and the position
book is re-derived from the journal on startup.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
