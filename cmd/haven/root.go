package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags (available to all commands)
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "haven",
	Short: "Merge, override, and normalize YAML configuration documents",
	Long: `haven works with schema-driven YAML configuration documents.

It merges configuration files in order, resolves !include tags, applies
dotted-path overrides, and writes the normalized result for inspection or
for feeding into a program that materializes it.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Add subcommands to root
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(versionCmd)
}
