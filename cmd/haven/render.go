package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonmorton/haven/internal/cli"
)

var (
	// Render command flags
	renderFiles  []string
	renderSet    []string
	renderOutput string
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Merge configuration documents and print the result",
	Long: `Merge one or more configuration documents and print the normalized result.

Files merge in order, so later files override earlier ones. !include tags
resolve relative to the including document. --set assignments apply last.

Examples:
  haven render -f base.yaml -f prod.yaml
  haven render -f config.yaml --set trainer.max_steps=5000 -o rendered.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		opts := cli.RenderOptions{
			Files:   renderFiles,
			Set:     renderSet,
			Output:  renderOutput,
			Verbose: verbose,
		}

		if err := cli.RenderRun(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	// Render command specific flags
	renderCmd.Flags().StringArrayVarP(&renderFiles, "file", "f", nil, "Configuration document to merge (repeatable, later files win)")
	renderCmd.Flags().StringArrayVar(&renderSet, "set", nil, "Override as path.to.key=value (repeatable)")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "-", "Output file, or - for stdout")
}
