package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a node-graph dialogue runtime",
	Long: `Parley runs branching conversations authored as graphs of nodes and edges.
Graphs are read from YAML/JSON documents, HCL files or Markdown node repositories.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringSlice("graphs", nil, "Graph sources: files or directories (default: current directory)")
}

// graphPaths returns the --graphs flag, else the positional arguments, else ".".
func graphPaths(cmd *cobra.Command, args []string) []string {
	paths, _ := cmd.Flags().GetStringSlice("graphs")
	if len(paths) == 0 {
		paths = args
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return paths
}
