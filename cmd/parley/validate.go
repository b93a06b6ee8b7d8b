package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Check graphs for consistency",
	Long: `Publishes every graph found without starting anything. Structural errors
(missing start or end nodes, dangling edges, unknown decorators) fail the command;
warnings such as unreachable nodes are listed and fail it only with --strict.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		return runValidate(cmd, graphPaths(cmd, args), strict)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("strict", false, "Treat warnings as errors")
}

func runValidate(cmd *cobra.Command, paths []string, strict bool) error {
	loader, err := parley.PathsLoader(paths...)
	if err != nil {
		return err
	}
	drafts, err := loader.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load graphs: %w", err)
	}
	if len(drafts) == 0 {
		return fmt.Errorf("no graphs found in %v", paths)
	}

	opts := []graph.PublishOption{graph.WithRegistry(decorator.Builtin())}
	if strict {
		opts = append(opts, graph.WithWarningsAsErrors())
	}

	out := cmd.OutOrStdout()
	var errs []error
	for _, d := range drafts {
		g, report, err := graph.Publish(d, opts...)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(out, "✗ %s\n", d.ID)
			continue
		}
		fmt.Fprintf(out, "✓ %s (version %s)\n", g.ID(), g.Version())
		printWarnings(out, report)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "Graphs are valid! ✅")
	return nil
}

func printWarnings(w io.Writer, report *graph.Report) {
	if report == nil {
		return
	}
	for _, p := range report.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", p)
	}
}
