package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/presentation/mermaid"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path...]",
	Short: "Export graph visualizations",
	Long:  `Publishes the graphs found and outputs a Mermaid diagram (graph TD) for each, or for the one named by --id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		paths := graphPaths(cmd, args)

		loader, err := parley.PathsLoader(paths...)
		if err != nil {
			return err
		}
		engine, err := parley.New(cmd.Context(), paths[0], parley.WithLoader(loader))
		if err != nil {
			return fmt.Errorf("error initializing parley: %w", err)
		}
		defer engine.Close(cmd.Context())

		graphs := engine.Catalog().List()
		if id != "" {
			g, err := engine.Catalog().Latest(id)
			if err != nil {
				return err
			}
			graphs = graphs[:0]
			graphs = append(graphs, g)
		}
		for i, g := range graphs {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if len(graphs) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "%%%% %s\n", g.ID())
			}
			fmt.Fprint(cmd.OutOrStdout(), mermaid.Generate(g, nil))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("id", "", "Only export the graph with this id")
}
