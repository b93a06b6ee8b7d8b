package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/presentation/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [path...]",
	Short: "Play a dialogue in the terminal",
	Long: `Starts a dialogue instance and plays it interactively. Press enter to move on,
type a number (or an edge/node id) at a branch, and q to quit. With --session the
instance is saved on quit and resumed on the next run with the same id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Paths: graphPaths(cmd, args)}
		opts.GraphID, _ = cmd.Flags().GetString("graph")
		opts.Actor, _ = cmd.Flags().GetString("as")
		opts.Vars, _ = cmd.Flags().GetString("vars")
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")
		opts.StoreDir, _ = cmd.Flags().GetString("store")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Debug, _ = cmd.Flags().GetBool("debug")

		interactive := term.IsTerminal(int(os.Stdout.Fd()))
		opts.Plain = !interactive
		if interactive && !opts.JSON {
			tui.PrintBanner(cmd.OutOrStdout())
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()
		return cli.Execute(sigCtx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("graph", "", "Graph id to play (default: the only graph, or start/main/index)")
	runCmd.Flags().String("as", cli.DefaultActor, "Actor id of the initiator")
	runCmd.Flags().String("vars", "", "Initial instance variables as a JSON object")
	runCmd.Flags().StringP("session", "s", "", "Save and resume the instance under this id")
	runCmd.Flags().Bool("fresh", false, "Discard the saved session before starting")
	runCmd.Flags().String("store", cli.DefaultStoreDir, "Directory for session snapshots")
	runCmd.Flags().Bool("json", false, "Write events as NDJSON instead of rendered text")
	runCmd.Flags().Bool("debug", false, "Log lifecycle events to stderr")
}
