package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp [path...]",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the dialogue engine as an MCP Server.
This allows AI agents to start and drive dialogue instances as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		paths := graphPaths(cmd, args)

		// Logs go to stderr so they never corrupt JSON-RPC on stdout.
		logger := logging.New(slog.LevelInfo, logging.WithOutput(os.Stderr))

		loader, err := parley.PathsLoader(paths...)
		if err != nil {
			return err
		}
		engine, err := parley.New(cmd.Context(), paths[0],
			parley.WithLoader(loader),
			parley.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("error initializing parley: %w", err)
		}
		defer engine.Close(context.Background())

		srv := mcp.NewServer(engine, engine.Catalog(), mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			logger.Info("Starting MCP server (stdio)")
			return srv.ServeStdio()
		case "sse":
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			addr := fmt.Sprintf(":%d", port)
			if err := srv.ServeSSE(ctx, addr, fmt.Sprintf("http://localhost:%d", port)); err != nil {
				return err
			}
			logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
