package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Long: `Expose store_chunks, find_chunks, query_hybrid, inspect_collection,
and list_projects as MCP tools on stdin/stdout. Stdout carries the
JSON-RPC stream, so all diagnostics go to the log file and stderr.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(gateway, newProjectFinder(cfg, gateway), cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("mcp server starting", "projects", len(cfg.Projects))
	return server.Serve(cmd.Context())
}
