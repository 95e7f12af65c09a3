// Package cmd provides the CLI commands for CiteLoom.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/config"
	"github.com/citeloom/citeloom/internal/logging"
	"github.com/citeloom/citeloom/pkg/version"
)

var (
	cfgPath   string
	debugMode bool
	noColor   bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the citeloom CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citeloom",
		Short: "Grounded retrieval over a Zotero research library",
		Long: `CiteLoom ingests a Zotero research library into per-project vector
collections and answers retrieval queries with citation-grounded excerpts.

Typical flow:
  citeloom ingest --project myproj --zotero-collection "Deep Learning"
  citeloom query --project myproj "attention mechanisms"
  citeloom serve`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("citeloom version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to the TOML config file (default: $CITELOOM_CONFIG, then ./citeloom.toml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newZoteroCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// setupLogging routes diagnostics to the log file. Stderr mirroring is only
// enabled in debug mode; stdout stays clean for command output and, in serve
// mode, for JSON-RPC.
func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = debugMode
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging must never block the command itself.
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}
