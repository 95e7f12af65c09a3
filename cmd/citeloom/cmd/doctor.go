package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/preflight"
	"github.com/citeloom/citeloom/internal/ui"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the environment is ready",
		Long: `Probe the var directory, the local Zotero library, the Qdrant
endpoint, and the embedding service, and report what would keep an
ingestion run from succeeding.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}

func runDoctor(cmd *cobra.Command, verbose bool) error {
	out := ui.NewWriter(cmd.OutOrStdout(), noColor)
	defer out.Plainf("%s", uuid.NewString())

	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	results := preflight.New(cfg).RunAll(cmd.Context())
	for _, r := range results {
		switch r.Status {
		case preflight.StatusPass:
			out.Successf("%-18s %s", r.Name, r.Message)
		case preflight.StatusWarn:
			out.Warningf("%-18s %s", r.Name, r.Message)
		case preflight.StatusFail:
			out.Errorf("%-18s %s", r.Name, r.Message)
		}
		if verbose && r.Details != "" {
			out.Plainf("    %s", r.Details)
		}
	}

	status := preflight.SummaryStatus(results)
	out.Plainf("status: %s", status)
	if preflight.HasCriticalFailures(results) {
		return fmt.Errorf("environment is not ready")
	}
	return nil
}
