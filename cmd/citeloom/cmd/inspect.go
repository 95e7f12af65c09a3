package cmd

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/ui"
)

func newInspectCmd() *cobra.Command {
	var project string
	var sample int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe a project's collection",
		Long: `Print the collection's point count, payload schema, indexes, and
optionally a few sample payloads.

Example:
  citeloom inspect --project myproj --sample 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, project, sample)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id (required)")
	cmd.Flags().IntVar(&sample, "sample", 0, "Number of sample payloads to include, 0 to 5")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runInspect(cmd *cobra.Command, project string, sample int) error {
	out := ui.NewWriter(cmd.OutOrStdout(), noColor)
	defer out.Plainf("%s", uuid.NewString())

	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	if _, err := cfg.Project(project); err != nil {
		out.Errorf("%v", err)
		return err
	}
	if sample < 0 {
		sample = 0
	}
	if sample > 5 {
		sample = 5
	}

	gateway, err := buildGateway(cfg, nil)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	info, err := gateway.Inspect(cmd.Context(), project, sample)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
