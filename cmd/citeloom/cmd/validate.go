package cmd

import (
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/checkpoint"
	"github.com/citeloom/citeloom/internal/ui"
	"github.com/citeloom/citeloom/internal/vecindex"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Load the configuration (file, .env, environment) and report the
declared projects. Fails when the configuration is inconsistent.`,
		RunE: runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	out := ui.NewWriter(cmd.OutOrStdout(), noColor)
	defer out.Plainf("%s", uuid.NewString())

	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	out.Successf("configuration is valid")
	out.Plainf("  qdrant        %s", cfg.Qdrant.URL)
	out.Plainf("  var dir       %s", cfg.Paths.VarDir)
	out.Plainf("  chunking      %d tokens, %d overlap (policy %s)",
		cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens, cfg.Chunking.Version)
	out.Plainf("  zotero        strategy %s", cfg.Zotero.Strategy)

	if len(cfg.Projects) == 0 {
		out.Warningf("no projects declared; add a [project.\"<id>\"] table")
		return nil
	}

	ids := make([]string, 0, len(cfg.Projects))
	for id := range cfg.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := cfg.Projects[id]
		mode := "dense"
		if p.HybridEnabled {
			mode = "hybrid (" + p.SparseModel + ")"
		}
		out.Plainf("  project %-24s %s  %s  %s", id, vecindex.CollectionName(id), p.EmbeddingModel, mode)
	}

	validateCheckpoints(out, cfg.CheckpointDir())
	return nil
}

// validateCheckpoints loads every stored checkpoint and reports corrupt ones.
// Problems here never fail validation; a corrupt checkpoint only blocks the
// run that tries to resume it.
func validateCheckpoints(out *ui.Writer, dir string) {
	store, err := checkpoint.NewStore(dir)
	if err != nil {
		out.Warningf("cannot open checkpoint store: %v", err)
		return
	}
	defer func() { _ = store.Close() }()

	ids, err := store.List()
	if err != nil {
		out.Warningf("cannot list checkpoints: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	corrupt := 0
	for _, id := range ids {
		if _, err := store.Load(id); err != nil {
			corrupt++
			out.Warningf("checkpoint %s is corrupt: %v", id, err)
		}
	}
	out.Plainf("  checkpoints   %d stored, %d corrupt", len(ids), corrupt)
}
