package cmd

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/checkpoint"
	"github.com/citeloom/citeloom/internal/chunker"
	"github.com/citeloom/citeloom/internal/embed"
	"github.com/citeloom/citeloom/internal/ingest"
	"github.com/citeloom/citeloom/internal/ui"
)

// ingestOptions holds the CLI flags for ingest.
type ingestOptions struct {
	project       string
	collection    string
	source        string
	correlationID string
	includeTags   []string
	excludeTags   []string
	recursive     bool
	forceRebuild  bool
	workers       int
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into a project collection",
		Long: `Ingest a Zotero collection or a local PDF directory into the project's
vector collection. Interrupted runs resume from their checkpoint when the
same correlation id is passed again.

Examples:
  citeloom ingest --project myproj --zotero-collection "Deep Learning"
  citeloom ingest --project myproj --source ./papers --workers 8
  citeloom ingest --project myproj --zotero-collection "Surveys" --tags ml --exclude-tags draft`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project id (required)")
	cmd.Flags().StringVar(&opts.collection, "zotero-collection", "", "Zotero collection to ingest")
	cmd.Flags().StringVar(&opts.source, "source", "", "Local PDF file or directory to ingest")
	cmd.Flags().StringVar(&opts.correlationID, "correlation-id", "", "Resume the run with this correlation id")
	cmd.Flags().StringSliceVar(&opts.includeTags, "tags", nil, "Only ingest items carrying one of these tags")
	cmd.Flags().StringSliceVar(&opts.excludeTags, "exclude-tags", nil, "Skip items carrying any of these tags")
	cmd.Flags().BoolVar(&opts.recursive, "recursive", false, "Include items from sub-collections")
	cmd.Flags().BoolVar(&opts.forceRebuild, "force-rebuild", false, "Drop and recreate the collection before ingesting")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Worker pool size (default from config)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runIngest(cmd *cobra.Command, opts ingestOptions) error {
	out := ui.NewWriter(cmd.OutOrStdout(), noColor)

	correlationID := opts.correlationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	// The correlation id is always the last line, success or failure.
	defer out.Plainf("%s", correlationID)

	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	ctx := cmd.Context()
	logger := slog.Default()

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	deps := ingest.Deps{
		Chunker: chunker.New(chunker.Policy{
			MaxTokens:           cfg.Chunking.MaxTokens,
			OverlapTokens:       cfg.Chunking.OverlapTokens,
			HeadingContextDepth: cfg.Chunking.HeadingContextDepth,
			TokenizerFamily:     cfg.Chunking.TokenizerFamily,
			Version:             cfg.Chunking.Version,
		}),
		Metadata: buildMetadata(logger),
		Index:    gateway,
		Logger:   logger,
	}

	var reader interface{ Close() error }
	if opts.collection != "" {
		router, localReader, err := buildRouter(cfg, logger)
		if err != nil {
			out.Errorf("%v", err)
			return err
		}
		deps.Source = router
		deps.Fulltext = buildFulltext(cfg, localReader, logger)
		if localReader != nil {
			reader = localReader
		}
	} else {
		deps.Fulltext = buildFulltext(cfg, nil, logger)
	}
	if reader != nil {
		defer func() { _ = reader.Close() }()
	}

	project, err := cfg.Project(opts.project)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	deps.Dense, err = embed.ForModel(ctx, embed.Default(), project.EmbeddingModel)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	deps.Sparse, err = embed.SparseForModel(embed.Default(), project.SparseModel)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	store, err := checkpoint.NewStore(cfg.CheckpointDir())
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	defer func() { _ = store.Close() }()
	deps.Checkpoints = store

	orch, err := ingest.NewOrchestrator(opts.project, cfg, deps)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	interactive := !noColor && ui.IsTTY(cmd.OutOrStdout())
	var bar *ui.ProgressBar
	summary, err := orch.Run(ctx, ingest.RunOptions{
		CorrelationID:    correlationID,
		ZoteroCollection: opts.collection,
		Recursive:        opts.recursive,
		IncludeTags:      opts.includeTags,
		ExcludeTags:      opts.excludeTags,
		SourcePath:       opts.source,
		ForceRebuild:     opts.forceRebuild,
		Workers:          opts.workers,
		OnProgress: func(done, total int) {
			if bar == nil {
				bar = ui.NewProgressBar(cmd.OutOrStdout(), int64(total), "documents", interactive)
			}
			bar.Add(1)
		},
	})
	if bar != nil {
		bar.Finish()
	}
	if summary != nil {
		styles := ui.GetStyles(noColor || !ui.IsTTY(cmd.OutOrStdout()))
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSummary(summary, styles))
	}
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	return nil
}
