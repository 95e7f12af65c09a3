package cmd

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/retrieval"
	"github.com/citeloom/citeloom/internal/ui"
)

// queryOptions holds the CLI flags for query.
type queryOptions struct {
	project    string
	topK       int
	hybrid     bool
	jsonOutput bool
	tags       []string
	year       int
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search a project's indexed chunks",
		Long: `Run a retrieval query against a project collection and print
citation-grounded excerpts.

Examples:
  citeloom query --project myproj "attention mechanisms"
  citeloom query --project myproj --hybrid --top-k 10 "residual stream"
  citeloom query --project myproj --year 2017 "transformer"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project id (required)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results, 1 to 20 (default from config)")
	cmd.Flags().BoolVar(&opts.hybrid, "hybrid", false, "Use hybrid dense + lexical search")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Filter by tag (repeatable, all must match)")
	cmd.Flags().IntVar(&opts.year, "year", 0, "Filter by publication year")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runQuery(cmd *cobra.Command, text string, opts queryOptions) error {
	out := ui.NewWriter(cmd.OutOrStdout(), noColor)
	defer out.Plainf("%s", uuid.NewString())

	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	ctx := cmd.Context()

	gateway, err := buildGateway(cfg, nil)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}
	retriever, err := buildRetriever(ctx, cfg, opts.project, gateway)
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	q := retrieval.Query{
		ProjectID: opts.project,
		Text:      text,
		TopK:      retrieval.ClampTopK(opts.topK, cfg.Retrieval.TopK),
		Tags:      opts.tags,
		Year:      opts.year,
	}

	var results []retrieval.Result
	if opts.hybrid {
		results, err = retriever.FindHybrid(ctx, q)
	} else {
		results, err = retriever.Find(ctx, q)
	}
	if err != nil {
		out.Errorf("%v", err)
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
		return nil
	}

	if len(results) == 0 {
		out.Infof("no results")
		return nil
	}
	for i, r := range results {
		out.Plainf("%2d. [%s] score %.3f  pages %d-%d", i+1, r.Citekey, r.Score, r.PageSpan[0], r.PageSpan[1])
		if r.Section != "" {
			out.Plainf("    %s", r.Section)
		}
		out.Plainf("    %s", r.Text)
		if r.DOI != "" {
			out.Plainf("    doi:%s", r.DOI)
		}
	}
	return nil
}
