package cmd

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/citeloom/citeloom/internal/ui"
	"github.com/citeloom/citeloom/internal/zotero"
)

func newZoteroCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zotero",
		Short: "Browse the Zotero library",
	}

	cmd.AddCommand(newZoteroListCollectionsCmd())
	cmd.AddCommand(newZoteroBrowseCollectionCmd())
	cmd.AddCommand(newZoteroRecentItemsCmd())
	cmd.AddCommand(newZoteroListTagsCmd())

	return cmd
}

// zoteroRouter builds the source router and a cleanup for the local reader.
func zoteroRouter(out *ui.Writer) (*zotero.Router, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		out.Errorf("%v", err)
		return nil, nil, err
	}
	router, reader, err := buildRouter(cfg, slog.Default())
	if err != nil {
		out.Errorf("%v", err)
		return nil, nil, err
	}
	cleanup := func() {}
	if reader != nil {
		cleanup = func() { _ = reader.Close() }
	}
	return router, cleanup, nil
}

func newZoteroListCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-collections",
		Short: "List the library's collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := ui.NewWriter(cmd.OutOrStdout(), noColor)
			defer out.Plainf("%s", uuid.NewString())

			router, cleanup, err := zoteroRouter(out)
			if err != nil {
				return err
			}
			defer cleanup()

			cols, err := router.ListCollections(cmd.Context())
			if err != nil {
				out.Errorf("%v", err)
				return err
			}
			for _, c := range cols {
				out.Plainf("%-12s %s", c.Key, c.Name)
			}
			return nil
		},
	}
}

func newZoteroBrowseCollectionCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "browse-collection <name>",
		Short: "List the items of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ui.NewWriter(cmd.OutOrStdout(), noColor)
			defer out.Plainf("%s", uuid.NewString())

			router, cleanup, err := zoteroRouter(out)
			if err != nil {
				return err
			}
			defer cleanup()

			coll, err := router.FindCollectionByName(cmd.Context(), args[0])
			if err != nil {
				out.Errorf("%v", err)
				return err
			}
			if coll == nil {
				err := fmt.Errorf("collection %q not found", args[0])
				out.Errorf("%v", err)
				return err
			}

			items, err := router.GetCollectionItems(cmd.Context(), coll.Key, recursive)
			if err != nil {
				out.Errorf("%v", err)
				return err
			}
			for _, item := range items {
				out.Plainf("%-12s %s", item.Key, item.Title)
			}
			out.Infof("%d items", len(items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "Include items from sub-collections")
	return cmd
}

func newZoteroRecentItemsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent-items",
		Short: "List recently modified items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := ui.NewWriter(cmd.OutOrStdout(), noColor)
			defer out.Plainf("%s", uuid.NewString())

			router, cleanup, err := zoteroRouter(out)
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := router.GetRecentItems(cmd.Context(), limit)
			if err != nil {
				out.Errorf("%v", err)
				return err
			}
			for _, item := range items {
				out.Plainf("%-12s %s", item.Key, item.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of items")
	return cmd
}

func newZoteroListTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tags",
		Short: "List the library's tags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := ui.NewWriter(cmd.OutOrStdout(), noColor)
			defer out.Plainf("%s", uuid.NewString())

			router, cleanup, err := zoteroRouter(out)
			if err != nil {
				return err
			}
			defer cleanup()

			tags, err := router.ListTags(cmd.Context())
			if err != nil {
				out.Errorf("%v", err)
				return err
			}
			for _, tag := range tags {
				out.Plainf("%5d  %s", tag.Count, tag.Name)
			}
			return nil
		},
	}
}
