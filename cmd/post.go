package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// newPostCmd creates the 'post' subcommand, which crawls posts by ID.
func newPostCmd() *cobra.Command {
	var (
		fetchComments bool
		maxComments   int
	)

	cmd := &cobra.Command{
		Use:   "post [ids-file]",
		Short: "Crawls posts by ID",
		Long: `Reads post IDs, one per line, from the given file (or stdin) and
crawls each post. With --fetch-comments the full comment tree under each
post is crawled too, including nested replies.`,
		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()

			opts := crawler.CrawlOptions{
				FetchComments: fetchComments,
				MaxComments:   maxComments,
			}
			fetcher := appInstance.Fetcher()
			stream := lineStream(in, "post", func(ctx context.Context, id string) error {
				return fetcher.FetchPost(ctx, id, true, opts)
			})
			return appInstance.Scheduler().Run(cmd.Context(), stream)
		},
	}

	cmd.Flags().BoolVar(&fetchComments, "fetch-comments", false, "also crawl each post's comment tree")
	cmd.Flags().IntVar(&maxComments, "max-comments", 0, "cap on comments fetched per item (0 = unlimited)")
	return cmd
}
