package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// newProfileCmd creates the 'profile' subcommand, which crawls profiles
// by ID along with their posts.
func newProfileCmd() *cobra.Command {
	var (
		fetchFeedPosts      bool
		fetchCommunityPosts bool
		fetchComments       bool
		maxPosts            int
		maxComments         int
		fromDate            string
		toDate              string
	)

	cmd := &cobra.Command{
		Use:   "profile [ids-file]",
		Short: "Crawls profiles by ID",
		Long: `Reads profile IDs, one per line, from the given file (or stdin) and
crawls each profile. The feed and community post collections are crawled
when enabled, optionally bounded by a date range, and --fetch-comments
extends the crawl into each post's comment tree.`,
		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			from, err := parseDate("from-date", fromDate)
			if err != nil {
				return err
			}
			to, err := parseDate("to-date", toDate)
			if err != nil {
				return err
			}
			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()

			opts := crawler.CrawlOptions{
				FetchFeedPosts:      fetchFeedPosts,
				FetchCommunityPosts: fetchCommunityPosts,
				FetchComments:       fetchComments,
				MaxPosts:            maxPosts,
				MaxComments:         maxComments,
				FromDate:            from,
				ToDate:              to,
			}
			fetcher := appInstance.Fetcher()
			stream := lineStream(in, "profile", func(ctx context.Context, id string) error {
				return fetcher.FetchProfile(ctx, id, true, opts)
			})
			return appInstance.Scheduler().Run(cmd.Context(), stream)
		},
	}

	cmd.Flags().BoolVar(&fetchFeedPosts, "fetch-feed-posts", false, "crawl each profile's own feed posts")
	cmd.Flags().BoolVar(&fetchCommunityPosts, "fetch-community-posts", false, "crawl posts others left on each profile")
	cmd.Flags().BoolVar(&fetchComments, "fetch-comments", false, "also crawl each post's comment tree")
	cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "cap on posts fetched per collection (0 = unlimited)")
	cmd.Flags().IntVar(&maxComments, "max-comments", 0, "cap on comments fetched per item (0 = unlimited)")
	cmd.Flags().StringVar(&fromDate, "from-date", "", "only posts on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to-date", "", "only posts on or before this date (YYYY-MM-DD)")
	return cmd
}
