package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

var searchTypes = map[string]bool{
	"top":     true,
	"latest":  true,
	"hashtag": true,
}

// newSearchPostsCmd creates the 'search-posts' subcommand, which crawls
// the posts matching each search query.
func newSearchPostsCmd() *cobra.Command {
	var (
		fetchComments bool
		maxPosts      int
		maxComments   int
		fromDate      string
		toDate        string
		searchType    string
	)

	cmd := &cobra.Command{
		Use:   "search-posts [queries-file]",
		Short: "Crawls posts matching search queries",
		Long: `Reads search queries, one per line, from the given file (or stdin)
and crawls the posts each search returns, optionally bounded by a date
range. --fetch-comments extends the crawl into each matched post's
comment tree.`,
		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			if !searchTypes[searchType] {
				return fmt.Errorf("invalid --search-type %q: must be top, latest or hashtag", searchType)
			}
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
				FetchComments: fetchComments,
				MaxPosts:      maxPosts,
				MaxComments:   maxComments,
				FromDate:      from,
				ToDate:        to,
				SearchType:    searchType,
			}
			fetcher := appInstance.Fetcher()
			stream := lineStream(in, "search-posts", func(ctx context.Context, query string) error {
				return fetcher.FetchSearchPosts(ctx, query, true, opts)
			})
			return appInstance.Scheduler().Run(cmd.Context(), stream)
		},
	}

	cmd.Flags().BoolVar(&fetchComments, "fetch-comments", false, "also crawl each matched post's comment tree")
	cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "cap on posts fetched per search (0 = unlimited)")
	cmd.Flags().IntVar(&maxComments, "max-comments", 0, "cap on comments fetched per item (0 = unlimited)")
	cmd.Flags().StringVar(&fromDate, "from-date", "", "only posts on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to-date", "", "only posts on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&searchType, "search-type", "top", "search variant: top, latest or hashtag")
	return cmd
}
