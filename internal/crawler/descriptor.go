package crawler

import (
	"time"

	"github.com/JakeFAU/socialgraph-crawler/internal/api"
)

// CrawlOptions are the per-run traversal switches and limits supplied by
// the CLI. A zero limit means unlimited.
type CrawlOptions struct {
	FetchComments       bool
	FetchFeedPosts      bool
	FetchCommunityPosts bool
	MaxPosts            int
	MaxComments         int
	FromDate            time.Time
	ToDate              time.Time
	SearchType          string
}

// childOptions derives the options propagated into child invocations:
// only the comment-traversal switches follow children; feed/community
// flags and date bounds apply to the requesting item alone.
func childOptions(o CrawlOptions) CrawlOptions {
	return CrawlOptions{
		FetchComments: o.FetchComments,
		MaxComments:   o.MaxComments,
	}
}

// relation is one optionally traversed child collection of an entity
// kind. The collection endpoint is the item's own path plus suffix.
type relation struct {
	// name is the collection_name persisted on connection rows.
	name string
	// suffix appended to the item path to form the collection endpoint.
	suffix    string
	childKind EntityKind
	enabled   func(o CrawlOptions, rec Record) bool
	limit     func(o CrawlOptions) int
}

// descriptor parameterizes the shared state machine for one entity kind:
// where the item lives, which query parameters its calls carry, which
// child collections may be traversed, and which reference fields always
// trigger a profile fetch.
type descriptor struct {
	kind EntityKind
	// pathFor builds the item endpoint from its ID. Nil for kinds whose
	// endpoint is not ID-addressable (searches), which enter through a
	// custom path.
	pathFor   func(id string) string
	params    func(o CrawlOptions) api.Params
	relations []relation
	// refFields are payload fields holding profile references that are
	// always fetched (non-recursively) when present.
	refFields []string
}

func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func limitOrNil(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func commentParams(o CrawlOptions) api.Params {
	return api.Params{
		"load_comments": o.FetchComments,
		"max_comments":  limitOrNil(o.MaxComments),
	}
}

func profileParams(o CrawlOptions) api.Params {
	return api.Params{
		"from_date":            isoOrNil(o.FromDate),
		"to_date":              isoOrNil(o.ToDate),
		"load_feed_posts":      o.FetchFeedPosts,
		"load_community_posts": o.FetchCommunityPosts,
		"load_comments":        o.FetchComments,
		"max_posts":            limitOrNil(o.MaxPosts),
		"max_comments":         limitOrNil(o.MaxComments),
	}
}

func searchParams(o CrawlOptions) api.Params {
	return api.Params{
		"from_date":     isoOrNil(o.FromDate),
		"to_date":       isoOrNil(o.ToDate),
		"load_comments": o.FetchComments,
		"max_posts":     limitOrNil(o.MaxPosts),
		"max_comments":  limitOrNil(o.MaxComments),
	}
}

var (
	postDescriptor = &descriptor{
		kind:    KindPost,
		pathFor: func(id string) string { return "facebook/post/" + id },
		params:  commentParams,
		relations: []relation{
			{
				name:      "facebook/post/comments",
				suffix:    "/comments",
				childKind: KindComment,
				enabled: func(o CrawlOptions, rec Record) bool {
					return o.FetchComments && rec.CommentsCount > 0
				},
				limit: func(o CrawlOptions) int { return o.MaxComments },
			},
		},
		refFields: []string{"owner_id", "group_id"},
	}

	commentDescriptor = &descriptor{
		kind:    KindComment,
		pathFor: func(id string) string { return "facebook/comment/" + id },
		params:  commentParams,
		relations: []relation{
			{
				name:      "facebook/comment/replies",
				suffix:    "/replies",
				childKind: KindComment,
				enabled: func(o CrawlOptions, rec Record) bool {
					return o.FetchComments && rec.CommentsCount > 0
				},
				limit: func(o CrawlOptions) int { return o.MaxComments },
			},
		},
		refFields: []string{"owner_id"},
	}

	profileDescriptor = &descriptor{
		kind:    KindProfile,
		pathFor: func(id string) string { return "facebook/profile/" + id },
		params:  profileParams,
		relations: []relation{
			{
				name:      "facebook/profile/feed/posts",
				suffix:    "/feed/posts",
				childKind: KindPost,
				enabled:   func(o CrawlOptions, _ Record) bool { return o.FetchFeedPosts },
				limit:     func(o CrawlOptions) int { return o.MaxPosts },
			},
			{
				name:      "facebook/profile/community/posts",
				suffix:    "/community/posts",
				childKind: KindPost,
				enabled:   func(o CrawlOptions, _ Record) bool { return o.FetchCommunityPosts },
				limit:     func(o CrawlOptions) int { return o.MaxPosts },
			},
		},
	}

	searchDescriptor = &descriptor{
		kind:   KindSearchPosts,
		params: searchParams,
		relations: []relation{
			{
				name:      "facebook/search/posts",
				suffix:    "/posts",
				childKind: KindPost,
				enabled:   func(CrawlOptions, Record) bool { return true },
				limit:     func(o CrawlOptions) int { return o.MaxPosts },
			},
		},
	}
)

func descriptorFor(kind EntityKind) *descriptor {
	switch kind {
	case KindPost:
		return postDescriptor
	case KindComment:
		return commentDescriptor
	case KindProfile:
		return profileDescriptor
	case KindSearchPosts:
		return searchDescriptor
	default:
		return nil
	}
}
