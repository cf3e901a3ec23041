// Package crawler implements the crawl orchestration core: a
// descriptor-driven, resumable state machine shared by all entity kinds,
// a bounded-window scheduler for top-level invocations, and sub-batched
// recursive fan-out.
package crawler

import (
	"context"
	"encoding/json"
	"strconv"
)

// EntityKind identifies one crawlable entity family.
type EntityKind string

// Crawlable entity kinds.
const (
	KindPost        EntityKind = "post"
	KindComment     EntityKind = "comment"
	KindProfile     EntityKind = "profile"
	KindSearchPosts EntityKind = "search_posts"
)

// Table returns the sink table name records of this kind land in.
func (k EntityKind) Table() string {
	switch k {
	case KindPost:
		return "facebook_posts"
	case KindComment:
		return "facebook_comments"
	case KindProfile:
		return "facebook_profiles"
	case KindSearchPosts:
		return "facebook_searches_for_posts"
	default:
		return "facebook_" + string(k)
	}
}

// Record is one fetched entity. The core inspects only the identifier,
// the recursion-gating count and the owner/group references; everything
// else rides along in Fields for the sink.
type Record struct {
	ID            string
	OwnerID       string
	GroupID       string
	CommentsCount int

	// Fields is the full payload as decoded from the API response.
	Fields map[string]any
}

// NewRecord extracts the typed fields the core needs from a raw payload.
// IDs arrive as JSON numbers or strings depending on the endpoint, so
// both are coerced.
func NewRecord(fields map[string]any) Record {
	return Record{
		ID:            coerceID(fields["id"]),
		OwnerID:       coerceID(fields["owner_id"]),
		GroupID:       coerceID(fields["group_id"]),
		CommentsCount: coerceCount(fields["comments_count"]),
		Fields:        fields,
	}
}

// Connection records that a child item was discovered under a parent's
// named collection. The triple is the natural key.
type Connection struct {
	ChildID    string
	ParentID   string
	Collection string
}

// Sink receives fetched records and discovered edges. Implementations
// must be safe for concurrent use and idempotent per natural key; any
// durable-write failure must be surfaced as an error, which the core
// treats as fatal to the run.
type Sink interface {
	SaveBatch(ctx context.Context, kind EntityKind, records []Record) error
	SaveConnections(ctx context.Context, parentID string, childIDs []string, collection string) error
	Close() error
}

func coerceID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	default:
		return ""
	}
}

func coerceCount(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
