package sink

import (
	"context"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// NoopSink discards everything. Useful for dry runs and load tests of
// the crawl core.
type NoopSink struct{}

// SaveBatch discards the batch.
func (NoopSink) SaveBatch(context.Context, crawler.EntityKind, []crawler.Record) error { return nil }

// SaveConnections discards the edges.
func (NoopSink) SaveConnections(context.Context, string, []string, string) error { return nil }

// Close does nothing.
func (NoopSink) Close() error { return nil }
