package crawler

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/api"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/taskcache"
)

// Update job states that end the poll loop.
const (
	updateFinished = "finished"
	updateFailed   = "failed"
	updateUnknown  = "unknown"
)

// Fetcher drives the per-item crawl state machine for every entity kind:
// check cache, optionally run the remote update job to completion, fetch
// the item, fan out into child collections, and mark the item finished.
//
// There is no cross-invocation locking per item ID: two invocations
// racing on the same not-yet-finished ID may both fetch it. Downstream
// writes are idempotent, so the race only costs a duplicate remote call.
type Fetcher struct {
	client       *api.Client
	tasks        *taskcache.Store
	sink         Sink
	batchSize    int
	updatePeriod time.Duration
	logger       *zap.Logger
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// BatchSize is the sub-batch size for recursive fan-out.
	BatchSize int
	// UpdatePeriod is the base interval between update job polls.
	UpdatePeriod time.Duration
	Logger       *zap.Logger
}

// NewFetcher wires the state machine to its collaborators.
func NewFetcher(client *api.Client, tasks *taskcache.Store, sink Sink, opts FetcherOptions) *Fetcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.UpdatePeriod <= 0 {
		opts.UpdatePeriod = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Fetcher{
		client:       client,
		tasks:        tasks,
		sink:         sink,
		batchSize:    opts.BatchSize,
		updatePeriod: opts.UpdatePeriod,
		logger:       opts.Logger,
	}
}

// invocation is one run of the state machine for one item.
type invocation struct {
	desc   *descriptor
	itemID string
	// path is the item's endpoint relative to the API root.
	path string
	// seed is the payload already fetched by a parent as part of a
	// collection page; when set, fetch-self is skipped.
	seed map[string]any
	// update requests the asynchronous remote refresh before fetching.
	// Only top-level, user-requested crawls set it.
	update bool
	opts   CrawlOptions
}

// FetchPost crawls one post and, when enabled, its comment tree.
func (f *Fetcher) FetchPost(ctx context.Context, id string, update bool, opts CrawlOptions) error {
	return f.fetch(ctx, invocation{
		desc:   postDescriptor,
		itemID: id,
		path:   postDescriptor.pathFor(id),
		update: update,
		opts:   opts,
	})
}

// FetchComment crawls one comment and, when enabled, its replies.
func (f *Fetcher) FetchComment(ctx context.Context, id string, update bool, opts CrawlOptions) error {
	return f.fetch(ctx, invocation{
		desc:   commentDescriptor,
		itemID: id,
		path:   commentDescriptor.pathFor(id),
		update: update,
		opts:   opts,
	})
}

// FetchProfile crawls one profile and, when enabled, its feed and
// community posts.
func (f *Fetcher) FetchProfile(ctx context.Context, id string, update bool, opts CrawlOptions) error {
	return f.fetch(ctx, invocation{
		desc:   profileDescriptor,
		itemID: id,
		path:   profileDescriptor.pathFor(id),
		update: update,
		opts:   opts,
	})
}

// FetchSearchPosts crawls one post search. The task identity is the
// composite of the normalized query, the date range and the search
// variant, so distinct searches never collide in the task ledger.
func (f *Fetcher) FetchSearchPosts(ctx context.Context, query string, update bool, opts CrawlOptions) error {
	query = strings.ToLower(strings.TrimSpace(query))
	return f.fetch(ctx, invocation{
		desc:   searchDescriptor,
		itemID: SearchItemID(query, opts),
		path:   "facebook/search/" + url.PathEscape(query) + "/posts/" + opts.SearchType,
		update: update,
		opts:   opts,
	})
}

// SearchItemID builds the composite task key for a post search.
func SearchItemID(query string, opts CrawlOptions) string {
	from := ""
	if !opts.FromDate.IsZero() {
		from = opts.FromDate.Format(time.RFC3339)
	}
	to := ""
	if !opts.ToDate.IsZero() {
		to = opts.ToDate.Format(time.RFC3339)
	}
	return strings.Join([]string{strings.ToLower(query), from, to, opts.SearchType}, "/")
}

func (f *Fetcher) fetch(ctx context.Context, inv invocation) error {
	status, err := f.tasks.Status(ctx, inv.itemID)
	if err != nil {
		return err
	}
	if status == taskcache.StatusFinished {
		// Resumability short-circuit: already fully processed in this or
		// an earlier run.
		return nil
	}

	params := inv.desc.params(inv.opts)

	if inv.update {
		if status == taskcache.StatusAbsent {
			if _, err := f.client.RequestUpdate(ctx, inv.path, params); err != nil {
				return err
			}
			if err := f.tasks.SetStatus(ctx, inv.itemID, taskcache.StatusCreated); err != nil {
				return err
			}
		}
		if err := f.pollUpdate(ctx, inv, params); err != nil {
			return err
		}
	}

	var ops []operation
	var rec Record
	fetched := false

	if inv.seed != nil {
		rec = NewRecord(inv.seed)
		fetched = true
	} else {
		fields, err := f.client.GetItem(ctx, inv.path, params)
		if err != nil {
			return err
		}
		if fields != nil {
			rec = NewRecord(fields)
			fetched = true
			metrics.CountItemFetched(string(inv.desc.kind))
			self := rec
			kind := inv.desc.kind
			ops = append(ops, func(ctx context.Context) error {
				return f.sink.SaveBatch(ctx, kind, []Record{self})
			})
		} else {
			f.logger.Debug("item no longer exists",
				zap.String("kind", string(inv.desc.kind)),
				zap.String("item_id", inv.itemID),
			)
		}
	}

	if fetched {
		for _, field := range inv.desc.refFields {
			refID := coerceID(rec.Fields[field])
			if refID == "" {
				continue
			}
			ops = append(ops, func(ctx context.Context) error {
				return f.FetchProfile(ctx, refID, false, CrawlOptions{})
			})
		}

		for _, rel := range inv.desc.relations {
			if !rel.enabled(inv.opts, rec) {
				continue
			}
			if err := f.fanOut(ctx, inv, rel, rec, &ops); err != nil {
				return err
			}
		}
	}

	if err := runBatched(ctx, ops, f.batchSize); err != nil {
		return err
	}

	if err := f.tasks.SetStatus(ctx, inv.itemID, taskcache.StatusFinished); err != nil {
		return err
	}
	metrics.CountInvocationFinished()
	return nil
}

// fanOut paginates one child collection, spawning a child invocation per
// item (seeded with the already-fetched payload) plus the batch save and
// connection save for each page. Accumulated operations run in
// sub-batches after every page; the final page is truncated to the
// relation's remaining item budget.
func (f *Fetcher) fanOut(ctx context.Context, inv invocation, rel relation, parent Record, ops *[]operation) error {
	params := inv.desc.params(inv.opts)
	params["order_by"] = "date_desc"
	pages := f.client.Collection(inv.path+rel.suffix, params)

	limit := rel.limit(inv.opts)
	childDesc := descriptorFor(rel.childKind)
	opts := childOptions(inv.opts)
	fetched := 0

	for {
		batch, err := pages.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}

		records := make([]Record, 0, len(batch))
		for _, fields := range batch {
			records = append(records, NewRecord(fields))
		}
		if limit > 0 {
			if remaining := limit - fetched; len(records) > remaining {
				records = records[:remaining]
			}
		}

		childIDs := make([]string, 0, len(records))
		for _, child := range records {
			childIDs = append(childIDs, child.ID)
			childInv := invocation{
				desc:   childDesc,
				itemID: child.ID,
				path:   childDesc.pathFor(child.ID),
				seed:   child.Fields,
				opts:   opts,
			}
			*ops = append(*ops, func(ctx context.Context) error {
				return f.fetch(ctx, childInv)
			})
		}

		page := records
		*ops = append(*ops, func(ctx context.Context) error {
			return f.sink.SaveBatch(ctx, rel.childKind, page)
		})
		*ops = append(*ops, func(ctx context.Context) error {
			return f.sink.SaveConnections(ctx, parent.ID, childIDs, rel.name)
		})

		fetched += len(records)
		if limit > 0 && fetched >= limit {
			return nil
		}

		if err := runBatched(ctx, *ops, f.batchSize); err != nil {
			return err
		}
		*ops = (*ops)[:0]
	}
}

// pollUpdate blocks the invocation until the remote update job settles,
// then records the collecting state. The loop has no timeout; only
// context cancellation ends it early.
func (f *Fetcher) pollUpdate(ctx context.Context, inv invocation, params api.Params) error {
	for {
		if err := sleepJittered(ctx, f.updatePeriod); err != nil {
			return err
		}
		status, err := f.client.UpdateStatus(ctx, inv.path, params)
		if err != nil {
			return err
		}
		switch status {
		case updateFinished, updateFailed, updateUnknown:
			return f.tasks.SetStatus(ctx, inv.itemID, taskcache.StatusCollecting)
		}
		f.logger.Debug("update job still running",
			zap.String("item_id", inv.itemID),
			zap.String("status", status),
		)
	}
}

// sleepJittered waits period * uniform(0.75, 1.25), aborting on context
// cancellation.
func sleepJittered(ctx context.Context, period time.Duration) error {
	jittered := time.Duration(float64(period) * (0.75 + rand.Float64()*0.5))
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
