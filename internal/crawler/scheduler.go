package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Task is one named top-level crawl invocation.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskStream lazily produces tasks. It returns ok=false once the stream
// is exhausted; it is called from a single goroutine.
type TaskStream func() (task Task, ok bool)

// Scheduler runs a lazily produced stream of top-level invocations with
// a bounded in-flight window, refilled as capacity frees up. The first
// failing invocation cancels every other in-flight invocation and its
// error aborts the run; a permanently failing item is never silently
// skipped.
type Scheduler struct {
	queueSize     int
	progressEvery time.Duration
	logger        *zap.Logger
}

// NewScheduler builds a scheduler with the given in-flight window size.
func NewScheduler(queueSize int, logger *zap.Logger) *Scheduler {
	if queueSize <= 0 {
		queueSize = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queueSize:     queueSize,
		progressEvery: 5 * time.Second,
		logger:        logger,
	}
}

// Run drains the stream. It returns nil once every task finished, or the
// first fatal error after all in-flight tasks have been cancelled and
// drained. Cancellation is cooperative: a cancelled invocation stops at
// its next suspension point.
func (s *Scheduler) Run(ctx context.Context, next TaskStream) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result)

	ticker := time.NewTicker(s.progressEvery)
	defer ticker.Stop()

	var firstErr error
	inFlight := 0
	finished := 0
	total := 0
	hasMore := true

	for {
		for hasMore && firstErr == nil && inFlight < s.queueSize {
			task, ok := next()
			if !ok {
				hasMore = false
				break
			}
			total++
			inFlight++
			go func(tk Task) {
				results <- result{name: tk.Name, err: tk.Run(runCtx)}
			}(task)
		}

		if inFlight == 0 {
			break
		}

		select {
		case res := <-results:
			inFlight--
			if res.err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("crawl %s: %w", res.name, res.err)
					cancel()
				}
				s.logger.Error("invocation failed",
					zap.String("item", res.name),
					zap.Error(res.err),
				)
				continue
			}
			finished++
			s.logger.Info("finished",
				zap.Int("done", finished),
				zap.Int("total", total),
				zap.String("item", res.name),
			)
		case <-ticker.C:
			s.logger.Info("crawl in progress",
				zap.Int("finished", finished),
				zap.Int("in_flight", inFlight),
				zap.Int("seen", total),
			)
		}
	}

	if firstErr != nil {
		return firstErr
	}
	s.logger.Info("crawl complete", zap.Int("finished", finished))
	return nil
}
