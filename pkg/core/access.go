package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

const (
	accessQueueSize     = 1024
	accessFlushInterval = 2 * time.Second
	accessFlushTimeout  = 5 * time.Second

	// accessRetainLimit bounds how many IDs a failed flush carries
	// forward, so a long backend outage cannot grow the batch unbounded.
	accessRetainLimit = 4096
)

// accessTracker records reads without blocking the read path. Events are
// queued and flushed in batches; when the queue is full the caller falls
// back to a synchronous write, and a failed batch flush is retained for
// the next tick so counts are not silently lost.
type accessTracker struct {
	store  storage.Store
	logger *zap.Logger

	events chan []int64
	done   chan struct{}
	wg     sync.WaitGroup
}

func newAccessTracker(store storage.Store, logger *zap.Logger) *accessTracker {
	t := &accessTracker{
		store:  store,
		logger: logger,
		events: make(chan []int64, accessQueueSize),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Record queues an access event for the given memories.
func (t *accessTracker) Record(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	select {
	case t.events <- ids:
	default:
		// Queue full: write synchronously rather than drop the event.
		if err := t.store.TouchAccess(ctx, ids, time.Now().UTC()); err != nil {
			t.logger.Warn("synchronous access update failed", zap.Error(err))
		}
	}
}

// run batches queued events and flushes them on a timer.
func (t *accessTracker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(accessFlushInterval)
	defer ticker.Stop()

	var pending []int64
	for {
		select {
		case ids := <-t.events:
			pending = append(pending, ids...)
		case <-ticker.C:
			pending = t.flush(pending)
		case <-t.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case ids := <-t.events:
					pending = append(pending, ids...)
				default:
					t.flush(pending)
					return
				}
			}
		}
	}
}

func (t *accessTracker) flush(pending []int64) []int64 {
	if len(pending) == 0 {
		return pending
	}

	batch := dedupeIDs(pending)

	ctx, cancel := context.WithTimeout(context.Background(), accessFlushTimeout)
	defer cancel()

	if err := t.store.TouchAccess(ctx, batch, time.Now().UTC()); err != nil {
		t.logger.Warn("access batch update failed, retrying next flush",
			zap.Error(err), zap.Int("ids", len(batch)))
		if len(batch) > accessRetainLimit {
			batch = batch[len(batch)-accessRetainLimit:]
		}
		return batch
	}
	return batch[:0]
}

// Close flushes remaining events and stops the worker.
func (t *accessTracker) Close() {
	close(t.done)
	t.wg.Wait()
}

// dedupeIDs collapses repeat reads of the same memory within one batch to
// a single counter bump.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
