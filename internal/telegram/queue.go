package telegram

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Queue fans updates out to a fixed set of workers. Updates of one user
// always land on the same worker, so they are handled in arrival order.
type Queue struct {
	dispatcher *Dispatcher
	shards     []chan Update
	wg         sync.WaitGroup

	// mu is held for reading by every send; Stop takes it to close the shards.
	mu      sync.RWMutex
	stopped bool
}

// NewQueue starts n workers. They run until Stop is called.
func NewQueue(ctx context.Context, dispatcher *Dispatcher, n int) *Queue {
	if n < 1 {
		n = 1
	}
	q := &Queue{dispatcher: dispatcher, shards: make([]chan Update, n)}
	for i := range q.shards {
		q.shards[i] = make(chan Update, 64)
		q.wg.Add(1)
		go q.work(context.WithoutCancel(ctx), i)
	}
	return q
}

// Submit enqueues an update. It blocks while the worker is busy, until ctx is done.
// After Stop it returns false.
func (q *Queue) Submit(ctx context.Context, upd Update) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return false
	}

	shard := userOf(upd) % int64(len(q.shards))
	if shard < 0 {
		shard = -shard
	}
	select {
	case q.shards[shard] <- upd:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop lets the workers drain what was submitted and waits for them
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, ch := range q.shards {
			close(ch)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for upd := range q.shards[id] {
		if err := q.dispatcher.Dispatch(ctx, upd); err != nil {
			log.Error().
				Err(err).
				Int("worker", id).
				Int("update_id", upd.UpdateID).
				Msg("Failed to dispatch update")
		}
	}
}
