// Package broker implements the Conflict Broker: a FIFO
// queue of rows awaiting a human decision, independent of the
// Fingerprinter/Classifier's throughput. Hashing and classification of
// unrelated paths never blocks on a slow Resolver.
package broker

import (
	"context"
	"sync"

	"github.com/mergetree/mergetree/internal/model"
)

// Broker holds pending conflicts in arrival order and serves them one
// at a time to whatever drains Next. Decisions do not pass back through
// the Broker: it has no submission method and does not talk to the
// Store — the drainer (the Coordinator) records each decision itself,
// keeping the Broker a pure in-memory queue that's easy to test
// headlessly.
type Broker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*model.PathRecord
	closed bool
}

// New returns an empty Broker.
func New() *Broker {
	b := &Broker{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push enqueues a row that just transitioned to awaiting_decision. Rows
// must be pushed in the order they entered that status (the Classifier
// calls Push as it classifies, and Seed below replays resumed rows in
// their stored arrival order) so Next's FIFO guarantee holds.
func (b *Broker) Push(p *model.PathRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, p)
	b.cond.Signal()
}

// Seed bulk-loads rows recovered from the Store on resume, in the
// arrival order the Store already sorted them into
// (AwaitingDecisionOrdered), preserving FIFO order.
func (b *Broker) Seed(rows []*model.PathRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, rows...)
	if len(rows) > 0 {
		b.cond.Broadcast()
	}
}

// Next blocks until a conflict is available, the context is cancelled,
// or Close is called, in which case it returns (nil, false). The
// returned row is removed from the queue.
func (b *Broker) Next(ctx context.Context) (*model.PathRecord, bool) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-stopped:
		}
		close(done)
	}()
	defer func() { close(stopped); <-done }()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.closed && ctx.Err() == nil {
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return nil, false
	}

	p := b.queue[0]
	b.queue = b.queue[1:]
	return p, true
}

// Len reports the current queue depth, for progress reporting.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close unblocks any pending Next calls permanently (graceful shutdown).
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
