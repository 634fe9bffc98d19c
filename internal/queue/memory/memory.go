// Package memory provides an in-process queue bridge for single-binary
// deployments where the workers run as goroutines of the same process.
package memory

import (
	"context"
	"sync"

	"github.com/streamer-sales/sales-gateway/internal/queue"
)

// Bridge is an unbounded FIFO per queue name.
type Bridge struct {
	mu     sync.Mutex
	jobs   map[queue.Name][]queue.Job
	ready  map[queue.Name]chan struct{}
	closed bool
	done   chan struct{}
}

var _ queue.Bridge = (*Bridge)(nil)

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{
		jobs:  make(map[queue.Name][]queue.Job),
		ready: make(map[queue.Name]chan struct{}),
		done:  make(chan struct{}),
	}
}

// Submit appends job to q. It never blocks.
func (b *Bridge) Submit(ctx context.Context, q queue.Name, job queue.Job) error {
	if err := job.Validate(q); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return queue.ErrClosed
	}
	b.jobs[q] = append(b.jobs[q], job)

	// Wake every waiter on q; the losers re-check and wait again.
	if ch, ok := b.ready[q]; ok {
		close(ch)
		delete(b.ready, q)
	}
	return nil
}

// Consume removes and returns the oldest job on q, waiting if q is empty.
func (b *Bridge) Consume(ctx context.Context, q queue.Name) (queue.Job, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return queue.Job{}, queue.ErrClosed
		}
		if pending := b.jobs[q]; len(pending) > 0 {
			job := pending[0]
			pending[0] = queue.Job{}
			b.jobs[q] = pending[1:]
			b.mu.Unlock()
			return job, nil
		}
		ch, ok := b.ready[q]
		if !ok {
			ch = make(chan struct{})
			b.ready[q] = ch
		}
		b.mu.Unlock()

		select {
		case <-ch:
		case <-b.done:
		case <-ctx.Done():
			return queue.Job{}, ctx.Err()
		}
	}
}

// Len returns the number of jobs waiting on q.
func (b *Bridge) Len(q queue.Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs[q])
}

// Close wakes all consumers and rejects further submissions.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
