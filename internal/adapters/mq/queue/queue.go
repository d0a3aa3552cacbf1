// Package queue carries polling-loop statuses from the loop goroutine to
// their consumers without ever blocking a tick.
package queue

import (
	"context"
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/metrics"
)

const defaultCapacity = 256

// Queue provides non-blocking publish and channel-based consumption.
type Queue interface {
	// Publish adds a status. It returns ErrFull or ErrClosed instead of blocking.
	Publish(ctx context.Context, s model.Status) error

	// Subscribe returns a channel that receives statuses as they arrive.
	// The channel is closed when the queue is closed or ctx ends.
	Subscribe(ctx context.Context) <-chan model.Status

	// Len returns the number of buffered statuses.
	Len() int

	// Close stops accepting statuses and closes subscriber channels.
	Close() error

	IsClosed() bool
}

// StatusQueue implements Queue using a buffered channel.
type StatusQueue struct {
	statuses chan model.Status
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*StatusQueue)(nil)

// NewStatusQueue creates a bounded status queue.
func NewStatusQueue(opts ...Option) *StatusQueue {
	q := &StatusQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.statuses = make(chan model.Status, q.capacity)

	metrics.UpdateStatusQueueCapacity(q.capacity)
	metrics.UpdateStatusQueueSize(0)
	return q
}

// Publish adds s to the queue.
func (q *StatusQueue) Publish(ctx context.Context, s model.Status) error { //nolint:gocritic // hugeParam: Status passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.statuses <- s:
		metrics.UpdateStatusQueueSize(len(q.statuses))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		metrics.RecordStatusDropped()
		return ErrFull
	}
}

// Subscribe returns a channel of statuses. Multiple subscribers share the
// stream; each status goes to exactly one of them.
func (q *StatusQueue) Subscribe(ctx context.Context) <-chan model.Status {
	out := make(chan model.Status)
	go func() {
		defer close(out)
		for {
			select {
			case s, ok := <-q.statuses:
				if !ok {
					return
				}
				select {
				case out <- s:
					metrics.UpdateStatusQueueSize(len(q.statuses))
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of buffered statuses.
func (q *StatusQueue) Len() int {
	return len(q.statuses)
}

// Close stops the queue. Buffered statuses are still delivered.
func (q *StatusQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.statuses)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *StatusQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
