package intake

import (
	"context"
	"sync"

	"github.com/devicefleet/mitmcore/internal/config"
	"github.com/devicefleet/mitmcore/internal/domain"
)

// Queue is the bounded hand-off to downstream processing. Producers never
// block: a full queue loses the item.
type Queue struct {
	mu     sync.RWMutex
	ch     chan domain.QueueItem
	closed bool
}

// NewQueue creates a queue holding at most size items.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = config.DefaultQueueSize
	}
	return &Queue{ch: make(chan domain.QueueItem, size)}
}

// TryEnqueue adds an item without blocking.
func (q *Queue) TryEnqueue(item domain.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Buffered items can still be consumed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Consume calls fn for each item until ctx is done or the queue is closed and drained.
func (q *Queue) Consume(ctx context.Context, fn func(context.Context, domain.QueueItem)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-q.ch:
			if !ok {
				return nil
			}
			fn(ctx, item)
		}
	}
}
