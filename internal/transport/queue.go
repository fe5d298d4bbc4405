package transport

import (
	"context"
	"sync"
)

// Queue is an unbounded ordered buffer feeding a Subscription.
// Producers (notification callbacks, read loops) call Push; they never block.
type Queue struct {
	mu      sync.Mutex
	items   [][]byte
	ready   chan struct{}
	closed  bool
	onClose func() error
	once    sync.Once
}

// NewQueue creates an empty queue. onClose, if set, runs once on Close
// (e.g. to disable notifications on the remote side).
func NewQueue(onClose func() error) *Queue {
	return &Queue{
		ready:   make(chan struct{}, 1),
		onClose: onClose,
	}
}

// Push appends a copy of buf. Pushing to a closed queue is a no-op.
func (q *Queue) Push(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, cp)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next returns the oldest buffered item, blocking until one is available.
func (q *Queue) Next(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			buf := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return buf, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the queue. Buffered items are discarded.
func (q *Queue) Close() error {
	var err error
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.mu.Unlock()
		// Wake a blocked Next.
		select {
		case q.ready <- struct{}{}:
		default:
		}
		if q.onClose != nil {
			err = q.onClose()
		}
	})
	return err
}
