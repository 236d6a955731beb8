package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue with full lease semantics. It backs
// single-node deployments and tests; durability across restarts requires
// the NATS implementation.
type MemoryQueue struct {
	lease  time.Duration
	mu     sync.Mutex
	items  []*memItem
	signal chan struct{}
	closed bool
}

type memItem struct {
	msg        Message
	visibleAt  time.Time
	deliveries int
	receipt    string
}

// NewMemoryQueue creates a queue whose dequeued messages stay invisible
// for lease before redelivery.
func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &MemoryQueue{
		lease:  lease,
		signal: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	if delay < 0 {
		delay = 0
	}
	q.items = append(q.items, &memItem{msg: msg, visibleAt: time.Now().Add(delay)})
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		if d := q.tryLease(); d != nil {
			return d, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// cap the poll so an expiring lease is noticed promptly
		poll := remaining
		if poll > 100*time.Millisecond {
			poll = 100 * time.Millisecond
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) tryLease() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, item := range q.items {
		if item.visibleAt.After(now) {
			continue
		}
		item.deliveries++
		item.visibleAt = now.Add(q.lease)
		item.receipt = uuid.NewString()
		return &Delivery{
			Message:      item.msg,
			Receipt:      item.receipt,
			DequeueCount: item.deliveries,
			LeasedUntil:  item.visibleAt,
		}
	}
	return nil
}

func (q *MemoryQueue) Peek(_ context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, item := range q.items {
		if item.visibleAt.After(now) {
			continue
		}
		msg := item.msg
		return &msg, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, item := range q.items {
		if item.receipt != receipt {
			continue
		}
		// the receipt dies with the lease
		if !item.visibleAt.After(now) {
			return fmt.Errorf("receipt expired")
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return nil
	}
	return fmt.Errorf("unknown receipt")
}

func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *MemoryQueue) Clear(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := len(q.items)
	q.items = nil
	return removed, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
