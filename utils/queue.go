package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("[liveobjects] queue is closed")

// Queue is an unbounded single-consumer FIFO. Push never blocks, so a
// slow consumer cannot stall the producer; Pop waits for the next item.
type Queue[T any] struct {
	lock   sync.Mutex
	items  []T
	head   int
	signal chan struct{}
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends an item; returns ErrClosed after Close.
func (q *Queue[T]) Push(item T) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.lock.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue[T]) take() (item T, ok bool, closed bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.head < len(q.items) {
		item = q.items[q.head]
		var zero T
		q.items[q.head] = zero
		q.head++
		if q.head == len(q.items) {
			q.items = q.items[:0]
			q.head = 0
		}
		return item, true, false
	}
	return item, false, q.closed
}

// Pop returns the oldest item, waiting until one is pushed, the queue is
// closed (ErrClosed) or ctx is done. Items pushed before Close are still
// delivered.
func (q *Queue[T]) Pop(ctx context.Context) (item T, err error) {
	for {
		item, ok, closed := q.take()
		if ok {
			return item, nil
		}
		if closed {
			return item, ErrClosed
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return item, ctx.Err()
		}
	}
}

// TryPop returns immediately.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	item, ok, _ = q.take()
	return
}

func (q *Queue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) Close() error {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}
