// Package queue provides the hand-off queue that sits between a blocking
// producer (a socket or pipe reader) and a slower consumer.
//
// Items are delivered in push order, exactly once. Push never blocks, so a
// slow consumer can not stall the producer; the queue grows instead.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mobile-next/droidcap/utils"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
	pushed uint64
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Pushing to a closed queue drops the item and returns false.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available, the queue is closed and empty, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if q.closed {
			return zero, ErrClosed
		}
		q.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// reclaim the backing array once the consumer caught up
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return item, nil
}

// Close wakes blocked consumers. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Pushed returns the number of items accepted since the queue was created.
func (q *Queue[T]) Pushed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}

// Dispatch pops items and hands them to fn in order until ctx is done or the
// queue is closed and drained. A panic in fn is logged and the item skipped.
func Dispatch[T any](ctx context.Context, q *Queue[T], fn func(T)) error {
	for {
		item, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		if err := safeCall(fn, item); err != nil {
			utils.Warn("dispatch listener failed: %v", err)
		}
	}
}

func safeCall[T any](fn func(T), item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	fn(item)
	return nil
}
