// Package parallelwork implements a dynamically growing work queue consumed
// by a fixed pool of workers. It backs each destination's execution lane
// (§4.3): the scheduler enqueues one unit of work per manifest entry. A
// unit of work may itself enqueue follow-up work without blocking on a
// separate dispatcher goroutine.
package parallelwork

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// CallbackFunc is a unit of work submitted to a Queue.
type CallbackFunc func() error

// Queue is a LIFO/FIFO hybrid work queue: EnqueueFront jumps the line,
// EnqueueBack joins the end. A fixed number of workers drain it until both
// the queue is empty and no worker is mid-task (a mid-task worker may still
// enqueue more work).
type Queue struct {
	// ProgressCallback, if set, is invoked after every enqueue/dequeue/
	// completion with the current totals.
	ProgressCallback func(ctx context.Context, enqueued, active, completed int64)

	mu   sync.Mutex
	cond *sync.Cond
	q    list.List

	enqueued  int64
	active    int64
	completed int64

	err error
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// EnqueueFront adds work to the front of the queue.
func (q *Queue) EnqueueFront(ctx context.Context, c CallbackFunc) {
	q.mu.Lock()
	q.q.PushFront(c)
	q.enqueued++
	q.mu.Unlock()

	q.cond.Broadcast()
	q.notify(ctx)
}

// EnqueueBack adds work to the back of the queue.
func (q *Queue) EnqueueBack(ctx context.Context, c CallbackFunc) {
	q.mu.Lock()
	q.q.PushBack(c)
	q.enqueued++
	q.mu.Unlock()

	q.cond.Broadcast()
	q.notify(ctx)
}

func (q *Queue) notify(ctx context.Context) {
	if q.ProgressCallback == nil {
		return
	}

	q.mu.Lock()
	e, a, c := q.enqueued, q.active, q.completed
	q.mu.Unlock()

	q.ProgressCallback(ctx, e, a, c)
}

// Process runs numWorkers concurrent workers until the queue drains,
// returning the first error encountered by any unit of work, if any.
func (q *Queue) Process(ctx context.Context, numWorkers int) error {
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup

	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}

	wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.err
}

func (q *Queue) worker(ctx context.Context) {
	for {
		q.mu.Lock()

		for q.q.Len() == 0 && q.active > 0 && q.err == nil {
			q.cond.Wait()
		}

		if q.q.Len() == 0 || q.err != nil {
			q.mu.Unlock()
			return
		}

		elem := q.q.Front()
		q.q.Remove(elem)
		q.active++

		q.mu.Unlock()
		q.notify(ctx)

		cb, _ := elem.Value.(CallbackFunc)
		err := cb()

		q.mu.Lock()
		q.active--
		q.completed++

		if err != nil && q.err == nil {
			q.err = err
		}

		q.mu.Unlock()

		q.cond.Broadcast()
		q.notify(ctx)
	}
}

// OnNthCompletion returns a function that invokes callback and returns its
// error only on its n-th call; every other call is a no-op returning nil.
// It is safe for concurrent use: the callback runs once, after exactly n
// calls, regardless of which goroutine makes the n-th call.
func OnNthCompletion(n int, callback func() error) func() error {
	var count int64

	target := int64(n)

	return func() error {
		if atomic.AddInt64(&count, 1) == target {
			return callback()
		}

		return nil
	}
}
