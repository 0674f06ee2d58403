package callsdk

import (
	"sync"

	"github.com/go-logr/logr"
)

type task struct {
	name string
	fn   func()
	next *task
}

// taskQueue runs posted functions one at a time, in posting order, on a
// single goroutine. Posting never blocks.
type taskQueue struct {
	mu       sync.Mutex
	logger   logr.Logger
	closed   bool
	draining bool
	done     chan struct{}

	// Async linked list
	pHead *task
	pTail *task
	pCond *sync.Cond
}

func newTaskQueue(logger logr.Logger) *taskQueue {
	q := &taskQueue{
		logger: logger,
		done:   make(chan struct{}),
	}
	q.pCond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

// Post appends fn to the queue. It reports false once the queue is closed.
func (q *taskQueue) Post(name string, fn func()) bool {
	t := &task{name: name, fn: fn}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.V(1).Info("task dropped, queue closed", "task", name)
		return false
	}
	if q.pHead == nil {
		q.pHead = t
		q.pTail = t
		q.pCond.Signal()
	} else {
		q.pTail.next = t
		q.pTail = t
	}
	return true
}

// Close stops the queue. Tasks not yet started are discarded.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.pHead, q.pTail = nil, nil
	q.pCond.Broadcast()
}

// Drain stops accepting tasks and exits once the queued ones have run.
func (q *taskQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.draining = true
	q.pCond.Broadcast()
}

// Done is closed when the queue goroutine exits.
func (q *taskQueue) Done() <-chan struct{} {
	return q.done
}

func (q *taskQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.pHead == nil && !q.closed {
			q.pCond.Wait()
		}
		if q.closed && (!q.draining || q.pHead == nil) {
			q.mu.Unlock()
			return
		}
		// Pop the task off the list
		t := q.pHead
		q.pHead = t.next
		if q.pHead == nil {
			q.pTail = nil
		}
		q.mu.Unlock()

		q.exec(t)
	}
}

func (q *taskQueue) exec(t *task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Info("task panicked", "task", t.name, "panic", r)
		}
	}()

	t.fn()
}
