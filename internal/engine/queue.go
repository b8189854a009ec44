package engine

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/taskhub/internal/task"
)

// Queue is the in-process Sender: broadcasts park in a bounded
// per-processor backlog until the processor's sync poll drains them.
type Queue struct {
	mu      sync.Mutex
	limit   int
	pending map[string][]*task.Task
	waiters map[string][]chan *task.Task
}

// NewQueue builds a queue keeping at most limit undelivered tasks per
// processor. The oldest task is dropped on overflow.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 64
	}
	return &Queue{
		limit:   limit,
		pending: map[string][]*task.Task{},
		waiters: map[string][]chan *task.Task{},
	}
}

// Send hands t to a waiting poller, or parks it in the backlog.
func (q *Queue) Send(processorID string, t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if waiting := q.waiters[processorID]; len(waiting) > 0 {
		ch := waiting[0]
		q.waiters[processorID] = waiting[1:]
		ch <- t
		return nil
	}

	backlog := append(q.pending[processorID], t)
	if len(backlog) > q.limit {
		backlog = backlog[len(backlog)-q.limit:]
	}
	q.pending[processorID] = backlog
	return nil
}

// Poll returns the next task for processorID, blocking until one
// arrives or ctx ends.
func (q *Queue) Poll(ctx context.Context, processorID string) (*task.Task, error) {
	q.mu.Lock()
	if backlog := q.pending[processorID]; len(backlog) > 0 {
		t := backlog[0]
		q.pending[processorID] = backlog[1:]
		q.mu.Unlock()
		return t, nil
	}
	ch := make(chan *task.Task, 1)
	q.waiters[processorID] = append(q.waiters[processorID], ch)
	q.mu.Unlock()

	select {
	case t := <-ch:
		return t, nil
	case <-ctx.Done():
		q.mu.Lock()
		waiting := q.waiters[processorID]
		for i, w := range waiting {
			if w == ch {
				q.waiters[processorID] = append(waiting[:i], waiting[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		// A send may have raced the cancellation.
		select {
		case t := <-ch:
			return t, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Backlog reports the number of undelivered tasks for processorID.
func (q *Queue) Backlog(processorID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[processorID])
}
