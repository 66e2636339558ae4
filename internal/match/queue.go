package match

import "sync"

// queue is an unbounded FIFO of notifications. push never blocks; the worker
// waits on ready() and drains with pop().
type queue struct {
	mu    sync.Mutex
	items []Notification
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends n and returns the depth after the push.
func (q *queue) push(n Notification) int {
	q.mu.Lock()
	q.items = append(q.items, n)
	depth := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return depth
}

func (q *queue) pop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	q.items[0] = Notification{}
	q.items = q.items[1:]
	return n, true
}

func (q *queue) ready() <-chan struct{} { return q.wake }

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
