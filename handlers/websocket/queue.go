package websocket

import "sync"

// eventQueue runs tasks one after another on a single goroutine that
// exists only while there is work.
type eventQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
	closed  bool
	done    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{done: make(chan struct{})}
}

// push enqueues task. It reports false once the queue is closed.
func (q *eventQueue) push(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.enqueue(task)
	return true
}

// close enqueues final as the last task and rejects anything after it.
func (q *eventQueue) close(final func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.enqueue(func() {
		final()
		close(q.done)
	})
}

// Done is closed after the final task has run.
func (q *eventQueue) Done() <-chan struct{} { return q.done }

// enqueue must be called with mu held.
func (q *eventQueue) enqueue(task func()) {
	q.tasks = append(q.tasks, task)
	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *eventQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
