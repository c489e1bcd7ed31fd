package server

import "sync"

// RequestQueue runs store-facing work on one worker goroutine in strict
// arrival order, so a client's sequential requests are never reordered
// relative to each other.
type RequestQueue struct {
	tasks chan func()
	stop  chan struct{}
	once  sync.Once
	done  sync.WaitGroup
}

// NewRequestQueue starts the worker.
func NewRequestQueue() *RequestQueue {
	q := &RequestQueue{
		tasks: make(chan func(), 64),
		stop:  make(chan struct{}),
	}
	q.done.Add(1)
	go q.run()
	return q
}

func (q *RequestQueue) run() {
	defer q.done.Done()
	for {
		select {
		case task := <-q.tasks:
			task()
		case <-q.stop:
			// Drain what was already accepted before shutting down.
			for {
				select {
				case task := <-q.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Enqueue submits one task. Tasks submitted after Stop are discarded.
func (q *RequestQueue) Enqueue(task func()) {
	select {
	case q.tasks <- task:
	case <-q.stop:
	}
}

// Stop finishes accepted tasks and stops the worker. It blocks until the
// worker has exited.
func (q *RequestQueue) Stop() {
	q.once.Do(func() { close(q.stop) })
	q.done.Wait()
}
