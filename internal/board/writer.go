package board

import (
	"context"
	"sync"
	"time"
)

type writeJob struct {
	run  func(ctx context.Context) error
	done chan error
}

// writer applies store writes in issue order per key while different keys
// proceed independently. Jobs run on a detached context bounded by timeout so
// a torn down session still lets in-flight writes reach the store.
type writer struct {
	timeout time.Duration

	mu     sync.Mutex
	queues map[string][]*writeJob
	active int
	idle   chan struct{} // closed when active drops to zero
}

func newWriter(timeout time.Duration) *writer {
	return &writer{timeout: timeout, queues: make(map[string][]*writeJob)}
}

// submit queues run behind every earlier job with the same key. The returned
// channel receives the job's result exactly once.
func (w *writer) submit(key string, run func(ctx context.Context) error) <-chan error {
	job := &writeJob{run: run, done: make(chan error, 1)}

	w.mu.Lock()
	q, busy := w.queues[key]
	w.queues[key] = append(q, job)
	if !busy {
		if w.active == 0 {
			w.idle = make(chan struct{})
		}
		w.active++
		go w.drain(key)
	}
	w.mu.Unlock()

	return job.done
}

func (w *writer) drain(key string) {
	for {
		w.mu.Lock()
		q := w.queues[key]
		if len(q) == 0 {
			delete(w.queues, key)
			w.active--
			if w.active == 0 {
				close(w.idle)
			}
			w.mu.Unlock()
			return
		}
		job := q[0]
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := job.run(ctx)
		cancel()
		job.done <- err

		w.mu.Lock()
		w.queues[key] = w.queues[key][1:]
		w.mu.Unlock()
	}
}

// pending returns the number of queued or running jobs.
func (w *writer) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, q := range w.queues {
		n += len(q)
	}
	return n
}

// wait blocks until every submitted job has finished or ctx ends.
func (w *writer) wait(ctx context.Context) error {
	w.mu.Lock()
	if w.active == 0 {
		w.mu.Unlock()
		return nil
	}
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
