// Package worker runs background jobs one at a time on a single goroutine.
// Compaction of every region in the process is funneled through the
// default worker.
package worker

import (
	"sync"
	"time"

	"github.com/eapache/channels"

	"github.com/alpacahq/diskcache/utils/log"
)

// Job is a unit of background work.
type Job func()

// Worker drains an unbounded job queue on one goroutine.
type Worker struct {
	name   string
	queue  *channels.InfiniteChannel
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// New starts a worker.
func New(name string) *Worker {
	w := &Worker{
		name:  name,
		queue: channels.NewInfiniteChannel(),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

var (
	defaultWorker *Worker
	defaultOnce   sync.Once
)

// Default returns the process wide worker, starting it on first use.
func Default() *Worker {
	defaultOnce.Do(func() {
		defaultWorker = New("default")
	})
	return defaultWorker
}

// Submit queues job.  It returns false if the worker is already stopped, in
// which case the job is dropped.
func (w *Worker) Submit(job Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		log.Warn("worker %s is stopped, dropping job", w.name)
		return false
	}
	w.queue.In() <- job
	return true
}

// Pending returns the number of queued jobs that have not started yet.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Stop lets the queued jobs finish and waits up to timeout for them.  It
// reports whether the worker drained in time.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.queue.Close()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		log.Warn("worker %s did not drain within %v", w.name, timeout)
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for item := range w.queue.Out() {
		job, ok := item.(Job)
		if !ok {
			continue
		}
		w.runJob(job)
	}
}

func (w *Worker) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker %s: job panicked: %v", w.name, r)
		}
	}()
	job()
}
