// Package queue is the asynchronous dispatch primitive for parallel import
// runs: a fire-and-forget Queue interface, an in-process bounded worker pool
// implementing it, and the Waiter used to join on fanned-out work.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Job is one unit of asynchronous work. Payload carries the serialized
// representation, never a live object, so a job survives handoff between
// execution contexts.
type Job struct {
	Kind      string          `json:"kind"`
	ProjectID int64           `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`

	// done is signalled by the pool once the job's handler returns,
	// regardless of outcome. Wired by the dispatching strategy; never
	// serialized.
	done func()
}

// WithDone returns a copy of the job that signals fn after execution.
func (j Job) WithDone(fn func()) Job {
	j.done = fn
	return j
}

func (j Job) signal() {
	if j.done != nil {
		j.done()
	}
}

// Queue accepts jobs for eventual at-least-once execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// EnqueueIn delays visibility of the job. Used to stagger fan-out
	// bursts against secondary rate limits.
	EnqueueIn(ctx context.Context, job Job, delay time.Duration) error
}

// Waiter counts outstanding asynchronous units of one fan-out. It is created
// per collection run, handed to the run coordinator, and discarded after the
// wait returns.
type Waiter struct {
	mu        sync.Mutex
	expected  int
	completed int
	notify    chan struct{}
}

func NewWaiter() *Waiter {
	return &Waiter{notify: make(chan struct{})}
}

// Add registers n more expected completions.
func (w *Waiter) Add(n int) {
	w.mu.Lock()
	w.expected += n
	w.mu.Unlock()
}

// Done records one completion.
func (w *Waiter) Done() {
	w.mu.Lock()
	w.completed++
	close(w.notify)
	w.notify = make(chan struct{})
	w.mu.Unlock()
}

// Counts reports (expected, completed).
func (w *Waiter) Counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expected, w.completed
}

// ErrWaitTimeout reports that the bounded wait elapsed with jobs still
// outstanding. The jobs are not cancelled; they run to completion on their
// own and rely on per-object idempotence.
var ErrWaitTimeout = errors.New("queue: wait timed out with jobs outstanding")

// Wait blocks until every registered unit has completed, the timeout
// elapses, or ctx is cancelled.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		w.mu.Lock()
		if w.completed >= w.expected {
			w.mu.Unlock()
			return nil
		}
		ch := w.notify
		w.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
