package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler executes one job. Errors are logged, not retried here: retry
// policy belongs to the handler (rate-limit reschedules re-enqueue
// explicitly, everything else is terminal per object).
type Handler func(ctx context.Context, job Job) error

// Pool is a bounded in-process worker pool consuming from a channel. It
// stands in for an external job runtime while keeping the same contract:
// fire-and-forget enqueue, at-least-once execution, no recall of dispatched
// work.
type Pool struct {
	handler Handler
	log     logrus.FieldLogger
	jobs    chan Job

	mu      sync.Mutex
	started bool
	closed  bool

	wg        sync.WaitGroup
	delayed   sync.WaitGroup
	enqueuers sync.WaitGroup
	workers   int
}

func NewPool(workers, buffer int, handler Handler, log logrus.FieldLogger) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("queue: workers must be >= 1, got %d", workers)
	}
	if handler == nil {
		return nil, errors.New("queue: nil handler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		handler: handler,
		log:     log,
		jobs:    make(chan Job, buffer),
		workers: workers,
	}, nil
}

// Start launches the workers. Jobs accepted before Start sit in the buffer.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(ctx, job)
			}
		}()
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer job.signal()

	if ctx.Err() != nil {
		p.log.WithFields(logrus.Fields{
			"object_kind": job.Kind,
			"project_id":  job.ProjectID,
		}).Warn("dropping job: run context cancelled")
		return
	}
	if err := p.handler(ctx, job); err != nil {
		p.log.WithFields(logrus.Fields{
			"object_kind": job.Kind,
			"project_id":  job.ProjectID,
		}).WithError(err).Error("job failed")
	}
}

func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	// The send must be registered under the same guard that rejects a
	// closed pool, or it can race Close into a closed channel.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("queue: pool is closed")
	}
	p.enqueuers.Add(1)
	p.mu.Unlock()
	defer p.enqueuers.Done()

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) EnqueueIn(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return p.Enqueue(ctx, job)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("queue: pool is closed")
	}
	p.delayed.Add(1)
	p.mu.Unlock()

	timer := time.NewTimer(delay)
	go func() {
		defer p.delayed.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := p.Enqueue(ctx, job); err != nil {
				// Still owes its completion signal.
				job.signal()
			}
		case <-ctx.Done():
			job.signal()
		}
	}()
	return nil
}

// Close stops accepting work and blocks until in-flight and delayed jobs
// have drained.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.delayed.Wait()
	p.enqueuers.Wait()
	close(p.jobs)
	p.wg.Wait()
}
