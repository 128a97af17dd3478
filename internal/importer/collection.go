package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"repoport/internal/cache"
	"repoport/internal/errs"
	"repoport/internal/queue"
	"repoport/internal/representation"
)

// pageFunc fetches one page of normalized objects. next is zero when the
// source reports no further pages.
type pageFunc func(ctx context.Context, page int) ([]representation.Representation, int, error)

// Strategy decides how one page's surviving objects reach their per-object
// importers: inline, or fanned out to the job queue.
type Strategy interface {
	Dispatch(ctx context.Context, reps []representation.Representation) error
	// Wait blocks until dispatched work has completed, per the strategy's
	// notion of completion.
	Wait(ctx context.Context) error
}

// Collection drives one (project, object kind, parent) fetch loop: read a
// page at the cursor, advance the cursor, filter already-imported ids,
// dispatch the rest. The cursor tracks fetch progress only, so a crash
// between fetch and persistence re-reads at most one page, which the
// imported set absorbs.
type Collection struct {
	kind     representation.Kind
	cursor   *cache.PageCursor
	set      *cache.ImportedSet
	fetch    pageFunc
	strategy Strategy
	log      logrus.FieldLogger
	metrics  *Metrics
}

type CollectionConfig struct {
	ProjectID int64
	Kind      representation.Kind
	// ParentID scopes the cursor for per-parent collections (timeline
	// events cursor per issue). Empty for repository-level collections.
	ParentID string
	// Method names the cursor key; distinct collections over the same kind
	// must not share resume positions.
	Method   string
	Keyspace cache.Keyspace
	Fetch    pageFunc
	Strategy Strategy
	Log      logrus.FieldLogger
	Metrics  *Metrics
}

func NewCollection(cfg CollectionConfig) (*Collection, error) {
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("importer: collection %s has no fetcher", cfg.Kind)
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("importer: collection %s has no strategy", cfg.Kind)
	}
	if cfg.Keyspace == nil {
		return nil, fmt.Errorf("importer: collection %s has no keyspace", cfg.Kind)
	}
	if cfg.Method == "" {
		cfg.Method = string(cfg.Kind)
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Collection{
		kind:     cfg.Kind,
		cursor:   cache.NewPageCursor(cfg.Keyspace, cfg.ProjectID, cfg.ParentID, cfg.Method),
		set:      cache.NewImportedSet(cfg.Keyspace, cfg.ProjectID, string(cfg.Kind)),
		fetch:    cfg.Fetch,
		strategy: cfg.Strategy,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}, nil
}

// Run walks the collection to the end. It returns after the last page has
// been dispatched; joining on asynchronous work is the caller's job via the
// strategy.
func (c *Collection) Run(ctx context.Context) error {
	kind := string(c.kind)

	pos, err := c.cursor.Current(ctx)
	if err != nil {
		return fmt.Errorf("read cursor for %s: %w", kind, err)
	}
	page := pos.Page

	for {
		objects, next, err := c.fetch(ctx, page)
		if err != nil {
			return fmt.Errorf("fetch %s page %d: %w", kind, page, err)
		}
		c.metrics.Page(kind)
		c.metrics.Fetched(kind, len(objects))

		// The page is fully in memory; record the resume point before any
		// dispatch so a crash never re-fetches completed pages.
		if next != 0 {
			if err := c.cursor.Advance(ctx, cache.Position{Page: next}); err != nil {
				return fmt.Errorf("advance cursor for %s: %w", kind, err)
			}
		}

		survivors, err := c.filter(ctx, objects)
		if err != nil {
			return err
		}
		if len(survivors) > 0 {
			if err := c.strategy.Dispatch(ctx, survivors); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		page = next
	}
}

func (c *Collection) filter(ctx context.Context, objects []representation.Representation) ([]representation.Representation, error) {
	survivors := objects[:0]
	for _, obj := range objects {
		done, err := c.set.Contains(ctx, obj.ExternalID())
		if err != nil {
			return nil, fmt.Errorf("check imported set for %s: %w", c.kind, err)
		}
		if done {
			continue
		}
		survivors = append(survivors, obj)
	}
	return survivors, nil
}

// rate-limit retry bounds for inline execution.
const (
	maxCooldownRetries = 2
	maxCooldownSleep   = 15 * time.Minute
)

// executeWithCooldown runs one object inline, honoring rate-limit cooldowns
// with a bounded number of sleeps before giving up.
func executeWithCooldown(ctx context.Context, exec *Executor, rep representation.Representation) error {
	for attempt := 0; ; attempt++ {
		err := exec.Execute(ctx, rep)
		rl, limited := errs.AsRateLimited(err)
		if !limited || attempt >= maxCooldownRetries {
			return err
		}

		cooldown := rl.ResetIn
		if cooldown > maxCooldownSleep {
			cooldown = maxCooldownSleep
		}
		timer := time.NewTimer(cooldown)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Sequential executes objects inline in fetch order.
type Sequential struct {
	exec *Executor
}

func NewSequential(exec *Executor) *Sequential {
	return &Sequential{exec: exec}
}

func (s *Sequential) Dispatch(ctx context.Context, reps []representation.Representation) error {
	for _, rep := range reps {
		if err := executeWithCooldown(ctx, s.exec, rep); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequential) Wait(context.Context) error { return nil }

// Parallel fans each object out as one job, staggered within the page to
// spread bursts, and joins on a fan-out waiter with a bounded timeout. On
// timeout the run proceeds; dispatched jobs still finish on their own and
// are idempotent.
type Parallel struct {
	queue     queue.Queue
	waiter    *queue.Waiter
	projectID int64
	stagger   time.Duration
	timeout   time.Duration
	log       logrus.FieldLogger
}

type ParallelConfig struct {
	Queue     queue.Queue
	ProjectID int64
	// Stagger is the enqueue delay step between consecutive objects of one
	// page. Zero disables staggering.
	Stagger time.Duration
	// Timeout bounds the join at the end of the collection.
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func NewParallel(cfg ParallelConfig) (*Parallel, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("importer: parallel strategy needs a queue")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Parallel{
		queue:     cfg.Queue,
		waiter:    queue.NewWaiter(),
		projectID: cfg.ProjectID,
		stagger:   cfg.Stagger,
		timeout:   cfg.Timeout,
		log:       cfg.Log,
	}, nil
}

func (p *Parallel) Dispatch(ctx context.Context, reps []representation.Representation) error {
	for i, rep := range reps {
		payload, err := representation.Marshal(rep)
		if err != nil {
			return err
		}
		job := queue.Job{
			Kind:      string(rep.Kind()),
			ProjectID: p.projectID,
			Payload:   payload,
		}.WithDone(p.waiter.Done)

		p.waiter.Add(1)
		if err := p.queue.EnqueueIn(ctx, job, p.stagger*time.Duration(i)); err != nil {
			p.waiter.Done()
			return fmt.Errorf("enqueue %s: %w", rep.Kind(), err)
		}
	}
	return nil
}

func (p *Parallel) Wait(ctx context.Context) error {
	err := p.waiter.Wait(ctx, p.timeout)
	if errors.Is(err, queue.ErrWaitTimeout) {
		expected, completed := p.waiter.Counts()
		p.log.WithFields(logrus.Fields{
			"project_id": p.projectID,
			"expected":   expected,
			"completed":  completed,
		}).Warn("proceeding with jobs still outstanding")
		return nil
	}
	return err
}
