package importer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"repoport/internal/cache"
	"repoport/internal/queue"
	"repoport/internal/representation"
	"repoport/internal/store"
	"repoport/internal/user"
)

// Runner walks every object kind of one project in dependency order:
// vocabulary first (labels, milestones, membership, branch rules), then
// issues and pull requests, then everything hanging off them (notes, diff
// notes, timeline events), then release bodies and LFS pointers. Kinds
// inside one phase are independent and run concurrently.
type Runner struct {
	project  Project
	source   Source
	lfs      LfsEnumerator
	st       store.Store
	ks       cache.Keyspace
	exec     *Executor
	jobQueue queue.Queue
	stagger  time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger
	metrics  *Metrics
	progress Progress
}

// Progress receives collection lifecycle notifications. Timeline events
// fan out per parent but report as a single collection.
type Progress interface {
	CollectionStarted(kind string) error
	CollectionFinished(kind string, counts Counts) error
}

type RunnerConfig struct {
	Project  Project
	Source   Source
	Lfs      LfsEnumerator // optional; nil skips the LFS stage
	Store    store.Store
	Keyspace cache.Keyspace
	Executor *Executor
	// Queue enables parallel dispatch for the high-volume kinds. Nil runs
	// everything sequentially.
	Queue queue.Queue
	// Stagger spaces fanned-out jobs within one page.
	Stagger time.Duration
	// WaitTimeout bounds each fan-out join.
	WaitTimeout time.Duration
	Log         logrus.FieldLogger
	Metrics     *Metrics
	// Progress is optional; nil disables lifecycle notifications.
	Progress Progress
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("importer: nil source")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("importer: nil store")
	}
	if cfg.Keyspace == nil {
		return nil, fmt.Errorf("importer: nil keyspace")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("importer: nil executor")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Minute
	}
	return &Runner{
		project:  cfg.Project,
		source:   cfg.Source,
		lfs:      cfg.Lfs,
		st:       cfg.Store,
		ks:       cfg.Keyspace,
		exec:     cfg.Executor,
		jobQueue: cfg.Queue,
		stagger:  cfg.Stagger,
		timeout:  cfg.WaitTimeout,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		progress: cfg.Progress,
	}, nil
}

func (r *Runner) notifyStarted(kind representation.Kind) {
	if r.progress == nil {
		return
	}
	if err := r.progress.CollectionStarted(string(kind)); err != nil {
		r.log.WithError(err).Warn("progress sink rejected event")
	}
}

func (r *Runner) notifyFinished(kind representation.Kind) {
	if r.progress == nil {
		return
	}
	if err := r.progress.CollectionFinished(string(kind), r.metrics.CountsFor(string(kind))); err != nil {
		r.log.WithError(err).Warn("progress sink rejected event")
	}
}

// stage is one collection to run: a kind, its cursor identity and fetcher.
type stage struct {
	kind     representation.Kind
	method   string
	parentID string
	fetch    pageFunc
	// parallel marks high-volume kinds worth fanning out when a queue is
	// configured.
	parallel bool
}

// Run imports the whole project. The returned summary is valid even when
// err is non-nil; interrupted runs resume from the persisted cursors and
// imported sets on the next invocation. Teardown clears that state only
// after a fully successful run.
func (r *Runner) Run(ctx context.Context) (map[string]Counts, error) {
	phases := [][]stage{
		{
			{kind: representation.KindLabel, fetch: labelsPage(r.source)},
			{kind: representation.KindMilestone, fetch: milestonesPage(r.source)},
			{kind: representation.KindCollaborator, fetch: collaboratorsPage(r.source)},
			{kind: representation.KindProtectedBranch, fetch: protectedBranchesPage(r.source)},
		},
		{
			{kind: representation.KindIssue, fetch: issuesPage(r.source), parallel: true},
			{kind: representation.KindPullRequest, fetch: pullRequestsPage(r.source), parallel: true},
		},
		{
			{kind: representation.KindNote, fetch: notesPage(r.source), parallel: true},
			{kind: representation.KindDiffNote, fetch: diffNotesPage(r.source), parallel: true},
		},
	}

	for _, phase := range phases {
		if err := r.runPhase(ctx, phase); err != nil {
			return r.metrics.Summary(), err
		}
	}

	eventStages, err := r.eventStages(ctx)
	if err != nil {
		return r.metrics.Summary(), err
	}
	// Timeline events fan out per parent; run them in chunks so one
	// busy project cannot hold thousands of cursors open at once. The
	// chunks report as one collection.
	if len(eventStages) > 0 {
		r.notifyStarted(representation.KindIssueEvent)
	}
	for start := 0; start < len(eventStages); start += eventPhaseWidth {
		end := start + eventPhaseWidth
		if end > len(eventStages) {
			end = len(eventStages)
		}
		if err := r.runPhase(ctx, eventStages[start:end]); err != nil {
			return r.metrics.Summary(), err
		}
	}
	if len(eventStages) > 0 {
		r.notifyFinished(representation.KindIssueEvent)
	}

	final := []stage{
		{kind: representation.KindReleaseAttachments, fetch: releasesPage(r.source)},
	}
	if r.lfs != nil {
		final = append(final, stage{kind: representation.KindLfsObject, fetch: lfsObjectsPage(r.lfs)})
	}
	if err := r.runPhase(ctx, final); err != nil {
		return r.metrics.Summary(), err
	}

	if err := r.teardown(ctx, eventStages); err != nil {
		r.log.WithError(err).Warn("run teardown left stale cache state")
	}
	return r.metrics.Summary(), nil
}

// eventPhaseWidth bounds how many per-parent event collections run
// concurrently.
const eventPhaseWidth = 10

func (r *Runner) eventStages(ctx context.Context) ([]stage, error) {
	issueIIDs, err := r.st.IssueIIDs(ctx, r.project.ID)
	if err != nil {
		return nil, fmt.Errorf("list issue iids: %w", err)
	}
	mrIIDs, err := r.st.MergeRequestIIDs(ctx, r.project.ID)
	if err != nil {
		return nil, fmt.Errorf("list merge request iids: %w", err)
	}

	stages := make([]stage, 0, len(issueIIDs)+len(mrIIDs))
	for _, iid := range issueIIDs {
		stages = append(stages, stage{
			kind:     representation.KindIssueEvent,
			method:   "issue_events",
			parentID: strconv.FormatInt(iid, 10),
			fetch:    issueEventsPage(r.source, iid, false),
			parallel: true,
		})
	}
	for _, iid := range mrIIDs {
		stages = append(stages, stage{
			kind:     representation.KindIssueEvent,
			method:   "issue_events",
			parentID: strconv.FormatInt(iid, 10),
			fetch:    issueEventsPage(r.source, iid, true),
			parallel: true,
		})
	}
	return stages, nil
}

func (r *Runner) runPhase(ctx context.Context, stages []stage) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range stages {
		g.Go(func() error { return r.runStage(ctx, s) })
	}
	return g.Wait()
}

func (r *Runner) runStage(ctx context.Context, s stage) error {
	strategy, err := r.strategyFor(s)
	if err != nil {
		return err
	}

	coll, err := NewCollection(CollectionConfig{
		ProjectID: r.project.ID,
		Kind:      s.kind,
		ParentID:  s.parentID,
		Method:    s.method,
		Keyspace:  r.ks,
		Fetch:     s.fetch,
		Strategy:  strategy,
		Log:       r.log,
		Metrics:   r.metrics,
	})
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"project_id":  r.project.ID,
		"object_kind": s.kind,
	}).Info("importing collection")
	if s.parentID == "" {
		r.notifyStarted(s.kind)
	}

	if err := coll.Run(ctx); err != nil {
		return err
	}
	if err := strategy.Wait(ctx); err != nil {
		return err
	}
	if s.parentID == "" {
		r.notifyFinished(s.kind)
	}
	return nil
}

func (r *Runner) strategyFor(s stage) (Strategy, error) {
	if s.parallel && r.jobQueue != nil {
		return NewParallel(ParallelConfig{
			Queue:     r.jobQueue,
			ProjectID: r.project.ID,
			Stagger:   r.stagger,
			Timeout:   r.timeout,
			Log:       r.log,
		})
	}
	return NewSequential(r.exec), nil
}

// Handler adapts an executor into the job queue's handler: it restores the
// serialized representation and runs it with rate-limit cooldowns handled
// inline, so a throttled job occupies its worker instead of re-enqueueing.
func Handler(exec *Executor) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		rep, err := representation.Unmarshal(job.Payload)
		if err != nil {
			return err
		}
		return executeWithCooldown(ctx, exec, rep)
	}
}

// teardown drops per-run cache state: imported sets for every kind, all
// pagination cursors (including the per-parent event cursors), the id maps,
// and the identity lookup cache.
func (r *Runner) teardown(ctx context.Context, eventStages []stage) error {
	kinds := []representation.Kind{
		representation.KindLabel,
		representation.KindMilestone,
		representation.KindCollaborator,
		representation.KindProtectedBranch,
		representation.KindIssue,
		representation.KindPullRequest,
		representation.KindNote,
		representation.KindDiffNote,
		representation.KindIssueEvent,
		representation.KindReleaseAttachments,
		representation.KindLfsObject,
	}
	for _, kind := range kinds {
		if err := cache.NewImportedSet(r.ks, r.project.ID, string(kind)).Clear(ctx); err != nil {
			return err
		}
		cursor := cache.NewPageCursor(r.ks, r.project.ID, "", string(kind))
		if err := cursor.Clear(ctx); err != nil {
			return err
		}
	}
	for _, s := range eventStages {
		cursor := cache.NewPageCursor(r.ks, r.project.ID, s.parentID, s.method)
		if err := cursor.Clear(ctx); err != nil {
			return err
		}
	}
	for _, model := range []string{"issue", "merge_request", "note", "milestone"} {
		if err := cache.NewIDMap(r.ks, r.project.ID, model).Clear(ctx); err != nil {
			return err
		}
	}
	return user.ClearLookupCache(ctx, r.ks, r.project.ID)
}
