// Package importer contains the import pipeline proper: per-object
// importers for every supported kind, the paginated collection loop that
// feeds them, the sequential and parallel dispatch strategies, and the run
// coordinator that walks a project's object kinds in dependency order.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"repoport/internal/attachments"
	"repoport/internal/cache"
	"repoport/internal/errs"
	"repoport/internal/representation"
	"repoport/internal/store"
	"repoport/internal/user"
)

// Project identifies the import target and the identities backing it.
type Project struct {
	ID          int64
	NamespaceID int64
	CreatorID   int64
	GhostUserID int64

	// RunID tags placeholder references so reconciliation can scope a
	// reassignment to one import run.
	RunID string
}

// objectImporter persists one representation idempotently. Implementations
// treat a uniqueness collision as success and surface NotFound for
// structurally absent parents.
type objectImporter interface {
	Import(ctx context.Context, rep representation.Representation) error
}

// Executor routes representations to their per-object importers and owns
// the shared completion bookkeeping: the already-imported set, metrics and
// outcome classification.
type Executor struct {
	project  Project
	st       store.Store
	ks       cache.Keyspace
	finder   *user.Finder
	refs     user.ReferencePusher // nil when placeholder mapping is off
	rewriter *attachments.Rewriter
	log      logrus.FieldLogger
	metrics  *Metrics

	importers map[representation.Kind]objectImporter
}

type ExecutorConfig struct {
	Project  Project
	Store    store.Store
	Keyspace cache.Keyspace
	Finder   *user.Finder
	Refs     user.ReferencePusher
	Rewriter *attachments.Rewriter
	Log      logrus.FieldLogger
	Metrics  *Metrics
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("importer: nil store")
	}
	if cfg.Keyspace == nil {
		return nil, fmt.Errorf("importer: nil keyspace")
	}
	if cfg.Finder == nil {
		return nil, fmt.Errorf("importer: nil user finder")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	e := &Executor{
		project:  cfg.Project,
		st:       cfg.Store,
		ks:       cfg.Keyspace,
		finder:   cfg.Finder,
		refs:     cfg.Refs,
		rewriter: cfg.Rewriter,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}
	e.importers = map[representation.Kind]objectImporter{
		representation.KindLabel:              labelImporter{e},
		representation.KindMilestone:          milestoneImporter{e},
		representation.KindIssue:              issueImporter{e},
		representation.KindPullRequest:        pullRequestImporter{e},
		representation.KindNote:               noteImporter{e},
		representation.KindDiffNote:           diffNoteImporter{e},
		representation.KindProtectedBranch:    protectedBranchImporter{e},
		representation.KindCollaborator:       collaboratorImporter{e},
		representation.KindReleaseAttachments: releaseAttachmentsImporter{e},
		representation.KindIssueEvent:         issueEventImporter{e},
		representation.KindLfsObject:          lfsObjectImporter{e},
	}
	return e, nil
}

// Execute runs the per-object importer for rep and records the outcome.
// Terminal outcomes (success, missing parent, unmodeled shape) mark the
// object imported so it is never dispatched again; transient failures and
// rate limits leave it unmarked for the next attempt.
func (e *Executor) Execute(ctx context.Context, rep representation.Representation) error {
	kind := string(rep.Kind())
	log := e.log.WithFields(logrus.Fields{
		"project_id":  e.project.ID,
		"object_kind": kind,
		"external_id": rep.ExternalID(),
	})

	imp, ok := e.importers[rep.Kind()]
	if !ok {
		log.Warn("no importer registered for object kind")
		e.metrics.Skipped(kind)
		return nil
	}

	set := cache.NewImportedSet(e.ks, e.project.ID, kind)
	// Jobs may be delivered more than once; the set check keeps a replayed
	// job from re-running a completed import.
	if done, err := set.Contains(ctx, rep.ExternalID()); err == nil && done {
		return nil
	}

	err := imp.Import(ctx, rep)
	switch {
	case err == nil:
		e.metrics.Imported(kind)
	case errs.IsNotFound(err):
		log.WithError(err).Warn("skipping object: required parent missing")
		e.metrics.Skipped(kind)
	case errs.IsNotRetriable(err):
		log.WithError(err).Error("skipping object: not retriable")
		e.metrics.Failed(kind)
	default:
		if _, limited := errs.AsRateLimited(err); !limited {
			e.metrics.Failed(kind)
		}
		return err
	}

	if err := set.Add(ctx, rep.ExternalID()); err != nil {
		// Persistence succeeded; a lost membership only costs a duplicate
		// attempt that the store's uniqueness constraint absorbs.
		log.WithError(err).Warn("recording imported id failed")
	}
	return nil
}

func (e *Executor) idMap(model string) *cache.IDMap {
	return cache.NewIDMap(e.ks, e.project.ID, model)
}

// resolveAuthor maps an actor to an internal author id. When the identity
// did not resolve, the returned body carries the attribution prefix.
func (e *Executor) resolveAuthor(ctx context.Context, actor representation.Actor, body string) (int64, string, bool, error) {
	id, found, err := e.finder.AuthorID(ctx, actor)
	if err != nil {
		return 0, body, false, err
	}
	return id, user.Attribute(body, actor.Login, found), found, nil
}

// pushReference queues a deferred reassignment for one persisted row. Only
// rows written under an unresolved identity get a reference, and only once,
// right after the insert that created them.
func (e *Executor) pushReference(ctx context.Context, actor representation.Actor, found bool, model, column string, rowID int64) error {
	if found || e.refs == nil {
		return nil
	}
	return e.refs.Push(ctx, user.Reference{
		RunID:        e.project.RunID,
		NamespaceID:  e.project.NamespaceID,
		SourceUserID: actor.ID,
		Model:        model,
		Column:       column,
		RowID:        rowID,
	})
}

// rewriteBody runs the attachment rewriter over the persisted text behind
// read/persist and stores whatever progress was made before returning any
// error. Reading the persisted text rather than the representation's copy
// means a resumed run continues from the last checkpoint.
func (e *Executor) rewriteBody(ctx context.Context,
	read func(context.Context) (string, error),
	persist func(context.Context, string) error) error {

	if e.rewriter == nil {
		return nil
	}
	text, err := read(ctx)
	if err != nil {
		return err
	}
	if !e.rewriter.NeedsRewrite(text) {
		return nil
	}

	out, rewriteErr := e.rewriter.Rewrite(ctx, text)
	if out != text {
		if err := persist(ctx, out); err != nil {
			return err
		}
	}
	return rewriteErr
}

// milestoneID resolves an optional milestone number against the id map.
// Unmapped milestones are dropped rather than failing the object.
func (e *Executor) milestoneID(ctx context.Context, number int64) (*int64, error) {
	if number == 0 {
		return nil, nil
	}
	id, ok, err := e.idMap("milestone").Get(ctx, fmt.Sprintf("%d", number))
	if err != nil || !ok {
		return nil, err
	}
	return &id, nil
}

// noteableID resolves a note's parent. The model name follows the target
// vocabulary ("Issue", "MergeRequest").
func (e *Executor) noteableID(ctx context.Context, noteableType string, iid int64) (int64, error) {
	var model string
	switch noteableType {
	case "Issue":
		model = "issue"
	case "MergeRequest":
		model = "merge_request"
	default:
		return 0, errs.NotRetriable("unknown noteable type %q", noteableType)
	}
	id, ok, err := e.idMap(model).Get(ctx, fmt.Sprintf("%d", iid))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.NotFound("%s %d", strings.ReplaceAll(model, "_", " "), iid)
	}
	return id, nil
}
