package user

import (
	"context"
	"fmt"
	"sync"

	"repoport/internal/representation"
	"repoport/internal/store"
)

// Reference is a deferred author reassignment: some persisted row carries a
// placeholder user id until the real identity behind a source user is
// confirmed. References are append-only and consumed out of band.
type Reference struct {
	RunID        string `json:"run_id"`
	NamespaceID  int64  `json:"namespace_id"`
	SourceUserID int64  `json:"source_user_id"`
	Model        string `json:"model"`
	Column       string `json:"column"`
	RowID        int64  `json:"row_id"`
}

// ReferencePusher accepts reference records for the reconciliation queue.
type ReferencePusher interface {
	Push(ctx context.Context, ref Reference) error
}

// SourceUsers allocates placeholder user ids, one per distinct source user
// per run, and remembers the mapping so reconciliation can find every row a
// given source user touched.
type SourceUsers struct {
	mu       sync.Mutex
	allocate func(ctx context.Context, actor representation.Actor) (int64, error)
	bySource map[int64]int64
}

// NewSourceUsers builds a registry. allocate creates the placeholder user
// row itself and is called at most once per source user.
func NewSourceUsers(allocate func(ctx context.Context, actor representation.Actor) (int64, error)) *SourceUsers {
	return &SourceUsers{
		allocate: allocate,
		bySource: make(map[int64]int64),
	}
}

func (s *SourceUsers) PlaceholderUserID(ctx context.Context, actor representation.Actor) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySource[actor.ID]; ok {
		return id, nil
	}
	id, err := s.allocate(ctx, actor)
	if err != nil {
		return 0, fmt.Errorf("allocate placeholder for %q: %w", actor.Login, err)
	}
	s.bySource[actor.ID] = id
	return id, nil
}

// MemoryReferenceQueue is an in-process reconciliation queue used by tests
// and single-process runs.
type MemoryReferenceQueue struct {
	mu   sync.Mutex
	refs []Reference
}

func NewMemoryReferenceQueue() *MemoryReferenceQueue {
	return &MemoryReferenceQueue{}
}

func (q *MemoryReferenceQueue) Push(_ context.Context, ref Reference) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refs = append(q.refs, ref)
	return nil
}

func (q *MemoryReferenceQueue) References() []Reference {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Reference, len(q.refs))
	copy(out, q.refs)
	return out
}

// take removes and returns all references for one source user.
func (q *MemoryReferenceQueue) take(sourceUserID int64) []Reference {
	q.mu.Lock()
	defer q.mu.Unlock()
	var matched, rest []Reference
	for _, ref := range q.refs {
		if ref.SourceUserID == sourceUserID {
			matched = append(matched, ref)
		} else {
			rest = append(rest, ref)
		}
	}
	q.refs = rest
	return matched
}

// Reconciler bulk-rewrites author columns once a placeholder's real
// identity is accepted.
type Reconciler struct {
	store store.Store
	queue *MemoryReferenceQueue
}

func NewReconciler(st store.Store, queue *MemoryReferenceQueue) *Reconciler {
	return &Reconciler{store: st, queue: queue}
}

// Accept rewrites every queued row for sourceUserID to point at userID.
// Rows updated this way keep their identity; no new rows are created.
func (r *Reconciler) Accept(ctx context.Context, sourceUserID, userID int64) (int, error) {
	refs := r.queue.take(sourceUserID)
	for i, ref := range refs {
		if err := r.store.UpdateAuthorColumn(ctx, ref.Model, ref.Column, ref.RowID, userID); err != nil {
			return i, fmt.Errorf("reassign %s.%s row %d: %w", ref.Model, ref.Column, ref.RowID, err)
		}
	}
	return len(refs), nil
}
