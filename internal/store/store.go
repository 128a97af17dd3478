// Package store is the target datastore boundary. Importers only depend on
// the Store interface plus the two sentinel errors; the Postgres backend
// maps driver errors onto them and the memory backend enforces the same
// uniqueness rules for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUniqueViolation reports an insert that collided with an existing row on
// a uniqueness constraint. Importers treat it as "already present".
var ErrUniqueViolation = errors.New("store: unique constraint violation")

// ErrForeignKey reports an insert whose referenced parent row is gone.
var ErrForeignKey = errors.New("store: foreign key violation")

// ErrValidation reports a row that fails schema-level constraints (null in a
// required column, oversized value). Retried by the job queue, not by us.
var ErrValidation = errors.New("store: validation failure")

type Label struct {
	ID        int64
	ProjectID int64
	Title     string
	Color     string
}

type Milestone struct {
	ID          int64
	ProjectID   int64
	IID         int64
	Title       string
	Description string
	State       string
	DueOn       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Issue struct {
	ID          int64
	ProjectID   int64
	IID         int64
	Title       string
	Description string
	State       string
	AuthorID    int64
	MilestoneID *int64
	AssigneeIDs []int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MergeRequest struct {
	ID           int64
	ProjectID    int64
	IID          int64
	Title        string
	Description  string
	State        string
	SourceBranch string
	TargetBranch string
	AuthorID     int64
	MergedByID   *int64
	MilestoneID  *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Note struct {
	ID           int64
	ProjectID    int64
	NoteableType string // "Issue" or "MergeRequest"
	NoteableID   int64
	AuthorID     int64
	Body         string
	// DiffPosition is a serialized diff location for diff notes; empty for
	// plain notes.
	DiffPosition string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Member struct {
	ID          int64
	ProjectID   int64
	UserID      int64
	AccessLevel int
	CreatedAt   time.Time
}

type ProtectedBranch struct {
	ID             int64
	ProjectID      int64
	Name           string
	AllowForcePush bool
}

// ResourceEvent is one imported timeline entry on an issue or merge request.
type ResourceEvent struct {
	ID         int64
	ProjectID  int64
	TargetType string
	TargetID   int64
	UserID     int64
	Kind       string
	Value      string
	CreatedAt  time.Time
}

type LfsObject struct {
	ID        int64
	ProjectID int64
	OID       string
	Size      int64
}

type Release struct {
	ID          int64
	ProjectID   int64
	Tag         string
	Description string
}

// Store is the persistence surface the per-object importers use. Every
// Create is a single idempotency-aware insert: a duplicate yields
// ErrUniqueViolation, a missing parent yields ErrForeignKey.
type Store interface {
	CreateLabel(ctx context.Context, l Label) (int64, error)
	CreateMilestone(ctx context.Context, m Milestone) (int64, error)
	CreateIssue(ctx context.Context, i Issue) (int64, error)
	CreateMergeRequest(ctx context.Context, mr MergeRequest) (int64, error)
	CreateNote(ctx context.Context, n Note) (int64, error)
	CreateMember(ctx context.Context, m Member) (int64, error)
	CreateProtectedBranch(ctx context.Context, b ProtectedBranch) (int64, error)
	CreateLfsObject(ctx context.Context, o LfsObject) (int64, error)

	// CreateResourceEvents bulk-inserts one page's worth of timeline
	// entries; duplicates within the batch are skipped, not fatal.
	CreateResourceEvents(ctx context.Context, events []ResourceEvent) error

	UpdateIssueDescription(ctx context.Context, id int64, text string) error
	UpdateMergeRequestDescription(ctx context.Context, id int64, text string) error
	UpdateNoteBody(ctx context.Context, id int64, text string) error
	UpdateReleaseDescription(ctx context.Context, id int64, text string) error

	// Body read-back for link rewriting. A resumed rewrite must start from
	// the persisted text, which may already hold checkpointed progress.
	IssueDescription(ctx context.Context, id int64) (string, error)
	MergeRequestDescription(ctx context.Context, id int64) (string, error)
	NoteBody(ctx context.Context, id int64) (string, error)

	// IID enumeration for per-parent collections (timeline events walk
	// every imported issue and merge request).
	IssueIIDs(ctx context.Context, projectID int64) ([]int64, error)
	MergeRequestIIDs(ctx context.Context, projectID int64) ([]int64, error)

	ReleaseByTag(ctx context.Context, projectID int64, tag string) (Release, bool, error)

	// UpdateAuthorColumn rewrites one row's author-bearing column, used by
	// placeholder reconciliation once a real identity is confirmed.
	UpdateAuthorColumn(ctx context.Context, model, column string, rowID, userID int64) error

	UserIDByExternalID(ctx context.Context, externalID int64) (int64, bool, error)
	UserIDByEmail(ctx context.Context, email string) (int64, bool, error)
}
