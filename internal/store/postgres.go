package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres error classes; see pq.ErrorCode.Class.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
)

// Postgres implements Store on a database/sql handle opened with lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("store: nil db handle")
	}
	return &Postgres{db: db}, nil
}

// mapError folds driver-level constraint errors onto the package sentinels
// so importers never see pq internals.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Constraint)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrForeignKey, pqErr.Constraint)
		case pgNotNullViolation, pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrValidation, pqErr.Message)
		}
	}
	return err
}

func (p *Postgres) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (p *Postgres) CreateLabel(ctx context.Context, l Label) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO labels (project_id, title, color) VALUES ($1, $2, $3) RETURNING id`,
		l.ProjectID, l.Title, l.Color)
}

func (p *Postgres) CreateMilestone(ctx context.Context, m Milestone) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO milestones (project_id, iid, title, description, state, due_on, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.ProjectID, m.IID, m.Title, m.Description, m.State, m.DueOn, m.CreatedAt, m.UpdatedAt)
}

func (p *Postgres) CreateIssue(ctx context.Context, i Issue) (int64, error) {
	id, err := p.insertReturningID(ctx,
		`INSERT INTO issues (project_id, iid, title, description, state, author_id, milestone_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		i.ProjectID, i.IID, i.Title, i.Description, i.State, i.AuthorID, i.MilestoneID, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return 0, err
	}
	for _, assignee := range i.AssigneeIDs {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO issue_assignees (issue_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, assignee)
		if err != nil {
			return 0, mapError(err)
		}
	}
	return id, nil
}

func (p *Postgres) CreateMergeRequest(ctx context.Context, mr MergeRequest) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO merge_requests (project_id, iid, title, description, state, source_branch, target_branch,
		                             author_id, merged_by_id, milestone_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		mr.ProjectID, mr.IID, mr.Title, mr.Description, mr.State, mr.SourceBranch, mr.TargetBranch,
		mr.AuthorID, mr.MergedByID, mr.MilestoneID, mr.CreatedAt, mr.UpdatedAt)
}

func (p *Postgres) CreateNote(ctx context.Context, n Note) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO notes (project_id, noteable_type, noteable_id, author_id, body, diff_position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8) RETURNING id`,
		n.ProjectID, n.NoteableType, n.NoteableID, n.AuthorID, n.Body, n.DiffPosition, n.CreatedAt, n.UpdatedAt)
}

func (p *Postgres) CreateMember(ctx context.Context, m Member) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO members (project_id, user_id, access_level, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		m.ProjectID, m.UserID, m.AccessLevel, m.CreatedAt)
}

func (p *Postgres) CreateProtectedBranch(ctx context.Context, b ProtectedBranch) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO protected_branches (project_id, name, allow_force_push) VALUES ($1, $2, $3) RETURNING id`,
		b.ProjectID, b.Name, b.AllowForcePush)
}

func (p *Postgres) CreateLfsObject(ctx context.Context, o LfsObject) (int64, error) {
	return p.insertReturningID(ctx,
		`INSERT INTO lfs_objects (project_id, oid, size) VALUES ($1, $2, $3) RETURNING id`,
		o.ProjectID, o.OID, o.Size)
}

func (p *Postgres) CreateResourceEvents(ctx context.Context, events []ResourceEvent) error {
	if len(events) == 0 {
		return nil
	}
	// One statement per event inside a transaction: the batch sizes here are
	// a single API page, and ON CONFLICT keeps re-runs idempotent.
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO resource_events (project_id, target_type, target_id, user_id, kind, value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT DO NOTHING`,
			ev.ProjectID, ev.TargetType, ev.TargetID, ev.UserID, ev.Kind, ev.Value, ev.CreatedAt)
		if err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func (p *Postgres) updateText(ctx context.Context, query string, id int64, text string) error {
	res, err := p.db.ExecContext(ctx, query, text, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *Postgres) UpdateIssueDescription(ctx context.Context, id int64, text string) error {
	return p.updateText(ctx, `UPDATE issues SET description = $1 WHERE id = $2`, id, text)
}

func (p *Postgres) UpdateMergeRequestDescription(ctx context.Context, id int64, text string) error {
	return p.updateText(ctx, `UPDATE merge_requests SET description = $1 WHERE id = $2`, id, text)
}

func (p *Postgres) UpdateNoteBody(ctx context.Context, id int64, text string) error {
	return p.updateText(ctx, `UPDATE notes SET body = $1 WHERE id = $2`, id, text)
}

func (p *Postgres) UpdateReleaseDescription(ctx context.Context, id int64, text string) error {
	return p.updateText(ctx, `UPDATE releases SET description = $1 WHERE id = $2`, id, text)
}

func (p *Postgres) readText(ctx context.Context, query string, id int64) (string, error) {
	var text string
	err := p.db.QueryRowContext(ctx, query, id).Scan(&text)
	if err != nil {
		return "", mapError(err)
	}
	return text, nil
}

func (p *Postgres) IssueDescription(ctx context.Context, id int64) (string, error) {
	return p.readText(ctx, `SELECT COALESCE(description, '') FROM issues WHERE id = $1`, id)
}

func (p *Postgres) MergeRequestDescription(ctx context.Context, id int64) (string, error) {
	return p.readText(ctx, `SELECT COALESCE(description, '') FROM merge_requests WHERE id = $1`, id)
}

func (p *Postgres) NoteBody(ctx context.Context, id int64) (string, error) {
	return p.readText(ctx, `SELECT body FROM notes WHERE id = $1`, id)
}

func (p *Postgres) iids(ctx context.Context, query string, projectID int64) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	var iids []int64
	for rows.Next() {
		var iid int64
		if err := rows.Scan(&iid); err != nil {
			return nil, err
		}
		iids = append(iids, iid)
	}
	return iids, rows.Err()
}

func (p *Postgres) IssueIIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return p.iids(ctx, `SELECT iid FROM issues WHERE project_id = $1 ORDER BY iid`, projectID)
}

func (p *Postgres) MergeRequestIIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return p.iids(ctx, `SELECT iid FROM merge_requests WHERE project_id = $1 ORDER BY iid`, projectID)
}

func (p *Postgres) ReleaseByTag(ctx context.Context, projectID int64, tag string) (Release, bool, error) {
	var r Release
	err := p.db.QueryRowContext(ctx,
		`SELECT id, project_id, tag, COALESCE(description, '') FROM releases WHERE project_id = $1 AND tag = $2`,
		projectID, tag).Scan(&r.ID, &r.ProjectID, &r.Tag, &r.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Release{}, false, nil
	}
	if err != nil {
		return Release{}, false, mapError(err)
	}
	return r, true, nil
}

func (p *Postgres) UpdateAuthorColumn(ctx context.Context, model, column string, rowID, userID int64) error {
	table, ok := authorTables[model]
	if !ok {
		return fmt.Errorf("store: unknown model %q", model)
	}
	if !allowedAuthorColumns[column] {
		return fmt.Errorf("store: unknown author column %q", column)
	}
	_, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, table, column), userID, rowID)
	return mapError(err)
}

// Reconciliation may only touch a fixed set of author-bearing columns.
var authorTables = map[string]string{
	"Issue":         "issues",
	"MergeRequest":  "merge_requests",
	"Note":          "notes",
	"Member":        "members",
	"ResourceEvent": "resource_events",
}

var allowedAuthorColumns = map[string]bool{
	"author_id":    true,
	"user_id":      true,
	"merged_by_id": true,
}

func (p *Postgres) UserIDByExternalID(ctx context.Context, externalID int64) (int64, bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id FROM identities WHERE provider = 'github' AND extern_uid = $1`,
		fmt.Sprintf("%d", externalID)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError(err)
	}
	return id, true, nil
}

func (p *Postgres) UserIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError(err)
	}
	return id, true, nil
}
