package importer

import (
	"context"
	"errors"

	"repoport/internal/errs"
	"repoport/internal/representation"
	"repoport/internal/store"
)

type issueImporter struct{ e *Executor }

func (i issueImporter) Import(ctx context.Context, rep representation.Representation) error {
	issue, ok := rep.(*representation.Issue)
	if !ok {
		return errs.NotRetriable("issue importer got %T", rep)
	}
	e := i.e

	authorID, body, found, err := e.resolveAuthor(ctx, issue.Author, issue.Description)
	if err != nil {
		return err
	}
	milestoneID, err := e.milestoneID(ctx, issue.MilestoneNumber)
	if err != nil {
		return err
	}

	var assigneeIDs []int64
	for _, assignee := range issue.Assignees {
		id, err := e.finder.AssigneeID(ctx, assignee)
		if err != nil {
			return err
		}
		// Unmappable assignees are dropped, never attributed to a
		// placeholder.
		if id != 0 {
			assigneeIDs = append(assigneeIDs, id)
		}
	}

	id, err := e.st.CreateIssue(ctx, store.Issue{
		ProjectID:   e.project.ID,
		IID:         issue.IID,
		Title:       issue.Title,
		Description: body,
		State:       issue.State,
		AuthorID:    authorID,
		MilestoneID: milestoneID,
		AssigneeIDs: assigneeIDs,
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	})
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		// Already persisted by an earlier attempt; recover the internal id
		// so the body rewrite below can still finish its checkpointed work.
		existing, ok, mapErr := e.idMap("issue").Get(ctx, issue.ExternalID())
		if mapErr != nil || !ok {
			return mapErr
		}
		id = existing
	case err != nil:
		return err
	default:
		if err := e.idMap("issue").Set(ctx, issue.ExternalID(), id); err != nil {
			return err
		}
		if err := e.pushReference(ctx, issue.Author, found, "Issue", "author_id", id); err != nil {
			return err
		}
	}

	return e.rewriteBody(ctx,
		func(ctx context.Context) (string, error) { return e.st.IssueDescription(ctx, id) },
		func(ctx context.Context, text string) error { return e.st.UpdateIssueDescription(ctx, id, text) })
}

type pullRequestImporter struct{ e *Executor }

func (i pullRequestImporter) Import(ctx context.Context, rep representation.Representation) error {
	pr, ok := rep.(*representation.PullRequest)
	if !ok {
		return errs.NotRetriable("pull request importer got %T", rep)
	}
	e := i.e

	authorID, body, found, err := e.resolveAuthor(ctx, pr.Author, pr.Description)
	if err != nil {
		return err
	}
	milestoneID, err := e.milestoneID(ctx, pr.MilestoneNumber)
	if err != nil {
		return err
	}

	var mergedByID *int64
	if !pr.MergedBy.IsZero() {
		id, err := e.finder.UserID(ctx, pr.MergedBy)
		if err != nil {
			return err
		}
		if id != 0 {
			mergedByID = &id
		}
	}

	id, err := e.st.CreateMergeRequest(ctx, store.MergeRequest{
		ProjectID:    e.project.ID,
		IID:          pr.IID,
		Title:        pr.Title,
		Description:  body,
		State:        pr.State,
		SourceBranch: pr.SourceBranch,
		TargetBranch: pr.TargetBranch,
		AuthorID:     authorID,
		MergedByID:   mergedByID,
		MilestoneID:  milestoneID,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
	})
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		existing, ok, mapErr := e.idMap("merge_request").Get(ctx, pr.ExternalID())
		if mapErr != nil || !ok {
			return mapErr
		}
		id = existing
	case err != nil:
		return err
	default:
		if err := e.idMap("merge_request").Set(ctx, pr.ExternalID(), id); err != nil {
			return err
		}
		if err := e.pushReference(ctx, pr.Author, found, "MergeRequest", "author_id", id); err != nil {
			return err
		}
	}

	return e.rewriteBody(ctx,
		func(ctx context.Context) (string, error) { return e.st.MergeRequestDescription(ctx, id) },
		func(ctx context.Context, text string) error { return e.st.UpdateMergeRequestDescription(ctx, id, text) })
}
