package importer

import (
	"context"

	gh "github.com/google/go-github/v81/github"

	"repoport/internal/representation"
)

// Source is the slice of the remote API the collection loops consume.
// *github.Client satisfies it; tests substitute canned pages.
type Source interface {
	Issues(ctx context.Context, page int) ([]*gh.Issue, int, error)
	PullRequests(ctx context.Context, page int) ([]*gh.PullRequest, int, error)
	Labels(ctx context.Context, page int) ([]*gh.Label, int, error)
	Milestones(ctx context.Context, page int) ([]*gh.Milestone, int, error)
	IssueComments(ctx context.Context, page int) ([]*gh.IssueComment, int, error)
	ReviewComments(ctx context.Context, page int) ([]*gh.PullRequestComment, int, error)
	IssueEvents(ctx context.Context, issueNumber, page int) ([]*gh.IssueEvent, int, error)
	Collaborators(ctx context.Context, page int) ([]*gh.User, int, error)
	ProtectedBranches(ctx context.Context, page int) ([]*gh.Branch, int, error)
	BranchProtection(ctx context.Context, branch string) (*gh.Protection, error)
	Releases(ctx context.Context, page int) ([]*gh.RepositoryRelease, int, error)
}

// LfsEnumerator lists the LFS pointers of the imported repository. They
// come from the cloned git data, not the remote API.
type LfsEnumerator interface {
	LfsObjects(ctx context.Context) ([]representation.LfsObject, error)
}

func issuesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.Issues(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		var reps []representation.Representation
		for _, item := range raw {
			issue := representation.IssueFromAPI(item)
			// Pull requests ride along in the issues collection; they are
			// imported from their own collection with full branch data.
			if issue.IsPullRequest {
				continue
			}
			reps = append(reps, &issue)
		}
		return reps, next, nil
	}
}

func pullRequestsPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.PullRequests(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			pr := representation.PullRequestFromAPI(item)
			reps = append(reps, &pr)
		}
		return reps, next, nil
	}
}

func labelsPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.Labels(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			label := representation.LabelFromAPI(item)
			reps = append(reps, &label)
		}
		return reps, next, nil
	}
}

func milestonesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.Milestones(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			ms := representation.MilestoneFromAPI(item)
			reps = append(reps, &ms)
		}
		return reps, next, nil
	}
}

func notesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.IssueComments(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			note := representation.NoteFromAPI(item)
			reps = append(reps, &note)
		}
		return reps, next, nil
	}
}

func diffNotesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.ReviewComments(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			note := representation.DiffNoteFromAPI(item)
			reps = append(reps, &note)
		}
		return reps, next, nil
	}
}

func collaboratorsPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.Collaborators(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			collab := representation.CollaboratorFromAPI(item)
			reps = append(reps, &collab)
		}
		return reps, next, nil
	}
}

// protectedBranchesPage joins the branch list with each branch's protection
// settings; the list payload alone does not carry force-push rules.
func protectedBranchesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.ProtectedBranches(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			protection, err := src.BranchProtection(ctx, item.GetName())
			if err != nil {
				return nil, 0, err
			}
			branch := representation.ProtectedBranchFromAPI(item, protection)
			reps = append(reps, &branch)
		}
		return reps, next, nil
	}
}

func releasesPage(src Source) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.Releases(ctx, page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			rel := representation.ReleaseAttachmentsFromAPI(item)
			reps = append(reps, &rel)
		}
		return reps, next, nil
	}
}

// issueEventsPage fetches one parent's timeline. The parent iid is bound at
// construction; the run coordinator builds one collection per parent so
// each gets its own cursor.
func issueEventsPage(src Source, issueIID int64, onPullRequest bool) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		raw, next, err := src.IssueEvents(ctx, int(issueIID), page)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(raw))
		for _, item := range raw {
			ev := representation.IssueEventFromAPI(issueIID, onPullRequest, item)
			reps = append(reps, &ev)
		}
		return reps, next, nil
	}
}

// lfsObjectsPage exposes the git enumeration as a single-page collection so
// LFS pointers flow through the same filter and dispatch path.
func lfsObjectsPage(lfs LfsEnumerator) pageFunc {
	return func(ctx context.Context, page int) ([]representation.Representation, int, error) {
		if page > 0 {
			return nil, 0, nil
		}
		objects, err := lfs.LfsObjects(ctx)
		if err != nil {
			return nil, 0, err
		}
		reps := make([]representation.Representation, 0, len(objects))
		for idx := range objects {
			reps = append(reps, &objects[idx])
		}
		return reps, 0, nil
	}
}
