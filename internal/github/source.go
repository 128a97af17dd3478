package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v81/github"

	"repoport/internal/errs"
)

// perPage is the page size for every collection fetch. The remote caps at
// 100.
const perPage = 100

// mapAPIError converts go-github failures into the pipeline taxonomy:
// primary and secondary rate limits become RateLimited with their cooldown,
// a 404 becomes NotFound, everything else passes through for the run to
// treat as fatal.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return errs.RateLimited(time.Until(rateErr.Rate.Reset.Time))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return errs.RateLimited(abuseErr.GetRetryAfter())
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		what := "remote resource"
		if req := respErr.Response.Request; req != nil && req.URL != nil {
			what = "remote resource " + req.URL.Path
		}
		return errs.NotFound("%s", what)
	}
	return err
}

func nextPage(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	return resp.NextPage
}

// Issues lists one page of issues, oldest first. The remote mixes pull
// requests into this collection; callers filter them out.
func (c *Client) Issues(ctx context.Context, page int) ([]*github.Issue, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.IssueListByRepoOptions{
		State:     "all",
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	issues, resp, err := c.API.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return issues, nextPage(resp), nil
}

func (c *Client) PullRequests(ctx context.Context, page int) ([]*github.PullRequest, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	prs, resp, err := c.API.PullRequests.List(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return prs, nextPage(resp), nil
}

func (c *Client) Labels(ctx context.Context, page int) ([]*github.Label, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.ListOptions{Page: page, PerPage: perPage}
	labels, resp, err := c.API.Issues.ListLabels(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return labels, nextPage(resp), nil
}

func (c *Client) Milestones(ctx context.Context, page int) ([]*github.Milestone, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.MilestoneListOptions{
		State: "all",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	milestones, resp, err := c.API.Issues.ListMilestones(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return milestones, nextPage(resp), nil
}

// IssueComments lists one page of comments across the whole repository.
func (c *Client) IssueComments(ctx context.Context, page int) ([]*github.IssueComment, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	sort := "created"
	direction := "asc"
	opts := &github.IssueListCommentsOptions{
		Sort:      &sort,
		Direction: &direction,
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	comments, resp, err := c.API.Issues.ListComments(ctx, c.owner, c.repo, 0, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return comments, nextPage(resp), nil
}

// ReviewComments lists one page of pull request diff comments across the
// whole repository.
func (c *Client) ReviewComments(ctx context.Context, page int) ([]*github.PullRequestComment, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.PullRequestListCommentsOptions{
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	comments, resp, err := c.API.PullRequests.ListComments(ctx, c.owner, c.repo, 0, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return comments, nextPage(resp), nil
}

// IssueEvents lists one page of timeline events for a single issue or pull
// request. Events are a per-parent collection; the cursor key carries the
// parent iid.
func (c *Client) IssueEvents(ctx context.Context, issueNumber, page int) ([]*github.IssueEvent, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.ListOptions{Page: page, PerPage: perPage}
	events, resp, err := c.API.Issues.ListIssueEvents(ctx, c.owner, c.repo, issueNumber, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return events, nextPage(resp), nil
}

// Collaborators lists direct collaborators with their role names.
func (c *Client) Collaborators(ctx context.Context, page int) ([]*github.User, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.ListCollaboratorsOptions{
		Affiliation: "direct",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	users, resp, err := c.API.Repositories.ListCollaborators(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return users, nextPage(resp), nil
}

// ProtectedBranches lists one page of branches the remote marks protected.
func (c *Client) ProtectedBranches(ctx context.Context, page int) ([]*github.Branch, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.BranchListOptions{
		Protected: github.Ptr(true),
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}
	branches, resp, err := c.API.Repositories.ListBranches(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return branches, nextPage(resp), nil
}

// BranchProtection fetches the protection settings of one branch.
func (c *Client) BranchProtection(ctx context.Context, branch string) (*github.Protection, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	protection, _, err := c.API.Repositories.GetBranchProtection(ctx, c.owner, c.repo, branch)
	if err != nil {
		return nil, mapAPIError(err)
	}
	return protection, nil
}

func (c *Client) Releases(ctx context.Context, page int) ([]*github.RepositoryRelease, int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}
	opts := &github.ListOptions{Page: page, PerPage: perPage}
	releases, resp, err := c.API.Repositories.ListReleases(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, 0, mapAPIError(err)
	}
	return releases, nextPage(resp), nil
}

// User fetches one user's public profile, used for email-based identity
// matching.
func (c *Client) User(ctx context.Context, login string) (*github.User, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	user, _, err := c.API.Users.Get(ctx, login)
	if err != nil {
		return nil, mapAPIError(err)
	}
	return user, nil
}
