package representation

import (
	"strconv"
	"time"

	"github.com/google/go-github/v81/github"
)

// Issue is a normalized source issue. The source API mixes pull requests
// into the issues collection; IsPullRequest lets the collection importer
// drop those before dispatch.
type Issue struct {
	IID             int64     `json:"iid"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	State           string    `json:"state"`
	Author          Actor     `json:"author"`
	Assignees       []Actor   `json:"assignees"`
	MilestoneNumber int64     `json:"milestone_number"`
	IsPullRequest   bool      `json:"is_pull_request"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func IssueFromAPI(raw *github.Issue) Issue {
	if raw == nil {
		return Issue{}
	}

	issue := Issue{
		IID:           int64(raw.GetNumber()),
		Title:         raw.GetTitle(),
		Description:   raw.GetBody(),
		State:         convertState(raw.GetState(), false),
		Author:        actorFromUser(raw.GetUser()),
		IsPullRequest: raw.IsPullRequest(),
		CreatedAt:     raw.GetCreatedAt().Time,
		UpdatedAt:     raw.GetUpdatedAt().Time,
	}
	if ms := raw.GetMilestone(); ms != nil {
		issue.MilestoneNumber = int64(ms.GetNumber())
	}
	for _, assignee := range raw.Assignees {
		if a := actorFromUser(assignee); !a.IsZero() {
			issue.Assignees = append(issue.Assignees, a)
		}
	}
	return issue
}

func (i *Issue) Kind() Kind         { return KindIssue }
func (i *Issue) ExternalID() string { return strconv.FormatInt(i.IID, 10) }

func actorFromUser(u *github.User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.GetID(), Login: u.GetLogin()}
}

// convertState maps the source's open/closed onto the internal state
// vocabulary; merged wins over closed for pull requests.
func convertState(state string, merged bool) string {
	switch {
	case merged:
		return "merged"
	case state == "closed":
		return "closed"
	default:
		return "opened"
	}
}
