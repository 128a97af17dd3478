package representation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v81/github"
)

// IssueEvent is one timeline entry on an issue or pull request: a close, a
// reopen, a label change, a rename, and so on. EventKind is an open string
// from the source; the importer's registry decides which kinds are handled.
type IssueEvent struct {
	EventID        int64     `json:"event_id"`
	EventKind      string    `json:"event_kind"`
	IssueIID       int64     `json:"issue_iid"`
	OnPullRequest  bool      `json:"on_pull_request"`
	Actor          Actor     `json:"actor"`
	LabelTitle     string    `json:"label_title"`
	RenameFrom     string    `json:"rename_from"`
	RenameTo       string    `json:"rename_to"`
	MilestoneTitle string    `json:"milestone_title"`
	Assignee       Actor     `json:"assignee"`
	CommitID       string    `json:"commit_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func IssueEventFromAPI(issueIID int64, onPullRequest bool, raw *github.IssueEvent) IssueEvent {
	if raw == nil {
		return IssueEvent{}
	}

	ev := IssueEvent{
		EventID:       raw.GetID(),
		EventKind:     raw.GetEvent(),
		IssueIID:      issueIID,
		OnPullRequest: onPullRequest,
		Actor:         actorFromUser(raw.GetActor()),
		CommitID:      raw.GetCommitID(),
		CreatedAt:     raw.GetCreatedAt().Time,
	}
	if l := raw.GetLabel(); l != nil {
		ev.LabelTitle = l.GetName()
	}
	if r := raw.GetRename(); r != nil {
		ev.RenameFrom = r.GetFrom()
		ev.RenameTo = r.GetTo()
	}
	if m := raw.GetMilestone(); m != nil {
		ev.MilestoneTitle = m.GetTitle()
	}
	if a := raw.GetAssignee(); a != nil {
		ev.Assignee = actorFromUser(a)
	}
	return ev
}

func (e *IssueEvent) Kind() Kind { return KindIssueEvent }

// ExternalID uses the native event id when present. Some event types (for
// example cross references) arrive without one; those compose a stable key
// from the event kind, the parent iid and the related commit.
func (e *IssueEvent) ExternalID() string {
	if e.EventID != 0 {
		return strconv.FormatInt(e.EventID, 10)
	}
	return fmt.Sprintf("%s#%d-in-%s", e.EventKind, e.IssueIID, e.CommitID)
}
