package representation

import (
	"strconv"
	"time"

	"github.com/google/go-github/v81/github"
)

type PullRequest struct {
	IID             int64      `json:"iid"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	State           string     `json:"state"`
	SourceBranch    string     `json:"source_branch"`
	TargetBranch    string     `json:"target_branch"`
	Author          Actor      `json:"author"`
	MergedBy        Actor      `json:"merged_by"`
	MilestoneNumber int64      `json:"milestone_number"`
	MergedAt        *time.Time `json:"merged_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func PullRequestFromAPI(raw *github.PullRequest) PullRequest {
	if raw == nil {
		return PullRequest{}
	}

	pr := PullRequest{
		IID:          int64(raw.GetNumber()),
		Title:        raw.GetTitle(),
		Description:  raw.GetBody(),
		State:        convertState(raw.GetState(), raw.GetMergedAt().Time != (time.Time{})),
		SourceBranch: raw.GetHead().GetRef(),
		TargetBranch: raw.GetBase().GetRef(),
		Author:       actorFromUser(raw.GetUser()),
		MergedBy:     actorFromUser(raw.GetMergedBy()),
		CreatedAt:    raw.GetCreatedAt().Time,
		UpdatedAt:    raw.GetUpdatedAt().Time,
	}
	if ms := raw.GetMilestone(); ms != nil {
		pr.MilestoneNumber = int64(ms.GetNumber())
	}
	if merged := raw.GetMergedAt().Time; !merged.IsZero() {
		pr.MergedAt = &merged
	}
	return pr
}

func (p *PullRequest) Kind() Kind         { return KindPullRequest }
func (p *PullRequest) ExternalID() string { return strconv.FormatInt(p.IID, 10) }
