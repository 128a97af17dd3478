package representation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
)

type Label struct {
	LabelID int64  `json:"label_id"`
	Title   string `json:"title"`
	Color   string `json:"color"`
}

func LabelFromAPI(raw *github.Label) Label {
	if raw == nil {
		return Label{}
	}
	color := raw.GetColor()
	if color != "" && !strings.HasPrefix(color, "#") {
		color = "#" + color
	}
	return Label{
		LabelID: raw.GetID(),
		Title:   raw.GetName(),
		Color:   color,
	}
}

func (l *Label) Kind() Kind         { return KindLabel }
func (l *Label) ExternalID() string { return strconv.FormatInt(l.LabelID, 10) }

type Milestone struct {
	IID         int64      `json:"iid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	DueOn       *time.Time `json:"due_on,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func MilestoneFromAPI(raw *github.Milestone) Milestone {
	if raw == nil {
		return Milestone{}
	}
	m := Milestone{
		IID:         int64(raw.GetNumber()),
		Title:       raw.GetTitle(),
		Description: raw.GetDescription(),
		State:       "active",
		CreatedAt:   raw.GetCreatedAt().Time,
		UpdatedAt:   raw.GetUpdatedAt().Time,
	}
	if raw.GetState() == "closed" {
		m.State = "closed"
	}
	if due := raw.GetDueOn().Time; !due.IsZero() {
		m.DueOn = &due
	}
	return m
}

func (m *Milestone) Kind() Kind         { return KindMilestone }
func (m *Milestone) ExternalID() string { return strconv.FormatInt(m.IID, 10) }

type ProtectedBranch struct {
	Name           string `json:"name"`
	AllowForcePush bool   `json:"allow_force_push"`
}

func ProtectedBranchFromAPI(raw *github.Branch, protection *github.Protection) ProtectedBranch {
	if raw == nil {
		return ProtectedBranch{}
	}
	b := ProtectedBranch{Name: raw.GetName()}
	if protection != nil && protection.AllowForcePushes != nil {
		b.AllowForcePush = protection.AllowForcePushes.Enabled
	}
	return b
}

func (b *ProtectedBranch) Kind() Kind         { return KindProtectedBranch }
func (b *ProtectedBranch) ExternalID() string { return b.Name }

// ReleaseAttachments carries a release body whose attachment links need
// rewriting onto internal storage.
type ReleaseAttachments struct {
	ReleaseID   int64  `json:"release_id"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
}

func ReleaseAttachmentsFromAPI(raw *github.RepositoryRelease) ReleaseAttachments {
	if raw == nil {
		return ReleaseAttachments{}
	}
	return ReleaseAttachments{
		ReleaseID:   raw.GetID(),
		Tag:         raw.GetTagName(),
		Description: raw.GetBody(),
	}
}

func (r *ReleaseAttachments) Kind() Kind { return KindReleaseAttachments }
func (r *ReleaseAttachments) ExternalID() string {
	return "release_attachments#" + strconv.FormatInt(r.ReleaseID, 10)
}

type Collaborator struct {
	UserID   int64  `json:"user_id"`
	Login    string `json:"login"`
	RoleName string `json:"role_name"`
}

func CollaboratorFromAPI(raw *github.User) Collaborator {
	if raw == nil {
		return Collaborator{}
	}
	return Collaborator{
		UserID:   raw.GetID(),
		Login:    raw.GetLogin(),
		RoleName: raw.GetRoleName(),
	}
}

func (c *Collaborator) Kind() Kind         { return KindCollaborator }
func (c *Collaborator) ExternalID() string { return strconv.FormatInt(c.UserID, 10) }

type LfsObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

func (o *LfsObject) Kind() Kind         { return KindLfsObject }
func (o *LfsObject) ExternalID() string { return o.OID }
