// Package representation defines the normalized, immutable records the
// import pipeline passes around. Each record is built once from a raw API
// payload by a total FromAPI constructor (missing optional fields become
// zero values, never panics), exposes a deterministic external id for
// deduplication, and serializes losslessly for asynchronous dispatch.
package representation

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindIssue              Kind = "issue"
	KindPullRequest        Kind = "pull_request"
	KindNote               Kind = "note"
	KindDiffNote           Kind = "diff_note"
	KindLabel              Kind = "label"
	KindMilestone          Kind = "milestone"
	KindProtectedBranch    Kind = "protected_branch"
	KindReleaseAttachments Kind = "release_attachments"
	KindIssueEvent         Kind = "issue_event"
	KindCollaborator       Kind = "collaborator"
	KindLfsObject          Kind = "lfs_object"
)

// Representation is one normalized object awaiting persistence. Values are
// consumed by exactly one per-object importer and then discarded.
type Representation interface {
	Kind() Kind
	// ExternalID is the dedup key within (project, kind). For payloads
	// without a native id it is composed from stable parts of the payload.
	ExternalID() string
}

// Actor is the external identity attached to a payload.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

func (a Actor) IsZero() bool { return a.ID == 0 && a.Login == "" }

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Marshal wraps a representation in a tagged envelope for enqueueing.
func Marshal(rep Representation) ([]byte, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("representation: marshal %s: %w", rep.Kind(), err)
	}
	return json.Marshal(envelope{Kind: rep.Kind(), Data: data})
}

// Unmarshal restores a representation from its tagged envelope.
func Unmarshal(raw []byte) (Representation, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("representation: envelope: %w", err)
	}

	var rep Representation
	switch env.Kind {
	case KindIssue:
		rep = &Issue{}
	case KindPullRequest:
		rep = &PullRequest{}
	case KindNote:
		rep = &Note{}
	case KindDiffNote:
		rep = &DiffNote{}
	case KindLabel:
		rep = &Label{}
	case KindMilestone:
		rep = &Milestone{}
	case KindProtectedBranch:
		rep = &ProtectedBranch{}
	case KindReleaseAttachments:
		rep = &ReleaseAttachments{}
	case KindIssueEvent:
		rep = &IssueEvent{}
	case KindCollaborator:
		rep = &Collaborator{}
	case KindLfsObject:
		rep = &LfsObject{}
	default:
		return nil, fmt.Errorf("representation: unknown kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, rep); err != nil {
		return nil, fmt.Errorf("representation: decode %s: %w", env.Kind, err)
	}
	return rep, nil
}
