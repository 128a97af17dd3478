package representation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
)

// Note is a plain comment on an issue or pull request.
type Note struct {
	NoteID       int64     `json:"note_id"`
	NoteableType string    `json:"noteable_type"` // "Issue" or "MergeRequest"
	NoteableIID  int64     `json:"noteable_iid"`
	Author       Actor     `json:"author"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NoteFromAPI(raw *github.IssueComment) Note {
	if raw == nil {
		return Note{}
	}

	note := Note{
		NoteID:    raw.GetID(),
		Author:    actorFromUser(raw.GetUser()),
		Body:      raw.GetBody(),
		CreatedAt: raw.GetCreatedAt().Time,
		UpdatedAt: raw.GetUpdatedAt().Time,
	}
	// The comment payload does not say whether its parent is an issue or a
	// pull request; the HTML link does.
	if strings.Contains(raw.GetHTMLURL(), "/pull/") {
		note.NoteableType = "MergeRequest"
	} else {
		note.NoteableType = "Issue"
	}
	note.NoteableIID = trailingNumber(raw.GetIssueURL())
	return note
}

func (n *Note) Kind() Kind         { return KindNote }
func (n *Note) ExternalID() string { return strconv.FormatInt(n.NoteID, 10) }

// trailingNumber extracts the numeric tail of a resource URL, e.g. the
// issue number from ".../issues/42". Zero when absent or malformed.
func trailingNumber(url string) int64 {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 || idx == len(url)-1 {
		return 0
	}
	n, err := strconv.ParseInt(url[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
