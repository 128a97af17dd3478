package representation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v81/github"
)

// DiffNote is a review comment anchored to a diff position on a pull
// request.
type DiffNote struct {
	NoteID          int64     `json:"note_id"`
	MergeRequestIID int64     `json:"merge_request_iid"`
	Author          Actor     `json:"author"`
	Body            string    `json:"body"`
	Path            string    `json:"path"`
	CommitID        string    `json:"commit_id"`
	OriginalCommit  string    `json:"original_commit"`
	DiffHunk        string    `json:"diff_hunk"`
	Line            int       `json:"line"`
	OriginalLine    int       `json:"original_line"`
	Side            string    `json:"side"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func DiffNoteFromAPI(raw *github.PullRequestComment) DiffNote {
	if raw == nil {
		return DiffNote{}
	}

	return DiffNote{
		NoteID:          raw.GetID(),
		MergeRequestIID: trailingNumber(raw.GetPullRequestURL()),
		Author:          actorFromUser(raw.GetUser()),
		Body:            raw.GetBody(),
		Path:            raw.GetPath(),
		CommitID:        raw.GetCommitID(),
		OriginalCommit:  raw.GetOriginalCommitID(),
		DiffHunk:        raw.GetDiffHunk(),
		Line:            raw.GetLine(),
		OriginalLine:    raw.GetOriginalLine(),
		Side:            raw.GetSide(),
		CreatedAt:       raw.GetCreatedAt().Time,
		UpdatedAt:       raw.GetUpdatedAt().Time,
	}
}

func (d *DiffNote) Kind() Kind         { return KindDiffNote }
func (d *DiffNote) ExternalID() string { return strconv.FormatInt(d.NoteID, 10) }

// PositionValid reports whether the note still anchors to a line in the
// current diff. When it does not, the importer falls back to a plain note
// quoting the hunk.
func (d *DiffNote) PositionValid() bool {
	return d.Path != "" && d.Line > 0
}

// FallbackBody renders the note as plain text with the hunk quoted, for
// notes whose diff position no longer applies.
func (d *DiffNote) FallbackBody() string {
	if d.DiffHunk == "" {
		return d.Body
	}
	return fmt.Sprintf("```diff\n%s\n```\n\n%s", d.DiffHunk, d.Body)
}
