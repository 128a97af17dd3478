package representation

import (
	"testing"
	"time"

	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueFromAPI(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := &github.Issue{
		Number:    github.Ptr(42),
		Title:     github.Ptr("Crash on empty input"),
		Body:      github.Ptr("steps to reproduce"),
		State:     github.Ptr("closed"),
		User:      &github.User{ID: github.Ptr(int64(7)), Login: github.Ptr("alice")},
		Assignees: []*github.User{{ID: github.Ptr(int64(9)), Login: github.Ptr("bob")}},
		Milestone: &github.Milestone{Number: github.Ptr(3)},
		CreatedAt: &github.Timestamp{Time: created},
		UpdatedAt: &github.Timestamp{Time: created.Add(time.Hour)},
	}

	issue := IssueFromAPI(raw)

	assert.Equal(t, int64(42), issue.IID)
	assert.Equal(t, "42", issue.ExternalID())
	assert.Equal(t, "closed", issue.State)
	assert.Equal(t, Actor{ID: 7, Login: "alice"}, issue.Author)
	assert.Equal(t, []Actor{{ID: 9, Login: "bob"}}, issue.Assignees)
	assert.Equal(t, int64(3), issue.MilestoneNumber)
	assert.False(t, issue.IsPullRequest)
}

func TestIssueFromAPI_TotalOverSparsePayload(t *testing.T) {
	// Every optional field absent: must not panic, must default to zero.
	issue := IssueFromAPI(&github.Issue{Number: github.Ptr(1)})
	assert.Equal(t, "opened", issue.State)
	assert.True(t, issue.Author.IsZero())
	assert.Empty(t, issue.Assignees)

	assert.Equal(t, Issue{}, IssueFromAPI(nil))
}

func TestPullRequestFromAPI_MergedState(t *testing.T) {
	merged := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	raw := &github.PullRequest{
		Number:   github.Ptr(10),
		State:    github.Ptr("closed"),
		MergedAt: &github.Timestamp{Time: merged},
		MergedBy: &github.User{ID: github.Ptr(int64(5)), Login: github.Ptr("carol")},
		Head:     &github.PullRequestBranch{Ref: github.Ptr("feature/x")},
		Base:     &github.PullRequestBranch{Ref: github.Ptr("main")},
	}

	pr := PullRequestFromAPI(raw)

	assert.Equal(t, "merged", pr.State)
	assert.Equal(t, "feature/x", pr.SourceBranch)
	assert.Equal(t, "main", pr.TargetBranch)
	require.NotNil(t, pr.MergedAt)
	assert.Equal(t, merged, *pr.MergedAt)
	assert.Equal(t, Actor{ID: 5, Login: "carol"}, pr.MergedBy)
}

func TestNoteFromAPI_NoteableFromURLs(t *testing.T) {
	tests := []struct {
		name     string
		htmlURL  string
		issueURL string
		wantType string
		wantIID  int64
	}{
		{
			name:     "issue comment",
			htmlURL:  "https://github.com/o/r/issues/5#issuecomment-1",
			issueURL: "https://api.github.com/repos/o/r/issues/5",
			wantType: "Issue",
			wantIID:  5,
		},
		{
			name:     "pull request comment",
			htmlURL:  "https://github.com/o/r/pull/8#issuecomment-2",
			issueURL: "https://api.github.com/repos/o/r/issues/8",
			wantType: "MergeRequest",
			wantIID:  8,
		},
		{
			name:     "malformed parent url",
			htmlURL:  "https://github.com/o/r/issues/5",
			issueURL: "not-a-url",
			wantType: "Issue",
			wantIID:  0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			note := NoteFromAPI(&github.IssueComment{
				ID:       github.Ptr(int64(100)),
				HTMLURL:  github.Ptr(tc.htmlURL),
				IssueURL: github.Ptr(tc.issueURL),
				Body:     github.Ptr("hi"),
			})
			assert.Equal(t, tc.wantType, note.NoteableType)
			assert.Equal(t, tc.wantIID, note.NoteableIID)
		})
	}
}

func TestDiffNote_Fallback(t *testing.T) {
	note := DiffNoteFromAPI(&github.PullRequestComment{
		ID:             github.Ptr(int64(3)),
		PullRequestURL: github.Ptr("https://api.github.com/repos/o/r/pulls/2"),
		Body:           github.Ptr("needs a nil check"),
		DiffHunk:       github.Ptr("@@ -1 +1 @@\n-old\n+new"),
	})

	assert.False(t, note.PositionValid())
	assert.Equal(t, "```diff\n@@ -1 +1 @@\n-old\n+new\n```\n\nneeds a nil check", note.FallbackBody())
	assert.Equal(t, int64(2), note.MergeRequestIID)
}

func TestIssueEvent_ComposedExternalID(t *testing.T) {
	withID := IssueEventFromAPI(4, false, &github.IssueEvent{
		ID:    github.Ptr(int64(77)),
		Event: github.Ptr("closed"),
	})
	assert.Equal(t, "77", withID.ExternalID())

	withoutID := IssueEventFromAPI(4, false, &github.IssueEvent{
		Event:    github.Ptr("cross-referenced"),
		CommitID: github.Ptr("abc123"),
	})
	assert.Equal(t, "cross-referenced#4-in-abc123", withoutID.ExternalID())
}

func TestLabelFromAPI_ColorNormalized(t *testing.T) {
	label := LabelFromAPI(&github.Label{
		ID:    github.Ptr(int64(12)),
		Name:  github.Ptr("bug"),
		Color: github.Ptr("ff0000"),
	})
	assert.Equal(t, "#ff0000", label.Color)
	assert.Equal(t, "12", label.ExternalID())
}

func TestMarshalUnmarshal_RoundTripsEveryKind(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reps := []Representation{
		&Issue{IID: 1, Title: "t", Author: Actor{ID: 2, Login: "a"}},
		&PullRequest{IID: 2, State: "merged"},
		&Note{NoteID: 3, NoteableType: "Issue", NoteableIID: 1},
		&DiffNote{NoteID: 4, MergeRequestIID: 2, Path: "main.go", Line: 10},
		&Label{LabelID: 5, Title: "bug", Color: "#ff0000"},
		&Milestone{IID: 6, Title: "v1", DueOn: &due},
		&ProtectedBranch{Name: "main", AllowForcePush: true},
		&ReleaseAttachments{ReleaseID: 7, Tag: "v1.0"},
		&IssueEvent{EventID: 8, EventKind: "closed", IssueIID: 1},
		&Collaborator{UserID: 9, Login: "who", RoleName: "write"},
		&LfsObject{OID: "deadbeef", Size: 1024},
	}

	for _, rep := range reps {
		t.Run(string(rep.Kind()), func(t *testing.T) {
			raw, err := Marshal(rep)
			require.NoError(t, err)
			back, err := Unmarshal(raw)
			require.NoError(t, err)
			assert.Equal(t, rep, back)
			assert.Equal(t, rep.ExternalID(), back.ExternalID())
		})
	}
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind":"wiki_page","data":{}}`))
	assert.Error(t, err)
}
