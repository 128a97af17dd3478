package importer

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoport/internal/cache"
	"repoport/internal/representation"
	"repoport/internal/store"
	"repoport/internal/user"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testProject() Project {
	return Project{ID: 1, NamespaceID: 3, CreatorID: 7, GhostUserID: 99, RunID: "run-1"}
}

func newTestExecutor(t *testing.T) (*Executor, *store.Memory, *cache.Memory) {
	t.Helper()
	st := store.NewMemory()
	ks := cache.NewMemory()
	log := quietLogger()

	finder, err := user.NewFinder(user.FinderConfig{
		ProjectID:     1,
		CreatorID:     7,
		GhostUserID:   99,
		AllowIDLookup: true,
	}, st, ks, nil, log)
	require.NoError(t, err)

	exec, err := NewExecutor(ExecutorConfig{
		Project:  testProject(),
		Store:    st,
		Keyspace: ks,
		Finder:   finder,
		Log:      log,
	})
	require.NoError(t, err)
	return exec, st, ks
}

func TestExecuteLabelOnceAndOnReplay(t *testing.T) {
	ctx := context.Background()
	exec, _, ks := newTestExecutor(t)

	label := &representation.Label{LabelID: 11, Title: "bug", Color: "#ff0000"}
	require.NoError(t, exec.Execute(ctx, label))
	assert.Equal(t, Counts{Imported: 1}, exec.metrics.CountsFor("label"))

	done, err := cache.NewImportedSet(ks, 1, "label").Contains(ctx, "11")
	require.NoError(t, err)
	assert.True(t, done, "completed object must be in the imported set")

	// A redelivered job is dropped by the set check before the importer runs.
	require.NoError(t, exec.Execute(ctx, label))
	assert.Equal(t, Counts{Imported: 1}, exec.metrics.CountsFor("label"))
}

func TestExecuteIssueResolvesIdentityAndMilestone(t *testing.T) {
	ctx := context.Background()
	exec, st, _ := newTestExecutor(t)
	st.SeedUser(2001, "alice@example.com", 500)

	require.NoError(t, exec.Execute(ctx, &representation.Milestone{IID: 5, Title: "v1", State: "active"}))

	issue := &representation.Issue{
		IID:             1,
		Title:           "crash on start",
		Description:     "it crashes",
		State:           "opened",
		Author:          representation.Actor{ID: 500, Login: "alice"},
		Assignees:       []representation.Actor{{ID: 500, Login: "alice"}, {ID: 777, Login: "stranger"}},
		MilestoneNumber: 5,
		CreatedAt:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, exec.Execute(ctx, issue))

	row, ok := st.IssueByIID(1, 1)
	require.True(t, ok)
	assert.Equal(t, int64(2001), row.AuthorID, "mapped identity must be used directly")
	assert.Equal(t, "it crashes", row.Description, "mapped identity must not be attributed")
	require.NotNil(t, row.MilestoneID)
	assert.Equal(t, []int64{2001}, row.AssigneeIDs, "unmappable assignees are dropped")
}

func TestExecuteIssueUnmappedAuthorFallsBackToCreator(t *testing.T) {
	ctx := context.Background()
	exec, st, _ := newTestExecutor(t)

	issue := &representation.Issue{
		IID:         2,
		Title:       "docs",
		Description: "please fix",
		State:       "opened",
		Author:      representation.Actor{ID: 555, Login: "bob"},
	}
	require.NoError(t, exec.Execute(ctx, issue))

	row, ok := st.IssueByIID(1, 2)
	require.True(t, ok)
	assert.Equal(t, int64(7), row.AuthorID)
	assert.Equal(t, "*Created by: bob*\n\nplease fix", row.Description)
}

func TestExecuteIssueReplayAfterLostSetMembership(t *testing.T) {
	ctx := context.Background()
	exec, st, ks := newTestExecutor(t)

	issue := &representation.Issue{IID: 3, Title: "flaky", State: "opened"}
	require.NoError(t, exec.Execute(ctx, issue))
	require.NoError(t, cache.NewImportedSet(ks, 1, "issue").Clear(ctx))

	// The insert collides on the uniqueness constraint and the importer
	// recovers the existing row through the id map.
	require.NoError(t, exec.Execute(ctx, issue))
	assert.Equal(t, 1, st.CountIssues())
}

func TestExecuteNoteWithMissingParentSkips(t *testing.T) {
	ctx := context.Background()
	exec, st, ks := newTestExecutor(t)

	note := &representation.Note{
		NoteID:       901,
		NoteableType: "Issue",
		NoteableIID:  42,
		Body:         "orphaned",
	}
	require.NoError(t, exec.Execute(ctx, note))

	assert.Equal(t, 0, st.CountNotes())
	assert.Equal(t, Counts{Skipped: 1}, exec.metrics.CountsFor("note"))
	done, err := cache.NewImportedSet(ks, 1, "note").Contains(ctx, "901")
	require.NoError(t, err)
	assert.True(t, done, "a skipped object must never be dispatched again")
}

func TestExecuteNoteAgainstImportedIssue(t *testing.T) {
	ctx := context.Background()
	exec, st, _ := newTestExecutor(t)

	require.NoError(t, exec.Execute(ctx, &representation.Issue{IID: 1, Title: "parent", State: "opened"}))
	require.NoError(t, exec.Execute(ctx, &representation.Note{
		NoteID:       902,
		NoteableType: "Issue",
		NoteableIID:  1,
		Author:       representation.Actor{ID: 555, Login: "bob"},
		Body:         "me too",
	}))

	assert.Equal(t, 1, st.CountNotes())
	note, ok := st.NoteByID(2)
	require.True(t, ok)
	assert.Equal(t, "Issue", note.NoteableType)
	assert.Equal(t, "*Created by: bob*\n\nme too", note.Body)
}

func TestExecuteCollaborator(t *testing.T) {
	ctx := context.Background()
	exec, st, _ := newTestExecutor(t)
	st.SeedUser(2001, "", 500)

	require.NoError(t, exec.Execute(ctx, &representation.Collaborator{
		UserID:   500,
		Login:    "alice",
		RoleName: "write",
	}))

	members := st.Members()
	require.Len(t, members, 1)
	assert.Equal(t, int64(2001), members[0].UserID)
	assert.Equal(t, user.AccessDeveloper, members[0].AccessLevel)
}

func TestExecuteCollaboratorUnknownRoleIsTerminal(t *testing.T) {
	ctx := context.Background()
	exec, st, ks := newTestExecutor(t)

	require.NoError(t, exec.Execute(ctx, &representation.Collaborator{
		UserID:   500,
		Login:    "alice",
		RoleName: "custom-security-team",
	}))

	assert.Equal(t, 0, st.CountMembers())
	assert.Equal(t, Counts{Failed: 1}, exec.metrics.CountsFor("collaborator"))
	done, err := cache.NewImportedSet(ks, 1, "collaborator").Contains(ctx, "500")
	require.NoError(t, err)
	assert.True(t, done, "a terminal failure must not be retried")
}

func TestExecuteIssueEvents(t *testing.T) {
	ctx := context.Background()
	exec, st, _ := newTestExecutor(t)

	require.NoError(t, exec.Execute(ctx, &representation.Issue{IID: 1, Title: "parent", State: "opened"}))

	require.NoError(t, exec.Execute(ctx, &representation.IssueEvent{
		EventID:   9001,
		EventKind: "closed",
		IssueIID:  1,
		Actor:     representation.Actor{ID: 500, Login: "alice"},
		CreatedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}))
	assert.Equal(t, 1, st.CountEvents())

	// Unmodeled timeline entries are dropped without failing the run.
	require.NoError(t, exec.Execute(ctx, &representation.IssueEvent{
		EventID:   9002,
		EventKind: "locked",
		IssueIID:  1,
	}))
	assert.Equal(t, 1, st.CountEvents())
}

func TestExecuteReleaseAttachmentsMissingReleaseSkips(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newTestExecutor(t)

	require.NoError(t, exec.Execute(ctx, &representation.ReleaseAttachments{
		ReleaseID:   31,
		Tag:         "v9.9.9",
		Description: "never imported",
	}))
	assert.Equal(t, Counts{Skipped: 1}, exec.metrics.CountsFor("release_attachments"))
}
