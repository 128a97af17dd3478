package importer

import (
	"context"
	"testing"
	"time"

	gh "github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoport/internal/cache"
	"repoport/internal/representation"
	"repoport/internal/store"
	"repoport/internal/user"
)

// fakeSource serves one page per collection, shaped like a small but
// complete repository: two issues (one of them a pull request ride-along),
// a merged pull request, comments on both, one timeline event and the
// usual vocabulary.
type fakeSource struct{}

func (fakeSource) Issues(_ context.Context, _ int) ([]*gh.Issue, int, error) {
	return []*gh.Issue{
		{
			Number:    gh.Ptr(1),
			Title:     gh.Ptr("crash on start"),
			Body:      gh.Ptr("it crashes"),
			State:     gh.Ptr("open"),
			User:      &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			CreatedAt: &gh.Timestamp{Time: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
		{
			Number:           gh.Ptr(2),
			Title:            gh.Ptr("fix crash"),
			State:            gh.Ptr("closed"),
			PullRequestLinks: &gh.PullRequestLinks{URL: gh.Ptr("https://api.github.com/repos/o/r/pulls/2")},
		},
	}, 0, nil
}

func (fakeSource) PullRequests(_ context.Context, _ int) ([]*gh.PullRequest, int, error) {
	return []*gh.PullRequest{
		{
			Number:   gh.Ptr(2),
			Title:    gh.Ptr("fix crash"),
			Body:     gh.Ptr("adds a nil check"),
			State:    gh.Ptr("closed"),
			User:     &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			MergedAt: &gh.Timestamp{Time: time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)},
			MergedBy: &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			Head:     &gh.PullRequestBranch{Ref: gh.Ptr("fix/crash")},
			Base:     &gh.PullRequestBranch{Ref: gh.Ptr("main")},
		},
	}, 0, nil
}

func (fakeSource) Labels(_ context.Context, _ int) ([]*gh.Label, int, error) {
	return []*gh.Label{{ID: gh.Ptr(int64(11)), Name: gh.Ptr("bug"), Color: gh.Ptr("ff0000")}}, 0, nil
}

func (fakeSource) Milestones(_ context.Context, _ int) ([]*gh.Milestone, int, error) {
	return []*gh.Milestone{{Number: gh.Ptr(5), Title: gh.Ptr("v1"), State: gh.Ptr("open")}}, 0, nil
}

func (fakeSource) IssueComments(_ context.Context, _ int) ([]*gh.IssueComment, int, error) {
	return []*gh.IssueComment{
		{
			ID:       gh.Ptr(int64(901)),
			Body:     gh.Ptr("me too"),
			User:     &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			HTMLURL:  gh.Ptr("https://github.com/o/r/issues/1#issuecomment-901"),
			IssueURL: gh.Ptr("https://api.github.com/repos/o/r/issues/1"),
		},
	}, 0, nil
}

func (fakeSource) ReviewComments(_ context.Context, _ int) ([]*gh.PullRequestComment, int, error) {
	return []*gh.PullRequestComment{
		{
			ID:             gh.Ptr(int64(902)),
			Body:           gh.Ptr("prefer errors.Is here"),
			User:           &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			PullRequestURL: gh.Ptr("https://api.github.com/repos/o/r/pulls/2"),
			Path:           gh.Ptr("main.go"),
			CommitID:       gh.Ptr("abc123"),
			Line:           gh.Ptr(14),
			Side:           gh.Ptr("RIGHT"),
		},
	}, 0, nil
}

func (fakeSource) IssueEvents(_ context.Context, issueNumber, _ int) ([]*gh.IssueEvent, int, error) {
	if issueNumber != 1 {
		return nil, 0, nil
	}
	return []*gh.IssueEvent{
		{
			ID:        gh.Ptr(int64(9001)),
			Event:     gh.Ptr("closed"),
			Actor:     &gh.User{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice")},
			CreatedAt: &gh.Timestamp{Time: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		},
	}, 0, nil
}

func (fakeSource) Collaborators(_ context.Context, _ int) ([]*gh.User, int, error) {
	return []*gh.User{
		{ID: gh.Ptr(int64(500)), Login: gh.Ptr("alice"), RoleName: gh.Ptr("write")},
	}, 0, nil
}

func (fakeSource) ProtectedBranches(_ context.Context, _ int) ([]*gh.Branch, int, error) {
	return []*gh.Branch{{Name: gh.Ptr("main")}}, 0, nil
}

func (fakeSource) BranchProtection(_ context.Context, _ string) (*gh.Protection, error) {
	return &gh.Protection{AllowForcePushes: &gh.AllowForcePushes{Enabled: true}}, nil
}

func (fakeSource) Releases(_ context.Context, _ int) ([]*gh.RepositoryRelease, int, error) {
	return []*gh.RepositoryRelease{
		{ID: gh.Ptr(int64(31)), TagName: gh.Ptr("v1.0.0"), Body: gh.Ptr("first release")},
	}, 0, nil
}

type fakeLfs struct{}

func (fakeLfs) LfsObjects(context.Context) ([]representation.LfsObject, error) {
	return []representation.LfsObject{{OID: "deadbeef", Size: 2048}}, nil
}

func TestRunnerImportsWholeProject(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ks := cache.NewMemory()
	log := quietLogger()

	st.SeedUser(2001, "alice@example.com", 500)
	st.SeedRelease(store.Release{ProjectID: 1, Tag: "v1.0.0", Description: "first release"})

	finder, err := user.NewFinder(user.FinderConfig{
		ProjectID:     1,
		CreatorID:     7,
		GhostUserID:   99,
		AllowIDLookup: true,
	}, st, ks, nil, log)
	require.NoError(t, err)

	metrics := NewMetrics(nil)
	exec, err := NewExecutor(ExecutorConfig{
		Project:  testProject(),
		Store:    st,
		Keyspace: ks,
		Finder:   finder,
		Log:      log,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{
		Project:  testProject(),
		Source:   fakeSource{},
		Lfs:      fakeLfs{},
		Store:    st,
		Keyspace: ks,
		Executor: exec,
		Log:      log,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	summary, err := runner.Run(ctx)
	require.NoError(t, err)

	want := map[string]Counts{
		"label":               {Fetched: 1, Imported: 1},
		"milestone":           {Fetched: 1, Imported: 1},
		"collaborator":        {Fetched: 1, Imported: 1},
		"protected_branch":    {Fetched: 1, Imported: 1},
		"issue":               {Fetched: 1, Imported: 1},
		"pull_request":        {Fetched: 1, Imported: 1},
		"note":                {Fetched: 1, Imported: 1},
		"diff_note":           {Fetched: 1, Imported: 1},
		"issue_event":         {Fetched: 1, Imported: 1},
		"release_attachments": {Fetched: 1, Imported: 1},
		"lfs_object":          {Fetched: 1, Imported: 1},
	}
	assert.Equal(t, want, summary)

	issue, ok := st.IssueByIID(1, 1)
	require.True(t, ok)
	assert.Equal(t, int64(2001), issue.AuthorID)

	mr, ok := st.MergeRequestByIID(1, 2)
	require.True(t, ok)
	assert.Equal(t, "merged", mr.State)
	require.NotNil(t, mr.MergedByID)
	assert.Equal(t, int64(2001), *mr.MergedByID)

	assert.Equal(t, 1, st.CountIssues(), "pull request ride-along must not become an issue")
	assert.Equal(t, 2, st.CountNotes())
	assert.Equal(t, 1, st.CountEvents())
	assert.Equal(t, 1, st.CountMembers())

	// A fully successful run tears its resume state down.
	done, err := cache.NewImportedSet(ks, 1, "issue").Contains(ctx, "1")
	require.NoError(t, err)
	assert.False(t, done)
	pos, err := cache.NewPageCursor(ks, 1, "", "issue").Current(ctx)
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
	mappings := map[string]string{
		"issue":         "1",
		"merge_request": "2",
		"note":          "901",
		"milestone":     "5",
	}
	for model, external := range mappings {
		_, ok, mapErr := cache.NewIDMap(ks, 1, model).Get(ctx, external)
		require.NoError(t, mapErr)
		assert.False(t, ok, "%s id map must be empty after teardown", model)
	}
}

func TestRunnerResumesAfterSourceFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ks := cache.NewMemory()
	log := quietLogger()
	st.SeedUser(2001, "", 500)
	st.SeedRelease(store.Release{ProjectID: 1, Tag: "v1.0.0"})

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

	// First run imports the vocabulary and issues; the pre-seeded imported
	// set membership simulates that state surviving an aborted run.
	require.NoError(t, exec.Execute(ctx, &representation.Label{LabelID: 11, Title: "bug", Color: "#ff0000"}))

	runner, err := NewRunner(RunnerConfig{
		Project:  testProject(),
		Source:   fakeSource{},
		Store:    st,
		Keyspace: ks,
		Executor: exec,
		Log:      log,
		Metrics:  exec.metrics,
	})
	require.NoError(t, err)

	summary, err := runner.Run(ctx)
	require.NoError(t, err)

	// The label was fetched again but filtered by the imported set, not
	// re-imported.
	assert.Equal(t, Counts{Fetched: 1, Imported: 1}, summary["label"])
}
