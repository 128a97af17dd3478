package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoport/internal/cache"
	"repoport/internal/queue"
	"repoport/internal/representation"
)

// recordingStrategy captures dispatched objects inline.
type recordingStrategy struct {
	dispatched []representation.Representation
}

func (s *recordingStrategy) Dispatch(_ context.Context, reps []representation.Representation) error {
	s.dispatched = append(s.dispatched, reps...)
	return nil
}

func (s *recordingStrategy) Wait(context.Context) error { return nil }

func labelRep(id int64, title string) *representation.Label {
	return &representation.Label{LabelID: id, Title: title, Color: "#00ff00"}
}

func pagedFetch(pages map[int]struct {
	reps []representation.Representation
	next int
}, requested *[]int) pageFunc {
	return func(_ context.Context, page int) ([]representation.Representation, int, error) {
		*requested = append(*requested, page)
		p := pages[page]
		return p.reps, p.next, nil
	}
}

func TestCollectionRunFiltersImportedAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	ks := cache.NewMemory()
	strategy := &recordingStrategy{}

	set := cache.NewImportedSet(ks, 1, "label")
	require.NoError(t, set.Add(ctx, "11"))

	var requested []int
	fetch := pagedFetch(map[int]struct {
		reps []representation.Representation
		next int
	}{
		0: {reps: []representation.Representation{labelRep(11, "bug"), labelRep(12, "feature")}, next: 2},
		2: {reps: []representation.Representation{labelRep(13, "chore")}, next: 0},
	}, &requested)

	coll, err := NewCollection(CollectionConfig{
		ProjectID: 1,
		Kind:      representation.KindLabel,
		Keyspace:  ks,
		Fetch:     fetch,
		Strategy:  strategy,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, coll.Run(ctx))

	assert.Equal(t, []int{0, 2}, requested)
	require.Len(t, strategy.dispatched, 2)
	assert.Equal(t, "12", strategy.dispatched[0].ExternalID())
	assert.Equal(t, "13", strategy.dispatched[1].ExternalID())

	// The cursor holds the last known resume point; it is cleared by the
	// run teardown, not by the collection.
	pos, err := cache.NewPageCursor(ks, 1, "", "label").Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Page)
}

func TestCollectionRunResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	ks := cache.NewMemory()
	strategy := &recordingStrategy{}

	cursor := cache.NewPageCursor(ks, 1, "", "label")
	require.NoError(t, cursor.Advance(ctx, cache.Position{Page: 3}))

	var requested []int
	fetch := pagedFetch(map[int]struct {
		reps []representation.Representation
		next int
	}{
		3: {reps: []representation.Representation{labelRep(14, "resumed")}, next: 0},
	}, &requested)

	coll, err := NewCollection(CollectionConfig{
		ProjectID: 1,
		Kind:      representation.KindLabel,
		Keyspace:  ks,
		Fetch:     fetch,
		Strategy:  strategy,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, coll.Run(ctx))

	assert.Equal(t, []int{3}, requested, "completed pages must not be re-fetched")
	require.Len(t, strategy.dispatched, 1)
}

func TestParallelDispatchJoinsOnWorkerPool(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newTestExecutor(t)

	pool, err := queue.NewPool(2, 16, Handler(exec), quietLogger())
	require.NoError(t, err)
	pool.Start(ctx)
	defer pool.Close()

	parallel, err := NewParallel(ParallelConfig{
		Queue:     pool,
		ProjectID: 1,
		Timeout:   10 * time.Second,
		Log:       quietLogger(),
	})
	require.NoError(t, err)

	reps := []representation.Representation{
		labelRep(21, "one"),
		labelRep(22, "two"),
		labelRep(23, "three"),
	}
	require.NoError(t, parallel.Dispatch(ctx, reps))
	require.NoError(t, parallel.Wait(ctx))

	assert.Equal(t, Counts{Imported: 3}, exec.metrics.CountsFor("label"))
}
