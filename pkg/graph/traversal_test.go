package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinemind/memstore/pkg/errs"
)

// buildChain creates a -> b -> c -> d plus a back edge d -> a, so the
// graph contains a cycle.
func buildChain(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}} {
		_, err := s.UpsertEdge(ctx, pair[0], pair[1], RelRelatesTo, nil, 1.0)
		require.NoError(t, err)
	}
}

func TestGetRelatedDepthBound(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)
	ctx := context.Background()

	one, err := s.GetRelated(ctx, "a", nil, 1)
	require.NoError(t, err)
	// Both directions: b (out) and d (in).
	assert.Len(t, one, 2)

	ids := func(nodes []*Node) map[string]bool {
		set := map[string]bool{}
		for _, n := range nodes {
			set[n.ID] = true
		}
		return set
	}
	assert.True(t, ids(one)["b"])
	assert.True(t, ids(one)["d"])

	two, err := s.GetRelated(ctx, "a", nil, 2)
	require.NoError(t, err)
	assert.Len(t, two, 3)
	assert.False(t, ids(two)["a"], "start node must not be included")
}

func TestGetRelatedTerminatesOnCycles(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)

	// A depth far beyond the graph's diameter must still terminate and
	// visit each node once.
	related, err := s.GetRelated(context.Background(), "a", nil, 100)
	require.NoError(t, err)
	assert.Len(t, related, 3)
}

func TestGetRelatedFilter(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"u", "m", "t"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	_, err := s.UpsertEdge(ctx, "u", "m", RelHasMemory, nil, 1.0)
	require.NoError(t, err)
	_, err = s.UpsertEdge(ctx, "u", "t", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)

	related, err := s.GetRelated(ctx, "u", []string{RelHasMemory}, 2)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "m", related[0].ID)
}

func TestGetRelatedMissingNode(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.GetRelated(context.Background(), "nope", nil, 2)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFindPathsSimpleAndBounded(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)
	ctx := context.Background()

	paths, err := s.FindPaths(ctx, "a", "c", 3)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"a", "b", "c"}, paths[0].Nodes)
	assert.Len(t, paths[0].Edges, 2)
	assert.Equal(t, 2.0, paths[0].Weight)

	// Depth bound below the shortest route: nothing found, no error.
	short, err := s.FindPaths(ctx, "a", "c", 1)
	require.NoError(t, err)
	assert.Empty(t, short)
}

func TestFindPathsMultipleRoutes(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s", "x", "y", "t"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	for _, pair := range [][2]string{{"s", "x"}, {"x", "t"}, {"s", "y"}, {"y", "t"}} {
		_, err := s.UpsertEdge(ctx, pair[0], pair[1], RelRelatesTo, nil, 1.0)
		require.NoError(t, err)
	}

	paths, err := s.FindPaths(ctx, "s", "t", 3)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	for _, p := range paths {
		assert.Equal(t, "s", p.Nodes[0])
		assert.Equal(t, "t", p.Nodes[len(p.Nodes)-1])
		assert.Len(t, p.Edges, len(p.Nodes)-1)
	}
}

func TestFindPathsUnreachable(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "island1", LabelEntity, nil)
	require.NoError(t, err)
	_, err = s.UpsertNode(ctx, "island2", LabelEntity, nil)
	require.NoError(t, err)

	paths, err := s.FindPaths(ctx, "island1", "island2", 5)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestFindPathsMissingEndpoint(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertNode(ctx, "a", LabelEntity, nil)
	require.NoError(t, err)

	_, err = s.FindPaths(ctx, "a", "ghost", 3)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.FindPaths(ctx, "ghost", "a", 3)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFindPathsCancelled(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.FindPaths(ctx, "a", "c", 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnected(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "lonely"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	_, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)

	ok, err := s.Connected(ctx, "b", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok, "direction must not matter")

	ok, err = s.Connected(ctx, "a", "lonely", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Connected(ctx, "a", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnectedMissingNode(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertNode(ctx, "a", LabelEntity, nil)
	require.NoError(t, err)

	_, err = s.Connected(ctx, "a", "ghost", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.Connected(ctx, "ghost", "a", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Self-connectivity still requires the node to exist.
	_, err = s.Connected(ctx, "ghost", "ghost", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
