package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/props"
	"github.com/offlinemind/memstore/pkg/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := storage.Open(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	s, err := Open(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = db.Close()
	})
	return s, db, path
}

func reopenStore(t *testing.T, path string) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	s, err := Open(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	return s, db
}

func TestUpsertNodeIdempotentMerge(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertNode(ctx, "user:alice", LabelUser,
		props.Map{"name": props.String("Alice"), "age": props.Int(30)})
	require.NoError(t, err)
	assert.Equal(t, 1, s.NodeCount())

	// Same id again: merged, not duplicated, incoming values win key-wise.
	second, err := s.UpsertNode(ctx, "user:alice", LabelUser,
		props.Map{"age": props.Int(31), "city": props.String("Berlin")})
	require.NoError(t, err)
	assert.Equal(t, 1, s.NodeCount())

	assert.Equal(t, props.String("Alice"), second.Properties["name"])
	assert.Equal(t, props.Int(31), second.Properties["age"])
	assert.Equal(t, props.String("Berlin"), second.Properties["city"])
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestUpsertNodeValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "", LabelUser, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.UpsertNode(ctx, "user:x", "", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUpsertEdgeReferentialIntegrity(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "a", LabelUser, nil)
	require.NoError(t, err)

	// Missing endpoint: no edge is created and the count stays put.
	_, err = s.UpsertEdge(ctx, "a", "ghost", RelHasMemory, nil, 1.0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, 0, s.EdgeCount())

	_, err = s.UpsertEdge(ctx, "ghost", "a", RelHasMemory, nil, 1.0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, 0, s.EdgeCount())
}

func TestUpsertEdgeIdentityAndMerge(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "a", LabelUser, nil)
	require.NoError(t, err)
	_, err = s.UpsertNode(ctx, "b", LabelTopic, nil)
	require.NoError(t, err)

	e1, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)

	// Identical tuple collapses into the same edge, weight refreshed.
	e2, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 2.5)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, 2.5, e2.Weight)
	assert.Equal(t, e1.CreatedAt, e2.CreatedAt)
	assert.Equal(t, 1, s.EdgeCount())

	// Different relationship type between the same pair coexists.
	e3, err := s.UpsertEdge(ctx, "a", "b", RelRelatedTo, nil, 1.0)
	require.NoError(t, err)
	assert.NotEqual(t, e1.ID, e3.ID)
	assert.Equal(t, 2, s.EdgeCount())

	// Different properties yield a distinct edge id too.
	e4, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo,
		props.Map{"k": props.String("v")}, 1.0)
	require.NoError(t, err)
	assert.NotEqual(t, e1.ID, e4.ID)
	assert.Equal(t, 3, s.EdgeCount())
}

func TestEdgeIDDeterministic(t *testing.T) {
	p := props.Map{"b": props.Int(2), "a": props.Int(1)}
	q := props.Map{"a": props.Int(1), "b": props.Int(2)}
	assert.Equal(t, EdgeID("s", "REL", "t", p), EdgeID("s", "REL", "t", q))
	assert.Len(t, EdgeID("s", "REL", "t", nil), 64)
	assert.NotEqual(t, EdgeID("s", "REL", "t", nil), EdgeID("t", "REL", "s", nil))
}

func TestDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	db, err := storage.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	s, err := Open(ctx, db, zap.NewNop())
	require.NoError(t, err)

	_, err = s.UpsertNode(ctx, "a", LabelUser, props.Map{"name": props.String("A")})
	require.NoError(t, err)
	_, err = s.UpsertNode(ctx, "b", LabelTopic, nil)
	require.NoError(t, err)
	edge, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 2.0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, db.Close())

	// Reopen from the same file and verify the replay is equivalent.
	db2, err := storage.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	s2, err := Open(ctx, db2, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	assert.Equal(t, 2, s2.NodeCount())
	assert.Equal(t, 1, s2.EdgeCount())

	a, err := s2.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, props.String("A"), a.Properties["name"])

	edges, err := s2.GetEdges(ctx, "a", DirOut)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, edge.ID, edges[0].ID)
	assert.Equal(t, 2.0, edges[0].Weight)
}

func TestGetNodeNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.GetNode(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetEdgesDirections(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	_, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)
	_, err = s.UpsertEdge(ctx, "c", "a", RelRelatedTo, nil, 1.0)
	require.NoError(t, err)

	out, err := s.GetEdges(ctx, "a", DirOut)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].TargetID)

	in, err := s.GetEdges(ctx, "a", DirIn)
	require.NoError(t, err)
	assert.Len(t, in, 1)
	assert.Equal(t, "c", in[0].SourceID)

	both, err := s.GetEdges(ctx, "a", DirBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = s.GetEdges(ctx, "a", Direction("sideways"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeleteNodeCascades(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	_, err := s.UpsertEdge(ctx, "a", "b", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)
	_, err = s.UpsertEdge(ctx, "b", "c", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(ctx, "b"))
	assert.Equal(t, 2, s.NodeCount())
	assert.Equal(t, 0, s.EdgeCount())

	out, err := s.GetEdges(ctx, "a", DirBoth)
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.ErrorIs(t, s.DeleteNode(ctx, "b"), errs.ErrNotFound)
}

func TestStatsSnapshot(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "u", LabelUser, nil)
	require.NoError(t, err)
	_, err = s.UpsertNode(ctx, "t", LabelTopic, nil)
	require.NoError(t, err)
	_, err = s.UpsertEdge(ctx, "u", "t", RelRelatesTo, nil, 1.0)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 1, stats.NodeTypes[LabelUser])
	assert.Equal(t, 1, stats.NodeTypes[LabelTopic])
	assert.Equal(t, 1, stats.EdgeTypes[RelRelatesTo])

	// The snapshot is a copy; mutating it must not leak back.
	stats.NodeTypes[LabelUser] = 99
	assert.Equal(t, 1, s.Stats().NodeTypes[LabelUser])
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.UpsertNode(ctx, "a", LabelUser, nil)
	assert.ErrorIs(t, err, errs.ErrStoreClosed)
	_, err = s.GetNode(ctx, "a")
	assert.ErrorIs(t, err, errs.ErrStoreClosed)
	assert.ErrorIs(t, s.DeleteNode(ctx, "a"), errs.ErrStoreClosed)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, "hub", LabelUser, nil)
	require.NoError(t, err)

	// One writer growing the graph while several readers traverse it.
	const nodes = 20
	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < nodes; i++ {
			id := fmt.Sprintf("n%d", i)
			if _, err := s.UpsertNode(ctx, id, LabelEntity, nil); err != nil {
				errCh <- err
				return
			}
			if _, err := s.UpsertEdge(ctx, "hub", id, RelRelatesTo, nil, 1.0); err != nil {
				errCh <- err
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < nodes; i++ {
				if _, err := s.GetNode(ctx, "hub"); err != nil {
					errCh <- err
					return
				}
				if _, err := s.GetRelated(ctx, "hub", nil, 2); err != nil {
					errCh <- err
					return
				}
				_ = s.Stats()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, nodes+1, s.NodeCount())
	assert.Equal(t, nodes, s.EdgeCount())
}

func TestReturnedCopiesAreIsolated(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertNode(ctx, "a", LabelUser, props.Map{"k": props.String("v")})
	require.NoError(t, err)
	n.Properties["k"] = props.String("mutated")

	fresh, err := s.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, props.String("v"), fresh.Properties["k"])
}
