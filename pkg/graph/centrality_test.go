package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCentralityEmptyGraph(t *testing.T) {
	s, _, _ := newTestStore(t)
	scores, err := s.ComputeCentrality(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestComputeCentralityHub(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	// Star topology: every spoke points at the hub.
	for _, id := range []string{"hub", "s1", "s2", "s3"} {
		_, err := s.UpsertNode(ctx, id, LabelEntity, nil)
		require.NoError(t, err)
	}
	for _, spoke := range []string{"s1", "s2", "s3"} {
		_, err := s.UpsertEdge(ctx, spoke, "hub", RelRelatesTo, nil, 1.0)
		require.NoError(t, err)
	}

	scores, err := s.ComputeCentrality(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 4)

	for _, spoke := range []string{"s1", "s2", "s3"} {
		assert.Greater(t, scores["hub"], scores[spoke],
			"hub must outrank spoke %s", spoke)
	}
	// Spokes are symmetric and must score identically.
	assert.InDelta(t, scores["s1"], scores["s2"], 1e-9)
	assert.InDelta(t, scores["s2"], scores["s3"], 1e-9)
}

func TestComputeCentralityDeterministic(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)
	ctx := context.Background()

	first, err := s.ComputeCentrality(ctx)
	require.NoError(t, err)
	second, err := s.ComputeCentrality(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A symmetric cycle distributes rank evenly.
	for id, score := range first {
		assert.InDelta(t, 0.25, score, 1e-3, "node %s", id)
	}
}

func TestComputeCentralityCancelled(t *testing.T) {
	s, _, _ := newTestStore(t)
	buildChain(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ComputeCentrality(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
