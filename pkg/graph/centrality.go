package graph

import (
	"context"
	"math"

	"github.com/offlinemind/memstore/pkg/errs"
)

// Centrality computation defaults. Deterministic for a fixed iteration
// count and tolerance.
const (
	DefaultDamping    = 0.85
	DefaultIterations = 100
	convergenceEps    = 1e-6
)

// ComputeCentrality scores every node with an iterative PageRank over the
// full graph. The context cancels long runs; the engine imposes no
// internal timeout.
func (s *Store) ComputeCentrality(ctx context.Context) (map[string]float64, error) {
	return s.ComputeCentralityOpts(ctx, DefaultIterations, DefaultDamping)
}

// ComputeCentralityOpts runs PageRank with explicit iteration count and
// damping factor. Out-of-range arguments fall back to the defaults.
func (s *Store) ComputeCentralityOpts(ctx context.Context, iterations int, damping float64) (map[string]float64, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if damping <= 0 || damping > 1 {
		damping = DefaultDamping
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("compute_centrality", errs.ErrStoreClosed)
	}

	if len(s.nodes) == 0 {
		return map[string]float64{}, nil
	}

	// Index the topology once; iteration works on dense slices.
	ids := make([]string, 0, len(s.nodes))
	indexOf := make(map[string]int, len(s.nodes))
	for id := range s.nodes {
		indexOf[id] = len(ids)
		ids = append(ids, id)
	}

	outDegree := make([]int, len(ids))
	inLinks := make([][]int, len(ids))
	for _, e := range s.edges {
		u := indexOf[e.SourceID]
		v := indexOf[e.TargetID]
		outDegree[u]++
		inLinks[v] = append(inLinks[v], u)
	}

	n := float64(len(ids))
	scores := make([]float64, len(ids))
	next := make([]float64, len(ids))
	for i := range scores {
		scores[i] = 1.0 / n
	}

	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap("compute_centrality", err)
		}

		maxDiff := 0.0
		for i := range ids {
			rank := (1.0 - damping) / n
			for _, u := range inLinks[i] {
				if deg := outDegree[u]; deg > 0 {
					rank += damping * scores[u] / float64(deg)
				}
			}
			next[i] = rank
			if diff := math.Abs(next[i] - scores[i]); diff > maxDiff {
				maxDiff = diff
			}
		}
		copy(scores, next)
		if maxDiff < convergenceEps {
			break
		}
	}

	result := make(map[string]float64, len(ids))
	for i, id := range ids {
		result[id] = scores[i]
	}
	return result, nil
}
