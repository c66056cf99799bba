package graph

import (
	"context"

	"github.com/offlinemind/memstore/pkg/errs"
)

// Path is one route between two nodes: the node ids visited in order and
// the edges taken between them. Len(Edges) == len(Nodes)-1 and never
// exceeds the traversal's depth bound.
type Path struct {
	Nodes  []string `json:"nodes"`
	Edges  []*Edge  `json:"edges"`
	Weight float64  `json:"weight"`
}

// GetRelated returns the nodes reachable from nodeID within maxDepth hops
// via breadth-first traversal over both edge directions. relFilter, when
// non-empty, restricts which relationship types are followed. The start
// node itself is not included. The result is finite and re-runnable.
func (s *Store) GetRelated(ctx context.Context, nodeID string, relFilter []string, maxDepth int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("get_related", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[nodeID]; !ok {
		return nil, errs.Wrapf("get_related", errs.ErrNotFound, "node %q", nodeID)
	}

	allowed := toSet(relFilter)

	type frontier struct {
		id    string
		depth int
	}
	visited := map[string]bool{nodeID: true}
	queue := []frontier{{nodeID, 0}}
	var related []*Node

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap("get_related", err)
		}
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		for _, e := range s.neighbors(current.id) {
			if allowed != nil && !allowed[e.RelationshipType] {
				continue
			}
			next := e.TargetID
			if next == current.id {
				next = e.SourceID
			}
			if visited[next] {
				continue
			}
			visited[next] = true

			node, ok := s.nodes[next]
			if !ok {
				continue
			}
			related = append(related, node.clone())
			queue = append(queue, frontier{next, current.depth + 1})
		}
	}
	return related, nil
}

// FindPaths returns every simple directed path from source to target with
// at most maxDepth edges. Unreachable targets yield an empty slice, not an
// error. The depth bound guarantees termination on cyclic graphs, and the
// context cancels long traversals.
func (s *Store) FindPaths(ctx context.Context, sourceID, targetID string, maxDepth int) ([]Path, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("find_paths", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[sourceID]; !ok {
		return nil, errs.Wrapf("find_paths", errs.ErrNotFound, "source node %q", sourceID)
	}
	if _, ok := s.nodes[targetID]; !ok {
		return nil, errs.Wrapf("find_paths", errs.ErrNotFound, "target node %q", targetID)
	}

	var paths []Path
	onPath := map[string]bool{sourceID: true}
	nodeTrail := []string{sourceID}
	var edgeTrail []*Edge

	var walk func(current string, weight float64) error
	walk = func(current string, weight float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if current == targetID && len(edgeTrail) > 0 {
			paths = append(paths, Path{
				Nodes:  append([]string{}, nodeTrail...),
				Edges:  cloneEdges(edgeTrail),
				Weight: weight,
			})
			return nil
		}
		if len(edgeTrail) >= maxDepth {
			return nil
		}
		for _, e := range s.out[current] {
			if onPath[e.TargetID] {
				continue
			}
			onPath[e.TargetID] = true
			nodeTrail = append(nodeTrail, e.TargetID)
			edgeTrail = append(edgeTrail, e)

			if err := walk(e.TargetID, weight+e.Weight); err != nil {
				return err
			}

			edgeTrail = edgeTrail[:len(edgeTrail)-1]
			nodeTrail = nodeTrail[:len(nodeTrail)-1]
			delete(onPath, e.TargetID)
		}
		return nil
	}

	if err := walk(sourceID, 0); err != nil {
		return nil, errs.Wrap("find_paths", err)
	}
	return paths, nil
}

// Connected reports whether two nodes are joined within maxDepth hops,
// ignoring edge direction.
func (s *Store) Connected(ctx context.Context, a, b string, maxDepth int) (bool, error) {
	if maxDepth <= 0 {
		maxDepth = 6
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, errs.Wrap("connected", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[a]; !ok {
		return false, errs.Wrapf("connected", errs.ErrNotFound, "node %q", a)
	}
	if _, ok := s.nodes[b]; !ok {
		return false, errs.Wrapf("connected", errs.ErrNotFound, "node %q", b)
	}
	if a == b {
		return true, nil
	}

	visited := map[string]bool{a: true}
	type frontier struct {
		id    string
		depth int
	}
	queue := []frontier{{a, 0}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, errs.Wrap("connected", err)
		}
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}
		for _, e := range s.neighbors(current.id) {
			next := e.TargetID
			if next == current.id {
				next = e.SourceID
			}
			if next == b {
				return true, nil
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, frontier{next, current.depth + 1})
			}
		}
	}
	return false, nil
}

// neighbors returns the combined out and in adjacency for a node. Caller
// holds at least the read lock.
func (s *Store) neighbors(id string) []*Edge {
	outEdges := s.out[id]
	inEdges := s.in[id]
	if len(inEdges) == 0 {
		return outEdges
	}
	all := make([]*Edge, 0, len(outEdges)+len(inEdges))
	all = append(all, outEdges...)
	all = append(all, inEdges...)
	return all
}

func cloneEdges(edges []*Edge) []*Edge {
	out := make([]*Edge, len(edges))
	for i, e := range edges {
		out[i] = e.clone()
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
