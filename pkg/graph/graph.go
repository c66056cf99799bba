// Package graph implements the embedded graph store: a directed multigraph
// of typed nodes and edges held in memory and written through to the
// durable record store on every mutation. On open the full graph is
// rebuilt from the durable tables, so memory is always a derived cache.
package graph

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/props"
	"github.com/offlinemind/memstore/pkg/storage"
)

// Node labels used by the companion system. The store accepts any
// non-empty label; these are the ones callers are expected to use.
const (
	LabelUser      = "User"
	LabelTopic     = "Topic"
	LabelMemory    = "Memory"
	LabelEntity    = "Entity"
	LabelCharacter = "Character"
)

// Relationship types created by the compound memory operation.
const (
	RelHasMemory = "HAS_MEMORY"
	RelRelatesTo = "RELATES_TO"
	RelRelatedTo = "RELATED_TO"
)

// Node is a labeled graph entity with a property map. Mutated only through
// UpsertNode.
type Node struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Properties props.Map `json:"properties,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Edge is a directed, typed relationship between two nodes. Its id is
// derived from the full (source, type, target, properties) tuple, so two
// edges with identical tuples collapse into one while edges of different
// types between the same pair coexist.
type Edge struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	TargetID         string    `json:"target_id"`
	RelationshipType string    `json:"relationship_type"`
	Properties       props.Map `json:"properties,omitempty"`
	Weight           float64   `json:"weight"`
	CreatedAt        time.Time `json:"created_at"`
}

// Stats is the cached counter snapshot read by the health reporter.
type Stats struct {
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	NodeTypes map[string]int `json:"node_types"`
	EdgeTypes map[string]int `json:"edge_types"`
}

// Store is the embedded graph store. All mutations are serialized through
// a single writer lock; reads run concurrently with each other but block
// behind an in-flight write. Compound operations take the lock per
// primitive call, so a reader may observe a node before its edges exist.
type Store struct {
	db     *storage.DB
	logger *zap.Logger

	mu     sync.RWMutex
	nodes  map[string]*Node
	edges  map[string]*Edge
	out    map[string][]*Edge
	in     map[string][]*Edge
	closed bool

	// statsMu guards a snapshot of the counters so health checks never
	// wait behind the writer lock.
	statsMu sync.Mutex
	stats   Stats
}

// Open builds a graph store on top of the durable record store, replaying
// the complete node and edge set into memory.
func Open(ctx context.Context, db *storage.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		logger: logger.Named("graph"),
		nodes:  make(map[string]*Node),
		edges:  make(map[string]*Edge),
		out:    make(map[string][]*Edge),
		in:     make(map[string][]*Edge),
		stats:  Stats{NodeTypes: map[string]int{}, EdgeTypes: map[string]int{}},
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.refreshStats()
	s.logger.Debug("graph store opened",
		zap.Int("nodes", len(s.nodes)), zap.Int("edges", len(s.edges)))
	return s, nil
}

// load replays all durable node and edge records into memory.
func (s *Store) load(ctx context.Context) error {
	conn := s.db.Conn()

	rows, err := conn.QueryContext(ctx,
		`SELECT id, label, properties, created_at, updated_at FROM nodes`)
	if err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: query nodes: %v", errs.ErrStorage, err))
	}
	for rows.Next() {
		var n Node
		var propsJSON sql.NullString
		if err := rows.Scan(&n.ID, &n.Label, &propsJSON, &n.CreatedAt, &n.UpdatedAt); err != nil {
			_ = rows.Close()
			return errs.Wrap("load", fmt.Errorf("%w: scan node: %v", errs.ErrStorage, err))
		}
		if propsJSON.Valid && propsJSON.String != "" {
			n.Properties, err = props.MapFromJSON([]byte(propsJSON.String))
			if err != nil {
				_ = rows.Close()
				return errs.Wrap("load", fmt.Errorf("decode node properties for %q: %w", n.ID, err))
			}
		}
		s.nodes[n.ID] = &n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return errs.Wrap("load", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	_ = rows.Close()

	rows, err = conn.QueryContext(ctx,
		`SELECT id, source_id, target_id, relationship_type, properties, weight, created_at FROM edges`)
	if err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: query edges: %v", errs.ErrStorage, err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e Edge
		var propsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationshipType,
			&propsJSON, &e.Weight, &e.CreatedAt); err != nil {
			return errs.Wrap("load", fmt.Errorf("%w: scan edge: %v", errs.ErrStorage, err))
		}
		if propsJSON.Valid && propsJSON.String != "" {
			e.Properties, err = props.MapFromJSON([]byte(propsJSON.String))
			if err != nil {
				return errs.Wrap("load", fmt.Errorf("decode edge properties for %q: %w", e.ID, err))
			}
		}
		s.indexEdge(&e)
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

// indexEdge places an edge into the id map and both adjacency lists.
// Caller holds the writer lock (or is still single-threaded in load).
func (s *Store) indexEdge(e *Edge) {
	s.edges[e.ID] = e
	s.out[e.SourceID] = append(s.out[e.SourceID], e)
	s.in[e.TargetID] = append(s.in[e.TargetID], e)
}

// unindexEdge removes an edge from the id map and both adjacency lists.
func (s *Store) unindexEdge(e *Edge) {
	delete(s.edges, e.ID)
	s.out[e.SourceID] = removeEdge(s.out[e.SourceID], e.ID)
	s.in[e.TargetID] = removeEdge(s.in[e.TargetID], e.ID)
}

func removeEdge(list []*Edge, id string) []*Edge {
	for i, e := range list {
		if e.ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// EdgeID derives the durable edge id from the full edge tuple. The full
// sha256 digest is used so accidental collisions are practically
// impossible regardless of graph size.
func EdgeID(sourceID, relationshipType, targetID string, properties props.Map) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(relationshipType))
	h.Write([]byte{0})
	h.Write([]byte(targetID))
	h.Write([]byte{0})
	h.Write(properties.CanonicalJSON())
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertNode creates the node if absent, otherwise merges properties
// key-by-key (incoming values win) and refreshes updated_at. Idempotent:
// fails only on storage errors.
func (s *Store) UpsertNode(ctx context.Context, id, label string, properties props.Map) (*Node, error) {
	if id == "" {
		return nil, errs.Wrapf("upsert_node", errs.ErrValidation, "node id cannot be empty")
	}
	if label == "" {
		return nil, errs.Wrapf("upsert_node", errs.ErrValidation, "node label cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.Wrap("upsert_node", errs.ErrStoreClosed)
	}

	now := time.Now().UTC()
	next := &Node{ID: id, Label: label, Properties: properties.Clone(), CreatedAt: now, UpdatedAt: now}
	if existing, ok := s.nodes[id]; ok {
		next.CreatedAt = existing.CreatedAt
		next.Properties = existing.Properties.Merge(properties)
	}

	propsJSON, err := json.Marshal(next.Properties)
	if err != nil {
		return nil, errs.Wrap("upsert_node", fmt.Errorf("encode properties: %w", err))
	}

	// Durable write first; memory is only updated after the commit.
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO nodes (id, label, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			properties = excluded.properties,
			updated_at = excluded.updated_at
	`, next.ID, next.Label, string(propsJSON), next.CreatedAt, next.UpdatedAt)
	if err != nil {
		return nil, errs.Wrap("upsert_node", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	s.nodes[id] = next
	s.refreshStats()
	s.logger.Debug("node upserted", zap.String("id", id), zap.String("label", label))
	return next.clone(), nil
}

// UpsertEdge creates or merges a directed edge. Both endpoints must exist;
// otherwise ErrNotFound is returned and no edge is created. A zero weight
// defaults to 1.0.
func (s *Store) UpsertEdge(ctx context.Context, sourceID, targetID, relationshipType string, properties props.Map, weight float64) (*Edge, error) {
	if sourceID == "" || targetID == "" {
		return nil, errs.Wrapf("upsert_edge", errs.ErrValidation, "edge endpoints cannot be empty")
	}
	if relationshipType == "" {
		return nil, errs.Wrapf("upsert_edge", errs.ErrValidation, "relationship type cannot be empty")
	}
	if weight == 0 {
		weight = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.Wrap("upsert_edge", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[sourceID]; !ok {
		return nil, errs.Wrapf("upsert_edge", errs.ErrNotFound, "source node %q", sourceID)
	}
	if _, ok := s.nodes[targetID]; !ok {
		return nil, errs.Wrapf("upsert_edge", errs.ErrNotFound, "target node %q", targetID)
	}

	id := EdgeID(sourceID, relationshipType, targetID, properties)
	now := time.Now().UTC()
	next := &Edge{
		ID:               id,
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: relationshipType,
		Properties:       properties.Clone(),
		Weight:           weight,
		CreatedAt:        now,
	}
	existing, merging := s.edges[id]
	if merging {
		next.CreatedAt = existing.CreatedAt
	}

	propsJSON, err := json.Marshal(next.Properties)
	if err != nil {
		return nil, errs.Wrap("upsert_edge", fmt.Errorf("encode properties: %w", err))
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, relationship_type, properties, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET weight = excluded.weight
	`, next.ID, next.SourceID, next.TargetID, next.RelationshipType, string(propsJSON), next.Weight, next.CreatedAt)
	if err != nil {
		return nil, errs.Wrap("upsert_edge", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	if merging {
		existing.Weight = next.Weight
		return existing.clone(), nil
	}
	s.indexEdge(next)
	s.refreshStats()
	s.logger.Debug("edge upserted",
		zap.String("source", sourceID), zap.String("target", targetID),
		zap.String("type", relationshipType))
	return next.clone(), nil
}

// GetNode returns a copy of the node, or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("get_node", errs.ErrStoreClosed)
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, errs.Wrapf("get_node", errs.ErrNotFound, "node %q", id)
	}
	return n.clone(), nil
}

// Direction selects which adjacency to follow.
type Direction string

// Edge directions for GetEdges and traversal.
const (
	DirOut  Direction = "out"
	DirIn   Direction = "in"
	DirBoth Direction = "both"
)

// GetEdges returns copies of the edges touching a node in the given
// direction.
func (s *Store) GetEdges(ctx context.Context, nodeID string, dir Direction) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("get_edges", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[nodeID]; !ok {
		return nil, errs.Wrapf("get_edges", errs.ErrNotFound, "node %q", nodeID)
	}

	var edges []*Edge
	switch dir {
	case DirOut:
		edges = s.out[nodeID]
	case DirIn:
		edges = s.in[nodeID]
	case DirBoth, "":
		edges = append(append([]*Edge{}, s.out[nodeID]...), s.in[nodeID]...)
	default:
		return nil, errs.Wrapf("get_edges", errs.ErrValidation, "invalid direction %q", dir)
	}

	out := make([]*Edge, len(edges))
	for i, e := range edges {
		out[i] = e.clone()
	}
	return out, nil
}

// DeleteNode removes a node and every edge touching it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Wrap("delete_node", errs.ErrStoreClosed)
	}
	if _, ok := s.nodes[id]; !ok {
		return errs.Wrapf("delete_node", errs.ErrNotFound, "node %q", id)
	}

	// Cascade handles the edges table.
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return errs.Wrap("delete_node", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	for _, e := range append(append([]*Edge{}, s.out[id]...), s.in[id]...) {
		s.unindexEdge(e)
	}
	delete(s.out, id)
	delete(s.in, id)
	delete(s.nodes, id)
	s.refreshStats()
	s.logger.Debug("node deleted", zap.String("id", id))
	return nil
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Stats returns the cached counter snapshot without taking the writer
// lock, so health polls never stall behind writes.
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := Stats{
		NodeCount: s.stats.NodeCount,
		EdgeCount: s.stats.EdgeCount,
		NodeTypes: make(map[string]int, len(s.stats.NodeTypes)),
		EdgeTypes: make(map[string]int, len(s.stats.EdgeTypes)),
	}
	for k, v := range s.stats.NodeTypes {
		out.NodeTypes[k] = v
	}
	for k, v := range s.stats.EdgeTypes {
		out.EdgeTypes[k] = v
	}
	return out
}

// refreshStats recomputes the cached counters. Caller holds the writer
// lock (or is single-threaded during open).
func (s *Store) refreshStats() {
	next := Stats{
		NodeCount: len(s.nodes),
		EdgeCount: len(s.edges),
		NodeTypes: make(map[string]int),
		EdgeTypes: make(map[string]int),
	}
	for _, n := range s.nodes {
		next.NodeTypes[n.Label]++
	}
	for _, e := range s.edges {
		next.EdgeTypes[e.RelationshipType]++
	}
	s.statsMu.Lock()
	s.stats = next
	s.statsMu.Unlock()
}

// Close marks the store closed. The shared durable store is closed by its
// owner.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (n *Node) clone() *Node {
	c := *n
	c.Properties = n.Properties.Clone()
	return &c
}

func (e *Edge) clone() *Edge {
	c := *e
	c.Properties = e.Properties.Clone()
	return &c
}
