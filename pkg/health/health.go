// Package health provides read-only introspection over the embedded
// stores for the external monitoring component. Reports are assembled
// from each store's cached counter snapshot, never from the writer locks,
// so health polls stay bounded under write load.
package health

import (
	"context"

	"github.com/offlinemind/memstore/pkg/graph"
	"github.com/offlinemind/memstore/pkg/storage"
	"github.com/offlinemind/memstore/pkg/vector"
)

// GraphHealth summarizes the graph store.
type GraphHealth struct {
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	NodeTypes map[string]int `json:"node_types"`
	EdgeTypes map[string]int `json:"edge_types"`
}

// VectorHealth summarizes the vector store.
type VectorHealth struct {
	CollectionCount int               `json:"collection_count"`
	DocumentCounts  map[string]int    `json:"document_counts"`
	IndexTypes      map[string]string `json:"index_types"`
}

// Report is the full health snapshot.
type Report struct {
	OverallHealthy   bool         `json:"overall_healthy"`
	Graph            GraphHealth  `json:"graph"`
	Vector           VectorHealth `json:"vector"`
	StorageSizeBytes int64        `json:"storage_size_bytes"`
}

// Reporter reads counters from both stores and the durable layer. It
// never mutates anything.
type Reporter struct {
	db     *storage.DB
	graph  *graph.Store
	vector *vector.Store
}

// NewReporter builds a reporter over the given stores.
func NewReporter(db *storage.DB, g *graph.Store, v *vector.Store) *Reporter {
	return &Reporter{db: db, graph: g, vector: v}
}

// Health assembles the current report. OverallHealthy is false once the
// durable store has been closed.
func (r *Reporter) Health(ctx context.Context) (*Report, error) {
	gs := r.graph.Stats()
	vs := r.vector.Stats()

	return &Report{
		OverallHealthy: !r.db.Closed(),
		Graph: GraphHealth{
			NodeCount: gs.NodeCount,
			EdgeCount: gs.EdgeCount,
			NodeTypes: gs.NodeTypes,
			EdgeTypes: gs.EdgeTypes,
		},
		Vector: VectorHealth{
			CollectionCount: vs.CollectionCount,
			DocumentCounts:  vs.DocumentCounts,
			IndexTypes:      vs.IndexTypes,
		},
		StorageSizeBytes: r.db.SizeBytes(),
	}, nil
}
