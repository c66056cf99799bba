// Package memstore is the top-level entry point for the embedded graph
// and vector stores: one SQLite-backed database file serving callers that
// were written against the remote graph and vector services.
package memstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/offlinemind/memstore/pkg/compat"
	"github.com/offlinemind/memstore/pkg/graph"
	"github.com/offlinemind/memstore/pkg/health"
	"github.com/offlinemind/memstore/pkg/storage"
	"github.com/offlinemind/memstore/pkg/vector"
)

// DB is an open embedded store instance. The graph and vector stores
// share one durable database file but use independent tables and locks,
// so writes to one never serialize behind the other.
type DB struct {
	cfg    Config
	db     *storage.DB
	graph  *graph.Store
	vector *vector.Store
	compat *compat.Client
	health *health.Reporter
	logger *zap.Logger
}

// Open opens or creates the database at cfg.Path and rebuilds both
// in-memory stores from it.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := storage.Open(ctx, cfg.Path, logger)
	if err != nil {
		return nil, err
	}

	g, err := graph.Open(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	v, err := vector.Open(ctx, db, cfg.IndexThreshold, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	return &DB{
		cfg:    cfg,
		db:     db,
		graph:  g,
		vector: v,
		compat: compat.NewClient(v),
		health: health.NewReporter(db, g, v),
		logger: logger,
	}, nil
}

// Graph returns the graph store.
func (d *DB) Graph() *graph.Store { return d.graph }

// ComputeCentrality runs PageRank with the configured iteration cap and
// damping factor.
func (d *DB) ComputeCentrality(ctx context.Context) (map[string]float64, error) {
	return d.graph.ComputeCentralityOpts(ctx, d.cfg.PageRankIterations, d.cfg.PageRankDamping)
}

// Vector returns the vector store.
func (d *DB) Vector() *vector.Store { return d.vector }

// Compat returns the remote-client-shaped facade over the vector store.
func (d *DB) Compat() *compat.Client { return d.compat }

// Health returns the read-only health reporter.
func (d *DB) Health() *health.Reporter { return d.health }

// Storage returns the durable record store.
func (d *DB) Storage() *storage.DB { return d.db }

// Close closes both stores and the underlying database.
func (d *DB) Close() error {
	_ = d.graph.Close()
	_ = d.vector.Close()
	return d.db.Close()
}
