// Package storage implements the durable record store: a single SQLite
// database holding the authoritative node, edge, collection and vector
// document records. In-memory store state is always rebuilt from these
// tables on open.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinemind/memstore/pkg/errs"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the SQLite connection shared by the graph and vector stores.
// Each store writes to its own tables so unrelated writes do not contend
// on anything but the database file itself.
type DB struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path and ensures the schema
// exists. WAL journaling keeps readers from blocking behind writers.
func Open(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	if path == "" {
		return nil, errs.Wrap("open", fmt.Errorf("%w: database path cannot be empty", errs.ErrValidation))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	// immediately. _synchronous=NORMAL is safe under WAL.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap("open", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap("open", fmt.Errorf("%w: enable foreign keys: %v", errs.ErrStorage, err))
	}

	d := &DB{db: sqlDB, path: path, logger: logger}
	if err := d.createTables(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap("open", err)
	}

	logger.Debug("durable store opened", zap.String("path", path))
	return d, nil
}

func (d *DB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		properties TEXT, -- JSON
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		properties TEXT, -- JSON
		weight REAL NOT NULL DEFAULT 1.0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		metadata TEXT, -- JSON
		embedding_dim INTEGER NOT NULL,
		document_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vector_documents (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT, -- JSON
		doc_type TEXT,
		timestamp TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
	CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(relationship_type);
	CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
	CREATE INDEX IF NOT EXISTS idx_docs_collection ON vector_documents(collection);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create tables: %v", errs.ErrStorage, err)
	}
	return nil
}

// Conn returns the underlying database handle for store-level queries.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SizeBytes returns the on-disk size of the database including the WAL file.
func (d *DB) SizeBytes() int64 {
	var total int64
	for _, p := range []string{d.path, d.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Close closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.db.Close(); err != nil {
		return errs.Wrap("close", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	d.logger.Debug("durable store closed", zap.String("path", d.path))
	return nil
}

// Closed reports whether Close has been called.
func (d *DB) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
