// Package vector implements the embedded vector store: named collections
// of fixed-dimension embedded documents with exact cosine top-k search and
// metadata filtering. Documents are written through to the durable record
// store before the in-memory index is touched, and the whole store is
// rebuilt from the durable tables on open.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinemind/memstore/internal/encoding"
	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/index"
	"github.com/offlinemind/memstore/pkg/props"
	"github.com/offlinemind/memstore/pkg/storage"
)

// DefaultIndexThreshold is the document count at which a collection moves
// from the brute-force index to the packed inner-product index. Both are
// exact; the threshold trades rebuild cost only, never ranking.
const DefaultIndexThreshold = 10

// Collection describes a named, fixed-dimension group of documents.
type Collection struct {
	Name          string    `json:"name"`
	Metadata      props.Map `json:"metadata,omitempty"`
	EmbeddingDim  int       `json:"embedding_dim"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Document is one embedded record in a collection. The embedding length
// always equals the collection's EmbeddingDim.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Metadata  props.Map `json:"metadata,omitempty"`
	DocType   string    `json:"doc_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is the read-only snapshot consumed by the health reporter.
type Stats struct {
	CollectionCount int               `json:"collection_count"`
	DocumentCounts  map[string]int    `json:"document_counts"`
	IndexTypes      map[string]string `json:"index_types"`
}

// collection is the in-memory mirror of one durable collection. docs and
// idx are replaced wholesale on every applied mutation, so a query that
// grabbed references under the read lock keeps observing a consistent,
// fully-built generation.
type collection struct {
	// mu serializes mutations (and their index rebuilds) for this
	// collection only; other collections stay writable.
	mu sync.Mutex
	// stateMu guards the reference swap below.
	stateMu sync.RWMutex

	meta    Collection
	docs    map[string]*Document
	seqs    map[string]int64
	nextSeq int64
	idx     index.Index
}

// Store is the embedded vector store.
type Store struct {
	db             *storage.DB
	logger         *zap.Logger
	indexThreshold int

	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool

	statsMu sync.Mutex
	stats   Stats

	// rebuildHook, when set, runs before an index rebuild is applied and
	// can abort it. Used by tests to exercise the rebuild failure path.
	rebuildHook func(collection string) error
}

// Open builds a vector store on the durable record store, replaying every
// collection and document into memory and building their indexes.
func Open(ctx context.Context, db *storage.DB, indexThreshold int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if indexThreshold <= 0 {
		indexThreshold = DefaultIndexThreshold
	}
	s := &Store{
		db:             db,
		logger:         logger.Named("vector"),
		indexThreshold: indexThreshold,
		collections:    make(map[string]*collection),
		stats:          Stats{DocumentCounts: map[string]int{}, IndexTypes: map[string]string{}},
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.refreshStatsLocked()
	s.logger.Debug("vector store opened", zap.Int("collections", len(s.collections)))
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	conn := s.db.Conn()

	rows, err := conn.QueryContext(ctx, `
		SELECT name, metadata, embedding_dim, document_count, created_at, updated_at
		FROM collections`)
	if err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: query collections: %v", errs.ErrStorage, err))
	}
	for rows.Next() {
		var meta Collection
		var metaJSON sql.NullString
		if err := rows.Scan(&meta.Name, &metaJSON, &meta.EmbeddingDim,
			&meta.DocumentCount, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			_ = rows.Close()
			return errs.Wrap("load", fmt.Errorf("%w: scan collection: %v", errs.ErrStorage, err))
		}
		if metaJSON.Valid && metaJSON.String != "" {
			meta.Metadata, err = props.MapFromJSON([]byte(metaJSON.String))
			if err != nil {
				_ = rows.Close()
				return errs.Wrap("load", fmt.Errorf("decode collection metadata for %q: %w", meta.Name, err))
			}
		}
		s.collections[meta.Name] = &collection{
			meta: meta,
			docs: make(map[string]*Document),
			seqs: make(map[string]int64),
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return errs.Wrap("load", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	_ = rows.Close()

	rows, err = conn.QueryContext(ctx, `
		SELECT id, collection, content, embedding, metadata, doc_type, timestamp, seq
		FROM vector_documents`)
	if err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: query documents: %v", errs.ErrStorage, err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var doc Document
		var collName string
		var metaJSON sql.NullString
		var docType sql.NullString
		var blob []byte
		var seq int64
		if err := rows.Scan(&doc.ID, &collName, &doc.Content, &blob,
			&metaJSON, &docType, &doc.Timestamp, &seq); err != nil {
			return errs.Wrap("load", fmt.Errorf("%w: scan document: %v", errs.ErrStorage, err))
		}
		doc.Embedding, err = encoding.DecodeVector(blob)
		if err != nil {
			return errs.Wrap("load", fmt.Errorf("decode embedding for %q: %w", doc.ID, err))
		}
		if metaJSON.Valid && metaJSON.String != "" {
			doc.Metadata, err = props.MapFromJSON([]byte(metaJSON.String))
			if err != nil {
				return errs.Wrap("load", fmt.Errorf("decode document metadata for %q: %w", doc.ID, err))
			}
		}
		doc.DocType = docType.String

		c, ok := s.collections[collName]
		if !ok {
			continue // orphan row; collection cascade should prevent this
		}
		c.docs[doc.ID] = &doc
		c.seqs[doc.ID] = seq
		if seq >= c.nextSeq {
			c.nextSeq = seq + 1
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap("load", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	for name, c := range s.collections {
		c.idx = s.buildIndex(c.meta.EmbeddingDim, c.docs, c.seqs)
		s.logger.Debug("collection index built",
			zap.String("collection", name),
			zap.Int("documents", len(c.docs)),
			zap.String("index", c.idx.Type()))
	}
	return nil
}

// buildIndex constructs a fresh index over the given document set. Below
// the threshold the brute-force layout is used; at or above it the packed
// inner-product layout. Ranking is identical either way.
func (s *Store) buildIndex(dim int, docs map[string]*Document, seqs map[string]int64) index.Index {
	entries := make([]index.Entry, 0, len(docs))
	for id, d := range docs {
		entries = append(entries, index.Entry{ID: id, Vector: d.Embedding, Seq: seqs[id]})
	}
	if len(entries) < s.indexThreshold {
		return index.NewFlat(dim, entries)
	}
	return index.NewPacked(dim, entries)
}

// CreateCollection creates a named collection with a fixed embedding
// dimension. If the name already exists the existing collection is
// returned unchanged; creation is an idempotent no-op, not an error.
func (s *Store) CreateCollection(ctx context.Context, name string, embeddingDim int, metadata props.Map) (*Collection, error) {
	if name == "" {
		return nil, errs.Wrapf("create_collection", errs.ErrValidation, "collection name cannot be empty")
	}
	if embeddingDim <= 0 {
		return nil, errs.Wrapf("create_collection", errs.ErrValidation, "embedding dimension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.Wrap("create_collection", errs.ErrStoreClosed)
	}
	if existing, ok := s.collections[name]; ok {
		meta := existing.snapshotMeta()
		return &meta, nil
	}

	now := time.Now().UTC()
	meta := Collection{
		Name:         name,
		Metadata:     metadata.Clone(),
		EmbeddingDim: embeddingDim,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	metaJSON := string(metadata.CanonicalJSON())

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO collections (name, metadata, embedding_dim, document_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, meta.Name, metaJSON, meta.EmbeddingDim, meta.CreatedAt, meta.UpdatedAt)
	if err != nil {
		return nil, errs.Wrap("create_collection", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	c := &collection{
		meta: meta,
		docs: make(map[string]*Document),
		seqs: make(map[string]int64),
	}
	c.idx = s.buildIndex(embeddingDim, c.docs, c.seqs)
	s.collections[name] = c
	s.refreshStatsLocked()
	s.logger.Debug("collection created",
		zap.String("name", name), zap.Int("dim", embeddingDim))
	out := meta
	out.Metadata = meta.Metadata.Clone()
	return &out, nil
}

// GetCollection returns the collection's descriptor, or ErrNotFound.
func (s *Store) GetCollection(ctx context.Context, name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("get_collection", errs.ErrStoreClosed)
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, errs.Wrapf("get_collection", errs.ErrNotFound, "collection %q", name)
	}
	meta := c.snapshotMeta()
	return &meta, nil
}

// ListCollections returns descriptors for every collection.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Wrap("list_collections", errs.ErrStoreClosed)
	}
	out := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		meta := c.snapshotMeta()
		out = append(out, &meta)
	}
	return out, nil
}

// DeleteCollection drops a collection and all its documents.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Wrap("delete_collection", errs.ErrStoreClosed)
	}
	if _, ok := s.collections[name]; !ok {
		return errs.Wrapf("delete_collection", errs.ErrNotFound, "collection %q", name)
	}

	// Documents go with the collection via cascade.
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return errs.Wrap("delete_collection", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	delete(s.collections, name)
	s.refreshStatsLocked()
	s.logger.Debug("collection deleted", zap.String("name", name))
	return nil
}

// Stats returns the cached counter snapshot. It never touches any
// collection's write lock, so health polls don't stall behind mutations.
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := Stats{
		CollectionCount: s.stats.CollectionCount,
		DocumentCounts:  make(map[string]int, len(s.stats.DocumentCounts)),
		IndexTypes:      make(map[string]string, len(s.stats.IndexTypes)),
	}
	for k, v := range s.stats.DocumentCounts {
		out.DocumentCounts[k] = v
	}
	for k, v := range s.stats.IndexTypes {
		out.IndexTypes[k] = v
	}
	return out
}

// refreshStats recomputes the cached counters from the collection map.
// For callers that do not already hold the store lock, such as the
// document mutation paths which serialize per collection only.
func (s *Store) refreshStats() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.refreshStatsLocked()
}

// refreshStatsLocked recomputes the cached counters. Caller holds s.mu
// (or is still single-threaded during open).
func (s *Store) refreshStatsLocked() {
	next := Stats{
		CollectionCount: len(s.collections),
		DocumentCounts:  make(map[string]int),
		IndexTypes:      make(map[string]string),
	}
	for name, c := range s.collections {
		meta, idx := c.snapshotState()
		next.DocumentCounts[name] = meta.DocumentCount
		next.IndexTypes[name] = idx.Type()
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

// getCollection fetches the live collection under the store read lock.
func (s *Store) getCollection(name string) (*collection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errs.ErrStoreClosed
	}
	c, ok := s.collections[name]
	return c, ok, nil
}

// snapshotMeta returns a copy of the collection descriptor.
func (c *collection) snapshotMeta() Collection {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	meta := c.meta
	meta.Metadata = c.meta.Metadata.Clone()
	return meta
}

// snapshotState returns the descriptor plus the current fully-built index.
func (c *collection) snapshotState() (Collection, index.Index) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	meta := c.meta
	return meta, c.idx
}
