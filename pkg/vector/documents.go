package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/offlinemind/memstore/internal/encoding"
	"github.com/offlinemind/memstore/pkg/errs"
)

// DocumentID derives a stable id from a document's content and fields,
// used when the caller does not supply one. Full-width hash: identical
// items collapse, distinct items practically never collide.
func DocumentID(doc *Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Content))
	h.Write([]byte{0})
	h.Write([]byte(doc.DocType))
	h.Write([]byte{0})
	h.Write(doc.Metadata.CanonicalJSON())
	return hex.EncodeToString(h.Sum(nil))
}

// AddDocuments adds a batch of documents to a collection and returns the
// ids actually stored, in input order. The batch is all-or-nothing: any
// invalid item (missing content, wrong embedding dimension, NaN values)
// rejects the whole call before any mutation. Re-adding an existing id
// overwrites that document, keeping its original insertion order for
// tie-breaking. The collection's index is rebuilt before the call returns;
// a rebuild failure surfaces as a storage error and leaves the prior index
// serving queries.
func (s *Store) AddDocuments(ctx context.Context, collectionName string, docs []*Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	c, ok, err := s.getCollection(collectionName)
	if err != nil {
		return nil, errs.Wrap("add_documents", err)
	}
	if !ok {
		return nil, errs.Wrapf("add_documents", errs.ErrNotFound, "collection %q", collectionName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.meta.EmbeddingDim

	// Validate the whole batch before any mutation.
	ids := make([]string, len(docs))
	now := time.Now().UTC()
	prepared := make([]*Document, len(docs))
	for i, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			return nil, errs.Wrapf("add_documents", errs.ErrValidation, "item %d: content is required", i)
		}
		if len(d.Embedding) != dim {
			return nil, errs.Wrapf("add_documents", errs.ErrInvalidDimension,
				"item %d: got %d, collection %q expects %d", i, len(d.Embedding), collectionName, dim)
		}
		if err := encoding.ValidateVector(d.Embedding); err != nil {
			return nil, errs.Wrapf("add_documents", errs.ErrValidation, "item %d: %v", i, err)
		}

		p := &Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: append([]float32(nil), d.Embedding...),
			Metadata:  d.Metadata.Clone(),
			DocType:   d.DocType,
			Timestamp: d.Timestamp,
		}
		if p.ID == "" {
			p.ID = DocumentID(p)
		}
		if p.Timestamp.IsZero() {
			p.Timestamp = now
		}
		ids[i] = p.ID
		prepared[i] = p
	}

	// Next generation of the in-memory state.
	nextDocs := make(map[string]*Document, len(c.docs)+len(prepared))
	nextSeqs := make(map[string]int64, len(c.seqs)+len(prepared))
	for id, d := range c.docs {
		nextDocs[id] = d
		nextSeqs[id] = c.seqs[id]
	}
	nextSeq := c.nextSeq
	for _, p := range prepared {
		if seq, exists := nextSeqs[p.ID]; exists {
			nextSeqs[p.ID] = seq // overwrite keeps original order
		} else {
			nextSeqs[p.ID] = nextSeq
			nextSeq++
		}
		nextDocs[p.ID] = p
	}

	// Durable write first.
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap("add_documents", fmt.Errorf("%w: begin: %v", errs.ErrStorage, err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vector_documents
			(id, collection, content, embedding, metadata, doc_type, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, errs.Wrap("add_documents", fmt.Errorf("%w: prepare: %v", errs.ErrStorage, err))
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range prepared {
		blob, err := encoding.EncodeVector(p.Embedding)
		if err != nil {
			return nil, errs.Wrap("add_documents", fmt.Errorf("encode embedding for %q: %w", p.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, p.ID, collectionName, p.Content, blob,
			string(p.Metadata.CanonicalJSON()), p.DocType, p.Timestamp, nextSeqs[p.ID]); err != nil {
			return nil, errs.Wrap("add_documents", fmt.Errorf("%w: insert %q: %v", errs.ErrStorage, p.ID, err))
		}
	}

	updatedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE collections SET document_count = ?, updated_at = ? WHERE name = ?
	`, len(nextDocs), updatedAt, collectionName); err != nil {
		return nil, errs.Wrap("add_documents", fmt.Errorf("%w: update count: %v", errs.ErrStorage, err))
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap("add_documents", fmt.Errorf("%w: commit: %v", errs.ErrStorage, err))
	}

	if err := s.rebuildAndSwap(c, collectionName, nextDocs, nextSeqs, nextSeq, updatedAt); err != nil {
		return nil, errs.Wrap("add_documents", err)
	}

	s.refreshStats()
	s.logger.Debug("documents added",
		zap.String("collection", collectionName), zap.Int("count", len(prepared)))
	return ids, nil
}

// DeleteDocuments removes the given ids from a collection and returns how
// many were actually found. Absent ids are no-ops, so deletes are safe to
// retry.
func (s *Store) DeleteDocuments(ctx context.Context, collectionName string, docIDs []string) (int, error) {
	c, ok, err := s.getCollection(collectionName)
	if err != nil {
		return 0, errs.Wrap("delete_documents", err)
	}
	if !ok {
		return 0, errs.Wrapf("delete_documents", errs.ErrNotFound, "collection %q", collectionName)
	}
	if len(docIDs) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := make([]string, 0, len(docIDs))
	seen := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		if !seen[id] && c.docs[id] != nil {
			present = append(present, id)
		}
		seen[id] = true
	}
	if len(present) == 0 {
		return 0, nil
	}

	nextDocs := make(map[string]*Document, len(c.docs)-len(present))
	nextSeqs := make(map[string]int64, len(c.seqs)-len(present))
	removing := make(map[string]bool, len(present))
	for _, id := range present {
		removing[id] = true
	}
	for id, d := range c.docs {
		if removing[id] {
			continue
		}
		nextDocs[id] = d
		nextSeqs[id] = c.seqs[id]
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Wrap("delete_documents", fmt.Errorf("%w: begin: %v", errs.ErrStorage, err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM vector_documents WHERE collection = ? AND id = ?`)
	if err != nil {
		return 0, errs.Wrap("delete_documents", fmt.Errorf("%w: prepare: %v", errs.ErrStorage, err))
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range present {
		if _, err := stmt.ExecContext(ctx, collectionName, id); err != nil {
			return 0, errs.Wrap("delete_documents", fmt.Errorf("%w: delete %q: %v", errs.ErrStorage, id, err))
		}
	}

	updatedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE collections SET document_count = ?, updated_at = ? WHERE name = ?
	`, len(nextDocs), updatedAt, collectionName); err != nil {
		return 0, errs.Wrap("delete_documents", fmt.Errorf("%w: update count: %v", errs.ErrStorage, err))
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Wrap("delete_documents", fmt.Errorf("%w: commit: %v", errs.ErrStorage, err))
	}

	if err := s.rebuildAndSwap(c, collectionName, nextDocs, nextSeqs, c.nextSeq, updatedAt); err != nil {
		return 0, errs.Wrap("delete_documents", err)
	}

	s.refreshStats()
	s.logger.Debug("documents deleted",
		zap.String("collection", collectionName), zap.Int("count", len(present)))
	return len(present), nil
}

// GetDocuments returns copies of the requested documents, skipping absent
// ids. With no ids given, all documents are returned.
func (s *Store) GetDocuments(ctx context.Context, collectionName string, docIDs []string) ([]*Document, error) {
	c, ok, err := s.getCollection(collectionName)
	if err != nil {
		return nil, errs.Wrap("get_documents", err)
	}
	if !ok {
		return nil, nil // same leniency as Query
	}

	c.stateMu.RLock()
	docs := c.docs
	seqs := c.seqs
	c.stateMu.RUnlock()

	var out []*Document
	if len(docIDs) == 0 {
		out = make([]*Document, 0, len(docs))
		for _, d := range docs {
			out = append(out, cloneDoc(d))
		}
		sortDocsBySeq(out, seqs)
		return out, nil
	}
	for _, id := range docIDs {
		if d, ok := docs[id]; ok {
			out = append(out, cloneDoc(d))
		}
	}
	return out, nil
}

// rebuildAndSwap builds a fresh index over the next document generation
// and atomically publishes docs, seqs and index together. On failure the
// previous generation keeps serving queries and the error is surfaced as
// a storage error: the durable write has already happened, and the caller
// retries idempotently.
func (s *Store) rebuildAndSwap(c *collection, name string, nextDocs map[string]*Document, nextSeqs map[string]int64, nextSeq int64, updatedAt time.Time) error {
	if s.rebuildHook != nil {
		if err := s.rebuildHook(name); err != nil {
			s.logger.Warn("index rebuild failed; previous index retained",
				zap.String("collection", name), zap.Error(err))
			return fmt.Errorf("%w: index rebuild for %q: %v", errs.ErrStorage, name, err)
		}
	}
	idx := s.buildIndex(c.meta.EmbeddingDim, nextDocs, nextSeqs)

	c.stateMu.Lock()
	c.docs = nextDocs
	c.seqs = nextSeqs
	c.nextSeq = nextSeq
	c.idx = idx
	c.meta.DocumentCount = len(nextDocs)
	c.meta.UpdatedAt = updatedAt
	c.stateMu.Unlock()
	return nil
}

func cloneDoc(d *Document) *Document {
	c := *d
	c.Embedding = append([]float32(nil), d.Embedding...)
	c.Metadata = d.Metadata.Clone()
	return &c
}
