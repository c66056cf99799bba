// Package compat adapts the embedded vector store to the call shapes of
// the remote vector database client the rest of the system was written
// against, so swapping the remote service for the embedded one requires
// no caller changes. It carries no business logic of its own: every call
// translates directly onto pkg/vector and must behave identically.
package compat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/offlinemind/memstore/pkg/props"
	"github.com/offlinemind/memstore/pkg/vector"
)

// Client mirrors the remote client's entry point.
type Client struct {
	store *vector.Store
}

// NewClient wraps the embedded vector store.
func NewClient(store *vector.Store) *Client {
	return &Client{store: store}
}

// Collection is a handle bound to one named collection. The underlying
// collection is created lazily on the first Add, when the embedding
// dimension becomes known, matching the remote client's behavior.
type Collection struct {
	client   *Client
	Name     string
	Metadata props.Map
}

// GetOrCreateCollection returns a handle for the named collection,
// creating nothing until documents arrive.
func (c *Client) GetOrCreateCollection(ctx context.Context, name string, metadata props.Map) (*Collection, error) {
	return &Collection{client: c, Name: name, Metadata: metadata.Clone()}, nil
}

// QueryResult carries ranked hits in the remote client's parallel-slice
// shape.
type QueryResult struct {
	IDs       []string    `json:"ids"`
	Documents []string    `json:"documents"`
	Metadatas []props.Map `json:"metadatas"`
	Distances []float32   `json:"distances"`
}

// GetResult carries fetched documents in the remote client's shape.
type GetResult struct {
	IDs       []string    `json:"ids"`
	Documents []string    `json:"documents"`
	Metadatas []props.Map `json:"metadatas"`
}

// Add upserts documents. ids, metadatas and embeddings are parallel to
// documents; a nil ids slice generates one per document, and a missing
// id is derived from the document content. The collection is created on
// first use with the dimension of the first embedding.
func (col *Collection) Add(ctx context.Context, ids []string, embeddings [][]float32, metadatas []props.Map, documents []string) ([]string, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	if len(embeddings) > 0 {
		if _, err := col.client.store.CreateCollection(ctx, col.Name, len(embeddings[0]), col.Metadata); err != nil {
			return nil, err
		}
	}

	docs := make([]*vector.Document, len(documents))
	now := time.Now().UTC()
	for i, content := range documents {
		d := &vector.Document{Content: content, Timestamp: now}
		if i < len(ids) {
			d.ID = ids[i]
		} else if ids == nil {
			// No ids at all: mint them, like the remote client's helper
			// wrappers do. Empty strings inside a provided slice instead
			// fall through to the store's content-hash derivation.
			d.ID = uuid.New().String()
		}
		if i < len(embeddings) {
			d.Embedding = embeddings[i]
		}
		if i < len(metadatas) {
			d.Metadata = metadatas[i]
		}
		docs[i] = d
	}
	return col.client.store.AddDocuments(ctx, col.Name, docs)
}

// Query runs a top-k similarity search. An unknown or still-empty
// collection yields an empty, usable result object rather than an error,
// so callers' recall paths degrade to "no memories" instead of failing.
func (col *Collection) Query(ctx context.Context, queryEmbedding []float32, nResults int, where props.Map) (*QueryResult, error) {
	results, err := col.client.store.Query(ctx, col.Name, queryEmbedding, nResults, where)
	if err != nil {
		return &QueryResult{}, err
	}

	out := &QueryResult{
		IDs:       make([]string, len(results)),
		Documents: make([]string, len(results)),
		Metadatas: make([]props.Map, len(results)),
		Distances: make([]float32, len(results)),
	}
	for i, r := range results {
		out.IDs[i] = r.Document.ID
		out.Documents[i] = r.Document.Content
		out.Metadatas[i] = r.Document.Metadata
		out.Distances[i] = r.Distance
	}
	return out, nil
}

// Get fetches documents by id; with no ids, everything in insertion
// order. Unknown collections yield an empty result.
func (col *Collection) Get(ctx context.Context, ids []string) (*GetResult, error) {
	docs, err := col.client.store.GetDocuments(ctx, col.Name, ids)
	if err != nil {
		return &GetResult{}, err
	}
	out := &GetResult{
		IDs:       make([]string, len(docs)),
		Documents: make([]string, len(docs)),
		Metadatas: make([]props.Map, len(docs)),
	}
	for i, d := range docs {
		out.IDs[i] = d.ID
		out.Documents[i] = d.Content
		out.Metadatas[i] = d.Metadata
	}
	return out, nil
}

// Delete removes documents by id and returns how many existed. Deleting
// from an unknown collection removes nothing.
func (col *Collection) Delete(ctx context.Context, ids []string) (int, error) {
	if _, err := col.client.store.GetCollection(ctx, col.Name); err != nil {
		return 0, nil
	}
	return col.client.store.DeleteDocuments(ctx, col.Name, ids)
}

// Count returns the collection's document count, zero when it does not
// exist yet.
func (col *Collection) Count(ctx context.Context) (int, error) {
	meta, err := col.client.store.GetCollection(ctx, col.Name)
	if err != nil {
		return 0, nil
	}
	return meta.DocumentCount, nil
}
