package vector

import (
	"context"
	"sort"

	"github.com/offlinemind/memstore/internal/encoding"
	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/index"
	"github.com/offlinemind/memstore/pkg/props"
)

// Result is one ranked query hit. Score is cosine similarity (inner
// product of L2-normalized vectors); Distance is 1 - Score.
type Result struct {
	Document *Document `json:"document"`
	Score    float32   `json:"score"`
	Distance float32   `json:"distance"`
}

// Query returns the top-k documents of a collection ranked by cosine
// similarity to the query embedding. filter, when non-empty, keeps only
// documents whose metadata exactly matches every given key before any
// ranking happens. Ties are broken by original insertion order. Querying
// an unknown collection returns an empty result set, not an error.
func (s *Store) Query(ctx context.Context, collectionName string, embedding []float32, k int, filter props.Map) ([]Result, error) {
	c, ok, err := s.getCollection(collectionName)
	if err != nil {
		return nil, errs.Wrap("query", err)
	}
	if !ok {
		return nil, nil // unknown collection is an explicit leniency
	}
	if k <= 0 {
		return nil, nil
	}

	// Grab the current fully-built generation; mutations replace these
	// references wholesale, so reading them without the write lock is safe.
	c.stateMu.RLock()
	meta := c.meta
	docs := c.docs
	seqs := c.seqs
	idx := c.idx
	c.stateMu.RUnlock()

	if len(embedding) != meta.EmbeddingDim {
		return nil, errs.Wrapf("query", errs.ErrInvalidDimension,
			"got %d, collection %q expects %d", len(embedding), collectionName, meta.EmbeddingDim)
	}
	if err := encoding.ValidateVector(embedding); err != nil {
		return nil, errs.Wrapf("query", errs.ErrValidation, "%v", err)
	}

	var cands []index.Candidate
	if len(filter) == 0 {
		cands = idx.Search(embedding, k)
	} else {
		cands = searchFiltered(embedding, k, docs, seqs, filter)
	}

	results := make([]Result, 0, len(cands))
	for _, cand := range cands {
		d, ok := docs[cand.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Document: cloneDoc(d),
			Score:    cand.Score,
			Distance: 1 - cand.Score,
		})
	}
	return results, nil
}

// searchFiltered scores only the documents matching the metadata filter.
// The filter restricts the candidate set before ranking, and the scoring
// and tie-break rules are the same as the index's, so filtered and
// unfiltered paths rank identically over the same candidates.
func searchFiltered(embedding []float32, k int, docs map[string]*Document, seqs map[string]int64, filter props.Map) []index.Candidate {
	entries := make([]index.Entry, 0, len(docs))
	dim := len(embedding)
	for id, d := range docs {
		if !matchesFilter(d.Metadata, filter) {
			continue
		}
		entries = append(entries, index.Entry{ID: id, Vector: d.Embedding, Seq: seqs[id]})
	}
	return index.NewFlat(dim, entries).Search(embedding, k)
}

// matchesFilter reports whether metadata contains every filter key with a
// deeply equal value.
func matchesFilter(metadata, filter props.Map) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// sortDocsBySeq orders documents by their insertion sequence.
func sortDocsBySeq(docs []*Document, seqs map[string]int64) {
	sort.Slice(docs, func(i, j int) bool {
		return seqs[docs[i].ID] < seqs[docs[j].ID]
	})
}
