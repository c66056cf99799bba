// Package index provides the in-memory similarity indexes used by the
// vector store. Both implementations are exact: they differ in memory
// layout and rebuild cost, never in ranking. Indexes are immutable once
// built; the vector store swaps in a freshly built index after each
// mutation batch, so queries always observe a fully built index.
package index

import (
	"sort"

	"github.com/offlinemind/memstore/internal/encoding"
)

// Index type names reported through stats.
const (
	TypeBruteForce   = "brute_force"
	TypeInnerProduct = "inner_product"
)

// Entry is a single indexed vector. Seq is the insertion sequence number
// used for stable tie-breaking.
type Entry struct {
	ID     string
	Vector []float32
	Seq    int64
}

// Candidate is a scored search result. Score is cosine similarity computed
// as the inner product of L2-normalized vectors.
type Candidate struct {
	ID    string
	Score float32
	Seq   int64
}

// Index is an exact top-k similarity index over a fixed set of vectors.
type Index interface {
	// Search returns up to k candidates ranked by descending score,
	// ties broken by ascending insertion sequence.
	Search(query []float32, k int) []Candidate
	// Size returns the number of indexed vectors.
	Size() int
	// Type returns the index type name.
	Type() string
}

// Flat is a brute-force index holding each vector separately. Cheapest to
// build, used below the store's index threshold.
type Flat struct {
	dim     int
	entries []Entry
}

// NewFlat builds a brute-force index. Vectors are L2-normalized at build
// time so Search reduces to inner products.
func NewFlat(dim int, entries []Entry) *Flat {
	f := &Flat{dim: dim, entries: make([]Entry, len(entries))}
	for i, e := range entries {
		f.entries[i] = Entry{ID: e.ID, Vector: encoding.Normalize(e.Vector), Seq: e.Seq}
	}
	sortEntries(f.entries)
	return f
}

// Search performs exact brute-force search.
func (f *Flat) Search(query []float32, k int) []Candidate {
	if k <= 0 || len(query) != f.dim || len(f.entries) == 0 {
		return nil
	}
	q := encoding.Normalize(query)

	cands := make([]Candidate, len(f.entries))
	for i, e := range f.entries {
		cands[i] = Candidate{ID: e.ID, Score: dot(q, e.Vector), Seq: e.Seq}
	}
	return topK(cands, k)
}

// Size returns the number of indexed vectors.
func (f *Flat) Size() int { return len(f.entries) }

// Type returns the index type name.
func (f *Flat) Type() string { return TypeBruteForce }

// Packed is an exact inner-product index over a contiguous row-major
// matrix of pre-normalized vectors. More expensive to build than Flat but
// cache-friendly to scan; used at or above the store's index threshold.
type Packed struct {
	dim  int
	ids  []string
	seqs []int64
	data []float32 // len(ids) rows of dim values
}

// NewPacked builds a packed inner-product index.
func NewPacked(dim int, entries []Entry) *Packed {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	p := &Packed{
		dim:  dim,
		ids:  make([]string, len(sorted)),
		seqs: make([]int64, len(sorted)),
		data: make([]float32, len(sorted)*dim),
	}
	for i, e := range sorted {
		p.ids[i] = e.ID
		p.seqs[i] = e.Seq
		copy(p.data[i*dim:(i+1)*dim], encoding.Normalize(e.Vector))
	}
	return p
}

// Search performs an exact scan over the packed matrix. Ranking is
// identical to Flat for the same entries and query.
func (p *Packed) Search(query []float32, k int) []Candidate {
	if k <= 0 || len(query) != p.dim || len(p.ids) == 0 {
		return nil
	}
	q := encoding.Normalize(query)

	cands := make([]Candidate, len(p.ids))
	for i := range p.ids {
		row := p.data[i*p.dim : (i+1)*p.dim]
		cands[i] = Candidate{ID: p.ids[i], Score: dot(q, row), Seq: p.seqs[i]}
	}
	return topK(cands, k)
}

// Size returns the number of indexed vectors.
func (p *Packed) Size() int { return len(p.ids) }

// Type returns the index type name.
func (p *Packed) Type() string { return TypeInnerProduct }

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// sortEntries orders entries by insertion sequence so both index layouts
// score candidates in the same order.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}

// topK sorts candidates by descending score, ties broken by ascending
// insertion sequence, and truncates to k.
func topK(cands []Candidate, k int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Seq < cands[j].Seq
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
