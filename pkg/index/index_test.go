package index

import (
	"math"
	"math/rand"
	"testing"
)

func testEntries(n, dim int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		entries[i] = Entry{ID: string(rune('a' + i%26)) + string(rune('0'+i/26)), Vector: vec, Seq: int64(i)}
	}
	return entries
}

func TestFlatAndPackedIdenticalOrdering(t *testing.T) {
	const dim = 8
	entries := testEntries(50, dim, 42)

	flat := NewFlat(dim, entries)
	packed := NewPacked(dim, entries)

	rng := rand.New(rand.NewSource(7))
	for q := 0; q < 20; q++ {
		query := make([]float32, dim)
		for j := range query {
			query[j] = rng.Float32()*2 - 1
		}

		fr := flat.Search(query, 10)
		pr := packed.Search(query, 10)

		if len(fr) != len(pr) {
			t.Fatalf("result length mismatch: flat=%d packed=%d", len(fr), len(pr))
		}
		for i := range fr {
			if fr[i].ID != pr[i].ID {
				t.Errorf("rank %d: flat=%s packed=%s", i, fr[i].ID, pr[i].ID)
			}
			if math.Abs(float64(fr[i].Score-pr[i].Score)) > 1e-6 {
				t.Errorf("rank %d: score mismatch %f vs %f", i, fr[i].Score, pr[i].Score)
			}
		}
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	// Two identical vectors: the earlier insertion must rank first.
	entries := []Entry{
		{ID: "second", Vector: []float32{1, 0}, Seq: 5},
		{ID: "first", Vector: []float32{1, 0}, Seq: 1},
		{ID: "other", Vector: []float32{0, 1}, Seq: 0},
	}

	for _, idx := range []Index{NewFlat(2, entries), NewPacked(2, entries)} {
		got := idx.Search([]float32{1, 0}, 3)
		if len(got) != 3 {
			t.Fatalf("%s: expected 3 results, got %d", idx.Type(), len(got))
		}
		if got[0].ID != "first" || got[1].ID != "second" {
			t.Errorf("%s: tie not broken by insertion order: %s, %s", idx.Type(), got[0].ID, got[1].ID)
		}
	}
}

func TestSearchEdgeCases(t *testing.T) {
	entries := testEntries(5, 4, 1)
	flat := NewFlat(4, entries)

	if got := flat.Search([]float32{1, 0, 0, 0}, 0); got != nil {
		t.Errorf("k=0 should return nil, got %v", got)
	}
	if got := flat.Search([]float32{1, 0}, 3); got != nil {
		t.Errorf("dimension mismatch should return nil, got %v", got)
	}
	if got := flat.Search([]float32{1, 0, 0, 0}, 100); len(got) != 5 {
		t.Errorf("k beyond size should return all 5, got %d", len(got))
	}
}

func TestCosineScores(t *testing.T) {
	entries := []Entry{
		{ID: "same", Vector: []float32{2, 0, 0}, Seq: 0}, // parallel, any magnitude
		{ID: "orth", Vector: []float32{0, 3, 0}, Seq: 1},
	}
	flat := NewFlat(3, entries)

	got := flat.Search([]float32{5, 0, 0}, 2)
	if got[0].ID != "same" || math.Abs(float64(got[0].Score)-1) > 1e-6 {
		t.Errorf("parallel vector should score 1.0, got %s %f", got[0].ID, got[0].Score)
	}
	if got[1].ID != "orth" || math.Abs(float64(got[1].Score)) > 1e-6 {
		t.Errorf("orthogonal vector should score 0.0, got %s %f", got[1].ID, got[1].Score)
	}
}

func TestIndexTypes(t *testing.T) {
	if got := NewFlat(2, nil).Type(); got != TypeBruteForce {
		t.Errorf("flat type = %s", got)
	}
	if got := NewPacked(2, nil).Type(); got != TypeInnerProduct {
		t.Errorf("packed type = %s", got)
	}
}
