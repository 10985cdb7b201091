package index_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"resonance/hvec"
	"resonance/index"
)

const bits = 1024

func mustInsert(t *testing.T, idx *index.Index, id string, v hvec.Vector) {
	t.Helper()
	if err := idx.Insert(id, v); err != nil {
		t.Fatalf("Insert(%s): %v", id, err)
	}
}

// withOnes builds a vector with the given bits set.
func withOnes(positions ...int) hvec.Vector {
	b := hvec.NewBuilder(bits)
	for _, p := range positions {
		b.SetBit(p)
	}
	return b.Vector()
}

// ── write operations ──────────────────────────────────────────────────────────

func TestInsert_Lookup(t *testing.T) {
	idx := index.New(bits)
	v := hvec.Random(bits, 1)
	mustInsert(t, idx, "a", v)

	if idx.Len() != 1 {
		t.Fatalf("want 1 entity, got %d", idx.Len())
	}
	got, ok := idx.Snapshot().Vector("a")
	if !ok || hvec.Similarity(got, v) != 1.0 {
		t.Fatal("stored vector must round-trip unchanged")
	}
}

func TestInsert_Duplicate(t *testing.T) {
	idx := index.New(bits)
	mustInsert(t, idx, "a", hvec.Random(bits, 1))
	if err := idx.Insert("a", hvec.Random(bits, 2)); !errors.Is(err, index.ErrEntityExists) {
		t.Fatalf("want ErrEntityExists, got %v", err)
	}
}

func TestInsert_WrongWidth(t *testing.T) {
	idx := index.New(bits)
	if err := idx.Insert("a", hvec.Random(bits*2, 1)); !errors.Is(err, index.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestUpdate_ReplacesVector(t *testing.T) {
	idx := index.New(bits)
	mustInsert(t, idx, "a", hvec.Random(bits, 1))

	replacement := hvec.Random(bits, 2)
	if err := idx.Update("a", replacement); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := idx.Snapshot().Vector("a")
	if hvec.Similarity(got, replacement) != 1.0 {
		t.Fatal("Update must replace the stored vector")
	}
}

func TestUpdate_Unknown(t *testing.T) {
	idx := index.New(bits)
	if err := idx.Update("ghost", hvec.Random(bits, 1)); !errors.Is(err, index.ErrEntityUnknown) {
		t.Fatalf("want ErrEntityUnknown, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	idx := index.New(bits)
	mustInsert(t, idx, "a", hvec.Random(bits, 1))

	removed, err := idx.Remove("a")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = idx.Remove("a")
	if err != nil || removed {
		t.Fatalf("second Remove: removed=%v err=%v", removed, err)
	}
	if idx.Len() != 0 {
		t.Fatalf("want empty index, got %d entities", idx.Len())
	}
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	idx := index.New(bits)
	mustInsert(t, idx, "a", hvec.Random(bits, 1))

	snap := idx.Snapshot()
	mustInsert(t, idx, "b", hvec.Random(bits, 2))
	if _, err := idx.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if snap.Len() != 1 || !snap.Contains("a") || snap.Contains("b") {
		t.Fatal("a snapshot must not observe writes made after it was taken")
	}
}

// ── search ────────────────────────────────────────────────────────────────────

func TestSearch_RankedTopK(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)

	// Entities at controlled Hamming distances from the query.
	near := flipBits(query, 10)
	mid := flipBits(query, 100)
	far := flipBits(query, 400)
	mustInsert(t, idx, "far", far)
	mustInsert(t, idx, "near", near)
	mustInsert(t, idx, "mid", mid)

	got, err := idx.Snapshot().Search(query, index.SearchOptions{K: 2, Policy: index.RankedTopK})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].EntityID != "near" || got[1].EntityID != "mid" {
		t.Fatalf("want [near mid], got %v", got)
	}
	if got[0].Similarity <= got[1].Similarity {
		t.Fatal("results must be ordered by descending similarity")
	}
}

func TestSearch_RankedTopK_ReturnsWeakMatches(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)
	mustInsert(t, idx, "weak", flipBits(query, bits/2)) // ~0.5 similarity

	got, err := idx.Snapshot().Search(query, index.SearchOptions{K: 5, Policy: index.RankedTopK})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "weak" {
		t.Fatal("ranked policy must return best available even if weak")
	}
}

func TestSearch_ThresholdedTopK(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)

	mustInsert(t, idx, "strong1", flipBits(query, 10))  // sim ≈ 0.990
	mustInsert(t, idx, "strong2", flipBits(query, 20))  // sim ≈ 0.980
	mustInsert(t, idx, "weak", flipBits(query, 300))    // sim ≈ 0.707

	got, err := idx.Snapshot().Search(query, index.SearchOptions{
		K: 5, Threshold: 0.9, Policy: index.ThresholdedTopK,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 qualifying results, got %d", len(got))
	}
	for _, m := range got {
		if m.Similarity < 0.9 {
			t.Fatalf("result %s below threshold: %.4f", m.EntityID, m.Similarity)
		}
	}
}

func TestSearch_ThresholdedTopK_NeverExceedsK(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		mustInsert(t, idx, id, flipBits(query, 5))
	}

	got, err := idx.Snapshot().Search(query, index.SearchOptions{
		K: 5, Threshold: 0.9, Policy: index.ThresholdedTopK,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("want exactly 5 results, got %d", len(got))
	}
}

func TestSearch_TieBreakByEntityID(t *testing.T) {
	idx := index.New(bits)
	query := withOnes() // zero vector

	// All three entities have the same popcount, hence the same similarity
	// to the zero query. Insertion order deliberately scrambled.
	mustInsert(t, idx, "charlie", withOnes(1, 2))
	mustInsert(t, idx, "alpha", withOnes(3, 4))
	mustInsert(t, idx, "bravo", withOnes(5, 6))

	got, err := idx.Snapshot().Search(query, index.SearchOptions{K: 3, Policy: index.RankedTopK})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	ids := []string{got[0].EntityID, got[1].EntityID, got[2].EntityID}
	if !reflect.DeepEqual(ids, []string{"alpha", "bravo", "charlie"}) {
		t.Fatalf("equal similarities must order by ascending id, got %v", ids)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)
	for i := 0; i < 50; i++ {
		mustInsert(t, idx, string(rune('A'+i)), hvec.Random(bits, uint64(i)))
	}

	snap := idx.Snapshot()
	first, err := snap.Search(query, index.SearchOptions{K: 10, Policy: index.RankedTopK})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := snap.Search(query, index.SearchOptions{K: 10, Policy: index.RankedTopK})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: results differ from first run", run)
		}
	}
}

func TestSearch_SelfSimilarityIsOne(t *testing.T) {
	idx := index.New(bits)
	v := hvec.Random(bits, 7)
	mustInsert(t, idx, "self", v)

	got, err := idx.Snapshot().Search(v, index.SearchOptions{K: 1, Policy: index.RankedTopK})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Similarity != 1.0 {
		t.Fatalf("self similarity must be exactly 1.0, got %v", got[0].Similarity)
	}
}

func TestSearch_WrongQueryWidth(t *testing.T) {
	idx := index.New(bits)
	_, err := idx.Snapshot().Search(hvec.Random(bits*2, 1), index.SearchOptions{K: 1})
	if !errors.Is(err, index.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_InvalidK(t *testing.T) {
	idx := index.New(bits)
	_, err := idx.Snapshot().Search(hvec.Random(bits, 1), index.SearchOptions{K: 0})
	if !errors.Is(err, index.ErrInvalidTopK) {
		t.Fatalf("want ErrInvalidTopK, got %v", err)
	}
}

// ── removal under concurrency ─────────────────────────────────────────────────

func TestRemove_NeverReturnedByMatch(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)
	mustInsert(t, idx, "victim", flipBits(query, 5))
	mustInsert(t, idx, "keeper", flipBits(query, 50))

	if _, err := idx.Remove("victim"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// A concurrent insert of a different entity in the same window must not
	// resurrect the removed one.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if err := idx.Insert("newcomer", flipBits(query, 30)); !errors.Is(err, index.ErrWriteConflict) {
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		got, err := idx.Snapshot().Search(query, index.SearchOptions{K: 10, Policy: index.RankedTopK})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, m := range got {
			if m.EntityID == "victim" {
				t.Fatal("removed entity must never appear in results")
			}
		}
	}
	wg.Wait()
}

func TestConcurrentSearchesDuringWrites(t *testing.T) {
	idx := index.New(bits)
	query := hvec.Random(bits, 42)
	mustInsert(t, idx, "seed", flipBits(query, 5))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := string(rune('a'+w)) + string(rune('0'+i%10))
				for {
					err := idx.Insert(id, hvec.Random(bits, uint64(w*100+i)))
					if !errors.Is(err, index.ErrWriteConflict) {
						break
					}
				}
				_, _ = idx.Remove(id)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got, err := idx.Snapshot().Search(query, index.SearchOptions{K: 5, Policy: index.RankedTopK})
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				for _, m := range got {
					if m.Similarity < 0 || m.Similarity > 1 {
						t.Errorf("similarity out of range: %v", m.Similarity)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

// ── benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkSearch10k(b *testing.B) {
	idx := index.New(10000)
	for i := 0; i < 10000; i++ {
		if err := idx.Insert(string(rune(i)), hvec.Random(10000, uint64(i))); err != nil {
			b.Fatal(err)
		}
	}
	query := hvec.Random(10000, 424242)
	snap := idx.Snapshot()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap.Search(query, index.SearchOptions{K: 10, Policy: index.RankedTopK}) //nolint:errcheck
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

// flipBits returns a copy of v with the first n bit positions inverted,
// giving an exact Hamming distance of n.
func flipBits(v hvec.Vector, n int) hvec.Vector {
	words := v.Words()
	for i := 0; i < n; i++ {
		words[i/64] ^= 1 << uint(i%64)
	}
	return hvec.FromWords(v.Bits(), words)
}
