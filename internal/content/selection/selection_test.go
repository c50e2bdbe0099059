package selection

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func cand(author string, views int64, trending, quality, relevance float64, recommended bool) Candidate {
	return Candidate{
		ItemID:         uuid.New(),
		Author:         author,
		Views:          views,
		DiscoveredAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TrendingScore:  trending,
		QualityScore:   quality,
		RelevanceScore: relevance,
		Recommended:    recommended,
	}
}

func defaultParams(n int) Params {
	return Params{
		Weights:       DefaultWeights(),
		MaxClips:      n,
		MaxPerAuthor:  2,
		AllowFallback: true,
	}
}

func TestCompositeClampsEachTerm(t *testing.T) {
	w := DefaultWeights()

	// An absurd relevance score must not dominate.
	score := Composite(w, 0, 0, 50)
	if score != w.Relevance {
		t.Fatalf("composite = %v, want %v", score, w.Relevance)
	}

	// Negative inputs clamp to zero.
	if got := Composite(w, -5, -1, -0.1); got != 0 {
		t.Fatalf("composite = %v, want 0", got)
	}

	// A perfect candidate hits exactly the weight sum.
	if got := Composite(w, 1, 1, 1); got != w.Trending+w.Quality+w.Relevance {
		t.Fatalf("composite = %v, want %v", got, w.Trending+w.Quality+w.Relevance)
	}
}

func TestCompositeMonotonicInEachDimension(t *testing.T) {
	w := DefaultWeights()
	base := Composite(w, 0.5, 0.5, 0.5)
	if Composite(w, 0.6, 0.5, 0.5) <= base {
		t.Fatal("raising trending did not raise composite")
	}
	if Composite(w, 0.5, 0.6, 0.5) <= base {
		t.Fatal("raising quality did not raise composite")
	}
	if Composite(w, 0.5, 0.5, 0.6) <= base {
		t.Fatal("raising relevance did not raise composite")
	}
}

func TestCompositeNeverDropsAcrossUnitBoundary(t *testing.T) {
	w := DefaultWeights()

	// Raising a dimension past 1.0 saturates; it must never lower the score.
	at := Composite(w, 1.0, 0.5, 0.5)
	for _, trending := range []float64{1.01, 1.5, 85, 100} {
		above := Composite(w, trending, 0.5, 0.5)
		if above < at {
			t.Fatalf("raising trending 1.0 -> %v dropped composite %v -> %v", trending, at, above)
		}
		if above != at {
			t.Fatalf("trending %v should clamp to 1, composite = %v want %v", trending, above, at)
		}
	}
}

func TestRankIsDeterministicUnderShuffle(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, cand("author", int64(i%3)*1000, 0.5, 0.5, 0.5, true))
	}

	first := Rank(DefaultWeights(), cands)
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]Candidate(nil), cands...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again := Rank(DefaultWeights(), shuffled)
		for i := range first {
			if first[i].ItemID != again[i].ItemID {
				t.Fatalf("trial %d: rank order changed at position %d", trial, i)
			}
		}
	}
}

func TestSelectPrefersRecommendedAndExcludesDuplicates(t *testing.T) {
	// A and B are distinct; C would be a duplicate of A, but duplicates are
	// resolved before selection, so the pool only ever holds A and B.
	a := cand("alice", 5000, 0.5, 0.9, 0.8, true)
	b := cand("bob", 100000, 0.9, 0.2, 0.5, true)

	res, err := Select(defaultParams(2), []Candidate{a, b})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("selected %d items, want 2", len(res.Items))
	}
	if res.Items[0] == res.Items[1] {
		t.Fatal("duplicate item in output")
	}
	if res.UsedFallback {
		t.Fatal("fallback flagged for an all-recommended pool")
	}
}

func TestSelectEnforcesAuthorCapBySkipping(t *testing.T) {
	// Three strong items from one author, one weaker from another. The cap
	// skips the third same-author item in favor of the other author.
	a1 := cand("prolific", 9000, 0.9, 0.9, 0.9, true)
	a2 := cand("prolific", 8000, 0.9, 0.9, 0.8, true)
	a3 := cand("prolific", 7000, 0.9, 0.9, 0.7, true)
	b1 := cand("other", 100, 0.1, 0.2, 0.2, true)

	res, err := Select(defaultParams(3), []Candidate{a1, a2, a3, b1})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want := []uuid.UUID{a1.ItemID, a2.ItemID, b1.ItemID}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items = %v, want %v", res.Items, want)
	}
}

func TestSelectRelaxesCapRatherThanReturningShort(t *testing.T) {
	// Only one author in the pool: the cap alone cannot fill N, so the
	// skipped item comes back in.
	a1 := cand("solo", 3000, 0.8, 0.8, 0.8, true)
	a2 := cand("solo", 2000, 0.7, 0.7, 0.7, true)
	a3 := cand("solo", 1000, 0.6, 0.6, 0.6, true)

	res, err := Select(defaultParams(3), []Candidate{a1, a2, a3})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("selected %d items, want 3", len(res.Items))
	}
	if res.Items[2] != a3.ItemID {
		t.Fatal("cap-relaxed item did not land last")
	}
}

func TestSelectFallbackFillsAndIsRecorded(t *testing.T) {
	rec := cand("alice", 5000, 0.8, 0.8, 0.8, true)
	non1 := cand("bob", 9000, 0.9, 0.9, 0.9, false)
	non2 := cand("carol", 100, 0.1, 0.1, 0.1, false)

	res, err := Select(defaultParams(2), []Candidate{rec, non1, non2})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// Recommended first even though non1 outscores it.
	want := []uuid.UUID{rec.ItemID, non1.ItemID}
	if !reflect.DeepEqual(res.Items, want) {
		t.Fatalf("items = %v, want %v", res.Items, want)
	}
	if !res.UsedFallback || res.FallbackCount != 1 {
		t.Fatalf("fallback = %v/%d, want true/1", res.UsedFallback, res.FallbackCount)
	}
}

func TestSelectNoRecommendedFallbackDisabled(t *testing.T) {
	p := defaultParams(2)
	p.AllowFallback = false

	_, err := Select(p, []Candidate{
		cand("alice", 100, 0.5, 0.5, 0.5, false),
		cand("bob", 200, 0.5, 0.5, 0.5, false),
	})
	if !errors.Is(err, ErrNoEligible) {
		t.Fatalf("err = %v, want ErrNoEligible", err)
	}
}

func TestSelectEmptyPoolYieldsEmptySet(t *testing.T) {
	res, err := Select(defaultParams(5), nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("selected %d items from empty pool", len(res.Items))
	}
}
