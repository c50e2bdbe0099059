// Package selection ranks a job's analyzed items and picks the final working
// set. The whole package is pure: identical input always yields the identical
// ranked output, which is what makes replayed selecting stages safe.
package selection

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Weights for the composite score. Each dimension is clamped to [0,1] before
// weighting so one out-of-range upstream score cannot dominate the ranking.
type Weights struct {
	Trending  float64
	Quality   float64
	Relevance float64
}

func DefaultWeights() Weights {
	return Weights{Trending: 0.4, Quality: 0.3, Relevance: 0.3}
}

type Params struct {
	Weights Weights
	// MaxClips is the target working-set size N.
	MaxClips int
	// MaxPerAuthor caps how many items one author contributes. Zero means
	// no cap.
	MaxPerAuthor int
	// AllowFallback permits non-recommended items to fill the set when
	// recommended ones run out.
	AllowFallback bool
}

// Candidate pairs an item with its latest analysis.
type Candidate struct {
	ItemID       uuid.UUID
	Author       string
	Views        int64
	DiscoveredAt time.Time

	TrendingScore  float64
	QualityScore   float64
	RelevanceScore float64
	Recommended    bool
}

type Ranked struct {
	Candidate
	Composite float64
}

type Result struct {
	// Items is the ordered selected set; position is rank.
	Items []uuid.UUID
	// FallbackCount is how many selected items were not recommended.
	FallbackCount int
	UsedFallback  bool
}

// ErrNoEligible means the pool had candidates but none were selectable under
// the active policy (no recommended items and fallback disabled).
var ErrNoEligible = errors.New("no eligible candidates under selection policy")

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Composite computes the weighted score. Each term is clamped to [0,1] and
// nothing else: raising any dimension never lowers the score. Platform-scale
// trending values are normalized at ingestion, before they reach this package.
func Composite(w Weights, trending, quality, relevance float64) float64 {
	return w.Trending*clamp01(trending) + w.Quality*clamp01(quality) + w.Relevance*clamp01(relevance)
}

// Rank scores and orders candidates. Ties break by higher views, then earlier
// discovery, then item id, so the order is a total order over any input.
func Rank(w Weights, cands []Candidate) []Ranked {
	ranked := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		ranked = append(ranked, Ranked{
			Candidate: c,
			Composite: Composite(w, c.TrendingScore, c.QualityScore, c.RelevanceScore),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ItemID.String() < b.ItemID.String()
	})
	return ranked
}

// Select runs the full policy: rank, then greedily fill the working set from
// recommended items under the per-author cap, then (when fallback is on)
// non-recommended items, then items previously skipped for the cap. Skipped
// items are never dropped outright; the cap is relaxed last rather than
// returning a short set.
func Select(p Params, cands []Candidate) (*Result, error) {
	if p.MaxClips <= 0 {
		return nil, errors.New("max clips must be positive")
	}
	if len(cands) == 0 {
		return &Result{Items: []uuid.UUID{}}, nil
	}

	ranked := Rank(p.Weights, cands)

	anyRecommended := false
	for _, r := range ranked {
		if r.Recommended {
			anyRecommended = true
			break
		}
	}
	if !anyRecommended && !p.AllowFallback {
		return nil, ErrNoEligible
	}

	picked := make([]uuid.UUID, 0, p.MaxClips)
	pickedSet := map[uuid.UUID]bool{}
	perAuthor := map[string]int{}
	fallback := 0

	underCap := func(r Ranked) bool {
		if p.MaxPerAuthor <= 0 || r.Author == "" {
			return true
		}
		return perAuthor[r.Author] < p.MaxPerAuthor
	}
	take := func(r Ranked) {
		picked = append(picked, r.ItemID)
		pickedSet[r.ItemID] = true
		if r.Author != "" {
			perAuthor[r.Author]++
		}
		if !r.Recommended {
			fallback++
		}
	}

	// Pass order: recommended under cap, fallback under cap, then the same
	// two with the cap relaxed.
	passes := []struct {
		recommended bool
		capped      bool
	}{
		{recommended: true, capped: true},
		{recommended: false, capped: true},
		{recommended: true, capped: false},
		{recommended: false, capped: false},
	}
	for _, pass := range passes {
		if !pass.recommended && !p.AllowFallback {
			continue
		}
		for _, r := range ranked {
			if len(picked) >= p.MaxClips {
				break
			}
			if r.Recommended != pass.recommended || pickedSet[r.ItemID] {
				continue
			}
			if pass.capped && !underCap(r) {
				continue
			}
			take(r)
		}
		if len(picked) >= p.MaxClips {
			break
		}
	}

	return &Result{
		Items:         picked,
		FallbackCount: fallback,
		UsedFallback:  fallback > 0,
	}, nil
}
