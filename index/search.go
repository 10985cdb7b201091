package index

import (
	"errors"
	"sort"

	"resonance/hvec"
)

// ErrInvalidTopK is returned when a search is requested with K < 1.
var ErrInvalidTopK = errors.New("index: top-k must be at least 1")

// Policy selects how search results are admitted.
type Policy int

const (
	// RankedTopK returns the K most similar entities regardless of their
	// absolute score: "best available", even if weak.
	RankedTopK Policy = iota

	// ThresholdedTopK returns at most K entities whose similarity is at or
	// above the threshold. Fewer qualifying entities means fewer results;
	// sub-threshold entities are never used as padding.
	ThresholdedTopK
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case RankedTopK:
		return "ranked"
	case ThresholdedTopK:
		return "thresholded"
	default:
		return "unknown"
	}
}

// SearchOptions configures one search call.
type SearchOptions struct {
	K         int     // maximum number of results, >= 1
	Threshold float64 // minimum similarity; only used by ThresholdedTopK
	Policy    Policy
}

// Match is one ranked search result.
type Match struct {
	EntityID   string
	Similarity float64 // normalized Hamming similarity in [0, 1]
}

// Search scans every entity in the snapshot, computes the normalized
// Hamming similarity to the query, and returns the ranked results under
// the given policy.
//
// Ordering is fully deterministic: similarity descending, entity id
// ascending on ties. The scan is pure arithmetic (XOR plus popcount per
// entity) with no model call anywhere on the path.
func (s *Snapshot) Search(query hvec.Vector, opts SearchOptions) ([]Match, error) {
	if query.Bits() != s.bits {
		return nil, ErrDimensionMismatch
	}
	if opts.K < 1 {
		return nil, ErrInvalidTopK
	}

	matches := make([]Match, 0, len(s.ids))
	for i, id := range s.ids {
		sim := hvec.Similarity(query, s.vecs[i])
		if opts.Policy == ThresholdedTopK && sim < opts.Threshold {
			continue
		}
		matches = append(matches, Match{EntityID: id, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].EntityID < matches[j].EntityID
	})

	if len(matches) > opts.K {
		matches = matches[:opts.K]
	}
	return matches, nil
}
