// Package encode turns profile and query text into binary hypervectors.
//
// Text fragments are embedded independently through an [embedding.Provider],
// each dense vector is projected to a hypervector via random hyperplane LSH
// ([Projection]), and an entity's fragment hypervectors are superposed with
// [hvec.Bundle]. Fragment texts are never concatenated before embedding:
// concatenation lets high-frequency terms drown out distinctive low-frequency
// ones, which is exactly what per-fragment bundling avoids.
package encode

import (
	"errors"
	"math"
	"math/rand"

	"resonance/hvec"
)

// ErrDimensionMismatch is returned when a dense vector's length does not
// match the projection's configured dense dimensionality, or a provider's
// dimensionality does not match the projection it is paired with.
var ErrDimensionMismatch = errors.New("encode: dense dimension mismatch")

// Projection converts dense float32 embeddings to binary hypervectors via
// random hyperplane Locality-Sensitive Hashing.
//
// Each output bit is the sign of the dot product between the input embedding
// and a fixed random hyperplane. The hyperplanes are generated once from the
// seed and never mutated, so a Projection is safely shared read-only across
// any number of concurrent encoders. Changing the seed (or the bit width)
// invalidates every hypervector produced so far; the whole corpus must then
// be re-encoded.
type Projection struct {
	denseDims int         // input embedding dimensionality (e.g. 384 for MiniLM)
	bits      int         // output hypervector bit width (e.g. 10000)
	seed      uint64
	planes    [][]float32 // [bits][denseDims] random hyperplanes
}

// NewProjection creates a Projection mapping denseDims-dimensional float32
// vectors to bits-wide hypervectors. The hyperplanes are generated
// deterministically from seed.
//
// Panics if denseDims or bits is <= 0.
func NewProjection(denseDims, bits int, seed uint64) *Projection {
	if denseDims <= 0 {
		panic("encode: denseDims must be positive")
	}
	if bits <= 0 {
		panic("encode: bits must be positive")
	}

	rng := rand.New(rand.NewSource(int64(seed))) //nolint:gosec
	planes := make([][]float32, bits)
	for i := range planes {
		plane := make([]float32, denseDims)
		for j := range plane {
			plane[j] = float32(rng.NormFloat64())
		}
		// Normalize the plane to unit length for numerical stability.
		var norm float64
		for _, v := range plane {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			scale := float32(1.0 / norm)
			for j := range plane {
				plane[j] *= scale
			}
		}
		planes[i] = plane
	}

	return &Projection{
		denseDims: denseDims,
		bits:      bits,
		seed:      seed,
		planes:    planes,
	}
}

// DenseDims returns the expected input dimensionality.
func (p *Projection) DenseDims() int { return p.denseDims }

// Bits returns the output hypervector bit width.
func (p *Projection) Bits() int { return p.bits }

// Seed returns the seed the hyperplanes were generated from.
func (p *Projection) Seed() uint64 { return p.seed }

// Binarize projects a dense embedding to a binary hypervector.
// Bit i is 1 if dot(dense, planes[i]) >= 0, else 0; an exact-zero dot
// product yields 1.
//
// Returns ErrDimensionMismatch if len(dense) != DenseDims(). The input is
// never truncated or padded.
func (p *Projection) Binarize(dense []float32) (hvec.Vector, error) {
	if len(dense) != p.denseDims {
		return hvec.Vector{}, ErrDimensionMismatch
	}

	b := hvec.NewBuilder(p.bits)
	for i, plane := range p.planes {
		if dotProduct(dense, plane) >= 0 {
			b.SetBit(i)
		}
	}
	return b.Vector(), nil
}

// dotProduct computes the dot product of two float32 slices of equal length.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
