package encode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resonance/embedding"
	"resonance/hvec"
)

// ErrEncodingUnavailable is returned when the embedding provider fails or
// times out. The failure is surfaced as-is: no zero vector, no stale cache,
// no internal retry. Retry policy belongs to the caller.
var ErrEncodingUnavailable = errors.New("encode: embedding provider unavailable")

// ErrNoFragments is returned when encoding is requested for an empty
// fragment list. An empty superposition is not "no information" (the
// all-zero hypervector is a valid code point), so it is rejected outright.
var ErrNoFragments = errors.New("encode: no fragments to encode")

// Fragment is a tagged span of profile or query text belonging to one
// semantic field. Fragments exist only during encoding.
type Fragment struct {
	Field string // e.g. "skills", "needs", "bio"
	Text  string
}

// FragmentVector pairs a fragment's field tag with its hypervector.
type FragmentVector struct {
	Field  string
	Vector hvec.Vector
}

// Encoder encodes fragments to hypervectors: one provider embedding per
// fragment, then a SimHash projection of each dense vector.
//
// Safe for concurrent use; the projection is read-only and the provider is
// required to be concurrency-safe.
type Encoder struct {
	provider embedding.Provider
	proj     *Projection
	timeout  time.Duration
}

// NewEncoder pairs a provider with a projection.
// timeout bounds every provider call; zero means no additional bound beyond
// the caller's context.
//
// Returns ErrDimensionMismatch if the provider's dimensionality does not
// match the projection's dense dimensionality.
func NewEncoder(provider embedding.Provider, proj *Projection, timeout time.Duration) (*Encoder, error) {
	if provider.Dimensions() != proj.DenseDims() {
		return nil, fmt.Errorf("provider %q produces %d dims, projection expects %d: %w",
			provider.Model(), provider.Dimensions(), proj.DenseDims(), ErrDimensionMismatch)
	}
	return &Encoder{provider: provider, proj: proj, timeout: timeout}, nil
}

// Bits returns the bit width of produced hypervectors.
func (e *Encoder) Bits() int { return e.proj.Bits() }

// EncodeFragments embeds each fragment independently and projects the
// resulting dense vectors to hypervectors, preserving input order.
// Fragment texts are never concatenated.
//
// A provider failure or timeout aborts the whole call with
// ErrEncodingUnavailable; no partial result is returned.
func (e *Encoder) EncodeFragments(ctx context.Context, frags []Fragment) ([]FragmentVector, error) {
	if len(frags) == 0 {
		return nil, ErrNoFragments
	}

	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Text
	}

	dense, err := e.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([]FragmentVector, len(frags))
	for i, f := range frags {
		v, err := e.proj.Binarize(dense[i])
		if err != nil {
			return nil, fmt.Errorf("fragment %q: %w", f.Field, err)
		}
		out[i] = FragmentVector{Field: f.Field, Vector: v}
	}
	return out, nil
}

// EncodeEntity encodes fragments and superposes them into a single entity
// hypervector via majority-vote bundling.
func (e *Encoder) EncodeEntity(ctx context.Context, frags []Fragment) (hvec.Vector, error) {
	fvs, err := e.EncodeFragments(ctx, frags)
	if err != nil {
		return hvec.Vector{}, err
	}
	return BundleFragments(fvs)
}

// EncodeText encodes a single raw text (typically a query) to one
// hypervector. This is the only text-to-hypervector path: a query rewritten
// by any upstream formulation layer is just text like any other and gets no
// privileged treatment here.
func (e *Encoder) EncodeText(ctx context.Context, text string) (hvec.Vector, error) {
	dense, err := e.embed(ctx, []string{text})
	if err != nil {
		return hvec.Vector{}, err
	}
	return e.proj.Binarize(dense[0])
}

// BundleFragments superposes fragment hypervectors into one.
// Returns ErrNoFragments for an empty input.
func BundleFragments(fvs []FragmentVector) (hvec.Vector, error) {
	if len(fvs) == 0 {
		return hvec.Vector{}, ErrNoFragments
	}
	vecs := make([]hvec.Vector, len(fvs))
	for i, fv := range fvs {
		vecs[i] = fv.Vector
	}
	return hvec.Bundle(vecs...), nil
}

// embed runs one provider batch call under the encoder's timeout and
// validates every returned vector.
func (e *Encoder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	dense, err := e.provider.BatchEncode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingUnavailable, err)
	}
	if len(dense) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			ErrEncodingUnavailable, len(dense), len(texts))
	}
	for i, v := range dense {
		if len(v) != e.proj.DenseDims() {
			return nil, fmt.Errorf("text %d: provider returned %d dims, want %d: %w",
				i, len(v), e.proj.DenseDims(), ErrDimensionMismatch)
		}
	}
	return dense, nil
}
