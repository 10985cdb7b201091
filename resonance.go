// Package resonance matches a textual demand against a pool of entity
// profiles by hyperdimensional similarity. Profiles are encoded fragment by
// fragment through an embedding provider, projected to binary hypervectors,
// superposed by majority vote, and retrieved by Hamming-distance nearest
// neighbor. The query path is pure arithmetic with zero model calls beyond
// the embedding itself.
//
// Basic usage:
//
//	eng := resonance.New(provider)
//	eng.Register(ctx, "ada", []encode.Fragment{
//		{Field: "skills", Text: "Python backend, distributed systems"},
//	})
//	matches, err := eng.Match(ctx, "need a backend engineer with Python")
package resonance

import (
	"context"
	"sync"
	"time"

	"resonance/embedding"
	"resonance/encode"
	"resonance/hvec"
	"resonance/index"
)

// Stats is a point-in-time snapshot of engine metrics.
type Stats struct {
	Entities      int
	Registrations uint64
	Queries       uint64
	AvgTopSim     float64 // mean similarity of the best match across queries with results
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	bits          int
	seed          uint64
	threshold     float64
	topK          int
	policy        index.Policy
	encodeTimeout time.Duration
}

func defaultOptions() engineOptions {
	return engineOptions{
		bits:          10000,
		seed:          0x5E50,
		threshold:     0.55,
		topK:          10,
		policy:        index.ThresholdedTopK,
		encodeTimeout: 10 * time.Second,
	}
}

// WithBits sets the hypervector bit width (default 10000).
// Higher values increase accuracy at the cost of memory and CPU.
func WithBits(n int) Option { return func(o *engineOptions) { o.bits = n } }

// WithSeed sets the projection seed (default 0x5E50).
// Engines with different seeds produce incompatible hypervectors; changing
// the seed of an existing corpus requires re-registering every entity.
func WithSeed(s uint64) Option { return func(o *engineOptions) { o.seed = s } }

// WithThreshold sets the minimum similarity for the thresholded policy
// (default 0.55). Must be in (0, 1].
func WithThreshold(t float64) Option { return func(o *engineOptions) { o.threshold = t } }

// WithTopK sets the default maximum number of matches (default 10).
func WithTopK(k int) Option { return func(o *engineOptions) { o.topK = k } }

// WithPolicy selects the retrieval policy (default ThresholdedTopK).
func WithPolicy(p index.Policy) Option { return func(o *engineOptions) { o.policy = p } }

// WithEncodeTimeout bounds each embedding provider call (default 10s).
// Zero disables the engine-side bound; the caller's context still applies.
func WithEncodeTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.encodeTimeout = d }
}

// Engine is the resonance matching engine. It is safe for concurrent use.
type Engine struct {
	enc  *encode.Encoder
	idx  *index.Index
	opts engineOptions

	// fragMu guards the retained per-fragment hypervectors used for
	// incremental re-bundling, and is held across every index write paired
	// with a retention change. The index and the retention map must always
	// describe the same bundle for an entity; interleaving the two halves of
	// different writes would let a stale retention entry resurrect an
	// overwritten or removed bundle.
	fragMu    sync.Mutex
	fragments map[string][]encode.FragmentVector

	statsMu       sync.Mutex
	registrations uint64
	queries       uint64
	topSimSum     float64
	topSimCount   uint64
}

// New creates an Engine using provider for dense embeddings.
// The projection matrix is generated once here and shared read-only for the
// engine's lifetime.
//
// Panics if any option value is invalid or the provider's dimensionality is
// not positive.
func New(provider embedding.Provider, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case o.bits <= 0:
		panic("resonance: bits must be positive")
	case o.threshold <= 0 || o.threshold > 1:
		panic("resonance: threshold must be in (0, 1]")
	case o.topK < 1:
		panic("resonance: top-k must be at least 1")
	case o.encodeTimeout < 0:
		panic("resonance: encode timeout must not be negative")
	}

	proj := encode.NewProjection(provider.Dimensions(), o.bits, o.seed)
	enc, err := encode.NewEncoder(provider, proj, o.encodeTimeout)
	if err != nil {
		// Construction pairs the projection with the provider's own
		// dimensionality, so this is unreachable unless the provider lies.
		panic("resonance: " + err.Error())
	}

	return &Engine{
		enc:       enc,
		idx:       index.New(o.bits),
		opts:      o,
		fragments: make(map[string][]encode.FragmentVector),
	}
}

// Register encodes an entity's fragments, bundles them into one hypervector,
// and inserts it into the index. The per-fragment hypervectors are retained
// so a later UpdateFragment can re-bundle without re-encoding everything.
//
// Fails with encode.ErrEncodingUnavailable if the provider is down; nothing
// is inserted in that case.
func (e *Engine) Register(ctx context.Context, entityID string, frags []encode.Fragment) error {
	fvs, err := e.enc.EncodeFragments(ctx, frags)
	if err != nil {
		return err
	}
	bundled, err := encode.BundleFragments(fvs)
	if err != nil {
		return err
	}
	e.fragMu.Lock()
	if err := e.idx.Insert(entityID, bundled); err != nil {
		e.fragMu.Unlock()
		return err
	}
	e.fragments[entityID] = fvs
	e.fragMu.Unlock()

	e.statsMu.Lock()
	e.registrations++
	e.statsMu.Unlock()
	return nil
}

// Refresh re-encodes all of an entity's fragments and atomically replaces
// its stored hypervector.
func (e *Engine) Refresh(ctx context.Context, entityID string, frags []encode.Fragment) error {
	fvs, err := e.enc.EncodeFragments(ctx, frags)
	if err != nil {
		return err
	}
	bundled, err := encode.BundleFragments(fvs)
	if err != nil {
		return err
	}
	e.fragMu.Lock()
	defer e.fragMu.Unlock()
	if err := e.idx.Update(entityID, bundled); err != nil {
		return err
	}
	e.fragments[entityID] = fvs
	return nil
}

// UpdateFragment re-encodes a single changed fragment, re-bundles it with
// the entity's retained fragment hypervectors, and atomically replaces the
// entity's stored hypervector. A fragment with a new field tag is added;
// an existing tag is replaced.
func (e *Engine) UpdateFragment(ctx context.Context, entityID string, frag encode.Fragment) error {
	fvs, err := e.enc.EncodeFragments(ctx, []encode.Fragment{frag})
	if err != nil {
		return err
	}

	e.fragMu.Lock()
	defer e.fragMu.Unlock()

	retained, ok := e.fragments[entityID]
	if !ok {
		return index.ErrEntityUnknown
	}
	merged := make([]encode.FragmentVector, 0, len(retained)+1)
	replaced := false
	for _, fv := range retained {
		if fv.Field == frag.Field {
			merged = append(merged, fvs[0])
			replaced = true
			continue
		}
		merged = append(merged, fv)
	}
	if !replaced {
		merged = append(merged, fvs[0])
	}

	bundled, err := encode.BundleFragments(merged)
	if err != nil {
		return err
	}
	if err := e.idx.Update(entityID, bundled); err != nil {
		return err
	}
	e.fragments[entityID] = merged
	return nil
}

// Remove drops an entity from the index. The removed flag reports whether
// the entity existed.
func (e *Engine) Remove(entityID string) (bool, error) {
	e.fragMu.Lock()
	defer e.fragMu.Unlock()

	removed, err := e.idx.Remove(entityID)
	if err != nil {
		return false, err
	}
	if removed {
		delete(e.fragments, entityID)
	}
	return removed, nil
}

// Match encodes raw query text and returns the ranked entities under the
// engine's configured policy. The text is encoded exactly like any other
// text: there is no privileged path for rewritten or "formulated" queries.
func (e *Engine) Match(ctx context.Context, queryText string) ([]index.Match, error) {
	q, err := e.enc.EncodeText(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return e.search(q)
}

// MatchFragments encodes a multi-fragment query, bundles the fragment
// hypervectors into a single query hypervector, and searches.
func (e *Engine) MatchFragments(ctx context.Context, frags []encode.Fragment) ([]index.Match, error) {
	q, err := e.enc.EncodeEntity(ctx, frags)
	if err != nil {
		return nil, err
	}
	return e.search(q)
}

// MatchVector searches with a pre-encoded query hypervector.
func (e *Engine) MatchVector(q hvec.Vector) ([]index.Match, error) {
	return e.search(q)
}

// Snapshot returns the current immutable index view for custom searches.
func (e *Engine) Snapshot() *index.Snapshot { return e.idx.Snapshot() }

// Len returns the number of registered entities.
func (e *Engine) Len() int { return e.idx.Len() }

// Stats returns a point-in-time snapshot of engine metrics.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	avg := 0.0
	if e.topSimCount > 0 {
		avg = e.topSimSum / float64(e.topSimCount)
	}
	return Stats{
		Entities:      e.idx.Len(),
		Registrations: e.registrations,
		Queries:       e.queries,
		AvgTopSim:     avg,
	}
}

func (e *Engine) search(q hvec.Vector) ([]index.Match, error) {
	matches, err := e.idx.Snapshot().Search(q, index.SearchOptions{
		K:         e.opts.topK,
		Threshold: e.opts.threshold,
		Policy:    e.opts.policy,
	})
	if err != nil {
		return nil, err
	}

	e.statsMu.Lock()
	e.queries++
	if len(matches) > 0 {
		e.topSimSum += matches[0].Similarity
		e.topSimCount++
	}
	e.statsMu.Unlock()
	return matches, nil
}
