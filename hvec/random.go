package hvec

import "math/rand/v2"

// Random returns the deterministic pseudorandom Vector for a (nbits, seed)
// pair. Vectors drawn from distinct seeds are quasi-orthogonal with
// overwhelming probability, which makes them usable as fresh symbols.
func Random(nbits int, seed uint64) Vector {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	words := make([]uint64, NumWords(nbits))
	for i := range words {
		words[i] = rng.Uint64()
	}
	return FromWords(nbits, words)
}
