// Package hvec implements the binary hypervector kernel of the resonance
// engine. Vectors are bitpacked []uint64 slices; all comparison and
// superposition operations are bitwise.
package hvec

import "math/bits"

// Vector is an immutable bitpacked binary hypervector.
// Padding bits in the final word are always zero.
type Vector struct {
	nbits int
	data  []uint64
}

// New returns a zero-valued Vector of the given bit width.
func New(nbits int) Vector {
	if nbits <= 0 {
		panic("hvec: bits must be positive")
	}
	return Vector{nbits: nbits, data: make([]uint64, NumWords(nbits))}
}

// FromWords constructs a Vector from a raw word slice.
// len(data) must equal NumWords(nbits). Padding bits are zeroed automatically.
func FromWords(nbits int, data []uint64) Vector {
	if nbits <= 0 {
		panic("hvec: bits must be positive")
	}
	needed := NumWords(nbits)
	if len(data) != needed {
		panic("hvec: data length does not match bit width")
	}
	copied := make([]uint64, needed)
	copy(copied, data)
	zeroPadding(copied, nbits)
	return Vector{nbits: nbits, data: copied}
}

// Bits returns the vector's bit width.
func (v Vector) Bits() int { return v.nbits }

// IsZero reports whether v is the zero value (no width, no storage),
// as opposed to an allocated all-zeros vector.
func (v Vector) IsZero() bool { return v.data == nil }

// GetBit returns bit i as 0 or 1. Panics if i is out of range.
func (v Vector) GetBit(i int) int {
	if i < 0 || i >= v.nbits {
		panic("hvec: bit index out of range")
	}
	return int(v.data[i/64] >> uint(i%64) & 1)
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	data := make([]uint64, len(v.data))
	copy(data, v.data)
	return Vector{nbits: v.nbits, data: data}
}

// Words returns a copy of the underlying word slice.
// Useful for persistence hooks; the vector itself stays immutable.
func (v Vector) Words() []uint64 {
	data := make([]uint64, len(v.data))
	copy(data, v.data)
	return data
}

// Builder accumulates bits into a Vector under bounds-checked access.
// The zero Builder is not usable; create one with NewBuilder.
type Builder struct {
	nbits int
	data  []uint64
}

// NewBuilder returns a Builder for a vector of the given bit width.
func NewBuilder(nbits int) *Builder {
	if nbits <= 0 {
		panic("hvec: bits must be positive")
	}
	return &Builder{nbits: nbits, data: make([]uint64, NumWords(nbits))}
}

// SetBit sets bit i to 1. Panics if i is out of range.
func (b *Builder) SetBit(i int) {
	if i < 0 || i >= b.nbits {
		panic("hvec: bit index out of range")
	}
	b.data[i/64] |= 1 << uint(i%64)
}

// Vector finalizes the builder into an immutable Vector.
// The builder must not be used afterwards.
func (b *Builder) Vector() Vector {
	v := Vector{nbits: b.nbits, data: b.data}
	b.data = nil
	return v
}

// Hamming returns the number of differing bits between a and b,
// computed word-parallel via XOR and popcount.
func Hamming(a, b Vector) int {
	requireSameBits(a, b)
	var diff int
	for i := range a.data {
		diff += bits.OnesCount64(a.data[i] ^ b.data[i])
	}
	return diff
}

// Similarity returns the normalized Hamming similarity in [0.0, 1.0].
// 1.0 = identical, 0.0 = opposite, ~0.5 = unrelated random vectors.
func Similarity(a, b Vector) float64 {
	return 1.0 - float64(Hamming(a, b))/float64(a.nbits)
}

// Bundle returns the majority-vote superposition of the given vectors.
// All vectors must have the same bit width and there must be at least one.
// With an even count, ties round up to 1.
func Bundle(vecs ...Vector) Vector {
	if len(vecs) == 0 {
		panic("hvec: Bundle requires at least one vector")
	}
	requireSameBits(vecs...)

	nbits := vecs[0].nbits
	n := len(vecs)

	counts := countsPool.get(nbits)
	defer countsPool.put(counts)

	for _, v := range vecs {
		for w, word := range v.data {
			base := w * 64
			limit := 64
			if base+limit > nbits {
				limit = nbits - base
			}
			for b := 0; b < limit; b++ {
				counts[base+b] += int32(word >> uint(b) & 1)
			}
		}
	}

	result := New(nbits)
	for i, c := range counts {
		if int(c)*2 >= n {
			result.data[i/64] |= 1 << uint(i%64)
		}
	}
	return result
}

// NumWords returns the number of uint64 words needed for nbits bits.
func NumWords(nbits int) int {
	return (nbits + 63) / 64
}

func zeroPadding(data []uint64, nbits int) {
	if rem := nbits % 64; rem != 0 {
		data[len(data)-1] &= (uint64(1) << uint(rem)) - 1
	}
}

func requireSameBits(vecs ...Vector) {
	d := vecs[0].nbits
	for _, v := range vecs[1:] {
		if v.nbits != d {
			panic("hvec: bit width mismatch")
		}
	}
}
