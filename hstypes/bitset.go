package hstypes

import "github.com/bits-and-blooms/bitset"

// SignerBitSet records which committee members (by index into the
// membership's ordered validator list) contributed a signature to a
// ThresholdSignature.
type SignerBitSet struct {
	bits *bitset.BitSet
}

// NewSignerBitSet returns an empty bitset sized for a committee of n members.
func NewSignerBitSet(n int) *SignerBitSet {
	return &SignerBitSet{bits: bitset.New(uint(n))}
}

// Set marks index i as having signed.
func (s *SignerBitSet) Set(i int) {
	s.bits.Set(uint(i))
}

// Has reports whether index i signed.
func (s *SignerBitSet) Has(i int) bool {
	if s == nil || s.bits == nil {
		return false
	}
	return s.bits.Test(uint(i))
}

// Count returns the number of signers recorded.
func (s *SignerBitSet) Count() int {
	if s == nil || s.bits == nil {
		return 0
	}
	return int(s.bits.Count())
}
