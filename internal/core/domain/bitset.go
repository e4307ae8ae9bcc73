package domain

import "math/bits"

// BitSet is a fixed-size set of small non-negative integers.
// The zero value is an empty set of size zero.
type BitSet struct {
	words []uint64
	size  int
}

// NewBitSet returns an empty set able to hold [0, size).
func NewBitSet(size int) *BitSet {
	if size < 0 {
		size = 0
	}
	return &BitSet{words: make([]uint64, (size+63)/64), size: size}
}

// Len returns the capacity of the set.
func (b *BitSet) Len() int {
	return b.size
}

func (b *BitSet) inRange(i int) bool {
	return i >= 0 && i < b.size
}

// Set adds i. Out of range indexes are ignored.
func (b *BitSet) Set(i int) {
	if !b.inRange(i) {
		return
	}
	b.words[i/64] |= 1 << uint(i%64)
}

// Clear removes i.
func (b *BitSet) Clear(i int) {
	if !b.inRange(i) {
		return
	}
	b.words[i/64] &^= 1 << uint(i%64)
}

// Test reports whether i is in the set.
func (b *BitSet) Test(i int) bool {
	if !b.inRange(i) {
		return false
	}
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Any reports whether at least one bit is set.
func (b *BitSet) Any() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Union sets every bit present in other.
func (b *BitSet) Union(other *BitSet) {
	for i := range b.words {
		if i < len(other.words) {
			b.words[i] |= other.words[i]
		}
	}
	if rem := b.size % 64; rem != 0 && len(b.words) > 0 {
		b.words[len(b.words)-1] &= (1 << uint(rem)) - 1
	}
}

// Reset clears every bit.
func (b *BitSet) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Clone returns an independent copy.
func (b *BitSet) Clone() *BitSet {
	c := &BitSet{words: make([]uint64, len(b.words)), size: b.size}
	copy(c.words, b.words)
	return c
}

// Members returns the set bits in ascending order.
func (b *BitSet) Members() []int {
	out := make([]int, 0, b.Count())
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			out = append(out, wi*64+tz)
			w &^= 1 << uint(tz)
		}
	}
	return out
}
