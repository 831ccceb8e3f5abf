// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Initial reference and motivation taken from
// https://github.com/cilium/ipam/blob/master/service/allocator/bitmap.go
// while avoiding usage of big int and replacing it with a word array
// so the map can be transacted with a data store as a flat slice

package resource

// Bitmap is a fixed-length bitset. Restore and scrub jobs use one to
// track which block indexes have been applied, a double application is
// an internal invariant violation the caller is expected to fail on.
// Bitmap is not safe for concurrent use.
type Bitmap struct {
	Bits []uint64 `bson:"bits,omitempty"`
	Size uint64   `bson:"size,omitempty"`
}

const wordBits = 64

// NewBitmap creates a bitmap able to hold size bits, all cleared.
func NewBitmap(size uint64) *Bitmap {
	return &Bitmap{
		Bits: make([]uint64, (size+wordBits-1)/wordBits),
		Size: size,
	}
}

// Len returns the number of bits the map can hold.
func (b *Bitmap) Len() uint64 {
	return b.Size
}

// Set marks bit i and reports whether it was already set.
func (b *Bitmap) Set(i uint64) bool {
	b.check(i)
	word, mask := i/wordBits, uint64(1)<<(i%wordBits)
	prev := b.Bits[word]&mask != 0
	b.Bits[word] |= mask
	return prev
}

// Clear unmarks bit i.
func (b *Bitmap) Clear(i uint64) {
	b.check(i)
	b.Bits[i/wordBits] &^= uint64(1) << (i % wordBits)
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i uint64) bool {
	b.check(i)
	return b.Bits[i/wordBits]&(uint64(1)<<(i%wordBits)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	var n uint64
	for _, w := range b.Bits {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

func (b *Bitmap) check(i uint64) {
	if i >= b.Size {
		panic("resource: bitmap index out of range")
	}
}
