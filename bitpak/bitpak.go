// Package bitpak implements a bit-packed unsigned integer array: O(1)
// Get/Set over a backing slice of 64-bit words, for unsigned widths B
// that are a power of two and strictly less than 8 (B in {1, 2, 4}).
// There is no direct analogue in the teacher itself; the closest
// relative in the retrieved example pack is
// other_examples/algorand-go-algorand's crypto/merkletrie/bitset.go,
// a fixed 256-bit, single-bit-width bitset over [4]uint64. This
// package generalizes that same shift-and-mask idiom to an arbitrary
// length and a runtime-chosen bit width, since setcache needs both a
// 1-or-2-or-4-bit counts array and a 1-or-2-bit clock-hand array from
// the same primitive.
package bitpak

// Array is a bit-packed array of unsigned integers of a fixed width,
// backed by a slice of 64-bit words. The bit width is a runtime
// construction parameter rather than a Go generic type parameter,
// since setcache picks it from the cache's layout configuration
// (clock_bits, clock_hand_bits), not from a compile-time type.
type Array struct {
	words    []uint64
	bitWidth uint
	length   int
	perWord  uint
	mask     uint64
}

// validWidth restricts bit widths to B in {1,2,4}: this keeps
// unitsPerWord = 64/B a power of two, so no index ever straddles a
// word boundary.
func validWidth(bitWidth uint) bool {
	switch bitWidth {
	case 1, 2, 4:
		return true
	default:
		return false
	}
}

// NewArray allocates a bit-packed array holding length values of
// bitWidth bits each, zeroed. Panics if bitWidth is not one of
// {1,2,4} -- this is a construction-time configuration bug, not a
// runtime input error, matching the cache's own "checked at
// construction" failure policy.
func NewArray(bitWidth uint, length int) *Array {
	if !validWidth(bitWidth) {
		panic("bitpak: bitWidth must be one of {1, 2, 4}")
	}
	if length < 0 {
		panic("bitpak: length must be >= 0")
	}
	perWord := 64 / bitWidth
	nWords := 0
	if length > 0 {
		nWords = (length + int(perWord) - 1) / int(perWord)
	}
	return &Array{
		words:    make([]uint64, nWords),
		bitWidth: bitWidth,
		length:   length,
		perWord:  perWord,
		mask:     (uint64(1) << bitWidth) - 1,
	}
}

// WrapWords builds an Array view over an existing, already-sized
// slice of words, instead of allocating. The caller is responsible
// for sizing words to hold at least length values (see WordsNeeded);
// panics if words is too short.
func WrapWords(words []uint64, bitWidth uint, length int) *Array {
	if !validWidth(bitWidth) {
		panic("bitpak: bitWidth must be one of {1, 2, 4}")
	}
	perWord := 64 / bitWidth
	need := WordsNeeded(bitWidth, length)
	if len(words) < need {
		panic("bitpak: backing words slice too small")
	}
	return &Array{
		words:    words,
		bitWidth: bitWidth,
		length:   length,
		perWord:  perWord,
		mask:     (uint64(1) << bitWidth) - 1,
	}
}

// WordsNeeded returns how many 64-bit words are required to hold
// length values of bitWidth bits each.
func WordsNeeded(bitWidth uint, length int) int {
	if length <= 0 {
		return 0
	}
	perWord := 64 / bitWidth
	return (length + int(perWord) - 1) / int(perWord)
}

// Len returns the number of addressable slots.
func (a *Array) Len() int { return a.length }

// BitWidth returns B.
func (a *Array) BitWidth() uint { return a.bitWidth }

// Words exposes the backing word slice, e.g. so a caller can size a
// single allocation across several Arrays, or zero it in O(words) for
// Reset.
func (a *Array) Words() []uint64 { return a.words }

func (a *Array) wordAndShift(index int) (wordIdx int, shift uint) {
	if index < 0 || index >= a.length {
		panic("bitpak: index out of range")
	}
	wordIdx = index / int(a.perWord)
	shift = a.bitWidth * uint(index%int(a.perWord))
	return
}

// Get returns the value stored at index. Panics if index is outside
// [0, Len()) -- callers in setcache never do that, since their index
// space is exactly the slot count they sized the array for.
func (a *Array) Get(index int) uint64 {
	wordIdx, shift := a.wordAndShift(index)
	return (a.words[wordIdx] >> shift) & a.mask
}

// Set stores value at index, clearing the B bits at that offset and
// OR-ing in the new value. Behavior is defined only when
// 0 <= value < 2^B; out-of-range values are silently truncated to B
// bits by the mask, matching the unchecked contract.
func (a *Array) Set(index int, value uint64) {
	wordIdx, shift := a.wordAndShift(index)
	a.words[wordIdx] &^= a.mask << shift
	a.words[wordIdx] |= (value & a.mask) << shift
}

// Clear zeroes every word, resetting all slots to zero in O(words).
func (a *Array) Clear() {
	for i := range a.words {
		a.words[i] = 0
	}
}
