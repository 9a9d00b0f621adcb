package bitpak

import (
	"math/rand/v2"
	"testing"
)

// Test001_roundtrip_all_widths checks that for all i, v in
// [0, 2^B), after Set(arr, i, v), Get(arr, i) == v and no bits
// outside position i are modified.
func Test001_roundtrip_all_widths(t *testing.T) {
	for _, bw := range []uint{1, 2, 4} {
		arr := NewArray(bw, 200)
		maxV := uint64(1)<<bw - 1

		want := make([]uint64, arr.Len())
		rng := rand.New(rand.NewPCG(42, uint64(bw)))
		for i := 0; i < arr.Len(); i++ {
			v := uint64(rng.IntN(int(maxV) + 1))
			want[i] = v
			arr.Set(i, v)
		}
		for i := 0; i < arr.Len(); i++ {
			got := arr.Get(i)
			if got != want[i] {
				t.Fatalf("bitWidth=%v index=%v: got %v want %v", bw, i, got, want[i])
			}
		}
	}
}

// Test002_boundary_index_31_width2_touches_only_top_two_bits_of_word0
// checks a bit-packed boundary case: with B=2, setting index 31 of
// an 8-word buffer writes the top two bits of word 0 only.
func Test002_boundary_index_31_width2_touches_only_top_two_bits_of_word0(t *testing.T) {
	words := make([]uint64, 8)
	arr := WrapWords(words, 2, 32*8) // 32 slots per word at B=2

	arr.Set(31, 3) // 0b11

	if words[0] != uint64(3)<<62 {
		t.Fatalf("word0 = %#x, want %#x", words[0], uint64(3)<<62)
	}
	for i := 1; i < len(words); i++ {
		if words[i] != 0 {
			t.Fatalf("word[%d] = %#x, want 0", i, words[i])
		}
	}

	got := arr.Get(31)
	if got != 3 {
		t.Fatalf("Get(31) = %v, want 3", got)
	}
}

// Test003_set_does_not_disturb_neighbors verifies Set at one index
// never touches bits belonging to another index sharing the same
// word.
func Test003_set_does_not_disturb_neighbors(t *testing.T) {
	arr := NewArray(4, 16) // 16 slots per word at B=4
	for i := 0; i < arr.Len(); i++ {
		arr.Set(i, uint64(i)%15)
	}
	arr.Set(5, 7)
	for i := 0; i < arr.Len(); i++ {
		want := uint64(i) % 15
		if i == 5 {
			want = 7
		}
		if got := arr.Get(i); got != want {
			t.Fatalf("index %d: got %v want %v", i, got, want)
		}
	}
}

// Test004_clear_zeroes_everything checks Clear resets all slots in
// O(words) without needing per-slot Sets.
func Test004_clear_zeroes_everything(t *testing.T) {
	arr := NewArray(2, 40)
	for i := 0; i < arr.Len(); i++ {
		arr.Set(i, 3)
	}
	arr.Clear()
	for i := 0; i < arr.Len(); i++ {
		if arr.Get(i) != 0 {
			t.Fatalf("index %d not cleared", i)
		}
	}
}

func Test005_invalid_width_panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for invalid bit width")
		}
	}()
	NewArray(3, 10)
}

func Test006_words_needed_sizing(t *testing.T) {
	cases := []struct {
		bw, length, want int
	}{
		{1, 0, 0},
		{1, 1, 1},
		{1, 64, 1},
		{1, 65, 2},
		{2, 32, 1},
		{2, 33, 2},
		{4, 16, 1},
		{4, 17, 2},
	}
	for _, c := range cases {
		got := WordsNeeded(uint(c.bw), c.length)
		if got != c.want {
			t.Fatalf("WordsNeeded(%d,%d) = %d, want %d", c.bw, c.length, got, c.want)
		}
	}
}
