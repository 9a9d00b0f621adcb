// Package prng implements the deterministic, seeded pseudo-random
// generator used for client-id generation and retransmission jitter.
// It is grounded directly on glycerine/rpc25519's mathrand.go: a
// 32-byte-seeded struct wrapping a keyed BLAKE3 XOF rather than
// math/rand/v2 directly, so that two PRNGs built from the same seed
// (e.g. a client reseeded from crypto/rand at construction, replayed
// in a test with a fixed seed) draw identical sequences.
package prng

import (
	cryrand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/glycerine/vsrclient/internal/xhash"
)

// PRNG is a seeded pseudo-random generator. Not goroutine-safe by
// contract with the rest of this module (sessclient.Client owns its
// PRNG exclusively, in keeping with the single-threaded model the
// rest of the client follows); the underlying XOF happens to be
// mutex-protected because xhash.KeyedXOF is goroutine-safe on its
// own, not because this type promises concurrent-safety.
type PRNG struct {
	seed [32]byte
	xof  *xhash.KeyedXOF
}

// New creates a PRNG from an explicit 32-byte seed. Deterministic:
// the same seed always produces the same draw sequence.
func New(seed [32]byte) *PRNG {
	return &PRNG{
		seed: seed,
		xof:  xhash.NewKeyedXOF(seed),
	}
}

// NewFromUint64 expands a 64-bit seed (e.g. the low 64 bits of a
// client_id) into a 32-byte seed by placing it in the first 8 bytes
// and zeroing the rest. This keeps client PRNGs reproducible from the
// client_id alone, without a second source of entropy.
func NewFromUint64(seed64 uint64) *PRNG {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], seed64)
	return New(seed)
}

// NewCryptoSeeded draws a fresh seed from crypto/rand. Used only to
// mint new client_id values; never used for anything that must be
// reproducible.
func NewCryptoSeeded() *PRNG {
	var seed [32]byte
	if _, err := cryrand.Read(seed[:]); err != nil {
		panic(err)
	}
	return New(seed)
}

// Uint64 returns the next 8 bytes of the XOF stream as a
// little-endian uint64.
func (p *PRNG) Uint64() uint64 {
	return p.xof.Uint64()
}

// Uint128 returns 16 bytes of the XOF stream, used to mint client_id
// values: 128-bit, nonzero, ephemeral, drawn from a cryptographic RNG
// at construction and never persisted.
func (p *PRNG) Uint128() (out [16]byte) {
	p.xof.Read(out[:])
	return out
}

// NonNegInt64 returns r >= 0, folding the rare negative draw (and
// math.MinInt64, which has no positive counterpart) the same way
// mathrand.go's pseudoRandNonNegInt64 does.
func (p *PRNG) NonNegInt64() int64 {
	var b [8]byte
	p.xof.Read(b[:])
	r := int64(binary.LittleEndian.Uint64(b[:]))
	if r < 0 {
		if r == math.MinInt64 {
			return 0
		}
		r = -r
	}
	return r
}

// IntRange returns r in [0, nChoices), avoiding modulo bias via
// rejection sampling -- the same bitmask+rejection approach as
// mathrand.go's pseudoRandNonNegInt64Range.
func (p *PRNG) IntRange(nChoices int64) int64 {
	if nChoices <= 1 {
		panic(fmt.Sprintf("nChoices must be in [2, MaxInt64]; saw %v", nChoices))
	}
	if nChoices == math.MaxInt64 {
		return p.NonNegInt64()
	}

	redrawAbove := math.MaxInt64 - (((math.MaxInt64 % nChoices) + 1) % nChoices)
	var b [8]byte
	for {
		p.xof.Read(b[:])
		r := int64(binary.LittleEndian.Uint64(b[:]))
		if r < 0 {
			if r == math.MinInt64 {
				return 0
			}
			r = -r
		}
		if r > redrawAbove {
			continue
		}
		return r % nChoices
	}
}

// JitterFraction returns a value in [-0.5, 0.5), used to scale a
// backoff delay by a jitter percentage the way tube/backoff.go scales
// its exponential delay by config.Jitter.
func (p *PRNG) JitterFraction() float64 {
	r := p.IntRange(1_000_000)
	return float64(r)/1_000_000 - 0.5
}
