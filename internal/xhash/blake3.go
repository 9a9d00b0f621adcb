// Package xhash wraps github.com/glycerine/blake3 the way the
// teacher's own internal hash package (rpc25519/hash/blake3.go) wraps
// it: a small goroutine-safe struct around the library's incremental
// hasher and its XOF (extendable output function) reader, trimmed to
// the two things this module needs -- fixed-size digests for wire
// checksums, and a keyed XOF for the seeded PRNG.
package xhash

import (
	"encoding/binary"
	"io"
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/blake3"
)

// Digest128 returns the low 16 bytes of the BLAKE3-512 digest of by.
// Used for the 128-bit wire checksums in package wire.
func Digest128(by []byte) (out [16]byte) {
	h := blake3.New(64, nil)
	h.Write(by)
	sum := h.Sum(nil)
	copy(out[:], sum[:16])
	return out
}

// Digest128String renders a 128-bit digest the way the teacher's own
// hash/blake3.go renders its sums for logs: URL-safe base64 rather
// than hex, which is shorter and still diff-friendly in log lines.
func Digest128String(d [16]byte) string {
	return "blake3.16B-" + cristalbase64.URLEncoding.EncodeToString(d[:])
}

// KeyedXOF is a goroutine-safe, seekable extendable-output reader
// keyed off a 32-byte seed. It backs the deterministic PRNG in
// package prng the same way hash.Blake3.ReadXOF backs the teacher's
// mathrand.go PRNG.
type KeyedXOF struct {
	mut        sync.Mutex
	hasher     *blake3.Hasher
	readOffset int64
}

// NewKeyedXOF creates a XOF reader keyed by seed.
func NewKeyedXOF(seed [32]byte) *KeyedXOF {
	return &KeyedXOF{
		hasher: blake3.New(64, seed[:]),
	}
}

// Read fills p with the next len(p) pseudo-random bytes from the XOF
// stream. Never returns a short read.
func (x *KeyedXOF) Read(p []byte) (n int, err error) {
	x.mut.Lock()
	defer x.mut.Unlock()

	r := x.hasher.XOF()
	nr := int64(len(p))
	if _, err = r.Seek(x.readOffset, io.SeekStart); err != nil {
		return 0, err
	}
	x.readOffset += nr

	n, err = r.Read(p)
	return n, err
}

// Uint64 draws 8 pseudo-random bytes and decodes them little-endian.
func (x *KeyedXOF) Uint64() uint64 {
	var b [8]byte
	x.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
