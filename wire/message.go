// Package wire defines the message header and body format the
// session client protocol speaks: a fixed-size binary header
// (128-bit checksums, fixed-width integer fields) rather than
// copied from the teacher's HDR struct in hdr.go, which is a
// variable-shape RPC envelope (string ServiceName, an Args map) built
// for a generic net/rpc-style call. The two share a lineage -- a
// From/To-style header carrying a Command/CallType tag and a
// CallID/Checksum correlation field -- but the wire shapes differ
// enough that this package is a fresh implementation in the
// teacher's idiom rather than an adaptation of its literal fields.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/glycerine/vsrclient/internal/xhash"
)

// HeaderSize is the fixed on-wire size of Header, in bytes. Bodies
// follow immediately after; Header.Size is the total including this.
const HeaderSize = 16 + 16 + 16 + 16 + 8 + 4 + 4 + 4 + 8 + 8 + 4 + 1 + 8

// Header is the fixed binary header carried by every message.
type Header struct {
	Checksum     [16]byte // full-header checksum (computed last)
	ChecksumBody [16]byte // checksum of Body
	Parent       [16]byte // hash-chain link
	Client       [16]byte // client_id, or zero for cluster-broadcast

	Context uint64 // session number on a request; 0 on a reply

	Request uint32 // monotonic per client
	Cluster uint32
	View    uint32

	Op     uint64 // on a reply, must equal Commit
	Commit uint64 // on a register reply, carries the session number

	Size uint32 // total message size including header

	Command   Command
	Operation Operation
}

// Message pairs a Header with its body bytes. The body's shape is
// opaque to this package -- it is the replicated state machine's
// operation encoding, which this module never interprets.
type Message struct {
	Header Header
	Body   []byte

	refcount int32
}

// NewMessage allocates a zero Message with a single implicit ref,
// mirroring the teacher's NewMessage() in hdr.go.
func NewMessage() *Message {
	return &Message{refcount: 1}
}

// Ref increments the message's refcount. Called by a MessageBus
// implementation. sessclient.Client does not call it: its request
// queue holds exactly one ref on a message from enqueue to
// retirement, the single ref the message was handed out with.
func (m *Message) Ref() {
	m.refcount++
}

// Unref decrements the refcount and reports whether it reached zero.
// It never releases memory itself -- that's left to the caller (the
// teacher's own free-list idiom in hdr.go's nextOrReply) -- it only
// tracks the count.
func (m *Message) Unref() (collectable bool) {
	m.refcount--
	if m.refcount < 0 {
		panic("wire: Message refcount went negative")
	}
	return m.refcount == 0
}

// Refcount reports the current refcount, for tests.
func (m *Message) Refcount() int32 { return m.refcount }

// ResetForReuse clears a message's header/body and refcount back to
// a single implicit ref, so a bus's free-list (this module's
// analogue of hdr.go's nextOrReply) can hand out a recycled *Message
// exactly as if NewMessage had just allocated it.
func (m *Message) ResetForReuse() {
	m.Header = Header{}
	m.Body = nil
	m.refcount = 1
}

// fieldBytesForChecksum serializes every Header field except Checksum
// itself, in declaration order, little-endian. This is the byte
// sequence ComputeChecksum hashes.
func (h *Header) fieldBytesForChecksum() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, h.ChecksumBody[:]...)
	buf = append(buf, h.Parent[:]...)
	buf = append(buf, h.Client[:]...)

	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], h.Context)
	buf = append(buf, b8[:]...)

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], h.Request)
	buf = append(buf, b4[:]...)
	binary.LittleEndian.PutUint32(b4[:], h.Cluster)
	buf = append(buf, b4[:]...)
	binary.LittleEndian.PutUint32(b4[:], h.View)
	buf = append(buf, b4[:]...)

	binary.LittleEndian.PutUint64(b8[:], h.Op)
	buf = append(buf, b8[:]...)
	binary.LittleEndian.PutUint64(b8[:], h.Commit)
	buf = append(buf, b8[:]...)

	binary.LittleEndian.PutUint32(b4[:], h.Size)
	buf = append(buf, b4[:]...)

	buf = append(buf, byte(h.Command))

	binary.LittleEndian.PutUint64(b8[:], uint64(h.Operation))
	buf = append(buf, b8[:]...)

	return buf
}

// ComputeBodyChecksum hashes body and stores it in h.ChecksumBody.
// Must be called before ComputeChecksum, since the header checksum
// covers ChecksumBody.
func (h *Header) ComputeBodyChecksum(body []byte) {
	h.ChecksumBody = xhash.Digest128(body)
}

// ComputeChecksum hashes the header (excluding Checksum itself,
// which this call fills in) and stores the result in h.Checksum.
// Callers must compute the body checksum first, since the header
// checksum covers it.
func (h *Header) ComputeChecksum() {
	h.Checksum = xhash.Digest128(h.fieldBytesForChecksum())
}

// Valid reports whether the header's checksums are internally
// consistent: ChecksumBody matches body, and Checksum matches the
// rest of the header. A message failing this check is malformed and
// must be rejected.
func (h *Header) Valid(body []byte) bool {
	wantBody := xhash.Digest128(body)
	if wantBody != h.ChecksumBody {
		return false
	}
	want := xhash.Digest128(h.fieldBytesForChecksum())
	return want == h.Checksum
}

func (h *Header) String() string {
	return fmt.Sprintf(
		"wire.Header{Command:%s Operation:%s Client:%x Cluster:%d Request:%d View:%d Context:%d Op:%d Commit:%d Size:%d Parent:%s Checksum:%s}",
		h.Command, h.Operation, h.Client, h.Cluster, h.Request, h.View, h.Context, h.Op, h.Commit, h.Size,
		xhash.Digest128String(h.Parent), xhash.Digest128String(h.Checksum),
	)
}
