package sessclient

import "github.com/glycerine/vsrclient/wire"

// MessageBus is the transport contract sessclient.Client consumes.
// Any transport -- the in-repo bus.SimBus, a QUIC-based one, a unit
// test's fake -- satisfies this. Tick is deliberately absent: the bus
// advances itself from the same external driver that ticks the
// Client, it is never called *by* the Client.
type MessageBus interface {
	// GetMessage returns an owned, single-ref message handle, or nil
	// if the pool is exhausted.
	GetMessage() *wire.Message
	// Ref and Unref manage a message's refcount, mirroring
	// wire.Message's own Ref/Unref but routed through the bus so a
	// real transport can pool/reclaim memory on the zero transition.
	Ref(m *wire.Message)
	Unref(m *wire.Message)
	// SendHeaderToReplica is a fire-and-forget, header-only send --
	// used for pings, which carry no body.
	SendHeaderToReplica(replicaIndex int, header wire.Header)
	// SendMessageToReplica is a fire-and-forget send of a full
	// message (header + body).
	SendMessageToReplica(replicaIndex int, m *wire.Message)
}
