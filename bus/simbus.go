// Package bus provides MessageBus implementations for
// sessclient.Client. SimBus is a deterministic, tick-driven simulated
// network grounded on the teacher's simnet (simnet.go): messages
// arrive after a configurable delay, the same for every link, and may be dropped with
// a configurable probability, with everything advanced by explicit
// Tick calls rather than wall-clock timers -- the same deterministic
// simulation testing idiom the teacher uses for tube's Raft tests,
// scaled down to what a client-only session protocol needs (no
// partitions/reconnect machinery, just latency, loss, and the ability
// to mark a replica unreachable for leader-failover tests).
//
// The arrival-time ordering itself is grounded on pq.go's
// container/heap priority queue (pqTime), ported from time.Time
// priorities to the module's own Tick counter and stripped of its
// sync.Mutex -- SimBus is driven synchronously from a single
// goroutine's Tick loop, so the teacher's goroutine-safety wrapper
// would be dead weight here.
package bus

import (
	"container/heap"

	"github.com/glycerine/vsrclient/sessclient"
	"github.com/glycerine/vsrclient/wire"
)

// ReplicaHandler stands in for the replicated state machine's inbound
// processing -- the replica/server side of consensus, which this
// module never implements. Tests and cmd/sessdemo supply a small
// scripted handler; SimBus itself has no opinion on cluster logic,
// only on delivery timing and loss.
type ReplicaHandler func(replicaIndex int, header wire.Header, body []byte) (reply wire.Header, replyBody []byte, shouldReply bool)

// MessageSink is the inbound side SimBus delivers to -- satisfied by
// *sessclient.Client.
type MessageSink interface {
	OnMessage(m *wire.Message)
}

type eventKind int

const (
	eventToReplica eventKind = iota
	eventToClient
)

type event struct {
	arrival      sessclient.Tick
	kind         eventKind
	replicaIndex int
	header       wire.Header
	body         []byte
	index        int // heap.Interface bookkeeping
}

// eventHeap orders events earliest-arrival-first, the min-heap
// equivalent of pq.go's pqTime (which orders latest-first because it
// pops from the end; this one pops from the front via container/heap
// directly, since SimBus has no analogous "peek the latest" use).
type eventHeap []*event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].arrival < h[j].arrival }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *eventHeap) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SimBus is a deterministic in-memory MessageBus. Zero value is not
// usable; construct with New.
type SimBus struct {
	replicaCount int
	latency      sessclient.Tick
	dropProb     float64
	reachable    []bool

	drawDrop func() float64

	sink    MessageSink
	handler ReplicaHandler

	pending eventHeap
	now     sessclient.Tick

	pool []*wire.Message
}

// New constructs a SimBus with replicaCount replicas, all initially
// reachable, a fixed per-hop latency, and no message loss. Use
// SetLatency/SetDropProbability/SetReachable to add the fault
// injection a leader-failover or ping-adoption test needs.
func New(replicaCount int, sink MessageSink, handler ReplicaHandler) *SimBus {
	reachable := make([]bool, replicaCount)
	for i := range reachable {
		reachable[i] = true
	}
	return &SimBus{
		replicaCount: replicaCount,
		latency:      1,
		reachable:    reachable,
		sink:         sink,
		handler:      handler,
	}
}

// SetSink sets (or replaces) the inbound delivery target, for the
// common case where the *sessclient.Client and the bus it uses need to
// reference each other: construct the bus with a nil sink, construct
// the client with that bus, then wire the client back in.
func (s *SimBus) SetSink(sink MessageSink) { s.sink = sink }

// SetLatency sets the fixed number of ticks a message takes to
// arrive, in either direction.
func (s *SimBus) SetLatency(ticks sessclient.Tick) { s.latency = ticks }

// SetDropProbability sets the probability (0..1) that any given
// send is silently lost, grounded on simnet.go's dropped(prob) fault
// hook.
func (s *SimBus) SetDropProbability(p float64) { s.dropProb = p }

// SetDraw overrides the source of randomness SimBus consults for
// drop decisions, so tests can force deterministic outcomes instead
// of wiring a PRNG through. If never called, every draw is 0: with
// DropProbability left at 0 nothing is dropped, and with any
// DropProbability above 0 every send is dropped.
func (s *SimBus) SetDraw(draw func() float64) { s.drawDrop = draw }

// SetReachable marks a replica reachable or not, for leader-failover
// tests -- an unreachable replica drops every message addressed to
// it, independent of DropProbability.
func (s *SimBus) SetReachable(replicaIndex int, reachable bool) {
	s.reachable[replicaIndex] = reachable
}

func (s *SimBus) dropped() bool {
	if s.dropProb <= 0 {
		return false
	}
	var d float64
	if s.drawDrop != nil {
		d = s.drawDrop()
	}
	return d < s.dropProb
}

// GetMessage returns a pooled message with a fresh single ref,
// mirroring hdr.go's free-list idiom (nextOrReply) rather than
// always allocating.
func (s *SimBus) GetMessage() *wire.Message {
	if n := len(s.pool); n > 0 {
		m := s.pool[n-1]
		s.pool = s.pool[:n-1]
		m.ResetForReuse()
		return m
	}
	return wire.NewMessage()
}

func (s *SimBus) Ref(m *wire.Message) {
	m.Ref()
}

func (s *SimBus) Unref(m *wire.Message) {
	if m.Unref() {
		s.pool = append(s.pool, m)
	}
}

func (s *SimBus) schedule(kind eventKind, replicaIndex int, h wire.Header, body []byte) {
	if replicaIndex >= 0 {
		if replicaIndex >= s.replicaCount || !s.reachable[replicaIndex] {
			return
		}
	}
	if s.dropped() {
		return
	}
	heap.Push(&s.pending, &event{
		arrival:      s.now + s.latency,
		kind:         kind,
		replicaIndex: replicaIndex,
		header:       h,
		body:         body,
	})
}

// SendHeaderToReplica schedules a header-only delivery to replica i.
func (s *SimBus) SendHeaderToReplica(replicaIndex int, header wire.Header) {
	s.schedule(eventToReplica, replicaIndex, header, nil)
}

// SendMessageToReplica schedules delivery of a full message to
// replica i.
func (s *SimBus) SendMessageToReplica(replicaIndex int, m *wire.Message) {
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	s.schedule(eventToReplica, replicaIndex, m.Header, body)
}

// Tick advances the bus's clock and delivers every event whose
// arrival tick has elapsed, in arrival order. Requests reaching a
// replica are handed to the configured ReplicaHandler; any reply it
// returns is scheduled back toward the client through the same
// latency/drop model. Replies reaching the client are handed to
// sink.OnMessage.
func (s *SimBus) Tick(now sessclient.Tick) {
	s.now = now
	for len(s.pending) > 0 && s.pending[0].arrival <= now {
		e := heap.Pop(&s.pending).(*event)
		switch e.kind {
		case eventToReplica:
			if s.handler == nil {
				continue
			}
			replyHeader, replyBody, ok := s.handler(e.replicaIndex, e.header, e.body)
			if ok {
				s.schedule(eventToClient, -1, replyHeader, replyBody)
			}
		case eventToClient:
			m := s.GetMessage()
			m.Header = e.header
			m.Body = e.body
			s.sink.OnMessage(m)
			s.Unref(m)
		}
	}
}

// Pending reports how many events are still in flight, for tests that
// want to assert the network has drained.
func (s *SimBus) Pending() int { return len(s.pending) }
