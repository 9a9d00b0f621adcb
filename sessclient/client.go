// Package sessclient implements the client-side session protocol:
// session registration, at-most-one-inflight linearizable requests
// hash-chained to replies, and tolerance of leader failover, message
// loss, and reordering.
//
// The state machine is tick-driven and single-threaded, grounded on
// the same style the teacher's tube package uses for its own
// timer-driven node state (tube/tube.go's Tick-equivalent advance
// points, tube/backoff.go's bare expBackoff struct), adapted from
// channel-select concurrency to explicit counter comparison since
// this package takes no locks and starts no goroutines.
package sessclient

import (
	"encoding/binary"

	"github.com/glycerine/vsrclient/internal/vprint"
	"github.com/glycerine/vsrclient/prng"
	"github.com/glycerine/vsrclient/wire"
)

// Config parameterizes a new Client.
type Config struct {
	// ClientID is the 128-bit client identifier. If zero, New
	// generates one from a cryptographically seeded PRNG: drawn fresh
	// at construction, never persisted.
	ClientID [16]byte

	ClusterID    uint32
	ReplicaCount int
	Bus          MessageBus

	// RequestQueueCapacity is message_bus_messages_max - 1 (one
	// buffer reserved for receive).
	RequestQueueCapacity int

	// InitialRequestTimeoutTicks seeds request_timeout's first
	// interval.
	InitialRequestTimeoutTicks Tick
	MaxRequestTimeoutTicks     Tick

	// PingTimeoutTicks is the fixed interval between keepalive pings
	// -- the caller picks the tick-to-wall-clock ratio, this package
	// only counts ticks.
	PingTimeoutTicks Tick

	// Logger defaults to vprint.Vv; set Quiet to silence it entirely,
	// mirroring the teacher's verbose/forceQuiet globals but scoped
	// to this Client value instead of the whole process.
	Logger func(format string, args ...interface{})
	Quiet  bool
}

// Client is the session protocol state machine.
type Client struct {
	clientID     [16]byte
	clusterID    uint32
	replicaCount int
	bus          MessageBus
	prng         *prng.PRNG

	ticks  Tick
	parent [16]byte
	session uint64
	requestNumber uint32
	view    uint32

	queue *requestQueue

	requestTimeout Timer
	pingTimeout    Timer
	backoffCfg     backoffConfig
	pingTimeoutTicks Tick

	Logger func(format string, args ...interface{})
	Quiet  bool
	Stats  Stats

	_ noCopy
}

// New constructs a Client and arms its ping timer. Panics if cfg is
// invalid (ReplicaCount <= 0, Bus nil) -- a construction-time
// configuration bug. Unlike setcache.New, which returns an error for
// a bad Config, Client's own lifetime invariants (client_id nonzero,
// replica_count > 0) are enforced here by panicking rather than
// returned, since there is no analogous "allocator might legitimately
// fail" case for a Client.
func New(cfg Config) *Client {
	if cfg.ReplicaCount <= 0 {
		panic("sessclient: ReplicaCount must be > 0")
	}
	if cfg.Bus == nil {
		panic("sessclient: Bus must be set")
	}

	clientID := cfg.ClientID
	var p *prng.PRNG
	if clientID == ([16]byte{}) {
		boot := prng.NewCryptoSeeded()
		for {
			clientID = boot.Uint128()
			if clientID != ([16]byte{}) {
				break
			}
		}
	}
	p = prng.NewFromUint64(binary.LittleEndian.Uint64(clientID[:8]))

	cap := cfg.RequestQueueCapacity
	if cap <= 0 {
		cap = 1
	}
	initial := cfg.InitialRequestTimeoutTicks
	if initial == 0 {
		initial = defaultBackoffConfig.InitialTicks
	}
	maxT := cfg.MaxRequestTimeoutTicks
	if maxT == 0 {
		maxT = defaultBackoffConfig.MaxTicks
	}
	pingTicks := cfg.PingTimeoutTicks
	if pingTicks == 0 {
		pingTicks = 30_000
	}

	c := &Client{
		clientID:         clientID,
		clusterID:        cfg.ClusterID,
		replicaCount:     cfg.ReplicaCount,
		bus:              cfg.Bus,
		prng:             p,
		queue:            newRequestQueue(cap),
		backoffCfg: backoffConfig{
			InitialTicks: initial,
			MaxTicks:     maxT,
			Factor:       defaultBackoffConfig.Factor,
			Jitter:       defaultBackoffConfig.Jitter,
		},
		pingTimeoutTicks: pingTicks,
		Logger:           cfg.Logger,
		Quiet:            cfg.Quiet,
	}
	if c.Logger == nil {
		c.Logger = vprint.Vv
	}
	c.pingTimeout.Start(0, pingTicks)
	return c
}

// ClientID returns the client's 128-bit identifier.
func (c *Client) ClientID() [16]byte { return c.clientID }

// Session returns the registered session number, or 0 if
// registration has not completed. Immutable once nonzero.
func (c *Client) Session() uint64 { return c.session }

// View returns the highest view number observed so far.
func (c *Client) View() uint32 { return c.view }

func (c *Client) logf(format string, args ...interface{}) {
	if c.Quiet || c.Logger == nil {
		return
	}
	c.Logger(format, args...)
}

func (c *Client) presumedLeader() int {
	return int(c.view % uint32(c.replicaCount))
}

// Register is a no-op once registration has already been attempted
// (request_number > 0). On first call it occupies request 0 and
// sends it immediately, since the queue is guaranteed empty at that
// point -- Request always calls Register before touching the queue
// itself.
func (c *Client) Register() {
	if c.requestNumber > 0 {
		return
	}
	m := c.bus.GetMessage()
	if m == nil {
		vprint.Panicf("sessclient: Register could not acquire a message; registration is mandatory")
	}
	m.Header = wire.Header{
		Client:    c.clientID,
		Request:   0,
		Cluster:   c.clusterID,
		Command:   wire.CommandRequest,
		Operation: wire.OperationRegister,
		Size:      uint32(wire.HeaderSize),
	}
	m.Body = nil

	e := &queueEntry{message: m, op: wire.OperationRegister}
	if !c.queue.empty() {
		vprint.Panicf("sessclient: Register found the request queue non-empty; this must never happen")
	}
	c.queue.push(e)
	c.requestNumber = 1
	c.firstSend(e)
}

// Request enqueues an application request, triggering registration
// first if it hasn't started. The queue-full case invokes callback
// synchronously with ErrTooManyOutstandingRequests and never touches
// the queue.
func (c *Client) Request(userData [16]byte, op wire.Operation, body []byte, callback Callback) error {
	c.Register()

	if c.queue.full() {
		c.Stats.Dropped++
		if callback != nil {
			callback(userData, op, nil, ErrTooManyOutstandingRequests)
		}
		return ErrTooManyOutstandingRequests
	}

	m := c.bus.GetMessage()
	if m == nil {
		vprint.Panicf("sessclient: Request could not acquire a message from the bus")
	}
	reqNum := c.requestNumber
	m.Header = wire.Header{
		Client:    c.clientID,
		Request:   reqNum,
		Cluster:   c.clusterID,
		Command:   wire.CommandRequest,
		Operation: op,
		Size:      uint32(wire.HeaderSize + len(body)),
	}
	m.Body = body
	c.requestNumber++

	e := &queueEntry{userData: userData, callback: callback, message: m, op: op}
	wasEmpty := c.queue.empty()
	c.queue.push(e)
	if wasEmpty {
		c.firstSend(e)
	}
	return nil
}

// firstSend is invoked exactly once per request, when it first
// becomes the queue head.
func (c *Client) firstSend(e *queueEntry) {
	h := &e.message.Header
	h.Parent = c.parent
	h.Context = c.session
	h.View = c.view

	h.ComputeBodyChecksum(e.message.Body)
	h.ComputeChecksum()

	c.parent = h.Checksum
	c.requestTimeout.Start(c.ticks, c.backoffCfg.InitialTicks)

	leader := c.presumedLeader()
	c.bus.SendMessageToReplica(leader, e.message)
	e.sent = true
	c.Stats.Sent++
	c.logf("sessclient: first-send request=%d op=%s to replica=%d", h.Request, h.Operation, leader)
}

// OnMessage is the inbound delivery hook the MessageBus invokes for
// every message addressed to this client (or broadcast).
func (c *Client) OnMessage(m *wire.Message) {
	if m.Header.Size != uint32(wire.HeaderSize+len(m.Body)) || !m.Header.Valid(m.Body) {
		c.Stats.Dropped++
		c.logf("sessclient: dropping malformed message: %s", m.Header.String())
		return
	}
	if m.Header.Cluster != c.clusterID {
		c.Stats.Dropped++
		c.logf("sessclient: dropping message for wrong cluster %d (want %d)", m.Header.Cluster, c.clusterID)
		return
	}

	switch m.Header.Command {
	case wire.CommandPong:
		c.onPong(&m.Header)
	case wire.CommandReply:
		c.onReply(m)
	default:
		c.Stats.Dropped++
		c.logf("sessclient: ignoring unexpected command %s", m.Header.Command)
	}
}

// onPong handles a cluster-wide pong: adopts a newer view and
// opportunistically (re-)triggers registration.
func (c *Client) onPong(h *wire.Header) {
	if h.Client != ([16]byte{}) {
		return
	}
	if h.View > c.view {
		c.view = h.View
	}
	c.Register()
}

// onReply validates and retires the queue head it corresponds to.
// Protocol-internal correspondence failures are fatal: they indicate
// corruption or a break in the protocol, not a recoverable condition.
func (c *Client) onReply(m *wire.Message) {
	h := &m.Header
	if !h.Valid(m.Body) {
		vprint.Panicf("sessclient: reply failed checksum revalidation: %s", h.String())
	}
	if h.Client != c.clientID {
		c.Stats.Dropped++
		return
	}

	head := c.queue.peekHead()
	if head == nil {
		c.Stats.Dropped++
		return
	}
	if h.Request < head.message.Header.Request {
		c.Stats.Dropped++
		c.logf("sessclient: dropping late duplicate reply for request=%d", h.Request)
		return
	}

	popped := c.queue.popHead()

	if h.Parent != c.parent {
		vprint.Panicf("sessclient: reply.parent mismatch: got %x want %x", h.Parent, c.parent)
	}
	if h.Cluster != c.clusterID {
		vprint.Panicf("sessclient: reply.cluster mismatch: got %d want %d", h.Cluster, c.clusterID)
	}
	if h.Request != popped.message.Header.Request {
		vprint.Panicf("sessclient: reply.request mismatch: got %d want %d", h.Request, popped.message.Header.Request)
	}
	if h.Operation != popped.op {
		vprint.Panicf("sessclient: reply.operation mismatch: got %s want %s", h.Operation, popped.op)
	}
	if h.Op != h.Commit {
		vprint.Panicf("sessclient: reply.op != reply.commit (%d != %d)", h.Op, h.Commit)
	}
	if h.Context != 0 {
		vprint.Panicf("sessclient: reply.context must be 0, got %d", h.Context)
	}

	c.parent = h.Checksum
	if h.View > c.view {
		c.view = h.View
	}
	c.requestTimeout.Stop()

	if popped.op == wire.OperationRegister {
		if h.Commit == 0 {
			vprint.Panicf("sessclient: register reply commit must be > 0")
		}
		c.session = h.Commit
		c.logf("sessclient: registered, session=%d", c.session)
	} else {
		c.Stats.Replied++
		if popped.callback != nil {
			popped.callback(popped.userData, h.Operation, m.Body, nil)
		}
	}

	c.bus.Unref(popped.message)

	if next := c.queue.peekHead(); next != nil {
		c.firstSend(next)
	}
}

// onPingTimeout broadcasts a ping to every replica and rearms the
// fixed-interval timer.
func (c *Client) onPingTimeout() {
	c.pingTimeout.Rearm(c.ticks)
	h := wire.Header{
		Cluster: c.clusterID,
		Command: wire.CommandPing,
		Size:    uint32(wire.HeaderSize),
	}
	for i := 0; i < c.replicaCount; i++ {
		c.bus.SendHeaderToReplica(i, h)
	}
	c.logf("sessclient: ping timeout, pinged %d replicas", c.replicaCount)
}

// onRequestTimeout applies exponential backoff with PRNG jitter and
// resends the head to the next candidate leader. The resent
// message's checksum is untouched -- linearizability depends on
// byte-identical retransmission.
func (c *Client) onRequestTimeout() {
	head := c.queue.peekHead()
	if head == nil {
		c.requestTimeout.Stop()
		return
	}

	c.requestTimeout.Attempts++
	jitter := c.prng.JitterFraction()
	after := nextBackoff(c.backoffCfg, c.requestTimeout.Attempts, jitter)
	c.requestTimeout.Start(c.ticks, after)

	replica := int((c.view + uint32(c.requestTimeout.Attempts)) % uint32(c.replicaCount))
	c.bus.SendMessageToReplica(replica, head.message)
	c.Stats.Retried++
	c.logf("sessclient: request timeout, attempt=%d resend request=%d to replica=%d", c.requestTimeout.Attempts, head.message.Header.Request, replica)
}

// Tick advances the client's logical clock and fires any timers whose
// interval has elapsed. It is the single entry point an external tick
// driver calls to advance the state machine.
func (c *Client) Tick(now Tick) {
	c.ticks = now
	if c.requestTimeout.Fired(now) {
		c.onRequestTimeout()
	}
	if c.pingTimeout.Fired(now) {
		c.onPingTimeout()
	}
}
