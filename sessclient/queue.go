package sessclient

import "github.com/glycerine/vsrclient/wire"

// Callback is invoked when a request retires: with the reply's body
// and a nil error on success, or with err set (and body nil) when the
// request could not even be enqueued (queue full).
type Callback func(userData [16]byte, op wire.Operation, body []byte, err error)

// queueEntry is a request queue element: user data, callback, and an
// owned message handle. Ownership of message transfers to the queue
// on enqueue and is released exactly once on retirement.
type queueEntry struct {
	userData [16]byte
	callback Callback
	message  *wire.Message
	op       wire.Operation
	sent     bool
}

// requestQueue is a bounded FIFO sized to message_bus_messages_max -
// 1 (one buffer reserved for receive), holding at most one inflight
// request (the head) at a time. Backed by a fixed-size ring buffer
// rather than append/shift, so enqueue/dequeue are O(1) without ever
// touching the teacher's rbtree-backed ordered structures
// (tube/sess.go, ticketpq.go) -- those track entries ordered by
// *expiry*, which this queue never needs: it is strictly FIFO, the
// head is always the oldest entry, and nothing is ever removed out
// of order.
type requestQueue struct {
	buf   []*queueEntry
	head  int
	count int
}

func newRequestQueue(capacity int) *requestQueue {
	return &requestQueue{buf: make([]*queueEntry, capacity)}
}

func (q *requestQueue) capacity() int { return len(q.buf) }
func (q *requestQueue) len() int      { return q.count }
func (q *requestQueue) full() bool    { return q.count == len(q.buf) }
func (q *requestQueue) empty() bool   { return q.count == 0 }

// push enqueues e at the tail. Caller must check full() first.
func (q *requestQueue) push(e *queueEntry) {
	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = e
	q.count++
}

// peekHead returns the oldest entry without removing it, or nil if
// empty.
func (q *requestQueue) peekHead() *queueEntry {
	if q.count == 0 {
		return nil
	}
	return q.buf[q.head]
}

// popHead removes and returns the oldest entry, or nil if empty.
func (q *requestQueue) popHead() *queueEntry {
	if q.count == 0 {
		return nil
	}
	e := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return e
}
