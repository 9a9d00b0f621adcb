// Command sessdemo drives a sessclient.Client against an in-process
// bus.SimBus and a tiny scripted cluster, ticking both and printing
// the client id, the registered session number and each request's
// reply body; checksums and parent links are not printed. Flag-based CLI grounded on
// cmd/srv/server.go's flag.* idiom; request/reply waits are bridged
// from the async Callback into the blocking main goroutine the way
// the teacher bridges hdr.go's Message.DoneCh.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glycerine/base58"
	"github.com/glycerine/idem"
	"github.com/glycerine/loquet"
	"golang.org/x/term"

	"github.com/glycerine/vsrclient/bus"
	"github.com/glycerine/vsrclient/sessclient"
	"github.com/glycerine/vsrclient/wire"
)

type reply struct {
	body []byte
	err  error
}

// scriptedCluster answers registers and echoes request bodies back,
// hash-chained correctly -- a demo stand-in for the replicated state
// machine, not a real consensus implementation.
type scriptedCluster struct {
	nextSession uint64
	sessionOf   map[[16]byte]uint64
}

func (c *scriptedCluster) handle(replicaIndex int, h wire.Header, body []byte) (wire.Header, []byte, bool) {
	if h.Command != wire.CommandRequest {
		return wire.Header{}, nil, false
	}
	r := wire.Header{
		Client:  h.Client,
		Request: h.Request,
		Cluster: h.Cluster,
		Command: wire.CommandReply,
		Parent:  h.Checksum,
	}
	if h.Operation == wire.OperationRegister {
		c.nextSession++
		session := c.nextSession
		if c.sessionOf == nil {
			c.sessionOf = make(map[[16]byte]uint64)
		}
		c.sessionOf[h.Client] = session
		r.Operation = wire.OperationRegister
		r.Op, r.Commit = session, session
	} else {
		session := c.sessionOf[h.Client]
		r.Operation = h.Operation
		r.Op, r.Commit = session, session
	}
	r.Size = uint32(wire.HeaderSize + len(body))
	r.ComputeBodyChecksum(body)
	r.ComputeChecksum()
	return r, body, true
}

func main() {
	replicas := flag.Int("replicas", 3, "number of replicas the demo cluster presents")
	requests := flag.Int("n", 5, "number of application requests to send after registering")
	latency := flag.Uint64("latency", 1, "simulated per-hop network latency, in ticks")
	flag.Parse()

	halt := idem.NewHalter()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		halt.ReqStop.Close()
	}()

	cluster := &scriptedCluster{}
	b := bus.New(*replicas, nil, cluster.handle)
	b.SetLatency(sessclient.Tick(*latency))

	var client *sessclient.Client
	client = sessclient.New(sessclient.Config{
		ClusterID:                  1,
		ReplicaCount:               *replicas,
		Bus:                        b,
		RequestQueueCapacity:       16,
		InitialRequestTimeoutTicks: 3,
		MaxRequestTimeoutTicks:     500,
		PingTimeoutTicks:           300,
	})
	b.SetSink(client)

	fmt.Printf("sessdemo: client_id=%s\n", base58.Encode(clientIDBytes(client)))

	// Each reply is a pointer the callback mutates in place; the
	// loquet.Chan wrapping it is purely a "done" signal, the same
	// division of labor the teacher gives hdr.go's Message.DoneCh
	// (the *Message itself carries the result, DoneCh only announces
	// completion).
	results := make(map[int]*reply)
	done := make(map[int]*loquet.Chan[reply])
	for i := 0; i < *requests; i++ {
		r := &reply{}
		results[i] = r
		done[i] = loquet.NewChan(r)
		body := []byte(fmt.Sprintf("payload-%d", i))
		idx := i
		client.Request([16]byte{}, wire.Operation(100+idx), body, func(_ [16]byte, _ wire.Operation, respBody []byte, err error) {
			r := results[idx]
			r.body = respBody
			r.err = err
			done[idx].Close()
		})
	}

	isTerm := term.IsTerminal(int(os.Stdout.Fd()))

	deadline := sessclient.Tick(5000)
	for tick := sessclient.Tick(0); tick < deadline; tick++ {
		select {
		case <-halt.ReqStop.Chan:
			fmt.Println("sessdemo: interrupted")
			return
		default:
		}
		client.Tick(tick)
		b.Tick(tick)

		if client.Session() != 0 && allDone(done) {
			break
		}
		if isTerm {
			time.Sleep(time.Microsecond) // let Ctrl-C land between ticks in an interactive run
		}
	}

	if client.Session() == 0 {
		fmt.Println("sessdemo: registration never completed within the tick budget")
		os.Exit(1)
	}
	fmt.Printf("sessdemo: registered, session=%s\n", base58.Encode(sessionBytes(client.Session())))

	for i := 0; i < *requests; i++ {
		select {
		case <-done[i].WhenClosed():
			r := results[i]
			if r.err != nil {
				fmt.Printf("sessdemo: request %d failed: %v\n", i, r.err)
			} else {
				fmt.Printf("sessdemo: request %d reply: %s\n", i, r.body)
			}
		default:
			fmt.Printf("sessdemo: request %d never completed\n", i)
		}
	}

	halt.Done.Close()
}

func allDone(done map[int]*loquet.Chan[reply]) bool {
	for _, ch := range done {
		select {
		case <-ch.WhenClosed():
		default:
			return false
		}
	}
	return true
}

func clientIDBytes(c *sessclient.Client) []byte {
	id := c.ClientID()
	return id[:]
}

func sessionBytes(session uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(session >> (8 * i))
	}
	return b
}
