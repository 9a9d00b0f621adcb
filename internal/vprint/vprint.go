// Package vprint provides the ambient logging and fatal-assertion
// helpers shared by every package in this module. It follows the
// hand-rolled, timestamped-printf convention used throughout the
// glycerine/rpc25519 and tube codebases rather than reaching for a
// structured logging library: no package here needs log levels,
// sinks, or structured fields, just a cheap way to timestamp a line
// and a way to crash loudly on a broken invariant.
package vprint

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sync"
	"time"
)

// Verbose turns on Vv output. Off by default so library consumers
// (and tests) are quiet unless they ask for noise.
var Verbose = false

var mut sync.Mutex

// Out is where timestamped output goes; swappable for tests that want
// to capture it.
var Out io.Writer = os.Stdout

const rfc3339NanoNumericTZ0pad = "2006-01-02T15:04:05.000000000-07:00"

func ts() string {
	return time.Now().UTC().Format(rfc3339NanoNumericTZ0pad)
}

func fileLine(depth int) string {
	_, fileName, fileLine, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", path.Base(fileName), fileLine)
}

// Vv is a timestamped, file:line-prefixed debug print, gated on
// Verbose. Named Vv to match the single-letter debug-printf idiom the
// teacher uses throughout tube/vprint.go.
func Vv(format string, a ...interface{}) {
	if !Verbose {
		return
	}
	mut.Lock()
	defer mut.Unlock()
	fmt.Fprintf(Out, "\n%s [goID %v] %s ", fileLine(3), goroNumber(), ts())
	fmt.Fprintf(Out, format+"\n", a...)
}

// AlwaysPrintf prints unconditionally, timestamped. Used for
// logged-and-dropped error paths that should be visible regardless of
// Verbose.
func AlwaysPrintf(format string, a ...interface{}) {
	mut.Lock()
	defer mut.Unlock()
	fmt.Fprintf(Out, "\n%s [goID %v] %s ", fileLine(3), goroNumber(), ts())
	fmt.Fprintf(Out, format+"\n", a...)
}

func goroNumber() int {
	buf := make([]byte, 64)
	nw := runtime.Stack(buf, false)
	buf = buf[:nw]
	i := 10
	for i < len(buf) && buf[i] != ' ' {
		i++
	}
	var n int
	fmt.Sscanf(string(buf[10:i]), "%d", &n)
	return n
}

// PanicOn panics if err is non-nil. Used at protocol-internal
// invariant checks where a failure means corruption or a break in the
// protocol, not a recoverable runtime condition.
func PanicOn(err error) {
	if err != nil {
		panic(err)
	}
}

// Panicf panics with a formatted message.
func Panicf(format string, a ...interface{}) {
	panic(fmt.Sprintf(format, a...))
}
