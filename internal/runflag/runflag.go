// Package runflag implements the single cross-thread mutable value any
// node process has: the "still running" flag flipped by the SIGINT
// handler and polled by the protocol loop. Grounded on the Rust
// original's Arc<AtomicBool>; the Go analogue used here is a plain
// int32 behind sync/atomic rather than the newer atomic.Bool wrapper,
// matching the teacher's idiom of calling atomic.LoadInt32/StoreInt32
// directly (e.g. storage/cc_2pl_nw.go, network/coordinator/conn.go use
// raw atomic.Value/atomic int fields rather than typed wrappers).
package runflag

import "sync/atomic"

// Flag is a process-wide cancellation signal: write-once-per-process
// by the signal handler, read-only everywhere else.
type Flag struct {
	v int32
}

// New returns a Flag initialized to running.
func New() *Flag {
	f := &Flag{}
	f.Store(true)
	return f
}

// Load reports whether the process should keep running.
func (f *Flag) Load() bool {
	return atomic.LoadInt32(&f.v) != 0
}

// Store sets the flag. Only the signal handler should call this.
func (f *Flag) Store(running bool) {
	var v int32
	if running {
		v = 1
	}
	atomic.StoreInt32(&f.v, v)
}
