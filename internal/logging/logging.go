// Package logging provides the leveled diagnostic printer shared by
// every node. It mirrors the teacher's configs.{D,T,L}Printf idiom:
// package-level toggles gate a handful of severities, all funneled
// through the standard library's log package with a microsecond
// timestamp prefix.
package logging

import (
	"log"
	"os"
)

// Verbosity gates which levels actually print. Higher is noisier,
// matching the --verbosity CLI option's effect described in spec.md §6.
var Verbosity = 0

func init() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.SetOutput(os.Stderr)
}

// Trace is the noisiest level: per-message dispatch detail.
func Trace(format string, a ...interface{}) {
	if Verbosity >= 3 {
		log.Printf("[trace] "+format, a...)
	}
}

// Debug reports state transitions and protocol decisions.
func Debug(format string, a ...interface{}) {
	if Verbosity >= 2 {
		log.Printf("[debug] "+format, a...)
	}
}

// Info reports coarse lifecycle events: joins, spawns, exits.
func Info(format string, a ...interface{}) {
	if Verbosity >= 1 {
		log.Printf("[info] "+format, a...)
	}
}

// Warn reports recovered errors: dropped sends, timed-out votes.
func Warn(format string, a ...interface{}) {
	log.Printf("[warn] "+format, a...)
}

// Error reports a serious but non-fatal condition, such as the
// txid-mismatch case during vote collection (spec.md §9).
func Error(format string, a ...interface{}) {
	log.Printf("[error] "+format, a...)
}

// Fatal reports a protocol violation and terminates the process, per
// spec.md §7's taxonomy: unexpected message types are a programmer
// bug, not an operational condition.
func Fatal(format string, a ...interface{}) {
	log.Fatalf("[fatal] "+format, a...)
}
