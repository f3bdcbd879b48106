// Package options implements the CLI surface described in spec.md §6:
// a single flag set shared by every mode (run, client, participant,
// check), plus the machinery a parent process uses to build the argv
// for a child it is about to spawn.
//
// Grounded on the original Rust assignment's tpcoptions::TPCOptions
// (referenced by original_source/.../main.rs's spawn_child_and_connect,
// which clones the parent's options, mutates mode/num, and calls
// opts.as_vec() to build the child's argv — the file itself wasn't
// retained in original_source, so this struct's shape is inferred from
// those call sites). Flags are declared with the stdlib flag package,
// matching the teacher's fc-server/main.go, which declares ~25 flags
// the same way rather than reaching for a third-party CLI framework.
package options

import (
	"flag"
	"fmt"
)

// Mode selects what role this process invocation plays.
const (
	ModeRun         = "run"
	ModeClient      = "client"
	ModeParticipant = "participant"
	ModeCheck       = "check"
)

// Options holds every CLI-tunable parameter in spec.md §6's table.
type Options struct {
	Mode                        string
	NumClients                  int
	NumParticipants             int
	NumRequests                 int
	LogPath                     string
	SendSuccessProbability      float64
	OperationSuccessProbability float64
	Verbosity                   int
	IPCPath                     string
	Num                         int
	Seed                        int64
}

// Parse builds an Options from the process argument list (excluding
// argv[0]), applying the defaults spec.md §6 specifies.
func Parse(args []string) (*Options, error) {
	fs := flag.NewFlagSet("tpcsim", flag.ContinueOnError)
	o := &Options{}

	fs.StringVar(&o.Mode, "mode", ModeRun, "run | client | participant | check")
	fs.IntVar(&o.NumClients, "num_clients", 1, "number of client processes to spawn")
	fs.IntVar(&o.NumParticipants, "num_participants", 1, "number of participant processes to spawn")
	fs.IntVar(&o.NumRequests, "num_requests", 1, "requests each client issues")
	fs.StringVar(&o.LogPath, "log_path", "./logs", "directory for per-node log files")
	fs.Float64Var(&o.SendSuccessProbability, "send_success_probability", 1.0, "participant send success threshold")
	fs.Float64Var(&o.OperationSuccessProbability, "operation_success_probability", 1.0, "participant vote-commit threshold")
	fs.IntVar(&o.Verbosity, "verbosity", 0, "log verbosity level")
	fs.StringVar(&o.IPCPath, "ipc_path", "", "internal: bootstrap rendezvous address")
	fs.IntVar(&o.Num, "num", 0, "internal: child index within its role")
	fs.Int64Var(&o.Seed, "seed", 0, "random seed (0 selects a time-derived seed)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("options: parse: %w", err)
	}
	switch o.Mode {
	case ModeRun, ModeClient, ModeParticipant, ModeCheck:
	default:
		return nil, fmt.Errorf("options: unknown mode %q", o.Mode)
	}
	return o, nil
}

// Clone returns a deep copy, since each spawned child gets its own
// mutated Mode/Num/IPCPath while inheriting everything else.
func (o *Options) Clone() *Options {
	clone := *o
	return &clone
}

// Args renders o back into the argv a re-exec'd child process expects,
// grounded on the Rust original's referenced TPCOptions::as_vec().
func (o *Options) Args() []string {
	return []string{
		"-mode", o.Mode,
		"-num_clients", itoa(o.NumClients),
		"-num_participants", itoa(o.NumParticipants),
		"-num_requests", itoa(o.NumRequests),
		"-log_path", o.LogPath,
		"-send_success_probability", ftoa(o.SendSuccessProbability),
		"-operation_success_probability", ftoa(o.OperationSuccessProbability),
		"-verbosity", itoa(o.Verbosity),
		"-ipc_path", o.IPCPath,
		"-num", itoa(o.Num),
		"-seed", itoa64(o.Seed),
	}
}

func itoa(n int) string     { return fmt.Sprintf("%d", n) }
func itoa64(n int64) string { return fmt.Sprintf("%d", n) }
func ftoa(f float64) string { return fmt.Sprintf("%g", f) }
