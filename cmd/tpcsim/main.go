// Command tpcsim drives every role in the simulation described in
// spec.md §6: a single binary re-execs itself as coordinator,
// participant, or client children, and separately supports an offline
// log-checking mode.
//
// Grounded on original_source/.../main.rs's spawn_child_and_connect /
// connect_to_coordinator / run / run_client / run_participant /
// main dispatch, translated from ipc_channel's IpcOneShotServer to
// the one-shot TCP rendezvous in internal/tcpconn, and from ctrlc to
// os/signal.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SairamNaragoni/tpcsim/checker"
	"github.com/SairamNaragoni/tpcsim/client"
	"github.com/SairamNaragoni/tpcsim/coordinator"
	"github.com/SairamNaragoni/tpcsim/internal/logging"
	"github.com/SairamNaragoni/tpcsim/internal/runflag"
	"github.com/SairamNaragoni/tpcsim/internal/tcpconn"
	"github.com/SairamNaragoni/tpcsim/options"
	"github.com/SairamNaragoni/tpcsim/participant"
)

// Exit codes for the process as a whole.
const (
	exitOK          = 0
	exitSetupError  = 2
	exitCheckFailed = 1
)

func main() {
	opts, err := options.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpcsim: %v\n", err)
		os.Exit(exitSetupError)
	}
	logging.Verbosity = opts.Verbosity

	if err := os.MkdirAll(opts.LogPath, 0o755); err != nil {
		logging.Error("failed to create log_path %q: %v", opts.LogPath, err)
	}

	running := runflag.New()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		running.Store(false)
	}()

	switch opts.Mode {
	case options.ModeRun:
		runCoordinator(opts, running)
	case options.ModeClient:
		runClient(opts, running)
	case options.ModeParticipant:
		runParticipant(opts, running)
	case options.ModeCheck:
		os.Exit(runCheck(opts))
	default:
		fmt.Fprintf(os.Stderr, "tpcsim: unknown mode %q\n", opts.Mode)
		os.Exit(exitSetupError)
	}
}

// spawnChildAndConnect binds a one-shot TCP rendezvous, re-execs this
// binary with childOpts (publishing the rendezvous address as
// --ipc_path), and blocks until the child dials in.
func spawnChildAndConnect(childOpts *options.Options) (*tcpconn.Endpoint, error) {
	ln, err := tcpconn.Listen()
	if err != nil {
		return nil, fmt.Errorf("spawn_child_and_connect: listen: %w", err)
	}
	childOpts.IPCPath = ln.Addr()

	exe, err := os.Executable()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("spawn_child_and_connect: locate self: %w", err)
	}

	cmd := exec.Command(exe, childOpts.Args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ln.Close()
		return nil, fmt.Errorf("spawn_child_and_connect: start: %w", err)
	}
	go cmd.Wait() // reap; children report their own exit status via logs/stdout.

	ep, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("spawn_child_and_connect: accept: %w", err)
	}
	logging.Info("spawned %s process with pid=%d", childOpts.Mode, cmd.Process.Pid)
	return ep, nil
}

// connectToCoordinator is the child-side counterpart: dial the
// rendezvous address the parent published via --ipc_path.
func connectToCoordinator(opts *options.Options) (*tcpconn.Endpoint, error) {
	return tcpconn.Dial(opts.IPCPath)
}

// runCoordinator builds a Coordinator, spawns and registers every
// participant and client, then runs the coordinator's protocol loop
// until the running flag goes false (spec.md §4.3, §6).
func runCoordinator(opts *options.Options, running *runflag.Flag) {
	coordLogPath := filepath.Join(opts.LogPath, "coordinator.log")
	coord, err := coordinator.New(coordLogPath, running)
	if err != nil {
		logging.Fatal("run: failed to create coordinator: %v", err)
	}
	defer coord.Close()

	for i := 0; i < opts.NumParticipants; i++ {
		name := fmt.Sprintf("participant_%d", i)
		childOpts := opts.Clone()
		childOpts.Mode = options.ModeParticipant
		childOpts.Num = i

		ep, err := spawnChildAndConnect(childOpts)
		if err != nil {
			logging.Error("failed to spawn participant %s: %v", name, err)
			continue
		}
		if err := coord.ParticipantJoin(name, ep); err != nil {
			logging.Error("failed to join participant %s: %v", name, err)
		}
	}

	for i := 0; i < opts.NumClients; i++ {
		name := fmt.Sprintf("client_%d", i)
		childOpts := opts.Clone()
		childOpts.Mode = options.ModeClient
		childOpts.Num = i

		ep, err := spawnChildAndConnect(childOpts)
		if err != nil {
			logging.Error("failed to spawn client %s: %v", name, err)
			continue
		}
		if err := coord.ClientJoin(name, ep); err != nil {
			logging.Error("failed to join client %s: %v", name, err)
		}
	}

	coord.Protocol()
}

// runClient connects back to the coordinator and runs the client
// protocol for opts.NumRequests requests (spec.md §4.4, §6).
func runClient(opts *options.Options, running *runflag.Flag) {
	ep, err := connectToCoordinator(opts)
	if err != nil {
		logging.Fatal("run_client: failed to connect to coordinator: %v", err)
	}
	name := fmt.Sprintf("client_%d", opts.Num)
	c := client.New(name, running, ep)
	c.Protocol(uint64(opts.NumRequests))
}

// runParticipant connects back to the coordinator and runs the
// participant protocol until CoordinatorExit (spec.md §4.2, §6).
func runParticipant(opts *options.Options, running *runflag.Flag) {
	name := fmt.Sprintf("participant_%d", opts.Num)
	logPath := filepath.Join(opts.LogPath, name+".log")

	ep, err := connectToCoordinator(opts)
	if err != nil {
		logging.Fatal("run_participant: failed to connect to coordinator: %v", err)
	}

	// Each participant needs its own vote sequence even when a shared
	// seed was requested, so S6's reproducibility doesn't collapse
	// every participant onto identical coin flips. A seed of 0 selects a
	// time-derived base seed.
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seed += int64(opts.Num)

	p, err := participant.New(name, logPath, running, ep, opts.SendSuccessProbability, opts.OperationSuccessProbability, seed)
	if err != nil {
		logging.Fatal("run_participant: failed to create participant: %v", err)
	}
	defer p.Close()
	p.Protocol()
}

// runCheck replays the coordinator's and every participant's log from
// the prior run against the full expected txid universe for
// opts.NumClients clients issuing opts.NumRequests requests each and
// reports any agreement violations, returning the process exit code
// (spec.md §4.5, §6).
func runCheck(opts *options.Options) int {
	report, err := checker.Check(opts.NumClients, opts.NumRequests, opts.NumParticipants, opts.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpcsim: check: %v\n", err)
		return exitSetupError
	}

	fmt.Printf("coordinator:\tCommitted: %6d\tAborted: %6d\tUnknown: %6d\n",
		report.CoordinatorTally.Committed, report.CoordinatorTally.Aborted, report.CoordinatorTally.Unknown)
	for name, tally := range report.ParticipantTallies {
		fmt.Printf("%-16s:\tCommitted: %6d\tAborted: %6d\tUnknown: %6d\n", name, tally.Committed, tally.Aborted, tally.Unknown)
	}
	for _, v := range report.Violations {
		fmt.Printf("[%s] txid=%s participant=%s coordinator=%v participant_decision=%v\n",
			v.Kind, v.TxID, v.ParticipantID, v.CoordinatorDecision, v.ParticipantDecision)
	}

	if !report.OK() {
		return exitCheckFailed
	}
	return exitOK
}
