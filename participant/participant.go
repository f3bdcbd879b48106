// Package participant implements the 2PC participant side described in
// spec.md §4.2: receive a proposal, cast a probabilistic vote, log it,
// then wait for the coordinator's decision.
//
// Grounded directly on original_source/.../participant.rs's
// send/perform_operation/protocol trio, translated into Go idiom using
// the teacher's error-return and logging conventions rather than the
// Rust original's panic/unreachable! style.
package participant

import (
	"math/rand"
	"time"

	"github.com/SairamNaragoni/tpcsim/internal/logging"
	"github.com/SairamNaragoni/tpcsim/internal/runflag"
	"github.com/SairamNaragoni/tpcsim/internal/tcpconn"
	"github.com/SairamNaragoni/tpcsim/message"
	"github.com/SairamNaragoni/tpcsim/oplog"
)

// ExitPollInterval is how often the participant re-checks the running
// flag once it has seen CoordinatorExit (spec.md §4.2 "Exit").
const ExitPollInterval = 100 * time.Millisecond

// Participant is a single 2PC participant's durable state and its
// connection to the coordinator.
type Participant struct {
	id      string
	log     *oplog.OpLog
	running *runflag.Flag
	ep      *tcpconn.Endpoint
	rng     *rand.Rand

	sendSuccessProb      float64
	operationSuccessProb float64

	successfulOps int
	failedOps     int
	unknownOps    int
}

// New builds a Participant. seed selects the per-participant
// math/rand source used for both the send-drop and vote-outcome
// coin flips, grounded on spec.md §9's requirement that S6's
// reproducibility hinges on a seedable, per-participant RNG rather
// than the global source.
func New(id, logPath string, running *runflag.Flag, ep *tcpconn.Endpoint, sendSuccessProb, operationSuccessProb float64, seed int64) (*Participant, error) {
	log, err := oplog.New(logPath)
	if err != nil {
		return nil, err
	}
	return &Participant{
		id:                   id,
		log:                  log,
		running:              running,
		ep:                   ep,
		rng:                  rand.New(rand.NewSource(seed)),
		sendSuccessProb:      sendSuccessProb,
		operationSuccessProb: operationSuccessProb,
	}, nil
}

// send transmits pm to the coordinator, dropping it with probability
// 1-sendSuccessProb (spec.md §4.2, §7 "probabilistic drop").
func (p *Participant) send(pm message.ProtocolMessage) bool {
	x := p.rng.Float64()
	if x > p.sendSuccessProb {
		logging.Warn("participant::send -> %s failed to send due to probability failure", p.id)
		return false
	}
	if err := p.ep.Send(pm); err != nil {
		logging.Warn("participant::send -> %s failed to send: %v", p.id, err)
		return false
	}
	logging.Debug("participant::send -> %s sent %+v", p.id, pm)
	return true
}

// performOperation casts a vote for request, with probability
// operationSuccessProb of voting commit, logs the vote before sending
// it (spec.md §4.2 step 2's log-then-send ordering), and transmits it.
func (p *Participant) performOperation(request message.ProtocolMessage) bool {
	logging.Trace("participant::perform_operation -> %s performing operation", p.id)

	voteType := message.ParticipantVoteAbort
	if p.rng.Float64() <= p.operationSuccessProb {
		voteType = message.ParticipantVoteCommit
	}

	vote := message.Generate(voteType, request.TxID, p.id, request.OpID)
	if err := p.log.Append(vote); err != nil {
		logging.Fatal("participant::perform_operation -> %s log append failed: %v", p.id, err)
	}

	sent := p.send(vote)
	logging.Info("participant::perform_operation -> %s send_status=%v vote=%v txid=%s", p.id, sent, voteType, request.TxID)
	return sent
}

// ReportStatus prints this participant's aggregate commit/abort/
// unknown tally before it exits (spec.md §4.2 "Tallies").
func (p *Participant) ReportStatus() {
	logging.Info("%-16s:\tCommitted: %6d\tAborted: %6d\tUnknown: %6d", p.id, p.successfulOps, p.failedOps, p.unknownOps)
}

// Tally returns the running successful/failed/unknown operation
// counts, for tests and the offline checker's in-process harness.
func (p *Participant) Tally() (successful, failed, unknown int) {
	return p.successfulOps, p.failedOps, p.unknownOps
}

// waitForExitSignal blocks until the running flag goes false, after
// CoordinatorExit has been observed (spec.md §4.2 "Exit").
func (p *Participant) waitForExitSignal() {
	for p.running.Load() {
		time.Sleep(ExitPollInterval)
	}
}

// Protocol runs the participant side of 2PC: receive a proposal, vote,
// await the decision, tally it, repeat until CoordinatorExit, then
// wait out the running flag before reporting.
//
// unknown_ops is incremented optimistically on every CoordinatorPropose
// and decremented again once the matching decision arrives (spec.md
// §9): a participant that never hears back from a crashed coordinator
// is left counting that transaction as permanently unknown, which is
// the documented, intentional behavior this mirrors from the Rust
// original rather than a bug to fix.
func (p *Participant) Protocol() {
	logging.Trace("%s::beginning protocol", p.id)

loop:
	for {
		request, err := p.ep.Recv()
		if err != nil {
			logging.Warn("participant::protocol -> %s receive error, treating as exit: %v", p.id, err)
			break loop
		}

		switch request.MType {
		case message.CoordinatorPropose:
			logging.Debug("participant::protocol -> %s received CoordinatorPropose txid=%s", p.id, request.TxID)
			p.unknownOps++
			p.performOperation(request)
		case message.CoordinatorCommit:
			logging.Debug("participant::protocol -> %s received CoordinatorCommit txid=%s", p.id, request.TxID)
			p.unknownOps--
			p.successfulOps++
			if err := p.log.Append(request); err != nil {
				logging.Fatal("participant::protocol -> %s log append failed: %v", p.id, err)
			}
		case message.CoordinatorAbort:
			logging.Debug("participant::protocol -> %s received CoordinatorAbort txid=%s", p.id, request.TxID)
			p.unknownOps--
			p.failedOps++
			if err := p.log.Append(request); err != nil {
				logging.Fatal("participant::protocol -> %s log append failed: %v", p.id, err)
			}
		case message.CoordinatorExit:
			logging.Debug("participant::protocol -> %s received exit signal", p.id)
			break loop
		default:
			logging.Fatal("participant::protocol -> %s unexpected message type %v", p.id, request.MType)
		}
	}

	p.waitForExitSignal()
	p.ReportStatus()
}

// Close releases the participant's log file.
func (p *Participant) Close() error {
	return p.log.Close()
}
