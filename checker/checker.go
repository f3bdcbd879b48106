// Package checker implements the offline log cross-validator in
// spec.md §4.5: after every node process has exited, reconstruct the
// full universe of txids a run of numClients clients issuing
// numRequests requests each should have produced
// ("client_i_op_j", i<numClients, j in [1,numRequests]), replay the
// coordinator's and every participant's OpLog under logPath, and
// cross-validate them against that universe. A txid neither node ever
// reached a final decision on (request still in flight when the run
// stopped, or one that never reached the coordinator at all) tallies
// as Unknown rather than being silently invisible to the report.
//
// Grounded on the teacher's benchmark/tpc.go, which tracks
// expected-vs-seen entity sets with github.com/deckarep/golang-set
// (c.needStock/c.payed/c.allOrderIDs) across a TPC-C run; the checker
// below applies the same expected-set idiom to the Cartesian product
// of txids instead of warehouse/order ids.
package checker

import (
	"fmt"
	"path/filepath"

	set "github.com/deckarep/golang-set"

	"github.com/SairamNaragoni/tpcsim/message"
	"github.com/SairamNaragoni/tpcsim/oplog"
)

// Tally is the Committed/Aborted/Unknown breakdown reconstructed from
// a single node's log.
type Tally struct {
	Committed int
	Aborted   int
	Unknown   int
}

// Violation records a transaction a participant disagreed with the
// coordinator about, or never recorded an outcome for at all.
type Violation struct {
	TxID                string
	ParticipantID       string
	CoordinatorDecision message.Type
	ParticipantDecision message.Type // zero value if Kind == Missing
	Kind                ViolationKind
}

// ViolationKind distinguishes a hard disagreement from a participant
// that simply never heard back (e.g. it crashed, or its vote timed
// out and the coordinator moved on without it).
type ViolationKind string

const (
	Mismatch ViolationKind = "mismatch"
	Missing  ViolationKind = "missing"
)

// Report is the full result of checking one coordinator's log against
// its participants' logs.
type Report struct {
	CoordinatorTally   Tally
	ParticipantTallies map[string]Tally
	Violations         []Violation
}

// OK reports whether the checked logs contain no agreement
// violations. Missing participant records are tracked but do not by
// themselves fail OK: a participant that never heard the decision is
// exactly the Unknown case spec.md §9 documents as expected, not a
// protocol bug.
func (r *Report) OK() bool {
	for _, v := range r.Violations {
		if v.Kind == Mismatch {
			return false
		}
	}
	return true
}

// expectedTxids builds the full set of txids a run of numClients
// clients issuing numRequests requests each should have produced,
// matching client.sendNextOperation's "{id}_op_{n}" scheme with
// client ids "client_0".."client_{numClients-1}" and ns starting at 1
// (spec.md §4.5 step 1).
func expectedTxids(numClients, numRequests int) set.Set {
	s := set.NewSet()
	for i := 0; i < numClients; i++ {
		for j := 1; j <= numRequests; j++ {
			s.Add(fmt.Sprintf("client_%d_op_%d", i, j))
		}
	}
	return s
}

// decidedType reports the final Commit/Abort decision a log entry
// records, if any. A missing entry, or one that only records a
// participant's own vote (ParticipantVoteCommit/Abort) rather than the
// coordinator's decision, is not a decision yet.
func decidedType(m message.ProtocolMessage, ok bool) (message.Type, bool) {
	if !ok {
		return "", false
	}
	switch m.MType {
	case message.CoordinatorCommit, message.CoordinatorAbort:
		return m.MType, true
	default:
		return "", false
	}
}

// tallyDecision folds one expected txid's outcome into tally: Unknown
// when no final decision was ever recorded, Committed/Aborted
// otherwise (spec.md §4.5 step 4).
func tallyDecision(tally *Tally, decisionType message.Type, decided bool) {
	switch {
	case !decided:
		tally.Unknown++
	case decisionType == message.CoordinatorCommit:
		tally.Committed++
	case decisionType == message.CoordinatorAbort:
		tally.Aborted++
	}
}

// Check reconstructs the expected txid universe for numClients clients
// issuing numRequests requests each against numParticipants
// participants, then replays coordinator.log and every
// participant_N.log under logPath and cross-validates them against it
// (spec.md §4.5).
func Check(numClients, numRequests, numParticipants int, logPath string) (*Report, error) {
	expected := expectedTxids(numClients, numRequests)

	coordLog, err := oplog.FromFile(filepath.Join(logPath, "coordinator.log"))
	if err != nil {
		return nil, fmt.Errorf("checker: open coordinator log: %w", err)
	}
	defer coordLog.Close()
	coordEntries := coordLog.All()

	report := &Report{ParticipantTallies: make(map[string]Tally)}
	decisions := make(map[string]message.Type, expected.Cardinality())
	for _, elem := range expected.ToSlice() {
		txid := elem.(string)
		m, ok := coordEntries[txid]
		decisionType, decided := decidedType(m, ok)
		tallyDecision(&report.CoordinatorTally, decisionType, decided)
		if decided {
			decisions[txid] = decisionType
		}
	}

	for i := 0; i < numParticipants; i++ {
		participantID := fmt.Sprintf("participant_%d", i)
		path := filepath.Join(logPath, participantID+".log")
		pLog, err := oplog.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("checker: open participant %s log: %w", participantID, err)
		}
		entries := pLog.All()

		var tally Tally
		for _, elem := range expected.ToSlice() {
			txid := elem.(string)
			m, ok := entries[txid]
			decisionType, decided := decidedType(m, ok)
			tallyDecision(&tally, decisionType, decided)

			coordDecision, coordDecided := decisions[txid]
			switch {
			case coordDecided && !decided:
				report.Violations = append(report.Violations, Violation{
					TxID:                txid,
					ParticipantID:       participantID,
					CoordinatorDecision: coordDecision,
					Kind:                Missing,
				})
			case coordDecided && decided && coordDecision != decisionType:
				report.Violations = append(report.Violations, Violation{
					TxID:                txid,
					ParticipantID:       participantID,
					CoordinatorDecision: coordDecision,
					ParticipantDecision: decisionType,
					Kind:                Mismatch,
				})
			}
		}
		report.ParticipantTallies[participantID] = tally

		if err := pLog.Close(); err != nil {
			return nil, fmt.Errorf("checker: close participant %s log: %w", participantID, err)
		}
	}

	return report, nil
}
