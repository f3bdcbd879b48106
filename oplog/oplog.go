// Package oplog implements the append-only, durable per-node message
// log described in spec.md §4.1: a mapping from txid to the last
// message recorded for it, backed by a file that can be replayed after
// the fact.
//
// Grounded on the teacher's network/coordinator/log_manager.go, which
// wraps the same github.com/tidwall/wal library for an analogous
// append-only transaction-state journal. The teacher batches writes
// and syncs on a timer (configs.LogBatchInterval) because its logged
// entries are a best-effort recovery aid; our durability invariant
// (spec.md §3, OpLog invariant i) requires every append to be flushed
// before it returns, so each Append here is its own synchronous
// wal.Log.Write — no batching, no background syncer.
package oplog

import (
	"fmt"
	"sync"

	"github.com/tidwall/wal"

	"github.com/SairamNaragoni/tpcsim/message"
)

// OpLog is an append-only, replayable record of every protocol message
// a node has decided upon. Each node owns exactly one OpLog; concurrent
// access across nodes is never required, but the log is safe for
// concurrent use from within a single process.
type OpLog struct {
	mu    sync.Mutex
	log   *wal.Log
	index map[string]message.ProtocolMessage
	lsn   uint64
}

// New creates (or opens) the log file at path and replays any existing
// contents into the in-memory index, so a node restarted against a
// pre-existing log directory picks up where it left off.
func New(path string) (*OpLog, error) {
	w, err := wal.Open(path, nil)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	o := &OpLog{log: w, index: make(map[string]message.ProtocolMessage)}
	if err := o.replay(); err != nil {
		return nil, err
	}
	return o, nil
}

// replay reconstructs the in-memory mapping by sequential replay of
// the underlying file, satisfying invariant (ii): the full mapping can
// be reconstructed from the file alone.
func (o *OpLog) replay() error {
	first, err := o.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("oplog: first index: %w", err)
	}
	last, err := o.log.LastIndex()
	if err != nil {
		return fmt.Errorf("oplog: last index: %w", err)
	}
	o.lsn = last
	if last == 0 {
		return nil
	}
	for i := first; i <= last; i++ {
		raw, err := o.log.Read(i)
		if err != nil {
			return fmt.Errorf("oplog: read entry %d: %w", i, err)
		}
		m, err := message.Decode(raw)
		if err != nil {
			return fmt.Errorf("oplog: decode entry %d: %w", i, err)
		}
		// Later entry wins the in-memory view (invariant iii); both
		// remain in the file since we never delete.
		o.index[m.TxID] = m
	}
	return nil
}

// FromFile loads a prior log's contents into a fresh OpLog, for use by
// the offline checker, which reads logs only after all writer
// processes have terminated (spec.md §5).
func FromFile(path string) (*OpLog, error) {
	return New(path)
}

// Append persists m and indexes it by its txid. The write is fsynced
// before Append returns (wal.Log's default Options leave NoSync
// false), satisfying invariant (i).
func (o *OpLog) Append(m message.ProtocolMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, err := message.Encode(m)
	if err != nil {
		return err
	}
	o.lsn++
	if err := o.log.Write(o.lsn, raw); err != nil {
		return fmt.Errorf("oplog: write entry %d: %w", o.lsn, err)
	}
	o.index[m.TxID] = m
	return nil
}

// Get returns the last-written message for txid, if any.
func (o *OpLog) Get(txid string) (message.ProtocolMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.index[txid]
	return m, ok
}

// All returns a snapshot of every txid's last-written message, for the
// offline checker (spec.md §4.5), which has no other way to enumerate
// a node's transactions after the fact.
func (o *OpLog) All() map[string]message.ProtocolMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]message.ProtocolMessage, len(o.index))
	for k, v := range o.index {
		out[k] = v
	}
	return out
}

// Close releases the underlying file handle.
func (o *OpLog) Close() error {
	return o.log.Close()
}

// ReadAll returns every entry in path in append order, including
// entries a later append for the same txid has since shadowed in the
// in-memory index. Unlike FromFile/All, this is for callers that need
// the raw history rather than just the latest decision per txid (e.g.
// S6's count of ParticipantVoteCommit entries, which the participant's
// later decision entry for the same txid would otherwise overwrite).
func ReadAll(path string) ([]message.ProtocolMessage, error) {
	w, err := wal.Open(path, nil)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	defer w.Close()

	first, err := w.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("oplog: first index: %w", err)
	}
	last, err := w.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("oplog: last index: %w", err)
	}
	if last == 0 {
		return nil, nil
	}

	entries := make([]message.ProtocolMessage, 0, last-first+1)
	for i := first; i <= last; i++ {
		raw, err := w.Read(i)
		if err != nil {
			return nil, fmt.Errorf("oplog: read entry %d: %w", i, err)
		}
		m, err := message.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("oplog: decode entry %d: %w", i, err)
		}
		entries = append(entries, m)
	}
	return entries, nil
}
