// Package message defines the single wire type exchanged between every
// node in the protocol: coordinator, participants and clients.
package message

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Type tags a ProtocolMessage with its role in the 2PC exchange.
type Type string

const (
	ClientRequest         Type = "ClientRequest"
	CoordinatorPropose    Type = "CoordinatorPropose"
	ParticipantVoteCommit Type = "ParticipantVoteCommit"
	ParticipantVoteAbort  Type = "ParticipantVoteAbort"
	CoordinatorCommit     Type = "CoordinatorCommit"
	CoordinatorAbort      Type = "CoordinatorAbort"
	ClientResultCommit    Type = "ClientResultCommit"
	ClientResultAbort     Type = "ClientResultAbort"
	CoordinatorExit       Type = "CoordinatorExit"
)

// Status is the coordinator's working view of a transaction's outcome
// while votes are still being collected.
type Status string

const (
	Committed Status = "Committed"
	Aborted   Status = "Aborted"
	Unknown   Status = "Unknown"
)

// ProtocolMessage is the immutable envelope for every message exchanged
// between nodes. Field names are kept lowercase-tagged to match the
// wire format used across every node's log file, since the checker
// decodes logs written by other processes.
type ProtocolMessage struct {
	MType    Type   `json:"mtype"`
	TxID     string `json:"txid"`
	SenderID string `json:"senderid"`
	OpID     uint64 `json:"opid"`
}

// Generate builds a new ProtocolMessage. Mirrors the teacher's
// New*-constructor convention (network.NewTXPack et al.) for wire
// structs.
func Generate(mtype Type, txid string, senderID string, opid uint64) ProtocolMessage {
	return ProtocolMessage{
		MType:    mtype,
		TxID:     txid,
		SenderID: senderID,
		OpID:     opid,
	}
}

// Encode serializes m to its wire representation.
func Encode(m ProtocolMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("message: encode %+v: %w", m, err)
	}
	return b, nil
}

// Decode is the inverse of Encode; composing the two is the identity
// on any well-formed message.
func Decode(b []byte) (ProtocolMessage, error) {
	var m ProtocolMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ProtocolMessage{}, fmt.Errorf("message: decode %q: %w", b, err)
	}
	return m, nil
}
