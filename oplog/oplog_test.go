package oplog

import (
	"path/filepath"
	"testing"

	"github.com/magiconair/properties/assert"

	"github.com/SairamNaragoni/tpcsim/message"
)

func TestAppendThenGetReturnsLatest(t *testing.T) {
	dir := t.TempDir()
	o, err := New(filepath.Join(dir, "node.log"))
	assert.Equal(t, err, nil)
	defer o.Close()

	first := message.Generate(message.CoordinatorPropose, "client_0_op_1", "coordinator", 1)
	assert.Equal(t, o.Append(first), nil)

	got, ok := o.Get("client_0_op_1")
	assert.Equal(t, ok, true)
	assert.Equal(t, got, first)

	second := message.Generate(message.CoordinatorCommit, "client_0_op_1", "coordinator", 1)
	assert.Equal(t, o.Append(second), nil)

	got, ok = o.Get("client_0_op_1")
	assert.Equal(t, ok, true)
	assert.Equal(t, got, second)
}

func TestReplayIdempotence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.log")
	o, err := New(path)
	assert.Equal(t, err, nil)

	entries := []message.ProtocolMessage{
		message.Generate(message.CoordinatorPropose, "client_0_op_1", "coordinator", 1),
		message.Generate(message.CoordinatorCommit, "client_0_op_1", "coordinator", 1),
		message.Generate(message.CoordinatorPropose, "client_0_op_2", "coordinator", 2),
		message.Generate(message.CoordinatorAbort, "client_0_op_2", "coordinator", 2),
	}
	for _, e := range entries {
		assert.Equal(t, o.Append(e), nil)
	}
	assert.Equal(t, o.Close(), nil)

	replayed, err := FromFile(path)
	assert.Equal(t, err, nil)
	defer replayed.Close()

	for _, txid := range []string{"client_0_op_1", "client_0_op_2"} {
		want, _ := o.Get(txid) // still valid: the in-memory index survives Close.
		got, ok := replayed.Get(txid)
		assert.Equal(t, ok, true)
		assert.Equal(t, got, want)
	}
}

func TestGetMissingTxidIsAbsent(t *testing.T) {
	dir := t.TempDir()
	o, err := New(filepath.Join(dir, "node.log"))
	assert.Equal(t, err, nil)
	defer o.Close()

	_, ok := o.Get("nonexistent")
	assert.Equal(t, ok, false)
}

func TestAllReturnsLatestPerTxid(t *testing.T) {
	dir := t.TempDir()
	o, err := New(filepath.Join(dir, "node.log"))
	assert.Equal(t, err, nil)
	defer o.Close()

	assert.Equal(t, o.Append(message.Generate(message.CoordinatorPropose, "tx1", "coordinator", 1)), nil)
	assert.Equal(t, o.Append(message.Generate(message.CoordinatorCommit, "tx1", "coordinator", 1)), nil)
	assert.Equal(t, o.Append(message.Generate(message.CoordinatorPropose, "tx2", "coordinator", 2)), nil)

	all := o.All()
	assert.Equal(t, len(all), 2)
	assert.Equal(t, all["tx1"].MType, message.CoordinatorCommit)
	assert.Equal(t, all["tx2"].MType, message.CoordinatorPropose)
}

func TestReadAllPreservesShadowedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.log")
	o, err := New(path)
	assert.Equal(t, err, nil)

	assert.Equal(t, o.Append(message.Generate(message.ParticipantVoteCommit, "tx1", "p1", 1)), nil)
	assert.Equal(t, o.Append(message.Generate(message.CoordinatorCommit, "tx1", "coordinator", 1)), nil)
	assert.Equal(t, o.Close(), nil)

	// The replayed latest-per-txid view (Get) only sees the shadowing
	// CoordinatorCommit entry...
	reopened, err := FromFile(path)
	assert.Equal(t, err, nil)
	got, _ := reopened.Get("tx1")
	assert.Equal(t, got.MType, message.CoordinatorCommit)
	assert.Equal(t, reopened.Close(), nil)

	// ...but ReadAll sees both, in append order.
	entries, err := ReadAll(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].MType, message.ParticipantVoteCommit)
	assert.Equal(t, entries[1].MType, message.CoordinatorCommit)
}
