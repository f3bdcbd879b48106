// Package client implements the request-issuing side of the
// simulation described in spec.md §4.4: issue num_requests requests
// sequentially, one in flight at a time, tally the coordinator's
// replies, and wait out the exit handshake.
//
// Grounded directly on original_source/.../client.rs's
// send_next_operation/recv_result/protocol trio.
package client

import (
	"fmt"
	"time"

	"github.com/SairamNaragoni/tpcsim/internal/logging"
	"github.com/SairamNaragoni/tpcsim/internal/runflag"
	"github.com/SairamNaragoni/tpcsim/internal/tcpconn"
	"github.com/SairamNaragoni/tpcsim/message"
)

// ExitPollInterval is the fallback sleep between receives while
// draining toward CoordinatorExit (spec.md §4.4 "Exit").
const ExitPollInterval = 100 * time.Millisecond

// Client issues a fixed number of requests to the coordinator and
// tracks their outcomes. Unlike Coordinator and Participant, a client
// keeps no durable log: spec.md scopes replay/recovery to the nodes
// that make commit decisions, not the nodes that merely observe them.
type Client struct {
	id          string
	running     *runflag.Flag
	ep          *tcpconn.Endpoint
	numRequests uint64

	successfulOps int
	failedOps     int
	unknownOps    int
}

// New builds a Client bound to ep, the coordinator-facing endpoint.
func New(id string, running *runflag.Flag, ep *tcpconn.Endpoint) *Client {
	return &Client{id: id, running: running, ep: ep}
}

// sendNextOperation issues the next sequentially-numbered request,
// txid'd as "{id}_op_{n}" per spec.md §4.4.
func (c *Client) sendNextOperation() error {
	c.numRequests++
	txid := fmt.Sprintf("%s_op_%d", c.id, c.numRequests)
	pm := message.Generate(message.ClientRequest, txid, c.id, c.numRequests)
	logging.Info("%s::sending operation #%d", c.id, c.numRequests)

	if err := c.ep.Send(pm); err != nil {
		return fmt.Errorf("client: send_next_operation: %w", err)
	}
	logging.Trace("%s::sent operation #%d", c.id, c.numRequests)
	return nil
}

// recvResult waits for the coordinator's reply to the last issued
// request and tallies it. It reports whether CoordinatorExit was
// observed instead of a result.
func (c *Client) recvResult() bool {
	logging.Info("%s::receiving coordinator result", c.id)

	result, err := c.ep.Recv()
	if err != nil {
		logging.Error("client::recv_result -> %s unknown error: %v", c.id, err)
		return false
	}

	switch result.MType {
	case message.ClientResultCommit:
		logging.Debug("client::recv_result -> %s received commit for %s", c.id, result.TxID)
		c.successfulOps++
	case message.ClientResultAbort:
		logging.Debug("client::recv_result -> %s received abort for %s", c.id, result.TxID)
		c.failedOps++
	case message.CoordinatorExit:
		logging.Debug("client::recv_result -> %s received exit signal", c.id)
		return true
	default:
		logging.Fatal("client::recv_result -> %s unexpected message type %v", c.id, result.MType)
	}
	return false
}

// ReportStatus prints this client's aggregate commit/abort/unknown
// tally before it exits (spec.md §4.4 "Tallies").
func (c *Client) ReportStatus() {
	logging.Info("%-16s:\tCommitted: %6d\tAborted: %6d\tUnknown: %6d", c.id, c.successfulOps, c.failedOps, c.unknownOps)
}

// Tally returns the running successful/failed/unknown operation
// counts, for tests.
func (c *Client) Tally() (successful, failed, unknown int) {
	return c.successfulOps, c.failedOps, c.unknownOps
}

// NumRequests returns how many requests this client has issued so far.
func (c *Client) NumRequests() uint64 {
	return c.numRequests
}

// waitForExitSignal drains messages until CoordinatorExit arrives,
// used when all requests completed before the coordinator signaled
// exit (spec.md §4.4 "Exit").
func (c *Client) waitForExitSignal() {
	logging.Debug("%s::waiting for exit signal", c.id)
	for {
		result, err := c.ep.Recv()
		if err != nil {
			logging.Warn("client::wait_for_exit_signal -> %s receive error, treating as exit: %v", c.id, err)
			return
		}
		if result.MType == message.CoordinatorExit {
			break
		}
		time.Sleep(ExitPollInterval)
	}
	logging.Debug("%s::exiting", c.id)
}

// Protocol issues nRequests requests one at a time, stopping early if
// the coordinator signals exit mid-stream, then reports the tally.
func (c *Client) Protocol(nRequests uint64) {
	coordinatorExit := false

	for i := uint64(0); i < nRequests; i++ {
		if coordinatorExit {
			break
		}
		if err := c.sendNextOperation(); err != nil {
			logging.Warn("client::protocol -> %s send error, stopping: %v", c.id, err)
			break
		}
		coordinatorExit = c.recvResult()
	}

	logging.Info("client::protocol -> requests finished for client=%s", c.id)
	if !coordinatorExit {
		c.waitForExitSignal()
	}
	c.ReportStatus()
}
