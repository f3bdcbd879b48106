// Package tcpconn is the IPC transport underlying every endpoint-pair
// in spec.md: a one-shot TCP rendezvous for bootstrap, then a
// steady-state duplex connection carrying newline-delimited JSON
// protocol messages.
//
// Grounded on the teacher's network/coordinator/conn.go and
// network/participant/conn.go, which dial/listen on TCP and frame
// messages with bufio.Reader.ReadString('\n') over github.com/goccy/go-json.
// The teacher keeps a long-lived listener per shard with many inbound
// connections multiplexed through a semaphore; our bootstrap need is
// simpler (exactly one child connects, exactly once), so Listener
// below is consumed after a single Accept, mirroring the Rust
// original's IpcOneShotServer.
package tcpconn

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/SairamNaragoni/tpcsim/message"
)

// Listener is a one-shot TCP rendezvous: bind, report the resolved
// address for the child to dial, accept exactly one connection.
type Listener struct {
	ln net.Listener
}

// Listen binds an ephemeral loopback port and returns a Listener whose
// Addr the parent passes to the spawned child as --ipc_path.
func Listen() (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("tcpconn: listen: %w", err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the dialable address for this rendezvous.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Accept blocks for the single child connection this rendezvous
// expects, then closes the listener (it is one-shot).
func (l *Listener) Accept() (*Endpoint, error) {
	defer l.ln.Close()
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("tcpconn: accept: %w", err)
	}
	return newEndpoint(conn), nil
}

// Close abandons the rendezvous without accepting, e.g. when a child
// process failed to spawn.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to a rendezvous address published via --ipc_path.
func Dial(addr string) (*Endpoint, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpconn: dial %s: %w", addr, err)
	}
	return newEndpoint(conn), nil
}

// Endpoint is one node's half of a connected pair: a full-duplex TCP
// socket doubles as both the send- and receive-channel the spec
// requires, since net.Conn is already bidirectional.
type Endpoint struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func newEndpoint(conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn, reader: bufio.NewReader(conn)}
}

// NewEndpoint wraps an already-connected net.Conn as an Endpoint. The
// bootstrap paths above (Listen/Accept, Dial) are the production
// callers; it is also exported for tests that wire two Endpoints
// together over a net.Pipe() in-memory conn instead of real sockets.
func NewEndpoint(conn net.Conn) *Endpoint {
	return newEndpoint(conn)
}

// Send encodes and transmits m, newline-framed. A transport error here
// is the "send failure" spec.md §7 says drops the remote from whatever
// registry holds it; Send never retries.
func (e *Endpoint) Send(m message.ProtocolMessage) error {
	raw, err := message.Encode(m)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return fmt.Errorf("tcpconn: set write deadline: %w", err)
	}
	if _, err := e.conn.Write(raw); err != nil {
		return fmt.Errorf("tcpconn: write: %w", err)
	}
	return nil
}

// Recv blocks until a message arrives or the connection errors.
func (e *Endpoint) Recv() (message.ProtocolMessage, error) {
	if err := e.conn.SetReadDeadline(time.Time{}); err != nil {
		return message.ProtocolMessage{}, fmt.Errorf("tcpconn: clear read deadline: %w", err)
	}
	return e.readLine()
}

// TryRecv performs a near non-blocking poll: it returns a message that
// is already available, or ok == false after at most a millisecond if
// none is, used by the coordinator's client-request drain (spec.md
// §4.3 step 1). The wait is a short positive deadline because a read
// deadline that has already passed fails before reading anything.
func (e *Endpoint) TryRecv() (m message.ProtocolMessage, ok bool, err error) {
	return e.RecvTimeout(time.Millisecond)
}

// RecvTimeout waits up to d for a message (used for the 25ms per-
// participant vote-collection ceiling, spec.md §4.3 step 2). A
// deadline expiry is reported as ok == false, err == nil; any other
// transport failure is returned in err.
func (e *Endpoint) RecvTimeout(d time.Duration) (m message.ProtocolMessage, ok bool, err error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return message.ProtocolMessage{}, false, fmt.Errorf("tcpconn: set read deadline: %w", err)
	}
	m, err = e.readLine()
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return message.ProtocolMessage{}, false, nil
		}
		return message.ProtocolMessage{}, false, err
	}
	return m, true, nil
}

func (e *Endpoint) readLine() (message.ProtocolMessage, error) {
	line, err := e.reader.ReadString('\n')
	if err != nil {
		return message.ProtocolMessage{}, err
	}
	return message.Decode([]byte(line))
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
