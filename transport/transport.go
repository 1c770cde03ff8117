// Package transport defines the capability-set abstraction a Peer Connection
// dials, listens and sends through, and provides two implementations: a real
// TCP transport over net.Conn and an in-memory one for deterministic tests.
// No third-party socket library is adopted here — net.Conn is the shared
// convention across every btcd/dcrd-style wire-protocol implementation in
// the retrieval pack for this exact concern.
package transport

import "github.com/chainwatch/hcd/errors"

// Connection is a single open byte-stream endpoint. Reads and writes are
// delivered through callbacks, never blocking calls, so a Peer Connection's
// reactor never blocks on I/O (spec.md §4.2 "Suspension points").
type Connection interface {
	// Start begins delivering received bytes to the receive callback. It
	// is only valid to call once.
	Start()

	// Send writes payload, or returns an error if the connection is
	// closed. No send queue is kept: the TCP implementation writes to the
	// socket on the caller's goroutine and may block while it does, and a
	// write error tears the connection down.
	Send(payload []byte) error

	// Close tears the connection down. Idempotent.
	Close() error

	// IsOpen reports whether Close has not yet been called and no
	// disconnect has been delivered.
	IsOpen() bool

	RemoteAddr() string
	RemotePort() uint16
	IsInbound() bool

	// ConnectionID is a transport-assigned identifier, stable for the
	// life of the connection, used only for logging/correlation.
	ConnectionID() uint64

	// SetReceiveCallback installs the function invoked with each
	// complete read from the wire. Only valid before Start.
	SetReceiveCallback(func(data []byte))

	// SetDisconnectCallback installs the function invoked exactly once
	// when the connection closes, whatever the cause (peer close, local
	// Close, write error, read error).
	SetDisconnectCallback(func(reason error))
}

// Transport manages a transport's lifecycle: dialing outbound connections
// and, when configured to, accepting inbound ones.
type Transport interface {
	// Connect dials addr:port asynchronously. onConnect is invoked with
	// the established Connection on success, or with a nil Connection
	// and a non-nil error on failure. Never blocks.
	Connect(addr string, port uint16, onConnect func(Connection, error))

	// Listen begins accepting inbound connections on the given port,
	// invoking onAccept for each. Returns an error if the listener
	// cannot be established (e.g. port already bound).
	Listen(port uint16, onAccept func(Connection)) error

	// Stop tears down the listener (if any) and stops accepting new
	// connections. It does not close connections already handed out.
	Stop() error

	// Run blocks until Stop is called or the transport's accept loop
	// exits on its own (e.g. listener error). Callers typically run this
	// in its own goroutine.
	Run() error

	// IsRunning reports whether Listen has succeeded and Stop has not
	// yet been called.
	IsRunning() bool
}

var errNotListening = errors.New(errors.ERR_TRANSPORT, "transport is not listening")
var errAlreadyListening = errors.New(errors.ERR_TRANSPORT, "transport is already listening")
var errAlreadyStarted = errors.New(errors.ERR_TRANSPORT, "connection already started")
var errClosed = errors.New(errors.ERR_TRANSPORT, "connection is closed")
