// Package peer implements the per-peer connection state machine: handshake,
// framing dispatch, ping/pong keepalive, the inactivity watchdog and
// unknown-command rate limiting described as the Peer Connection component.
package peer

import (
	"bytes"
	"sync"
	"time"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/transport"
	"github.com/chainwatch/hcd/ulogger"
	"github.com/chainwatch/hcd/wire"
	"go.uber.org/atomic"
)

// VersionInfo is what a Connection learns about its remote peer from its
// VERSION message.
type VersionInfo struct {
	ProtocolVersion int32
	Services        wire.ServiceFlag
	UserAgent       string
	StartHeight     int32
	Nonce           uint64
	Timestamp       int64
}

// Connection is a single-use, per-peer transport wrapper implementing the
// handshake/ping/watchdog state machine. Create with NewOutbound or
// NewInbound, call Start exactly once.
type Connection struct {
	cfg       Config
	clock     Clock
	log       ulogger.Logger
	transport transport.Connection
	outbound  bool
	isFeeler  bool

	state   atomic.Int32
	started atomic.Bool

	mu          sync.Mutex
	recvBuf     recvBuffer
	remote      *VersionInfo
	versionSeen bool
	verAckSeen  bool

	handshakeTimer Timer
	pingTimer      Timer
	watchdogTimer  Timer

	lastSend atomic.Int64 // unix nanos
	lastRecv atomic.Int64

	pingNonce    atomic.Uint64
	pingSentAt   atomic.Int64 // unix nanos, 0 when no ping outstanding
	lastPingTime atomic.Int64 // nanoseconds round-trip of the most recent completed ping

	unknownMu        sync.Mutex
	unknownWindowEnd time.Time
	unknownCount     int

	onMessage    func(*Connection, wire.Message)
	onReady      func(*Connection)
	onDisconnect func(*Connection, error)

	disconnectOnce sync.Once
}

// newConnection builds a Connection whose initial state reflects that its
// transport is already open: both Transport.Connect's success callback and
// Transport.Listen's accept callback only hand back connections that are
// already established, so CONNECTING is a bookkeeping state the dial loop
// (peerman) tracks before a Connection object exists at all, not a state
// this type itself transitions out of.
func newConnection(cfg Config, clock Clock, log ulogger.Logger, tc transport.Connection, outbound, isFeeler bool) *Connection {
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = ulogger.Nop()
	}
	c := &Connection{
		cfg:       cfg,
		clock:     clock,
		log:       log,
		transport: tc,
		outbound:  outbound,
		isFeeler:  isFeeler,
	}
	c.state.Store(int32(StateConnected))
	return c
}

// NewOutbound wraps an established outbound transport connection.
func NewOutbound(cfg Config, clock Clock, log ulogger.Logger, tc transport.Connection) *Connection {
	return newConnection(cfg, clock, log, tc, true, false)
}

// NewInbound wraps an accepted inbound transport connection.
func NewInbound(cfg Config, clock Clock, log ulogger.Logger, tc transport.Connection) *Connection {
	return newConnection(cfg, clock, log, tc, false, false)
}

// NewFeeler wraps an outbound connection used only to confirm liveness: it
// disconnects immediately after completing the handshake.
func NewFeeler(cfg Config, clock Clock, log ulogger.Logger, tc transport.Connection) *Connection {
	return newConnection(cfg, clock, log, tc, true, true)
}

// SetMessageHandler installs the callback invoked with every decoded
// protocol message after the handshake completes. Call it before Start or
// from the ready handler (as node does); it is a plain field assignment
// with no locking.
func (c *Connection) SetMessageHandler(f func(*Connection, wire.Message)) { c.onMessage = f }

// SetReadyHandler installs the callback invoked once, when the handshake
// completes (VERACK received and sent).
func (c *Connection) SetReadyHandler(f func(*Connection)) { c.onReady = f }

// SetDisconnectHandler installs the callback invoked exactly once when the
// connection tears down, for any reason.
func (c *Connection) SetDisconnectHandler(f func(*Connection, error)) { c.onDisconnect = f }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// IsOutbound reports whether this connection was dialed by us.
func (c *Connection) IsOutbound() bool { return c.outbound }

// IsFeeler reports whether this is a liveness-only connection.
func (c *Connection) IsFeeler() bool { return c.isFeeler }

// RemoteAddr returns the remote endpoint's address, as reported by the
// underlying transport.
func (c *Connection) RemoteAddr() string { return c.transport.RemoteAddr() }

// RemotePort returns the remote endpoint's port.
func (c *Connection) RemotePort() uint16 { return c.transport.RemotePort() }

// RemoteVersion returns the peer's VERSION info, or nil before it arrives.
func (c *Connection) RemoteVersion() *VersionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// LastPingRTT returns the most recently completed ping round-trip time.
func (c *Connection) LastPingRTT() time.Duration {
	return time.Duration(c.lastPingTime.Load())
}

// Start begins the handshake. Calling Start a second time logs and is
// ignored, per spec.md §4.2 ("Attempting to restart must log and ignore").
func (c *Connection) Start() {
	if !c.started.CompareAndSwap(false, true) {
		c.log.Warnf("peer: Start called more than once, ignoring")
		return
	}

	c.transport.SetReceiveCallback(c.onTransportData)
	c.transport.SetDisconnectCallback(c.onTransportDisconnect)
	c.transport.Start()

	c.armHandshakeTimer()

	if c.outbound {
		c.setState(StateVersionSent)
		if err := c.sendVersion(); err != nil {
			c.fail(err)
			return
		}
	}
	// Inbound: remain CONNECTED, awaiting the peer's VERSION.
}

func (c *Connection) armHandshakeTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshakeTimer = c.clock.AfterFunc(c.cfg.HandshakeTimeout, func() {
		c.fail(errors.New(errors.ERR_PROTOCOL_TIMEOUT, "handshake timed out"))
	})
}

func (c *Connection) cancelHandshakeTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
}

func (c *Connection) sendVersion() error {
	v := &wire.MsgVersion{
		ProtocolVersion: c.cfg.LocalVersion,
		Services:        c.cfg.LocalServices,
		Timestamp:       c.clock.Now().Unix(),
		Nonce:           c.cfg.LocalNonce,
		UserAgent:       c.cfg.LocalUserAgent,
		StartHeight:     c.cfg.LocalStartHeight,
	}
	return c.Send(v)
}

// Send encodes and writes msg. Safe for concurrent use.
func (c *Connection) Send(msg wire.Message) error {
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, c.cfg.Net, msg); err != nil {
		return err
	}
	if err := c.transport.Send(buf.Bytes()); err != nil {
		return err
	}
	c.lastSend.Store(c.clock.Now().UnixNano())
	return nil
}

// Disconnect tears the connection down. Idempotent; safe to call from
// within a message/ready callback or from another goroutine.
func (c *Connection) Disconnect() {
	c.fail(nil)
}

// fail is the single path to teardown, whether triggered by a protocol
// violation (non-nil reason) or a clean Disconnect() (nil reason).
func (c *Connection) fail(reason error) {
	c.disconnectOnce.Do(func() {
		c.setState(StateDisconnecting)

		c.mu.Lock()
		if c.handshakeTimer != nil {
			c.handshakeTimer.Stop()
		}
		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		if c.watchdogTimer != nil {
			c.watchdogTimer.Stop()
		}
		c.mu.Unlock()

		c.sendRejectBestEffort(reason)

		// Break the reference cycle between this Connection and the
		// transport's captured handlers before closing, per spec.md
		// §4.2 "Cancellation".
		c.transport.SetReceiveCallback(nil)
		c.transport.SetDisconnectCallback(nil)
		_ = c.transport.Close()

		c.setState(StateDisconnected)

		if c.onDisconnect != nil {
			c.onDisconnect(c, reason)
		}
	})
}

// sendRejectBestEffort sends a supplemented REJECT message ahead of tearing
// the transport down, when reason is a codec or protocol-violation error the
// peer on the other end might still be able to read. It's purely
// informational (original_source/'s network protocol vocabulary) and never
// blocks teardown on a send failure.
func (c *Connection) sendRejectBestEffort(reason error) {
	var e *errors.Error
	if !errors.As(reason, &e) {
		return
	}
	switch {
	case e.Code >= errors.ERR_CODEC_BAD_MAGIC && e.Code <= errors.ERR_CODEC_TRUNCATED:
	case e.Code >= errors.ERR_PROTOCOL_PRE_VERACK && e.Code <= errors.ERR_PROTOCOL_TIMEOUT:
	default:
		return
	}
	_ = c.Send(&wire.MsgReject{Code: byte(e.Code), Reason: e.Code.String()})
}

func (c *Connection) onTransportDisconnect(reason error) {
	c.fail(reason)
}
