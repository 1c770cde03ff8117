package transport

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/ulogger"
)

var connIDSeq uint64

func nextConnID() uint64 { return atomic.AddUint64(&connIDSeq, 1) }

// TCPTransport dials and accepts real TCP connections.
type TCPTransport struct {
	log ulogger.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	onAccept func(Connection)
}

// NewTCPTransport builds a TCPTransport. log may be ulogger.Nop() in tests.
func NewTCPTransport(log ulogger.Logger) *TCPTransport {
	if log == nil {
		log = ulogger.Nop()
	}
	return &TCPTransport{log: log}
}

func (t *TCPTransport) Connect(addr string, port uint16, onConnect func(Connection, error)) {
	go func() {
		hostport := net.JoinHostPort(addr, strconv.Itoa(int(port)))
		conn, err := net.Dial("tcp", hostport)
		if err != nil {
			onConnect(nil, errors.New(errors.ERR_TRANSPORT, "dial %s", hostport, err))
			return
		}
		onConnect(newTCPConnection(conn, false, t.log), nil)
	}()
}

func (t *TCPTransport) Listen(port uint16, onAccept func(Connection)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errAlreadyListening
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	if err != nil {
		return errors.New(errors.ERR_TRANSPORT, "listen on port %d", port, err)
	}
	t.listener = ln
	t.onAccept = onAccept
	t.running = true
	return nil
}

func (t *TCPTransport) Run() error {
	t.mu.Lock()
	ln := t.listener
	onAccept := t.onAccept
	t.mu.Unlock()

	if ln == nil {
		return errNotListening
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			t.mu.Lock()
			stopped := !t.running
			t.mu.Unlock()
			if stopped {
				return nil
			}
			t.log.Warnf("accept: %v", err)
			return errors.New(errors.ERR_TRANSPORT, "accept loop", err)
		}
		onAccept(newTCPConnection(conn, true, t.log))
	}
}

func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *TCPTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// tcpConnection adapts a net.Conn to Connection, reading in a dedicated
// goroutine so the reactor that owns a Peer Connection never blocks on I/O.
type tcpConnection struct {
	conn     net.Conn
	id       uint64
	inbound  bool
	log      ulogger.Logger

	mu               sync.Mutex
	started          bool
	closed           bool
	receiveCallback  func([]byte)
	disconnectCallback func(error)
}

func newTCPConnection(conn net.Conn, inbound bool, log ulogger.Logger) *tcpConnection {
	return &tcpConnection{conn: conn, id: nextConnID(), inbound: inbound, log: log}
}

func (c *tcpConnection) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.readLoop()
}

func (c *tcpConnection) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			cb := c.receiveCallback
			c.mu.Unlock()
			if cb != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				cb(data)
			}
		}
		if err != nil {
			c.finish(errors.New(errors.ERR_TRANSPORT, "read", err))
			return
		}
	}
}

func (c *tcpConnection) finish(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cb := c.disconnectCallback
	c.mu.Unlock()

	_ = c.conn.Close()
	if cb != nil {
		cb(reason)
	}
}

func (c *tcpConnection) Send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.mu.Unlock()

	if _, err := c.conn.Write(payload); err != nil {
		wrapped := errors.New(errors.ERR_TRANSPORT, "write", err)
		c.finish(wrapped)
		return wrapped
	}
	return nil
}

func (c *tcpConnection) Close() error {
	c.finish(nil)
	return nil
}

func (c *tcpConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *tcpConnection) RemoteAddr() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *tcpConnection) RemotePort() uint16 {
	_, port, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return uint16(p)
}

func (c *tcpConnection) IsInbound() bool      { return c.inbound }
func (c *tcpConnection) ConnectionID() uint64 { return c.id }

func (c *tcpConnection) SetReceiveCallback(cb func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveCallback = cb
}

func (c *tcpConnection) SetDisconnectCallback(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCallback = cb
}
