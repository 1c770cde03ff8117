package transport

import (
	"fmt"
	"sync"
)

// SimTransport is an in-process transport for deterministic tests: a client
// SimTransport is wired directly to Listen on another via DialPair (its own
// Connect always fails),
// with no real sockets or goroutine scheduling surprises beyond the ones the
// test itself introduces.
type SimTransport struct {
	name string

	mu       sync.Mutex
	running  bool
	onAccept func(Connection)
}

// NewSimTransport builds a named SimTransport; the name appears in
// RemoteAddr of connections it produces.
func NewSimTransport(name string) *SimTransport {
	return &SimTransport{name: name}
}

func (t *SimTransport) Listen(port uint16, onAccept func(Connection)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errAlreadyListening
	}
	t.running = true
	t.onAccept = onAccept
	return nil
}

func (t *SimTransport) Run() error {
	// Accept delivery happens synchronously from DialPair; Run just blocks
	// semantics aren't needed for tests, so this returns immediately.
	return nil
}

func (t *SimTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *SimTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Connect on a bare SimTransport always fails: simulated dials are wired
// explicitly with DialPair so a test controls exactly which two transports
// talk to each other.
func (t *SimTransport) Connect(addr string, port uint16, onConnect func(Connection, error)) {
	onConnect(nil, errNotListening)
}

// DialPair creates two linked in-memory connections, as if a on the client
// side dialed b's listener, and delivers the inbound side to b's accept
// callback (if any) before returning the outbound side.
func DialPair(client, server *SimTransport) Connection {
	a, b := newSimPipe(client.name, server.name)

	server.mu.Lock()
	onAccept := server.onAccept
	server.mu.Unlock()
	if onAccept != nil {
		onAccept(b)
	}
	return a
}

type simPipe struct {
	selfName, peerName string
	id                 uint64
	inbound            bool

	mu                 sync.Mutex
	closed             bool
	receiveCallback    func([]byte)
	disconnectCallback func(error)

	peer *simPipe
}

func newSimPipe(clientName, serverName string) (*simPipe, *simPipe) {
	a := &simPipe{selfName: clientName, peerName: serverName, id: nextConnID(), inbound: false}
	b := &simPipe{selfName: serverName, peerName: clientName, id: nextConnID(), inbound: true}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *simPipe) Start() {}

func (p *simPipe) Send(payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errClosed
	}
	p.mu.Unlock()

	p.peer.mu.Lock()
	cb := p.peer.receiveCallback
	peerClosed := p.peer.closed
	p.peer.mu.Unlock()

	if peerClosed {
		return errClosed
	}
	if cb != nil {
		data := make([]byte, len(payload))
		copy(data, payload)
		cb(data)
	}
	return nil
}

func (p *simPipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cb := p.disconnectCallback
	p.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
	return nil
}

func (p *simPipe) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *simPipe) RemoteAddr() string { return p.peerName }
func (p *simPipe) RemotePort() uint16 { return 0 }
func (p *simPipe) IsInbound() bool    { return p.inbound }
func (p *simPipe) ConnectionID() uint64 { return p.id }

func (p *simPipe) SetReceiveCallback(cb func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiveCallback = cb
}

func (p *simPipe) SetDisconnectCallback(cb func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCallback = cb
}

func (p *simPipe) String() string {
	return fmt.Sprintf("sim(%s->%s)", p.selfName, p.peerName)
}
