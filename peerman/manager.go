// Package peerman implements the Peer Lifecycle Manager: the registry of
// active connections, connection-limit enforcement, misbehavior scoring,
// bans/discouragements and eviction described in spec.md §4.3. It sits one
// layer above peer.Connection, which knows nothing about limits, scores or
// bans.
package peerman

import (
	"net"
	"sort"
	"sync"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/ulogger"
)

// Config carries the lifecycle manager's tunables. Zero values fall back to
// spec.md §4.3's defaults in New.
type Config struct {
	MaxOutbound int
	MaxInbound  int
	MaxPerIP    int

	Clock  peer.Clock
	Logger ulogger.Logger

	// BanFilePath, if non-empty, is where persistent bans are loaded from
	// and saved to.
	BanFilePath string
}

func (c *Config) setDefaults() {
	if c.MaxOutbound == 0 {
		c.MaxOutbound = 8
	}
	if c.MaxInbound == 0 {
		c.MaxInbound = 125
	}
	if c.MaxPerIP == 0 {
		c.MaxPerIP = 2
	}
	if c.Clock == nil {
		c.Clock = peer.RealClock()
	}
	if c.Logger == nil {
		c.Logger = ulogger.Nop()
	}
}

type entry struct {
	mu  sync.Mutex
	rec *PeerRecord
}

// Manager is the thread-safe peer_id -> PeerRecord registry.
type Manager struct {
	cfg Config
	bans *banStore

	mu    sync.RWMutex
	peers map[PeerID]*entry

	nextID uatomic.Int64

	outboundCount uatomic.Int32
	inboundCount  uatomic.Int32
	perIP         map[string]int // guarded by mu

	handshakedNonces map[uint64]PeerID // guarded by mu

	dialMu      sync.Mutex
	pendingDial map[string]struct{}

	feelerID uatomic.Int64 // 0 means no feeler in flight
}

// New builds a Manager. cfg.BanFilePath, if set, is loaded synchronously.
func New(cfg Config) (*Manager, error) {
	cfg.setDefaults()
	m := &Manager{
		cfg:              cfg,
		peers:            make(map[PeerID]*entry),
		perIP:            make(map[string]int),
		handshakedNonces: make(map[uint64]PeerID),
		pendingDial:      make(map[string]struct{}),
		bans:             newBanStore(cfg.BanFilePath, cfg.Clock),
	}
	if cfg.BanFilePath != "" {
		if err := m.bans.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Add registers a freshly handshaken connection, allocating its PeerID only
// on success. It enforces connection limits, bans and the nonce-collision
// check before the record is created.
func (m *Manager) Add(conn *peer.Connection, perms Permission) (*PeerRecord, error) {
	host := hostOf(conn.RemoteAddr())

	if m.bans.isBanned(host) && !perms.Has(PermNoBan) {
		return nil, errors.New(errors.ERR_PEER_BANNED, "peer %s is banned", host)
	}

	if v := conn.RemoteVersion(); v != nil {
		m.mu.RLock()
		_, collide := m.handshakedNonces[v.Nonce]
		m.mu.RUnlock()
		if collide {
			return nil, errors.New(errors.ERR_PROTOCOL_SELF_CONNECT, "nonce collision with already-handshaked peer")
		}
	}

	if conn.IsOutbound() {
		if !perms.Has(PermManual) && !conn.IsFeeler() && m.outboundCount.Load() >= int32(m.cfg.MaxOutbound) {
			return nil, errors.New(errors.ERR_PEER_LIMIT, "outbound connection limit reached")
		}
	} else {
		m.mu.Lock()
		if m.perIP[host] >= m.cfg.MaxPerIP {
			m.mu.Unlock()
			return nil, errors.New(errors.ERR_PEER_LIMIT, "per-ip inbound limit reached for %s", host)
		}
		if int(m.inboundCount.Load()) >= m.cfg.MaxInbound {
			// Caller (node wiring) is responsible for attempting eviction
			// via SelectEvictionCandidate before giving up on this slot.
			m.mu.Unlock()
			return nil, errors.New(errors.ERR_PEER_LIMIT, "inbound connection limit reached")
		}
		m.mu.Unlock()
	}

	now := m.cfg.Clock.Now()
	id := PeerID(m.nextID.Inc())
	rec := newPeerRecord(id, conn, perms, now)

	m.mu.Lock()
	m.peers[id] = &entry{rec: rec}
	if conn.IsOutbound() {
		m.outboundCount.Inc()
	} else {
		m.inboundCount.Inc()
		m.perIP[host]++
	}
	if v := conn.RemoteVersion(); v != nil {
		m.handshakedNonces[v.Nonce] = id
	}
	m.mu.Unlock()

	return rec, nil
}

// Remove drops id from the registry, releasing its connection-limit slot.
func (m *Manager) Remove(id PeerID) (*PeerRecord, bool) {
	m.mu.Lock()
	e, ok := m.peers[id]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.peers, id)
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	host := hostOf(rec.Conn.RemoteAddr())
	if rec.Conn.IsOutbound() {
		m.outboundCount.Dec()
	} else {
		m.inboundCount.Dec()
		m.perIP[host]--
		if m.perIP[host] <= 0 {
			delete(m.perIP, host)
		}
	}
	if v := rec.Conn.RemoteVersion(); v != nil {
		delete(m.handshakedNonces, v.Nonce)
	}
	m.mu.Unlock()

	if rec.MarkedForDisconnect {
		m.bans.discourage(host)
	}
	return rec, true
}

// Read invokes f with id's record under its per-entry lock and returns
// whether id was found. f must not call back into Manager.
func (m *Manager) Read(id PeerID, f func(*PeerRecord)) bool {
	m.mu.RLock()
	e, ok := m.peers[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e.rec)
	return true
}

// Modify is Read for callbacks that mutate the record.
func (m *Manager) Modify(id PeerID, f func(*PeerRecord)) bool {
	return m.Read(id, f)
}

// ForEach calls f for every currently registered peer, each under its own
// entry lock, in ascending PeerID order. f returning false stops iteration.
func (m *Manager) ForEach(f func(*PeerRecord) bool) {
	m.mu.RLock()
	ids := make([]PeerID, 0, len(m.peers))
	entries := make([]*entry, 0, len(m.peers))
	for id, e := range m.peers {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	byID := make(map[PeerID]*entry, len(ids))
	for i, id := range ids {
		byID[id] = entries[i]
	}

	for _, id := range ids {
		e := byID[id]
		e.mu.Lock()
		cont := f(e.rec)
		e.mu.Unlock()
		if !cont {
			return
		}
	}
}

// Count returns the number of registered peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// IsBanned reports whether host (an IP string) is currently banned or
// discouraged.
func (m *Manager) IsBanned(host string) bool {
	return m.bans.isBanned(host)
}

// IsNonceKnown reports whether nonce already belongs to a handshaked peer.
// Exposed so a peer.Config.IsNonceKnown callback can reject a second
// connection to the same remote process mid-handshake, before Add would
// otherwise catch the same collision on registration.
func (m *Manager) IsNonceKnown(nonce uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handshakedNonces[nonce]
	return ok
}

// Ban persistently bans host. duration 0 means permanent.
func (m *Manager) Ban(host string, duration time.Duration) error {
	return m.bans.ban(host, duration)
}

// Unban removes a persistent ban on host (discouragements are independent
// and unaffected).
func (m *Manager) Unban(host string) error {
	return m.bans.unban(host)
}

// SaveBans flushes persistent bans to disk if dirty.
func (m *Manager) SaveBans() error {
	return m.bans.save()
}

// Sweep drops expired bans and discouragements.
func (m *Manager) Sweep() {
	m.bans.sweep()
}
