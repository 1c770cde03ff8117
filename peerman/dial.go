package peerman

import (
	"context"
	"strconv"
	"time"

	"github.com/chainwatch/hcd/addrmgr"
	"github.com/chainwatch/hcd/wire"
)

// MaxDialAttemptsPerTick bounds how many outbound dials a single
// DialTick call may start.
const MaxDialAttemptsPerTick = 100

// FeelerInterval is how often FeelerTick considers starting a new feeler.
const FeelerInterval = 2 * time.Minute

// FeelerMaxLifetime is how long a feeler connection is allowed to live
// before it is forcibly removed regardless of state.
const FeelerMaxLifetime = 120 * time.Second

// Dialer opens a new outbound transport connection. feeler marks a
// liveness-only probe. Implementations report failure synchronously or
// asynchronously; either way they must eventually call back through
// DialTick's bookkeeping by returning an error or succeeding.
type Dialer interface {
	Dial(ctx context.Context, addr wire.NetAddress, feeler bool) error
}

func addrDialKey(addr wire.NetAddress) string {
	return addr.IP.String() + "/" + strconv.Itoa(int(addr.Port))
}

// needMoreOutbound reports whether the manager should still be trying to
// acquire outbound connections.
func (m *Manager) needMoreOutbound() bool {
	return int(m.outboundCount.Load()) < m.cfg.MaxOutbound
}

// DialTick runs one iteration of the outbound dial loop: while more
// outbound slots are needed, select addresses from book (skipping
// already-selected-this-tick and already-pending-dial addresses) and hand
// each to dialer. Per spec.md §4.3, PeerID/PeerRecord allocation happens
// only in Add, called from the dial's success path by the caller wiring
// this loop together (node/C8), not here.
func (m *Manager) DialTick(ctx context.Context, book *addrmgr.AddrManager, dialer Dialer) {
	seenThisTick := make(map[string]struct{})

	for attempts := 0; attempts < MaxDialAttemptsPerTick && m.needMoreOutbound(); attempts++ {
		addr, ok := book.Select()
		if !ok {
			return
		}
		key := addrDialKey(addr)
		if _, dup := seenThisTick[key]; dup {
			continue
		}
		seenThisTick[key] = struct{}{}

		m.dialMu.Lock()
		if _, pending := m.pendingDial[key]; pending {
			m.dialMu.Unlock()
			continue
		}
		m.pendingDial[key] = struct{}{}
		m.dialMu.Unlock()

		if m.IsBanned(addr.IP.String()) {
			book.Failed(addr.IP, addr.Port)
			m.clearPending(key)
			continue
		}

		if err := dialer.Dial(ctx, addr, false); err != nil {
			book.Failed(addr.IP, addr.Port)
			m.clearPending(key)
		}
		// On success, the caller is expected to eventually call
		// ClearPendingDial once the connection resolves (accepted into
		// Add or abandoned), matching the async connect-callback shape
		// spec.md §4.3 describes.
	}
}

// ClearPendingDial releases the cross-cycle dial dedup entry for addr. Call
// once a dial attempt (successful or not) has fully resolved.
func (m *Manager) ClearPendingDial(addr wire.NetAddress) {
	m.clearPending(addrDialKey(addr))
}

func (m *Manager) clearPending(key string) {
	m.dialMu.Lock()
	delete(m.pendingDial, key)
	m.dialMu.Unlock()
}

// HasFeelerInFlight reports whether a feeler connection currently exists.
func (m *Manager) HasFeelerInFlight() bool {
	return m.feelerID.Load() != 0
}

// FeelerTick starts a new feeler dial if none is currently in flight,
// selecting an address from book's new_ table only.
func (m *Manager) FeelerTick(ctx context.Context, book *addrmgr.AddrManager, dialer Dialer) {
	if m.HasFeelerInFlight() {
		return
	}
	addr, ok := book.SelectNewForFeeler()
	if !ok {
		return
	}
	key := addrDialKey(addr)

	m.dialMu.Lock()
	if _, pending := m.pendingDial[key]; pending {
		m.dialMu.Unlock()
		return
	}
	m.pendingDial[key] = struct{}{}
	m.dialMu.Unlock()

	m.feelerID.Store(-1) // placeholder: claimed, PeerID assigned once Add succeeds

	if err := dialer.Dial(ctx, addr, true); err != nil {
		book.Failed(addr.IP, addr.Port)
		m.clearPending(key)
		m.feelerID.Store(0)
	}
}

// SetFeelerPeer records id as the in-flight feeler's allocated PeerID,
// called by the caller once Add succeeds for a feeler dial.
func (m *Manager) SetFeelerPeer(id PeerID) {
	m.feelerID.Store(int64(id))
}

// ClearFeeler releases the in-flight feeler marker, called once the feeler
// connection is removed (by timeout or normal disconnect).
func (m *Manager) ClearFeeler() {
	m.feelerID.Store(0)
}

// FeelerExpired reports whether id's feeler connection has exceeded
// FeelerMaxLifetime as of now and should be forcibly removed.
func (r *PeerRecord) FeelerExpired(now time.Time) bool {
	return r.Conn.IsFeeler() && now.Sub(r.Created) >= FeelerMaxLifetime
}
