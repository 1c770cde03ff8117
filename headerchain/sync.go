package headerchain

import (
	"sync"
	"time"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/wire"
)

// StallTimeout is how long a sync peer may go without delivering a usable
// HEADERS batch before SyncTick demotes it and picks another.
const StallTimeout = 2 * time.Minute

// Driver maintains at most one "sync peer" and drives the GETHEADERS/HEADERS
// exchange against it while the store believes it's in initial block
// download. It owns no network I/O itself — SyncTick and OnHeaders are
// called by the network coordinator (C8) as messages and timers arrive.
type Driver struct {
	store *Store
	clock peer.Clock

	mu           sync.Mutex
	syncPeer     peerman.PeerID
	lastProgress time.Time
}

// NewDriver builds a Driver bound to store.
func NewDriver(store *Store, clock peer.Clock) *Driver {
	if clock == nil {
		clock = peer.RealClock()
	}
	return &Driver{store: store, clock: clock}
}

// HasSyncPeer reports whether a sync peer is currently selected.
func (d *Driver) HasSyncPeer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncPeer != 0
}

// OnPeerDisconnect clears the sync peer if id was it.
func (d *Driver) OnPeerDisconnect(id peerman.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncPeer == id {
		d.syncPeer = 0
	}
}

// eligible reports whether rec may become the sync peer: outbound and past
// the handshake (StateReady).
func eligible(rec *peerman.PeerRecord) bool {
	return rec.Conn.IsOutbound() && rec.Conn.State() == peer.StateReady
}

// SyncTick runs one iteration of the sync driver: if the store is no longer
// in initial block download, it's a no-op. If a sync peer exists but has
// stalled, it's demoted. If no sync peer exists, the first eligible peer in
// id order (per spec.md §4.5's "scan peers in id order") is selected and
// sent a GETHEADERS built from the current locator.
func (d *Driver) SyncTick(mgr *peerman.Manager) {
	if !d.store.IsInitialBlockDownload() {
		return
	}

	d.mu.Lock()
	if d.syncPeer != 0 {
		stalled := d.clock.Now().Sub(d.lastProgress) > StallTimeout
		if !stalled {
			d.mu.Unlock()
			return
		}
		d.syncPeer = 0
	}
	d.mu.Unlock()

	var picked *peerman.PeerRecord
	mgr.ForEach(func(rec *peerman.PeerRecord) bool {
		if eligible(rec) {
			picked = rec
			return false
		}
		return true
	})
	if picked == nil {
		return
	}

	d.mu.Lock()
	d.syncPeer = picked.ID
	d.lastProgress = d.clock.Now()
	d.mu.Unlock()

	d.requestHeaders(picked)
}

func (d *Driver) requestHeaders(rec *peerman.PeerRecord) {
	var version uint32
	if v := rec.Conn.RemoteVersion(); v != nil {
		version = uint32(v.ProtocolVersion)
	}
	_ = rec.Conn.Send(&wire.MsgGetHeaders{
		Version:       version,
		BlockLocators: d.store.Locator(),
	})
}

// OnHeaders processes a HEADERS reply from id. It validates continuity
// (each header's parent is the previous header's hash), batch-checks
// proof-of-work before spending any acceptance work, then feeds each
// header through AcceptBlockHeader in order. An unconnecting batch (first
// header's parent unknown) increments id's unconnecting-headers counter and
// re-requests from the current locator instead of erroring out.
func (d *Driver) OnHeaders(id peerman.PeerID, mgr *peerman.Manager, headers []*wire.BlockHeader) error {
	d.mu.Lock()
	isSyncPeer := d.syncPeer == id
	d.mu.Unlock()

	if len(headers) == 0 {
		return nil
	}

	if _, ok := d.store.Lookup(headers[0].PrevBlock); !ok {
		if _, dup := d.store.Lookup(headers[0].Hash()); !dup {
			mgr.NoteUnconnectingHeaders(id)
			if isSyncPeer {
				var rec *peerman.PeerRecord
				mgr.Read(id, func(r *peerman.PeerRecord) { rec = r })
				if rec != nil {
					d.requestHeaders(rec)
				}
			}
			return nil
		}
	}

	for i := 1; i < len(headers); i++ {
		if headers[i].PrevBlock != headers[i-1].Hash() {
			return errors.New(errors.ERR_PROTOCOL_OUT_OF_ORDER, "headers batch is not a contiguous chain")
		}
	}

	if !CheckHeadersPoW(headers, d.store.params) {
		return errors.New(errors.ERR_CHAIN_TEST_FAILURE, "headers batch fails proof-of-work commitment check")
	}

	var lastErr error
	accepted := 0
	for _, h := range headers {
		if _, err := d.store.AcceptBlockHeader(h, true); err != nil {
			lastErr = err
			break
		}
		accepted++
	}
	if accepted == 0 && lastErr != nil {
		return lastErr
	}

	mgr.ResetUnconnectingHeaders(id)

	if isSyncPeer {
		d.mu.Lock()
		d.lastProgress = d.clock.Now()
		d.mu.Unlock()

		if accepted == len(headers) && len(headers) == wire.MaxHeadersPerMsg {
			var rec *peerman.PeerRecord
			mgr.Read(id, func(r *peerman.PeerRecord) { rec = r })
			if rec != nil {
				d.requestHeaders(rec)
			}
		}
	}
	return nil
}
