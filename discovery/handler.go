package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/chainwatch/hcd/addrmgr"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/ulogger"
	"github.com/chainwatch/hcd/wire"
)

// Config carries the discovery handler's dependencies.
type Config struct {
	Book   *addrmgr.AddrManager
	Clock  peer.Clock
	Logger ulogger.Logger
}

// Handler processes ADDR/GETADDR traffic for the peer fleet peerman.Manager
// tracks: GETADDR echo suppression, the per-peer ADDR rate limit, and
// recording learned addresses into the address book.
type Handler struct {
	cfg   Config
	clock peer.Clock
	log   ulogger.Logger

	mu      sync.Mutex
	buckets map[peerman.PeerID]*addrBucket
}

// NewHandler builds a Handler bound to cfg.Book.
func NewHandler(cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = peer.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = ulogger.Nop()
	}
	return &Handler{
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		buckets: make(map[peerman.PeerID]*addrBucket),
	}
}

func (h *Handler) bucketFor(id peerman.PeerID) *addrBucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buckets[id]
	if !ok {
		b = newAddrBucket(h.clock.Now())
		h.buckets[id] = b
	}
	return b
}

// Forget drops id's rate-limit bucket. Called on peer disconnect so the
// bucket map doesn't grow without bound over the process lifetime.
func (h *Handler) Forget(id peerman.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buckets, id)
}

// SendGetAddr sends GETADDR to id and refills the bucket that will process
// its reply, per spec.md §5.
func (h *Handler) SendGetAddr(mgr *peerman.Manager, id peerman.PeerID) {
	var rec *peerman.PeerRecord
	mgr.Read(id, func(r *peerman.PeerRecord) { rec = r })
	if rec == nil {
		return
	}
	if err := rec.Conn.Send(&wire.MsgGetAddr{}); err != nil {
		return
	}
	h.bucketFor(id).refillFull()
}

// OnGetAddr replies to a GETADDR from id. A second GETADDR on the same
// connection yields zero addresses (spec.md's echo-suppression boundary,
// S2): GetAddrReplied latches permanently once set. The peer's own endpoint
// is never included among the addresses it's sent back.
func (h *Handler) OnGetAddr(mgr *peerman.Manager, id peerman.PeerID) {
	var rec *peerman.PeerRecord
	mgr.Modify(id, func(r *peerman.PeerRecord) {
		if r.GetAddrReplied {
			return
		}
		r.GetAddrReplied = true
		rec = r
	})
	if rec == nil {
		return
	}

	selfHost, _, _ := net.SplitHostPort(rec.Conn.RemoteAddr())

	msg := &wire.MsgAddr{}
	for _, a := range h.cfg.Book.GetAddresses(wire.MaxAddrPerMsg) {
		if selfHost != "" && a.Addr.IP.String() == selfHost {
			continue
		}
		msg.AddrList = append(msg.AddrList, wire.AddrEntry{
			Timestamp: uint32(a.Timestamp.Unix()),
			Services:  a.Addr.Services,
			IP:        a.Addr.IP,
			Port:      a.Addr.Port,
		})
	}
	_ = rec.Conn.Send(msg)
}

// OnAddr records msg's entries into the address book on behalf of id,
// subject to the per-peer token bucket. Peers with the Addr permission
// bypass the bucket entirely. A Truncated message (more than
// wire.MaxAddrPerMsg entries on the wire) applies the oversized-message
// misbehavior penalty.
func (h *Handler) OnAddr(mgr *peerman.Manager, id peerman.PeerID, msg *wire.MsgAddr) (shouldDisconnect bool) {
	if msg.Truncated {
		shouldDisconnect = mgr.Misbehave(id, peerman.ViolationOversizedMessage)
	}

	var rec *peerman.PeerRecord
	mgr.Read(id, func(r *peerman.PeerRecord) { rec = r })
	if rec == nil {
		return shouldDisconnect
	}

	bypass := rec.Perms.Has(peerman.PermAddr)
	bucket := h.bucketFor(id)
	now := h.clock.Now()

	var src net.IP
	if host, _, err := net.SplitHostPort(rec.Conn.RemoteAddr()); err == nil {
		src = net.ParseIP(host)
	}

	var added int
	for _, a := range msg.AddrList {
		if !bypass && !bucket.take(now) {
			continue
		}
		na := wire.NetAddress{Services: a.Services, IP: net.IP(a.IP), Port: a.Port}
		ts := now
		if a.Timestamp != 0 {
			ts = time.Unix(int64(a.Timestamp), 0)
		}
		if h.cfg.Book.Add(na, src, ts) {
			added++
		}
	}
	mgr.Modify(id, func(r *peerman.PeerRecord) {
		for _, a := range msg.AddrList {
			r.LearnedAddrs[net.IP(a.IP).String()] = now
		}
	})
	h.log.Debugf("recorded %d/%d addresses from peer %d", added, len(msg.AddrList), id)
	return shouldDisconnect
}
