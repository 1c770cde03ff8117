package node

import (
	"context"
	"net"
	"strconv"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/transport"
	"github.com/chainwatch/hcd/wire"
)

// Dial implements peerman.Dialer. It never blocks: transport.Connect always
// hands the outcome to onConnect asynchronously, so DialTick/FeelerTick's
// synchronous-failure path is never exercised by this implementation — it
// always returns nil and resolves pending-dial bookkeeping from inside
// onConnect instead.
func (c *Coordinator) Dial(ctx context.Context, addr wire.NetAddress, feeler bool) error {
	c.tr.Connect(addr.IP.String(), addr.Port, func(tc transport.Connection, err error) {
		if err != nil {
			c.book.Failed(addr.IP, addr.Port)
			c.mgr.ClearPendingDial(addr)
			if feeler {
				c.mgr.ClearFeeler()
			}
			return
		}
		c.completeOutboundDial(ctx, tc, addr, feeler)
	})
	return nil
}

// completeOutboundDial wraps a freshly connected transport.Connection in a
// peer.Connection and drives it through the handshake. PeerID allocation
// happens only once the handshake succeeds, per peerman/dial.go's contract.
func (c *Coordinator) completeOutboundDial(ctx context.Context, tc transport.Connection, addr wire.NetAddress, feeler bool) {
	var conn *peer.Connection
	if feeler {
		conn = peer.NewFeeler(c.peerConfig(), c.clock, c.log, tc)
	} else {
		conn = peer.NewOutbound(c.peerConfig(), c.clock, c.log, tc)
	}

	conn.SetReadyHandler(func(conn *peer.Connection) {
		c.onOutboundReady(conn, addr, feeler)
	})
	conn.SetDisconnectHandler(func(conn *peer.Connection, reason error) {
		// Fires only if the handshake itself fails; onOutboundReady
		// replaces this handler once Add succeeds.
		c.book.Failed(addr.IP, addr.Port)
		c.mgr.ClearPendingDial(addr)
		if feeler {
			c.mgr.ClearFeeler()
		}
	})
	conn.Start()
}

func (c *Coordinator) onOutboundReady(conn *peer.Connection, addr wire.NetAddress, feeler bool) {
	perms := peerman.Permission(0)
	if c.isAnchor(addr) {
		perms = perms.With(peerman.PermNoBan)
	}

	rec, err := c.mgr.Add(conn, perms)
	c.mgr.ClearPendingDial(addr)
	if err != nil {
		c.log.Debugf("node: dropping outbound %s: %v", addr.IP, err)
		c.book.Failed(addr.IP, addr.Port)
		conn.Disconnect()
		return
	}

	c.rememberAddr(rec.ID, addr)
	c.book.Good(addr.IP, addr.Port)

	conn.SetDisconnectHandler(func(conn *peer.Connection, reason error) {
		c.onPeerGone(conn, rec.ID, addr, reason, true)
	})

	if feeler {
		c.mgr.SetFeelerPeer(rec.ID)
		// A feeler exists only to confirm liveness; drop it immediately,
		// per spec.md §4.3's feeler description.
		conn.Disconnect()
		return
	}

	c.installMessageHandler(conn, rec.ID)
	c.notify.connected(rec.ID, addr, "outbound")
}

// onAccept handles an inbound transport.Connection from tr.Listen.
func (c *Coordinator) onAccept(tc transport.Connection) {
	host, portStr, err := net.SplitHostPort(tc.RemoteAddr())
	if err != nil {
		_ = tc.Close()
		return
	}
	if c.mgr.IsBanned(host) {
		_ = tc.Close()
		return
	}

	conn := peer.NewInbound(c.peerConfig(), c.clock, c.log, tc)
	conn.SetReadyHandler(func(conn *peer.Connection) {
		c.onInboundReady(conn, host, portStr)
	})
	// Fires only if the handshake itself fails; onInboundReady replaces
	// this handler once Add succeeds. Nothing to release here: an
	// unregistered inbound connection holds no mgr or book state.
	conn.SetDisconnectHandler(func(conn *peer.Connection, reason error) {})
	conn.Start()
}

func (c *Coordinator) onInboundReady(conn *peer.Connection, host, portStr string) {
	rec, err := c.mgr.Add(conn, 0)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) && e.Code == errors.ERR_PEER_LIMIT {
			if victim, ok := c.mgr.SelectEvictionCandidate(c.clock.Now()); ok {
				var victimConn *peer.Connection
				c.mgr.Read(victim, func(r *peerman.PeerRecord) { victimConn = r.Conn })
				if victimConn != nil {
					// Outside the entry lock: Disconnect runs onPeerGone,
					// which calls back into mgr.
					victimConn.Disconnect()
				}
				rec, err = c.mgr.Add(conn, 0)
			}
		}
		if err != nil {
			c.log.Debugf("node: rejecting inbound %s: %v", host, err)
			conn.Disconnect()
			return
		}
	}

	port, _ := strconv.Atoi(portStr)
	addr := wire.NetAddress{IP: net.ParseIP(host), Port: uint16(port)}
	c.rememberAddr(rec.ID, addr)

	conn.SetDisconnectHandler(func(conn *peer.Connection, reason error) {
		c.onPeerGone(conn, rec.ID, addr, reason, false)
	})

	c.installMessageHandler(conn, rec.ID)
	c.notify.connected(rec.ID, addr, "inbound")
}

// onPeerGone tears down a registered peer's bookkeeping on disconnect.
// markAddrGood reflects whether addr belongs to the outbound address book
// at all (inbound peers don't), not whether this particular disconnect was
// graceful: a peer that completed its handshake already proved the address
// reachable, so a later drop for an unrelated reason doesn't retract that.
func (c *Coordinator) onPeerGone(conn *peer.Connection, id peerman.PeerID, addr wire.NetAddress, reason error, markAddrGood bool) {
	c.forgetAddr(id)
	c.mgr.Remove(id)
	c.disc.Forget(id)
	c.sync.OnPeerDisconnect(id)
	if conn.IsFeeler() {
		c.mgr.ClearFeeler()
	}
	c.notify.disconnected(id, addr, reason, markAddrGood)
}

func (c *Coordinator) isAnchor(addr wire.NetAddress) bool {
	for _, a := range c.anchors {
		if a.IP.Equal(addr.IP) && a.Port == addr.Port {
			return true
		}
	}
	return false
}

// dialAnchors dials every address LoadAndDeleteAnchors returned at startup,
// pre-granting NoBan per spec.md §6.
func (c *Coordinator) dialAnchors(ctx context.Context) error {
	for _, addr := range c.anchors {
		key := addr
		if err := c.Dial(ctx, key, false); err != nil {
			c.log.Warnf("node: dialing anchor %s: %v", key.IP, err)
		}
	}
	return nil
}

// dialTick and feelerTick adapt peerman's externally-ticked dial/feeler
// methods to runTicker's signature.
func (c *Coordinator) dialTick(ctx context.Context) error {
	start := c.clock.Now()
	c.mgr.DialTick(ctx, c.book, c)
	stat.NewStat("DialTick").AddTime(start)
	return nil
}

func (c *Coordinator) feelerTick(ctx context.Context) error {
	c.mgr.FeelerTick(ctx, c.book, c)
	return nil
}
