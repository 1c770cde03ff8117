package node

import (
	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/wire"
)

// installMessageHandler wires conn's post-handshake message dispatch: ADDR
// and GETADDR go to the discovery handler, GETHEADERS is answered directly
// from the header store, and HEADERS is fed to the sync driver. Every path
// that can return a misbehavior violation disconnects the peer itself
// rather than leaning on the caller, matching peer.Connection's own
// fail()/sendRejectBestEffort pattern of handling its own protocol errors
// inline.
func (c *Coordinator) installMessageHandler(conn *peer.Connection, id peerman.PeerID) {
	conn.SetMessageHandler(func(conn *peer.Connection, msg wire.Message) {
		switch m := msg.(type) {
		case *wire.MsgAddr:
			if c.disc.OnAddr(c.mgr, id, m) {
				conn.Disconnect()
			}
		case *wire.MsgGetAddr:
			c.disc.OnGetAddr(c.mgr, id)
		case *wire.MsgGetHeaders:
			c.onGetHeaders(conn, m)
		case *wire.MsgHeaders:
			c.onHeaders(id, conn, m)
		}
	})
}

// onGetHeaders answers a GETHEADERS request directly from the header store,
// the inverse of headerchain.Store.Locator.
func (c *Coordinator) onGetHeaders(conn *peer.Connection, m *wire.MsgGetHeaders) {
	headers := c.store.HeadersAfterLocator(m.BlockLocators, wire.MaxHeadersPerMsg)
	_ = conn.Send(&wire.MsgHeaders{Headers: headers})
}

// onHeaders feeds a HEADERS reply through the sync driver and applies any
// resulting misbehavior penalty. The driver's returned error, when present,
// already reflects which check failed; the violation chosen here mirrors
// that classification rather than re-deriving it.
func (c *Coordinator) onHeaders(id peerman.PeerID, conn *peer.Connection, m *wire.MsgHeaders) {
	err := c.sync.OnHeaders(id, c.mgr, m.Headers)
	c.notify.checkReorg(c.store)
	if err == nil {
		return
	}

	violation := peerman.ViolationLowWorkHeaders
	var e *errors.Error
	if errors.As(err, &e) {
		switch e.Code {
		case errors.ERR_PROTOCOL_OUT_OF_ORDER:
			violation = peerman.ViolationNonContinuousHeaders
		case errors.ERR_CHAIN_TEST_FAILURE, errors.ERR_CHAIN_BAD_GENESIS, errors.ERR_CHAIN_BAD_PREVBLK:
			violation = peerman.ViolationInvalidHeader
		case errors.ERR_CHAIN_PREV_BLK_NOT_FOUND:
			violation = peerman.ViolationUnconnectingHeaders
		}
	}
	if c.mgr.Misbehave(id, violation) {
		conn.Disconnect()
	}
}
