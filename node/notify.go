package node

import (
	"sync"

	"github.com/chainwatch/hcd/headerchain"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/wire"
)

// PeerConnectedFunc and PeerDisconnectedFunc are the callbacks spec.md §6
// names: peer_connected(id, address, port, kind) and
// peer_disconnected(id, address, port, reason, mark_addr_good).
type PeerConnectedFunc func(id peerman.PeerID, addr wire.NetAddress, kind string)
type PeerDisconnectedFunc func(id peerman.PeerID, addr wire.NetAddress, reason error, markAddrGood bool)

// ChainReorgedFunc is a supplemented notification (not named by spec.md §6,
// drawn from original_source/'s chain-state observer pattern): fired once
// the active tip changes to a branch that does not extend the previous tip.
type ChainReorgedFunc func(oldTip, newTip *headerchain.BlockIndex)

// notifier is the Coordinator's observer registry. Registration happens
// once at wiring time (cmd/hcnoded or tests), so the slice fields are only
// ever appended to before Start runs; no locking is needed for them. tipMu
// guards the reorg-detection state, which is touched from the message-
// handling goroutines while the reactor runs.
type notifier struct {
	c *Coordinator

	onConnected    []PeerConnectedFunc
	onDisconnected []PeerDisconnectedFunc
	onReorg        []ChainReorgedFunc

	tipMu  sync.Mutex
	lastTip *headerchain.BlockIndex
}

func newNotifier(c *Coordinator) *notifier {
	return &notifier{c: c, lastTip: c.store.Tip()}
}

// RegisterPeerConnected subscribes f to every future peer_connected event.
func (c *Coordinator) RegisterPeerConnected(f PeerConnectedFunc) {
	c.notify.onConnected = append(c.notify.onConnected, f)
}

// RegisterPeerDisconnected subscribes f to every future peer_disconnected
// event.
func (c *Coordinator) RegisterPeerDisconnected(f PeerDisconnectedFunc) {
	c.notify.onDisconnected = append(c.notify.onDisconnected, f)
}

// RegisterChainReorged subscribes f to every future chain_reorged event.
func (c *Coordinator) RegisterChainReorged(f ChainReorgedFunc) {
	c.notify.onReorg = append(c.notify.onReorg, f)
}

func (n *notifier) connected(id peerman.PeerID, addr wire.NetAddress, kind string) {
	for _, f := range n.onConnected {
		f(id, addr, kind)
	}
}

// disconnected fires peer_disconnected. markAddrGood is spec.md §6's
// "Address-book bookkeeping subscribes to these to record success/failure
// on behalf of outbound peers" hook: an outbound peer that completed at
// least one successful handshake is reported good even if it later dropped
// for an unrelated reason, so a single transient disconnect doesn't undo an
// address's earned trust. Feelers do reach this path, but never reach
// connected (they're disconnected from inside onOutboundReady before
// installMessageHandler ever runs), so connected's "kind" only ever
// observes "inbound" or "outbound".
func (n *notifier) disconnected(id peerman.PeerID, addr wire.NetAddress, reason error, markAddrGood bool) {
	for _, f := range n.onDisconnected {
		f(id, addr, reason, markAddrGood)
	}
}

// checkReorg compares the store's current tip against the last observed
// one. A reorg is any tip change whose new tip does not extend the old one
// directly (new tip's parent isn't the old tip) — i.e. the active chain
// switched branches rather than simply advancing.
func (n *notifier) checkReorg(store *headerchain.Store) {
	tip := store.Tip()

	n.tipMu.Lock()
	old := n.lastTip
	n.lastTip = tip
	n.tipMu.Unlock()

	if old == nil || tip == nil || old.Hash == tip.Hash {
		return
	}
	if tip.Parent != nil && tip.Parent.Hash == old.Hash {
		return
	}
	for _, f := range n.onReorg {
		f(old, tip)
	}
}
