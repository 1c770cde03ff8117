package node

import (
	"context"

	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// flushTick drains every ready peer's announcement queue, per spec.md §5's
// 1s send-messages cadence (network_manager.hpp's SENDMESSAGES_INTERVAL).
// A peer's queue holds the active tip hash whenever the tip has advanced
// since that peer was last caught up; queuing (rather than sending inline
// from AcceptBlockHeader) lets a burst of header acceptances collapse into
// a single announcement per flush.
func (c *Coordinator) flushTick(ctx context.Context) error {
	tip := c.store.Tip()
	if tip == nil {
		return nil
	}

	c.mgr.ForEach(func(rec *peerman.PeerRecord) bool {
		if rec.Conn.State() != peer.StateReady {
			return true
		}
		if rec.LastAnnouncedHash == tip.Hash {
			return true
		}
		queueTip(rec, tip.Hash)
		return true
	})

	c.mgr.ForEach(func(rec *peerman.PeerRecord) bool {
		if len(rec.AnnounceQueue) == 0 {
			return true
		}
		c.flushPeer(rec)
		return true
	})
	return nil
}

func queueTip(rec *peerman.PeerRecord, hash chainhash.Hash) {
	for _, h := range rec.AnnounceQueue {
		if h == hash {
			return
		}
	}
	rec.AnnounceQueue = append(rec.AnnounceQueue, hash)
}

// flushPeer sends rec up to 8 headers following its last announcement and
// resets its queue. Headers are built from the store rather than replayed
// from the queue directly, so a peer that fell behind several tip changes
// still gets one contiguous HEADERS batch instead of one message per queued
// hash; anything beyond those 8 waits for a later flush.
func (c *Coordinator) flushPeer(rec *peerman.PeerRecord) {
	locator := []chainhash.Hash{rec.LastAnnouncedHash}
	headers := c.store.HeadersAfterLocator(locator, 8)
	if len(headers) == 0 {
		rec.AnnounceQueue = nil
		return
	}
	if err := rec.Conn.Send(&wire.MsgHeaders{Headers: headers}); err != nil {
		return
	}
	rec.LastAnnouncedHash = headers[len(headers)-1].Hash()
	rec.LastAnnouncedAt = c.clock.Now()
	rec.AnnounceQueue = nil
}
