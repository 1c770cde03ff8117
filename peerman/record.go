package peerman

import (
	"time"

	"github.com/libsv/go-bt/v2/chainhash"

	"github.com/chainwatch/hcd/peer"
)

// PeerID uniquely identifies a PeerRecord for the lifetime of the process.
// Allocated from a monotonic counter only once a connection is actually
// registered; failed dial attempts never consume one.
type PeerID int64

// PeerRecord is the per-connection state the Peer Lifecycle Manager owns,
// per spec.md §4.3.
type PeerRecord struct {
	ID      PeerID
	Conn    *peer.Connection
	Perms   Permission
	Created time.Time

	// mutable fields, touched only through Manager.Modify
	Score                int
	SeenInvalidHeaders    map[chainhash.Hash]struct{}
	UnconnectingHeaders   int
	UnconnectingLatched   bool
	AnnounceQueue         []chainhash.Hash
	LastAnnouncedHash     chainhash.Hash
	LastAnnouncedAt       time.Time
	LearnedAddrs          map[string]time.Time
	GetAddrReplied        bool
	MarkedForDisconnect   bool
}

func newPeerRecord(id PeerID, conn *peer.Connection, perms Permission, now time.Time) *PeerRecord {
	return &PeerRecord{
		ID:                 id,
		Conn:               conn,
		Perms:              perms,
		Created:            now,
		SeenInvalidHeaders: make(map[chainhash.Hash]struct{}),
		LearnedAddrs:       make(map[string]time.Time),
	}
}

// seenInvalidHeader reports whether hash was already penalized for this
// peer, recording it if not, so a retransmitted invalid header doesn't
// double-penalize.
func (r *PeerRecord) seenInvalidHeader(hash chainhash.Hash) bool {
	if _, ok := r.SeenInvalidHeaders[hash]; ok {
		return true
	}
	r.SeenInvalidHeaders[hash] = struct{}{}
	return false
}
