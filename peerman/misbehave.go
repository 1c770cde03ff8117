package peerman

import (
	"github.com/libsv/go-bt/v2/chainhash"
)

// Misbehave applies violation's penalty to id's score and reports whether
// the peer crossed DiscouragementThreshold as a result. NoBan peers
// accumulate score but are never reported for disconnection.
func (m *Manager) Misbehave(id PeerID, violation Violation) (shouldDisconnect bool) {
	m.Read(id, func(r *PeerRecord) {
		r.Score += penalty[violation]
		if r.Score >= DiscouragementThreshold && !r.Perms.Has(PermNoBan) {
			r.MarkedForDisconnect = true
			shouldDisconnect = true
		}
	})
	return shouldDisconnect
}

// MisbehaveOnInvalidHeader is Misbehave for invalid-header violations,
// deduplicated against hashes already penalized for this peer so a
// retransmitted invalid header isn't double-scored.
func (m *Manager) MisbehaveOnInvalidHeader(id PeerID, hash chainhash.Hash, violation Violation) (shouldDisconnect bool) {
	m.Modify(id, func(r *PeerRecord) {
		if r.seenInvalidHeader(hash) {
			return
		}
		r.Score += penalty[violation]
		if r.Score >= DiscouragementThreshold && !r.Perms.Has(PermNoBan) {
			r.MarkedForDisconnect = true
			shouldDisconnect = true
		}
	})
	return shouldDisconnect
}

// NoteUnconnectingHeaders increments id's unconnecting-headers counter and
// applies the latched threshold penalty the first time it reaches
// MaxUnconnectingHeaders.
func (m *Manager) NoteUnconnectingHeaders(id PeerID) (shouldDisconnect bool) {
	m.Modify(id, func(r *PeerRecord) {
		r.UnconnectingHeaders++
		if r.UnconnectingHeaders < MaxUnconnectingHeaders || r.UnconnectingLatched {
			return
		}
		r.UnconnectingLatched = true
		r.Score += penalty[ViolationUnconnectingHeaders]
		if r.Score >= DiscouragementThreshold && !r.Perms.Has(PermNoBan) {
			r.MarkedForDisconnect = true
			shouldDisconnect = true
		}
	})
	return shouldDisconnect
}

// ResetUnconnectingHeaders clears id's counter and latch after a successful
// reconnect to the chain.
func (m *Manager) ResetUnconnectingHeaders(id PeerID) {
	m.Modify(id, func(r *PeerRecord) {
		r.UnconnectingHeaders = 0
		r.UnconnectingLatched = false
	})
}
